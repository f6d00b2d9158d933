package crypto

import (
	"encoding/hex"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"rozgar/native/gig"
)

func TestSignHashRecoversAddress(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)

	hash := crypto.Keccak256Hash([]byte("acceptGig(uint256)"))
	sig, err := key.SignHash(hash)
	require.NoError(t, err)
	require.Len(t, sig, 65)

	addr, err := RecoverAddress(hash, sig)
	require.NoError(t, err)
	require.Equal(t, key.Address(), addr)
}

func TestPrivateKeyFromHex(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	want := gig.Address(crypto.PubkeyToAddress(key.PublicKey))

	for _, raw := range []string{
		"0x" + hex.EncodeToString(key.Bytes()),
		"  " + hex.EncodeToString(key.Bytes()) + "\n",
	} {
		parsed, err := PrivateKeyFromHex(raw)
		require.NoError(t, err)
		require.Equal(t, want, parsed.Address())
	}

	_, err = PrivateKeyFromHex("0xzz")
	require.Error(t, err)
}

func TestKeystoreRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "keys", "client.json")

	require.NoError(t, SaveToKeystoreWithStrength(path, key, "correct horse", KDFLight))
	loaded, err := LoadFromKeystore(path, "correct horse")
	require.NoError(t, err)
	require.Equal(t, key.Address(), loaded.Address())

	_, err = LoadFromKeystore(path, "wrong")
	require.Error(t, err)
}

func TestNilKeyCannotSign(t *testing.T) {
	var key *PrivateKey
	_, err := key.SignHash([32]byte{})
	require.ErrorIs(t, err, errNilKey)
}
