package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"rozgar/native/gig"
)

var errNilKey = errors.New("crypto: nil private key")

// --- Key Management ---

// PrivateKey is a secp256k1 participant key. It satisfies ledger.Signer.
type PrivateKey struct {
	*ecdsa.PrivateKey
}

type PublicKey struct {
	*ecdsa.PublicKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the byte representation of the private key.
func (k *PrivateKey) Bytes() []byte {
	return crypto.FromECDSA(k.PrivateKey)
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

// Address returns the ledger account controlled by the key.
func (k *PrivateKey) Address() gig.Address {
	return k.PubKey().Address()
}

// SignHash produces a 65-byte [R || S || V] signature with V in {0, 1}.
func (k *PrivateKey) SignHash(hash [32]byte) ([]byte, error) {
	if k == nil || k.PrivateKey == nil {
		return nil, errNilKey
	}
	return crypto.Sign(hash[:], k.PrivateKey)
}

func (k *PublicKey) Address() gig.Address {
	return gig.Address(k.ethAddress())
}

func (k *PublicKey) ethAddress() common.Address {
	return crypto.PubkeyToAddress(*k.PublicKey)
}

func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// PrivateKeyFromHex parses a hex key with or without the 0x prefix.
func PrivateKeyFromHex(raw string) (*PrivateKey, error) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "0x") && !strings.HasPrefix(trimmed, "0X") {
		trimmed = "0x" + trimmed
	}
	b, err := hexutil.Decode(trimmed)
	if err != nil {
		return nil, err
	}
	return PrivateKeyFromBytes(b)
}

// RecoverAddress returns the account that produced sig over hash.
func RecoverAddress(hash [32]byte, sig []byte) (gig.Address, error) {
	pub, err := crypto.SigToPub(hash[:], sig)
	if err != nil {
		return gig.Address{}, err
	}
	return gig.Address(crypto.PubkeyToAddress(*pub)), nil
}
