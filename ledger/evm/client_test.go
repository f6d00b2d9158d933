package evm

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"rozgar/crypto"
	"rozgar/ledger"
	"rozgar/native/gig"
)

var escrowAddress = gig.MustParseAddress("0xF67bF71D9Bb8c7B48994DE38b3FfBc7eEdAB2Bb8")

type harness struct {
	client     *Client
	backend    *fakeBackend
	clientKey  *crypto.PrivateKey
	freelancer *crypto.PrivateKey
}

func newHarness(t *testing.T, confirmations uint64) *harness {
	t.Helper()
	bound, err := parseContract()
	require.NoError(t, err)
	backend := newFakeBackend(bound)
	client, err := New(backend, Config{
		Contract:        escrowAddress,
		ChainID:         big.NewInt(84532),
		Confirmations:   confirmations,
		PollInterval:    5 * time.Millisecond,
		FinalityTimeout: time.Second,
	})
	require.NoError(t, err)
	clientKey, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	freelancerKey, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	return &harness{client: client, backend: backend, clientKey: clientKey, freelancer: freelancerKey}
}

func (h *harness) record(id uint64, title string, payment int64) gig.Gig {
	return gig.Gig{
		ID:          id,
		Client:      h.clientKey.Address(),
		Freelancer:  h.freelancer.Address(),
		Title:       title,
		Description: "description",
		Payment:     big.NewInt(payment),
	}
}

func TestNewRequiresChainParameters(t *testing.T) {
	bound, err := parseContract()
	require.NoError(t, err)
	backend := newFakeBackend(bound)

	_, err = New(backend, Config{ChainID: big.NewInt(1)})
	require.ErrorIs(t, err, errNoContract)
	_, err = New(backend, Config{Contract: escrowAddress})
	require.ErrorIs(t, err, errNoChainID)
}

func TestFetchGigDecodesTupleAtSnapshot(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()

	open := h.record(1, "Logo", 5e17)
	pinned := h.backend.commit([]gig.Gig{open})
	accepted := open.Clone()
	accepted.Accepted = true
	h.backend.commit([]gig.Gig{accepted, h.record(2, "Site", 1e18)})

	old, err := h.client.FetchGig(ctx, ledger.Snapshot{Height: pinned}, 1)
	require.NoError(t, err)
	require.Equal(t, gig.StatusWaiting, old.Status())
	require.Equal(t, h.clientKey.Address(), old.Client)
	require.Equal(t, "Logo", old.Title)
	require.Zero(t, old.Payment.Cmp(big.NewInt(5e17)))

	count, err := h.client.FetchGigCount(ctx, ledger.Snapshot{Height: pinned})
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	snap, err := h.client.Snapshot(ctx)
	require.NoError(t, err)
	latest, err := h.client.FetchGig(ctx, snap, 1)
	require.NoError(t, err)
	require.Equal(t, gig.StatusInProgress, latest.Status())
	count, err = h.client.FetchGigCount(ctx, snap)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)
}

func TestFetchGigMissing(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()
	h.backend.commit([]gig.Gig{h.record(1, "Logo", 1)})

	_, err := h.client.FetchGig(ctx, ledger.Latest, 7)
	require.ErrorIs(t, err, ledger.ErrNotFound)
	_, err = h.client.FetchGig(ctx, ledger.Latest, 0)
	require.ErrorIs(t, err, ledger.ErrNotFound)

	h.backend.callErr = errors.New("dial tcp 127.0.0.1:8545: connect: connection refused")
	_, err = h.client.FetchGig(ctx, ledger.Latest, 1)
	require.True(t, ledger.IsKind(err, ledger.KindNetworkUnavailable))
}

func TestSubmitTransitionSignsDynamicFeeTx(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()
	h.backend.commit([]gig.Gig{h.record(1, "Logo", 1e17)})

	receipt, err := h.client.SubmitTransition(ctx, 1, gig.ActionAccept, h.freelancer)
	require.NoError(t, err)
	require.EqualValues(t, 1, receipt.GigID)
	require.Equal(t, gig.ActionAccept, receipt.Action)
	require.Equal(t, h.freelancer.Address(), receipt.Submitter)

	tx := h.backend.lastSent()
	require.NotNil(t, tx)
	require.Equal(t, uint8(gethtypes.DynamicFeeTxType), tx.Type())
	require.Equal(t, common.Address(escrowAddress), *tx.To())
	require.Equal(t, ledger.TxHash(tx.Hash()), receipt.TxHash)
	require.EqualValues(t, 120_000, tx.Gas())
	from, err := gethtypes.Sender(gethtypes.LatestSignerForChainID(big.NewInt(84532)), tx)
	require.NoError(t, err)
	require.Equal(t, common.Address(h.freelancer.Address()), from)

	method, err := h.client.contract.abi.MethodById(tx.Data()[:4])
	require.NoError(t, err)
	require.Equal(t, "acceptGig", method.Name)
}

func TestSubmitFailureKinds(t *testing.T) {
	ctx := context.Background()

	h := newHarness(t, 1)
	h.backend.estimateErr = errors.New("execution reverted: Only freelancer")
	_, err := h.client.SubmitTransition(ctx, 1, gig.ActionAccept, h.clientKey)
	require.True(t, ledger.IsKind(err, ledger.KindRejected))

	h = newHarness(t, 1)
	h.backend.balance = big.NewInt(1)
	draft := gig.Draft{Title: "t", Description: "d", Freelancer: h.freelancer.Address().Hex(), Payment: big.NewInt(1e18)}
	_, err = h.client.SubmitCreation(ctx, draft, h.clientKey)
	var lerr *ledger.Error
	require.ErrorAs(t, err, &lerr)
	require.Equal(t, ledger.KindInsufficientFunds, lerr.Kind)
	require.True(t, lerr.NeverIncluded())

	h = newHarness(t, 1)
	h.backend.sendErr = errors.New("insufficient funds for gas * price + value")
	_, err = h.client.SubmitCreation(ctx, draft, h.clientKey)
	require.True(t, ledger.IsKind(err, ledger.KindInsufficientFunds))

	h.backend.sendErr = errors.New("Post \"https://sepolia.base.org\": EOF")
	_, err = h.client.SubmitTransition(ctx, 1, gig.ActionAccept, h.freelancer)
	require.ErrorAs(t, err, &lerr)
	require.Equal(t, ledger.KindNetworkUnavailable, lerr.Kind)
	require.True(t, lerr.NeverIncluded())

	_, err = h.client.SubmitTransition(ctx, 1, gig.ActionAccept, nil)
	require.ErrorIs(t, err, errNoSigner)
}

func TestAwaitFinalityWaitsForConfirmations(t *testing.T) {
	h := newHarness(t, 3)
	ctx := context.Background()
	h.backend.commit([]gig.Gig{h.record(1, "Logo", 1e17)})

	receipt, err := h.client.SubmitTransition(ctx, 1, gig.ActionAccept, h.freelancer)
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err = h.client.AwaitFinality(short, receipt)
	require.True(t, ledger.IsKind(err, ledger.KindTimeout), "no receipt yet")

	accepted := h.record(1, "Logo", 1e17)
	accepted.Accepted = true
	block := h.backend.commit([]gig.Gig{accepted})
	h.backend.include(common.Hash(receipt.TxHash), block, gethtypes.ReceiptStatusSuccessful)

	short2, cancel2 := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel2()
	_, err = h.client.AwaitFinality(short2, receipt)
	require.True(t, ledger.IsKind(err, ledger.KindTimeout), "one confirmation of three")

	h.backend.advance(2)
	fin, err := h.client.AwaitFinality(ctx, receipt)
	require.NoError(t, err)
	require.Equal(t, block, fin.BlockNumber)
	require.EqualValues(t, 1, fin.GigID)
	require.EqualValues(t, 52_000, fin.GasUsed)
}

func TestAwaitFinalityMemoizesRevert(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()
	h.backend.commit([]gig.Gig{h.record(1, "Logo", 1e17)})

	receipt, err := h.client.SubmitTransition(ctx, 1, gig.ActionAccept, h.freelancer)
	require.NoError(t, err)
	h.backend.include(common.Hash(receipt.TxHash), h.backend.commit(nil), gethtypes.ReceiptStatusFailed)

	_, first := h.client.AwaitFinality(ctx, receipt)
	require.True(t, ledger.IsKind(first, ledger.KindRejected))

	h.backend.include(common.Hash(receipt.TxHash), h.backend.commit(nil), gethtypes.ReceiptStatusSuccessful)
	_, second := h.client.AwaitFinality(ctx, receipt)
	require.Equal(t, first, second)
}

func TestCreationResolvesGigID(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()
	other, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)

	existing := h.record(1, "Old", 1e17)
	h.backend.commit([]gig.Gig{existing})

	draft := gig.Draft{Title: "Landing page", Description: "d", Freelancer: h.freelancer.Address().Hex(), Payment: big.NewInt(3e17)}
	receipt, err := h.client.SubmitCreation(ctx, draft, h.clientKey)
	require.NoError(t, err)
	require.True(t, receipt.Creation)
	require.Zero(t, receipt.GigID)
	require.Zero(t, h.backend.lastSent().Value().Cmp(big.NewInt(3e17)))

	mine := h.record(2, "Landing page", 3e17)
	foreign := h.record(3, "Landing page", 3e17)
	foreign.Client = other.Address()
	block := h.backend.commit([]gig.Gig{existing, mine, foreign})
	h.backend.include(common.Hash(receipt.TxHash), block, gethtypes.ReceiptStatusSuccessful)

	fin, err := h.client.AwaitFinality(ctx, receipt)
	require.NoError(t, err)
	require.EqualValues(t, 2, fin.GigID)
}

func TestCreationsInOneBlockResolveDistinctIDs(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()

	draft := gig.Draft{Title: "Logo", Description: "description", Freelancer: h.freelancer.Address().Hex(), Payment: big.NewInt(1e17)}
	first, err := h.client.SubmitCreation(ctx, draft, h.clientKey)
	require.NoError(t, err)
	second, err := h.client.SubmitCreation(ctx, draft, h.clientKey)
	require.NoError(t, err)
	require.NotEqual(t, first.TxHash, second.TxHash)

	block := h.backend.commit([]gig.Gig{h.record(1, "Logo", 1e17), h.record(2, "Logo", 1e17)})
	h.backend.include(common.Hash(first.TxHash), block, gethtypes.ReceiptStatusSuccessful)
	h.backend.include(common.Hash(second.TxHash), block, gethtypes.ReceiptStatusSuccessful)

	finSecond, err := h.client.AwaitFinality(ctx, second)
	require.NoError(t, err)
	finFirst, err := h.client.AwaitFinality(ctx, first)
	require.NoError(t, err)
	require.EqualValues(t, 1, finFirst.GigID)
	require.EqualValues(t, 2, finSecond.GigID)
}

func TestCreationResolutionSkipsRevertedSibling(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()

	draft := gig.Draft{Title: "Logo", Description: "description", Freelancer: h.freelancer.Address().Hex(), Payment: big.NewInt(1e17)}
	failed, err := h.client.SubmitCreation(ctx, draft, h.clientKey)
	require.NoError(t, err)
	landed, err := h.client.SubmitCreation(ctx, draft, h.clientKey)
	require.NoError(t, err)

	block := h.backend.commit([]gig.Gig{h.record(1, "Logo", 1e17)})
	h.backend.include(common.Hash(failed.TxHash), block, gethtypes.ReceiptStatusFailed)
	h.backend.include(common.Hash(landed.TxHash), block, gethtypes.ReceiptStatusSuccessful)

	fin, err := h.client.AwaitFinality(ctx, landed)
	require.NoError(t, err)
	require.EqualValues(t, 1, fin.GigID)
}

func TestUnresolvableCreationIsFinal(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()

	draft := gig.Draft{Title: "Logo", Description: "description", Freelancer: h.freelancer.Address().Hex(), Payment: big.NewInt(1e17)}
	receipt, err := h.client.SubmitCreation(ctx, draft, h.clientKey)
	require.NoError(t, err)
	h.backend.include(common.Hash(receipt.TxHash), h.backend.commit(nil), gethtypes.ReceiptStatusSuccessful)

	start := time.Now()
	_, err = h.client.AwaitFinality(ctx, receipt)
	require.True(t, ledger.IsKind(err, ledger.KindUnresolved))
	require.False(t, ledger.IsKind(err, ledger.KindTimeout))
	require.Less(t, time.Since(start), 500*time.Millisecond)

	_, again := h.client.AwaitFinality(ctx, receipt)
	require.Equal(t, err, again)
}

func TestClassify(t *testing.T) {
	require.Nil(t, classify("op", ledger.TxHash{}, nil))
	require.ErrorIs(t, classify("op", ledger.TxHash{}, context.Canceled), context.Canceled)
	require.False(t, ledger.IsKind(classify("op", ledger.TxHash{}, context.Canceled), ledger.KindTimeout))
	require.True(t, ledger.IsKind(classify("op", ledger.TxHash{}, context.DeadlineExceeded), ledger.KindTimeout))
	require.True(t, ledger.IsKind(classify("op", ledger.TxHash{}, errors.New("nonce too low: next nonce 4")), ledger.KindRejected))
	require.True(t, ledger.IsKind(classify("op", ledger.TxHash{}, errors.New("i/o timeout")), ledger.KindNetworkUnavailable))
}
