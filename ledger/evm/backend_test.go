package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"rozgar/native/gig"
)

// fakeBackend serves ABI-encoded contract state per block and records the
// transactions it is sent.
type fakeBackend struct {
	mu       sync.Mutex
	contract *contract
	chainID  *big.Int
	height   uint64
	history  map[uint64][]gig.Gig
	nonces   map[common.Address]uint64
	balance  *big.Int
	sent     []*gethtypes.Transaction
	receipts map[common.Hash]*gethtypes.Receipt
	blocks   map[uint64][]*gethtypes.Transaction

	callErr     error
	estimateErr error
	sendErr     error
}

func newFakeBackend(bound *contract) *fakeBackend {
	ether := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	return &fakeBackend{
		contract: bound,
		chainID:  big.NewInt(84532),
		height:   100,
		history:  map[uint64][]gig.Gig{100: nil},
		nonces:   make(map[common.Address]uint64),
		balance:  new(big.Int).Mul(ether, big.NewInt(10)),
		receipts: make(map[common.Hash]*gethtypes.Receipt),
		blocks:   make(map[uint64][]*gethtypes.Transaction),
	}
}

// commit stores gigs as the state of a new block and returns its number.
func (b *fakeBackend) commit(gigs []gig.Gig) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.height++
	state := make([]gig.Gig, len(gigs))
	for i, g := range gigs {
		state[i] = g.Clone()
	}
	b.history[b.height] = state
	return b.height
}

func (b *fakeBackend) advance(blocks uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	latest := b.history[b.height]
	for i := uint64(0); i < blocks; i++ {
		b.height++
		b.history[b.height] = latest
	}
}

// include mines a sent transaction into block after any already included
// there.
func (b *fakeBackend) include(tx common.Hash, block uint64, status uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	index := uint(len(b.blocks[block]))
	for _, sent := range b.sent {
		if sent.Hash() == tx {
			b.blocks[block] = append(b.blocks[block], sent)
		}
	}
	b.receipts[tx] = &gethtypes.Receipt{
		Status:           status,
		TxHash:           tx,
		BlockNumber:      new(big.Int).SetUint64(block),
		TransactionIndex: index,
		GasUsed:          52_000,
	}
}

func (b *fakeBackend) lastSent() *gethtypes.Transaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.sent) == 0 {
		return nil
	}
	return b.sent[len(b.sent)-1]
}

func (b *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.callErr != nil {
		return nil, b.callErr
	}
	height := b.height
	if blockNumber != nil {
		height = blockNumber.Uint64()
	}
	state, ok := b.history[height]
	if !ok {
		return nil, fmt.Errorf("missing trie node for block %d", height)
	}
	method, err := b.contract.abi.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case methodGigCount:
		return method.Outputs.Pack(big.NewInt(int64(len(state))))
	case methodGetGig:
		id := args[0].(*big.Int).Uint64()
		tuple := gigTuple{Id: new(big.Int), Payment: new(big.Int)}
		if id >= 1 && id <= uint64(len(state)) {
			g := state[id-1]
			tuple = gigTuple{
				Id:            new(big.Int).SetUint64(g.ID),
				Client:        common.Address(g.Client),
				Freelancer:    common.Address(g.Freelancer),
				Title:         g.Title,
				Description:   g.Description,
				Payment:       g.Payment,
				IsAccepted:    g.Accepted,
				WorkSubmitted: g.WorkSubmitted,
				IsCompleted:   g.Completed,
				IsPaid:        g.Paid,
			}
		}
		return method.Outputs.Pack(tuple)
	default:
		return nil, errors.New("execution reverted")
	}
}

func (b *fakeBackend) BlockNumber(context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.callErr != nil {
		return 0, b.callErr
	}
	return b.height, nil
}

func (b *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*gethtypes.Header, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &gethtypes.Header{Number: new(big.Int).SetUint64(b.height), BaseFee: big.NewInt(1_000_000_000)}, nil
}

func (b *fakeBackend) BlockByNumber(_ context.Context, number *big.Int) (*gethtypes.Block, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	header := &gethtypes.Header{Number: new(big.Int).Set(number)}
	return gethtypes.NewBlockWithHeader(header).WithBody(gethtypes.Body{Transactions: b.blocks[number.Uint64()]}), nil
}

func (b *fakeBackend) PendingNonceAt(_ context.Context, account common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nonces[account], nil
}

func (b *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (b *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.estimateErr != nil {
		return 0, b.estimateErr
	}
	return 100_000, nil
}

func (b *fakeBackend) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.balance), nil
}

func (b *fakeBackend) SendTransaction(_ context.Context, tx *gethtypes.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendErr != nil {
		return b.sendErr
	}
	from, err := gethtypes.Sender(gethtypes.LatestSignerForChainID(b.chainID), tx)
	if err != nil {
		return err
	}
	b.nonces[from]++
	b.sent = append(b.sent, tx)
	return nil
}

func (b *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rcpt, ok := b.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return rcpt, nil
}
