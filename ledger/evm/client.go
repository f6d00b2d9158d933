// Package evm binds the gig escrow contract on an EVM chain to the ledger
// capability interfaces.
package evm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"rozgar/ledger"
	"rozgar/native/gig"
	"rozgar/observability"
	"rozgar/observability/logging"
)

const (
	backendLabel = "evm"

	defaultPollInterval    = 2 * time.Second
	defaultFinalityTimeout = 2 * time.Minute
	// gasMarginPercent pads estimates so a state change between estimation and
	// inclusion does not run the transaction out of gas.
	gasMarginPercent = 20
	// maxBlockCreations bounds how many records created in one block are
	// searched when resolving a creation's id.
	maxBlockCreations = 512
)

var (
	errNoSigner      = errors.New("evm: signer required")
	errNoChainID     = errors.New("evm: chain id required")
	errNoContract    = errors.New("evm: contract address required")
	errTxReverted    = errors.New("execution reverted")
	errCreatedUnseen = errors.New("evm: created gig not found among the block's new records")
	errTxNotInBlock  = errors.New("evm: transaction missing from its receipt's block")
)

// Backend defines the subset of the Ethereum RPC used by the client.
// *ethclient.Client satisfies it.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*gethtypes.Block, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
}

// Config holds the chain parameters of the deployed contract.
type Config struct {
	Contract gig.Address
	ChainID  *big.Int
	// Confirmations is the depth at which a receipt counts as final. Zero is
	// treated as one.
	Confirmations   uint64
	PollInterval    time.Duration
	FinalityTimeout time.Duration
	// GasTipCap fixes the priority fee; nil asks the node.
	GasTipCap *big.Int
}

// Client implements ledger.Client against the escrow contract.
type Client struct {
	backend  Backend
	cfg      Config
	contract *contract
	txSigner gethtypes.Signer
	outcomes *ledger.Outcomes
	logger   *slog.Logger
	nowFn    func() time.Time
	closeFn  func()
}

var _ ledger.Client = (*Client)(nil)

// Option customises a Client.
type Option func(*Client)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.nowFn = now
		}
	}
}

// New constructs a client over an existing backend.
func New(backend Backend, cfg Config, opts ...Option) (*Client, error) {
	if backend == nil {
		return nil, fmt.Errorf("evm: backend required")
	}
	if cfg.Contract.IsZero() {
		return nil, errNoContract
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, errNoChainID
	}
	if cfg.Confirmations == 0 {
		cfg.Confirmations = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.FinalityTimeout <= 0 {
		cfg.FinalityTimeout = defaultFinalityTimeout
	}
	bound, err := parseContract()
	if err != nil {
		return nil, err
	}
	c := &Client{
		backend:  backend,
		cfg:      cfg,
		contract: bound,
		txSigner: gethtypes.LatestSignerForChainID(cfg.ChainID),
		outcomes: ledger.NewOutcomes(),
		logger:   slog.Default(),
		nowFn:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Dial connects to endpoint with an OpenTelemetry-instrumented HTTP transport.
// A nil cfg.ChainID is read from the node.
func Dial(ctx context.Context, endpoint string, cfg Config, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("evm endpoint required")
	}
	httpClient := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   30 * time.Second,
	}
	rpcClient, err := rpc.DialOptions(ctx, trimmed, rpc.WithHTTPClient(httpClient))
	if err != nil {
		return nil, ledger.NewError(ledger.KindNetworkUnavailable, "dial", ledger.TxHash{}, err)
	}
	eth := ethclient.NewClient(rpcClient)
	if cfg.ChainID == nil {
		id, err := eth.ChainID(ctx)
		if err != nil {
			eth.Close()
			return nil, classify("chainId", ledger.TxHash{}, err)
		}
		cfg.ChainID = id
	}
	client, err := New(eth, cfg, opts...)
	if err != nil {
		eth.Close()
		return nil, err
	}
	client.closeFn = eth.Close
	client.logger.Info("ledger client connected",
		logging.Endpoint("rpc", trimmed),
		slog.String("contract", cfg.Contract.Hex()),
		slog.String("chain_id", cfg.ChainID.String()))
	return client, nil
}

// Close releases the underlying RPC connection when the client was dialed.
func (c *Client) Close() {
	if c != nil && c.closeFn != nil {
		c.closeFn()
	}
}

func (c *Client) observe(method string, start time.Time, err error) {
	observability.Ledger().ObserveCall(backendLabel, method, err, c.nowFn().Sub(start))
}

func blockArg(snap ledger.Snapshot) *big.Int {
	if snap.IsLatest() {
		return nil
	}
	return new(big.Int).SetUint64(snap.Height)
}

func (c *Client) call(ctx context.Context, snap ledger.Snapshot, data []byte) ([]byte, error) {
	to := common.Address(c.cfg.Contract)
	return c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, blockArg(snap))
}

// Snapshot pins the latest block number.
func (c *Client) Snapshot(ctx context.Context) (snap ledger.Snapshot, err error) {
	start := c.nowFn()
	defer func() { c.observe("blockNumber", start, err) }()
	height, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return ledger.Snapshot{}, classify("blockNumber", ledger.TxHash{}, err)
	}
	return ledger.Snapshot{Height: height}, nil
}

// FetchGig calls getGig at the snapshot block.
func (c *Client) FetchGig(ctx context.Context, snap ledger.Snapshot, id uint64) (record gig.Gig, err error) {
	start := c.nowFn()
	defer func() { c.observe(methodGetGig, start, err) }()
	if id == 0 {
		return gig.Gig{}, ledger.ErrNotFound
	}
	data, err := c.contract.packGetGig(id)
	if err != nil {
		return gig.Gig{}, err
	}
	out, err := c.call(ctx, snap, data)
	if err != nil {
		if isRevert(err) {
			return gig.Gig{}, ledger.ErrNotFound
		}
		return gig.Gig{}, classify(methodGetGig, ledger.TxHash{}, err)
	}
	record, ok, err := c.contract.unpackGig(out)
	if err != nil {
		return gig.Gig{}, err
	}
	if !ok {
		return gig.Gig{}, ledger.ErrNotFound
	}
	return record, nil
}

// FetchGigCount calls gigCount at the snapshot block.
func (c *Client) FetchGigCount(ctx context.Context, snap ledger.Snapshot) (count uint64, err error) {
	start := c.nowFn()
	defer func() { c.observe(methodGigCount, start, err) }()
	data, err := c.contract.packGigCount()
	if err != nil {
		return 0, err
	}
	out, err := c.call(ctx, snap, data)
	if err != nil {
		return 0, classify(methodGigCount, ledger.TxHash{}, err)
	}
	return c.contract.unpackCount(out)
}

// SubmitCreation sends createGig with the draft payment as value.
func (c *Client) SubmitCreation(ctx context.Context, draft gig.Draft, signer ledger.Signer) (ledger.Receipt, error) {
	if signer == nil {
		return ledger.Receipt{}, errNoSigner
	}
	freelancer, err := draft.FreelancerAddress()
	if err != nil {
		return ledger.Receipt{}, err
	}
	data, err := c.contract.packCreate(draft, freelancer)
	if err != nil {
		return ledger.Receipt{}, err
	}
	value := new(big.Int)
	if draft.Payment != nil {
		value.Set(draft.Payment)
	}
	receipt, err := c.send(ctx, methodCreate, signer, data, value)
	if err != nil {
		return ledger.Receipt{}, err
	}
	receipt.Creation = true
	receipt.Title = draft.Title
	receipt.Payment = value
	return receipt, nil
}

// SubmitTransition sends acceptGig, submitWork or approveAndPay.
func (c *Client) SubmitTransition(ctx context.Context, id uint64, action gig.Action, signer ledger.Signer) (ledger.Receipt, error) {
	if signer == nil {
		return ledger.Receipt{}, errNoSigner
	}
	method, err := methodFor(action)
	if err != nil {
		return ledger.Receipt{}, err
	}
	data, err := c.contract.packTransition(id, action)
	if err != nil {
		return ledger.Receipt{}, err
	}
	receipt, err := c.send(ctx, method, signer, data, new(big.Int))
	if err != nil {
		return ledger.Receipt{}, err
	}
	receipt.GigID = id
	receipt.Action = action
	return receipt, nil
}

// send builds, signs and broadcasts an EIP-1559 transaction to the contract.
func (c *Client) send(ctx context.Context, method string, signer ledger.Signer, data []byte, value *big.Int) (receipt ledger.Receipt, err error) {
	start := c.nowFn()
	defer func() { c.observe(method, start, err) }()

	from := common.Address(signer.Address())
	to := common.Address(c.cfg.Contract)

	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return ledger.Receipt{}, classify(method, ledger.TxHash{}, err)
	}
	tip := c.cfg.GasTipCap
	if tip == nil {
		if tip, err = c.backend.SuggestGasTipCap(ctx); err != nil {
			return ledger.Receipt{}, classify(method, ledger.TxHash{}, err)
		}
	}
	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return ledger.Receipt{}, classify(method, ledger.TxHash{}, err)
	}
	feeCap := new(big.Int).Set(tip)
	if head != nil && head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	gasLimit, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:      from,
		To:        &to,
		Value:     value,
		Data:      data,
		GasFeeCap: feeCap,
		GasTipCap: tip,
	})
	if err != nil {
		return ledger.Receipt{}, classify(method, ledger.TxHash{}, err)
	}
	gasLimit += gasLimit * gasMarginPercent / 100

	cost := new(big.Int).Mul(feeCap, new(big.Int).SetUint64(gasLimit))
	cost.Add(cost, value)
	balance, err := c.backend.BalanceAt(ctx, from, nil)
	if err != nil {
		return ledger.Receipt{}, classify(method, ledger.TxHash{}, err)
	}
	if balance.Cmp(cost) < 0 {
		return ledger.Receipt{}, ledger.NewError(ledger.KindInsufficientFunds, method, ledger.TxHash{},
			fmt.Errorf("balance %s wei below required %s wei", balance, cost))
	}

	tx := gethtypes.NewTx(&gethtypes.DynamicFeeTx{
		ChainID:   c.cfg.ChainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &to,
		Value:     value,
		Data:      data,
	})
	sig, err := signer.SignHash(c.txSigner.Hash(tx))
	if err != nil {
		return ledger.Receipt{}, fmt.Errorf("evm: sign %s: %w", method, err)
	}
	signed, err := tx.WithSignature(c.txSigner, sig)
	if err != nil {
		return ledger.Receipt{}, fmt.Errorf("evm: attach signature: %w", err)
	}
	hash := ledger.TxHash(signed.Hash())
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return ledger.Receipt{}, classify(method, ledger.TxHash{}, err)
	}
	c.logger.Debug("transaction broadcast",
		slog.String("method", method),
		slog.String("tx", hash.Hex()),
		logging.Address("from", signer.Address()),
		slog.Uint64("nonce", nonce),
		slog.Uint64("gas", gasLimit))
	return ledger.Receipt{
		TxHash:      hash,
		Submitter:   signer.Address(),
		Nonce:       nonce,
		SubmittedAt: c.nowFn(),
	}, nil
}

// AwaitFinality polls for the receipt until it is buried under the configured
// confirmation depth, reverts, or the finality timeout elapses.
func (c *Client) AwaitFinality(ctx context.Context, receipt ledger.Receipt) (ledger.Finality, error) {
	if fin, found, err := c.outcomes.Lookup(receipt.TxHash); found {
		return fin, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.FinalityTimeout)
	defer cancel()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		fin, done, err := c.checkFinality(ctx, receipt)
		if done {
			c.outcomes.Store(receipt.TxHash, fin, err)
			if stored, found, storedErr := c.outcomes.Lookup(receipt.TxHash); found {
				return stored, storedErr
			}
			return fin, err
		}
		if err != nil {
			c.logger.Debug("finality poll failed", slog.String("tx", receipt.TxHash.Hex()), slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return ledger.Finality{}, ledger.FromContext("awaitFinality", receipt.TxHash, ctx.Err())
		case <-ticker.C:
		}
	}
}

// checkFinality reports done once the outcome is final. Transient RPC errors
// are returned with done == false so polling continues.
func (c *Client) checkFinality(ctx context.Context, receipt ledger.Receipt) (ledger.Finality, bool, error) {
	hash := common.Hash(receipt.TxHash)
	rcpt, err := c.backend.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return ledger.Finality{}, false, nil
		}
		return ledger.Finality{}, false, err
	}
	if rcpt == nil || rcpt.BlockNumber == nil {
		return ledger.Finality{}, false, nil
	}
	if rcpt.Status != gethtypes.ReceiptStatusSuccessful {
		return ledger.Finality{}, true, ledger.NewError(ledger.KindRejected, "awaitFinality", receipt.TxHash, errTxReverted)
	}
	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return ledger.Finality{}, false, err
	}
	if head == nil || head.Number == nil || head.Number.Cmp(rcpt.BlockNumber) < 0 {
		return ledger.Finality{}, false, nil
	}
	depth := new(big.Int).Sub(head.Number, rcpt.BlockNumber)
	depth.Add(depth, big.NewInt(1))
	if depth.Cmp(new(big.Int).SetUint64(c.cfg.Confirmations)) < 0 {
		return ledger.Finality{}, false, nil
	}

	block := rcpt.BlockNumber.Uint64()
	gigID := receipt.GigID
	if receipt.Creation {
		gigID, err = c.resolveCreated(ctx, receipt, rcpt)
		if errors.Is(err, errCreatedUnseen) {
			return ledger.Finality{}, true, ledger.NewError(ledger.KindUnresolved, "awaitFinality", receipt.TxHash, err)
		}
		if err != nil {
			return ledger.Finality{}, false, err
		}
	}
	return ledger.Finality{
		TxHash:      receipt.TxHash,
		GigID:       gigID,
		BlockNumber: block,
		GasUsed:     rcpt.GasUsed,
		ConfirmedAt: c.nowFn(),
	}, true, nil
}

// resolveCreated finds the id assigned by a confirmed createGig. The contract
// emits no event, but ids are assigned in execution order and the caller
// becomes the client. The n-th successful createGig from the submitter in the
// block therefore owns the n-th of the submitter's records created in that
// block. errCreatedUnseen is final; other errors are worth polling again.
func (c *Client) resolveCreated(ctx context.Context, receipt ledger.Receipt, rcpt *gethtypes.Receipt) (uint64, error) {
	block := rcpt.BlockNumber.Uint64()
	count, err := c.FetchGigCount(ctx, ledger.Snapshot{Height: block})
	if err != nil {
		return 0, err
	}
	var before uint64
	if block > 0 {
		if before, err = c.FetchGigCount(ctx, ledger.Snapshot{Height: block - 1}); err != nil {
			return 0, err
		}
	}
	if count <= before || count-before > maxBlockCreations {
		return 0, errCreatedUnseen
	}
	rank, err := c.creationRank(ctx, receipt, rcpt.BlockNumber)
	if err != nil {
		return 0, err
	}

	snap := ledger.Snapshot{Height: block}
	var seen int
	for id := before + 1; id <= count; id++ {
		record, err := c.FetchGig(ctx, snap, id)
		if err != nil {
			if errors.Is(err, ledger.ErrNotFound) {
				continue
			}
			return 0, err
		}
		if record.Client != receipt.Submitter {
			continue
		}
		if seen < rank {
			seen++
			continue
		}
		if record.Title != receipt.Title {
			return 0, fmt.Errorf("%w: gig %d has title %q", errCreatedUnseen, id, record.Title)
		}
		if receipt.Payment != nil && record.Payment.Cmp(receipt.Payment) != 0 {
			return 0, fmt.Errorf("%w: gig %d has payment %s", errCreatedUnseen, id, record.Payment)
		}
		return id, nil
	}
	return 0, errCreatedUnseen
}

// creationRank counts the submitter's successful createGig transactions that
// precede receipt's transaction in its block.
func (c *Client) creationRank(ctx context.Context, receipt ledger.Receipt, number *big.Int) (int, error) {
	blk, err := c.backend.BlockByNumber(ctx, number)
	if err != nil {
		return 0, err
	}
	selector := c.contract.abi.Methods[methodCreate].ID
	submitter := common.Address(receipt.Submitter)
	escrow := common.Address(c.cfg.Contract)
	var rank int
	for _, tx := range blk.Transactions() {
		if ledger.TxHash(tx.Hash()) == receipt.TxHash {
			return rank, nil
		}
		if tx.To() == nil || *tx.To() != escrow || !bytes.HasPrefix(tx.Data(), selector) {
			continue
		}
		from, err := gethtypes.Sender(c.txSigner, tx)
		if err != nil || from != submitter {
			continue
		}
		prior, err := c.backend.TransactionReceipt(ctx, tx.Hash())
		if err != nil {
			return 0, err
		}
		if prior != nil && prior.Status == gethtypes.ReceiptStatusSuccessful {
			rank++
		}
	}
	return 0, errTxNotInBlock
}
