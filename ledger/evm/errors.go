package evm

import (
	"context"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"

	"rozgar/ledger"
)

// isRevert reports whether err carries an EVM revert, either as a JSON-RPC
// data error or in the message text returned by the node.
func isRevert(err error) bool {
	if err == nil {
		return false
	}
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) && dataErr.ErrorData() != nil {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "revert")
}

// Node errors arrive as JSON-RPC message text, so they are matched by content.
func isInsufficientFunds(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "insufficient funds")
}

// isStaleNonce covers nodes refusing a request that raced with another
// transaction from the same account.
func isStaleNonce(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "nonce too low") || strings.Contains(msg, "replacement transaction underpriced")
}

// classify maps a node error into the ledger failure taxonomy. Cancellation
// passes through untouched; anything unrecognised is treated as the ledger
// being unreachable.
func classify(op string, tx ledger.TxHash, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return ledger.NewError(ledger.KindTimeout, op, tx, err)
	case isInsufficientFunds(err):
		return ledger.NewError(ledger.KindInsufficientFunds, op, tx, err)
	case isRevert(err), isStaleNonce(err):
		return ledger.NewError(ledger.KindRejected, op, tx, err)
	default:
		return ledger.NewError(ledger.KindNetworkUnavailable, op, tx, err)
	}
}
