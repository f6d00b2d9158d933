package evm

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"rozgar/native/gig"
)

// escrowABI is the interface of the deployed gig escrow contract.
const escrowABI = `[
  {"type":"function","name":"createGig","stateMutability":"payable","outputs":[],
   "inputs":[{"name":"_title","type":"string"},{"name":"_description","type":"string"},{"name":"_freelancer","type":"address"}]},
  {"type":"function","name":"acceptGig","stateMutability":"nonpayable","outputs":[],
   "inputs":[{"name":"_gigId","type":"uint256"}]},
  {"type":"function","name":"submitWork","stateMutability":"nonpayable","outputs":[],
   "inputs":[{"name":"_gigId","type":"uint256"}]},
  {"type":"function","name":"approveAndPay","stateMutability":"nonpayable","outputs":[],
   "inputs":[{"name":"_gigId","type":"uint256"}]},
  {"type":"function","name":"getGig","stateMutability":"view",
   "inputs":[{"name":"_gigId","type":"uint256"}],
   "outputs":[{"name":"","type":"tuple","components":[
     {"name":"id","type":"uint256"},
     {"name":"client","type":"address"},
     {"name":"freelancer","type":"address"},
     {"name":"title","type":"string"},
     {"name":"description","type":"string"},
     {"name":"payment","type":"uint256"},
     {"name":"isAccepted","type":"bool"},
     {"name":"workSubmitted","type":"bool"},
     {"name":"isCompleted","type":"bool"},
     {"name":"isPaid","type":"bool"}]}]},
  {"type":"function","name":"gigCount","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"uint256"}]}
]`

const (
	methodCreate   = "createGig"
	methodGetGig   = "getGig"
	methodGigCount = "gigCount"
)

var errEmptyResult = errors.New("evm: empty call result")

// gigTuple mirrors the getGig return struct.
type gigTuple struct {
	Id            *big.Int
	Client        common.Address
	Freelancer    common.Address
	Title         string
	Description   string
	Payment       *big.Int
	IsAccepted    bool
	WorkSubmitted bool
	IsCompleted   bool
	IsPaid        bool
}

type contract struct {
	abi abi.ABI
}

func parseContract() (*contract, error) {
	parsed, err := abi.JSON(strings.NewReader(escrowABI))
	if err != nil {
		return nil, fmt.Errorf("evm: parse escrow abi: %w", err)
	}
	return &contract{abi: parsed}, nil
}

// methodFor maps a lifecycle action to its contract method.
func methodFor(action gig.Action) (string, error) {
	switch action {
	case gig.ActionAccept:
		return "acceptGig", nil
	case gig.ActionSubmitWork:
		return "submitWork", nil
	case gig.ActionApproveAndPay:
		return "approveAndPay", nil
	default:
		return "", fmt.Errorf("evm: no contract method for action %q", action)
	}
}

func (c *contract) packCreate(d gig.Draft, freelancer gig.Address) ([]byte, error) {
	return c.abi.Pack(methodCreate, d.Title, d.Description, common.Address(freelancer))
}

func (c *contract) packTransition(id uint64, action gig.Action) ([]byte, error) {
	method, err := methodFor(action)
	if err != nil {
		return nil, err
	}
	return c.abi.Pack(method, new(big.Int).SetUint64(id))
}

func (c *contract) packGetGig(id uint64) ([]byte, error) {
	return c.abi.Pack(methodGetGig, new(big.Int).SetUint64(id))
}

func (c *contract) packGigCount() ([]byte, error) {
	return c.abi.Pack(methodGigCount)
}

// unpackGig decodes a getGig result. An all-zero tuple is how the contract
// reports an id that was never assigned, which becomes ok == false.
func (c *contract) unpackGig(data []byte) (record gig.Gig, ok bool, err error) {
	if len(data) == 0 {
		return gig.Gig{}, false, errEmptyResult
	}
	out, err := c.abi.Unpack(methodGetGig, data)
	if err != nil {
		return gig.Gig{}, false, fmt.Errorf("evm: decode getGig: %w", err)
	}
	if len(out) != 1 {
		return gig.Gig{}, false, fmt.Errorf("evm: decode getGig: %d outputs", len(out))
	}
	tuple := *abi.ConvertType(out[0], new(gigTuple)).(*gigTuple)
	if tuple.Id == nil || tuple.Id.Sign() == 0 || tuple.Client == (common.Address{}) {
		return gig.Gig{}, false, nil
	}
	if !tuple.Id.IsUint64() {
		return gig.Gig{}, false, fmt.Errorf("evm: gig id %s out of range", tuple.Id)
	}
	payment := new(big.Int)
	if tuple.Payment != nil {
		payment.Set(tuple.Payment)
	}
	return gig.Gig{
		ID:            tuple.Id.Uint64(),
		Client:        gig.Address(tuple.Client),
		Freelancer:    gig.Address(tuple.Freelancer),
		Title:         tuple.Title,
		Description:   tuple.Description,
		Payment:       payment,
		Accepted:      tuple.IsAccepted,
		WorkSubmitted: tuple.WorkSubmitted,
		Completed:     tuple.IsCompleted,
		Paid:          tuple.IsPaid,
	}, true, nil
}

func (c *contract) unpackCount(data []byte) (uint64, error) {
	if len(data) == 0 {
		return 0, errEmptyResult
	}
	out, err := c.abi.Unpack(methodGigCount, data)
	if err != nil {
		return 0, fmt.Errorf("evm: decode gigCount: %w", err)
	}
	count, ok := out[0].(*big.Int)
	if !ok || count == nil || !count.IsUint64() {
		return 0, fmt.Errorf("evm: decode gigCount: unexpected value %v", out[0])
	}
	return count.Uint64(), nil
}
