package multicall

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/archon-research/stl-sentry/internal/ports/outbound"
)

var _ outbound.Multicaller = (*DirectCaller)(nil)

// DefaultMaxBatch keeps each JSON-RPC batch under the limits most hosted
// providers enforce.
const DefaultMaxBatch = 100

// BatchCaller is the JSON-RPC batching capability of an rpc.Client.
type BatchCaller interface {
	BatchCallContext(ctx context.Context, b []rpc.BatchElem) error
}

// DirectCaller serves outbound.Multicaller on chains or forks without
// Multicall3: every call becomes its own eth_call, sent in JSON-RPC batches
// of at most MaxBatch elements.
type DirectCaller struct {
	rpc      BatchCaller
	MaxBatch int
}

func NewDirectCaller(client BatchCaller) *DirectCaller {
	return &DirectCaller{rpc: client, MaxBatch: DefaultMaxBatch}
}

type callArg struct {
	To   common.Address `json:"to"`
	Data hexutil.Bytes  `json:"data"`
}

// Execute runs calls at blockNumber (nil for latest). Results line up with
// calls. A failed call with AllowFailure unset fails the whole Execute.
func (c *DirectCaller) Execute(ctx context.Context, calls []outbound.Call, blockNumber *big.Int) ([]outbound.Result, error) {
	results := make([]outbound.Result, len(calls))
	block := toBlockNumArg(blockNumber)

	size := c.MaxBatch
	if size <= 0 {
		size = DefaultMaxBatch
	}
	for start := 0; start < len(calls); start += size {
		end := min(start+size, len(calls))
		if err := c.batch(ctx, calls[start:end], results[start:end], block); err != nil {
			return nil, err
		}
	}
	return results, nil
}

func (c *DirectCaller) batch(ctx context.Context, calls []outbound.Call, out []outbound.Result, block string) error {
	elems := make([]rpc.BatchElem, len(calls))
	data := make([]hexutil.Bytes, len(calls))
	for i, call := range calls {
		elems[i] = rpc.BatchElem{
			Method: "eth_call",
			Args:   []any{callArg{To: call.Target, Data: call.CallData}, block},
			Result: &data[i],
		}
	}

	if err := c.rpc.BatchCallContext(ctx, elems); err != nil {
		return fmt.Errorf("batch of %d eth_calls at %s: %w", len(calls), block, err)
	}

	for i, elem := range elems {
		switch {
		case elem.Error == nil:
			out[i] = outbound.Result{Success: true, ReturnData: data[i]}
		case calls[i].AllowFailure:
			out[i] = outbound.Result{}
		default:
			return fmt.Errorf("eth_call to %s at %s: %w", calls[i].Target.Hex(), block, elem.Error)
		}
	}
	return nil
}

// Address is zero: no aggregator contract is involved.
func (c *DirectCaller) Address() common.Address {
	return common.Address{}
}

func toBlockNumArg(number *big.Int) string {
	if number == nil || number.Sign() < 0 {
		return "latest"
	}
	return hexutil.EncodeBig(number)
}
