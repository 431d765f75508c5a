// Package multicall batches contract reads through the Multicall3 contract or
// through JSON-RPC batching.
package multicall

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/stl-sentry/internal/pkg/blockchain/abis"
	"github.com/archon-research/stl-sentry/internal/ports/outbound"
)

var _ outbound.Multicaller = (*Client)(nil)

// ContractCaller is the eth_call capability of an ethclient.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Client executes calls through Multicall3.aggregate3.
type Client struct {
	caller  ContractCaller
	address common.Address
	abi     *abi.ABI
}

// NewClient creates a Client bound to the Multicall3 deployment at multicall3Address.
func NewClient(caller ContractCaller, multicall3Address common.Address) (*Client, error) {
	multicallABI, err := abis.GetMulticall3ABI()
	if err != nil {
		return nil, fmt.Errorf("failed to load multicall3 ABI: %w", err)
	}

	return &Client{
		caller:  caller,
		address: multicall3Address,
		abi:     multicallABI,
	}, nil
}

func (c *Client) Address() common.Address {
	return c.address
}

type aggregateCall struct {
	Target       common.Address
	AllowFailure bool
	CallData     []byte
}

// Execute runs calls in one aggregate3 eth_call. Results are positional.
func (c *Client) Execute(ctx context.Context, calls []outbound.Call, blockNumber *big.Int) ([]outbound.Result, error) {
	if len(calls) == 0 {
		return []outbound.Result{}, nil
	}

	packed := make([]aggregateCall, len(calls))
	for i, call := range calls {
		packed[i] = aggregateCall(call)
	}

	data, err := c.abi.Pack("aggregate3", packed)
	if err != nil {
		return nil, fmt.Errorf("failed to pack multicall: %w", err)
	}

	result, err := c.caller.CallContract(ctx, ethereum.CallMsg{To: &c.address, Data: data}, blockNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to call multicall contract at address=%s block=%s calls=%d: %w",
			c.address.Hex(), blockNumberString(blockNumber), len(calls), err)
	}

	unpacked, err := c.abi.Unpack("aggregate3", result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack multicall response at block=%s: %w",
			blockNumberString(blockNumber), err)
	}

	raw, ok := unpacked[0].([]struct {
		Success    bool   `json:"success"`
		ReturnData []byte `json:"returnData"`
	})
	if !ok {
		return nil, fmt.Errorf("unexpected aggregate3 return type %T", unpacked[0])
	}
	if len(raw) != len(calls) {
		return nil, fmt.Errorf("aggregate3 returned %d results for %d calls", len(raw), len(calls))
	}

	results := make([]outbound.Result, len(raw))
	for i, r := range raw {
		results[i] = outbound.Result{Success: r.Success, ReturnData: r.ReturnData}
	}
	return results, nil
}

func blockNumberString(blockNumber *big.Int) string {
	if blockNumber == nil {
		return "latest"
	}
	return blockNumber.String()
}
