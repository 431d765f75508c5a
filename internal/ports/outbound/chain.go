package outbound

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
)

// ChainReader is the subset of JSON-RPC reads the discovery scanner needs.
type ChainReader interface {
	// BlockNumber returns the current chain tip.
	BlockNumber(ctx context.Context) (uint64, error)

	// FilterLogs returns the logs matching q.
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// GasOracle reports the network gas price.
type GasOracle interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}
