package outbound

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/stl-sentry/internal/domain/entity"
)

// Settlement is the on-chain contract that performs the liquidation and swap.
type Settlement interface {
	// Simulate dry-runs execute(order) against the latest state.
	// A contract revert is returned as *RevertError.
	Simulate(ctx context.Context, order *entity.Order) error

	// Execute signs and broadcasts execute(order) with the given priority fee per gas.
	Execute(ctx context.Context, order *entity.Order, priorityFee *big.Int) (common.Hash, error)
}

// RevertError carries the decoded reason of a reverted call.
type RevertError struct {
	Reason string
	Data   []byte
	Err    error
}

func (e *RevertError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("execution reverted: %s", e.Reason)
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "execution reverted"
}

func (e *RevertError) Unwrap() error {
	return e.Err
}
