package testutil

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/stl-sentry/internal/ports/outbound"
)

var _ outbound.Multicaller = (*MockMulticaller)(nil)

// MockMulticaller is a scripted outbound.Multicaller. Every batch it receives
// is kept so tests can assert on targets and calldata.
type MockMulticaller struct {
	ExecuteFn func(ctx context.Context, calls []outbound.Call, blockNumber *big.Int) ([]outbound.Result, error)
	Addr      common.Address

	mu      sync.Mutex
	batches [][]outbound.Call
}

// NewMockMulticaller returns a mock at the canonical Multicall3 address.
func NewMockMulticaller() *MockMulticaller {
	return &MockMulticaller{Addr: common.HexToAddress("0xcA11bde05977b3631167028862bE2a173976CA11")}
}

func (m *MockMulticaller) Execute(ctx context.Context, calls []outbound.Call, blockNumber *big.Int) ([]outbound.Result, error) {
	m.mu.Lock()
	m.batches = append(m.batches, append([]outbound.Call(nil), calls...))
	m.mu.Unlock()

	if m.ExecuteFn == nil {
		return nil, errors.New("Execute not mocked")
	}
	return m.ExecuteFn(ctx, calls, blockNumber)
}

func (m *MockMulticaller) Address() common.Address {
	return m.Addr
}

// Calls returns how many batches were executed.
func (m *MockMulticaller) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.batches)
}

// Batch returns a copy of the i-th executed batch.
func (m *MockMulticaller) Batch(i int) []outbound.Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]outbound.Call(nil), m.batches[i]...)
}
