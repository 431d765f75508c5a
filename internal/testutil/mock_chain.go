package testutil

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/archon-research/stl-sentry/internal/domain/entity"
	"github.com/archon-research/stl-sentry/internal/ports/outbound"
)

var (
	_ outbound.ChainReader     = (*MockChain)(nil)
	_ outbound.GasOracle       = (*MockChain)(nil)
	_ outbound.Settlement      = (*MockSettlement)(nil)
	_ outbound.ExecutionSink   = (*MockExecutionSink)(nil)
	_ outbound.MetricsRecorder = (*MockMetrics)(nil)
)

// MockChain implements outbound.ChainReader and outbound.GasOracle.
type MockChain struct {
	mu sync.Mutex

	Tip      uint64
	GasPrice *big.Int

	BlockNumberErr error
	FilterLogsFn   func(q ethereum.FilterQuery) ([]types.Log, error)
	GasPriceErr    error

	Queries []ethereum.FilterQuery
}

func (m *MockChain) BlockNumber(context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BlockNumberErr != nil {
		return 0, m.BlockNumberErr
	}
	return m.Tip, nil
}

func (m *MockChain) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	m.mu.Lock()
	m.Queries = append(m.Queries, q)
	fn := m.FilterLogsFn
	m.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(q)
}

func (m *MockChain) SuggestGasPrice(context.Context) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GasPriceErr != nil {
		return nil, m.GasPriceErr
	}
	if m.GasPrice == nil {
		return nil, errors.New("gas price not mocked")
	}
	return new(big.Int).Set(m.GasPrice), nil
}

// LogQueries returns a copy of every FilterLogs query seen so far.
func (m *MockChain) LogQueries() []ethereum.FilterQuery {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ethereum.FilterQuery, len(m.Queries))
	copy(out, m.Queries)
	return out
}

// PoolLog builds a log with the given topics. topic0 is a fixed event signature.
func PoolLog(pool common.Address, block uint64, topics ...common.Hash) types.Log {
	sig := common.HexToHash("0xb3d084820fb1a9decffb176436bd02558d15fac9b0ddfed8c465bc7359d7dce0")
	return types.Log{
		Address:     pool,
		Topics:      append([]common.Hash{sig}, topics...),
		BlockNumber: block,
	}
}

// AddressTopic left-pads addr into a 32-byte topic.
func AddressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

// MockSettlement implements outbound.Settlement.
type MockSettlement struct {
	mu sync.Mutex

	SimulateFn func(order *entity.Order) error
	ExecuteFn  func(order *entity.Order, priorityFee *big.Int) (common.Hash, error)

	Simulated []entity.Order
	Executed  []entity.Order
	Fees      []*big.Int
}

func (m *MockSettlement) Simulate(_ context.Context, order *entity.Order) error {
	m.mu.Lock()
	m.Simulated = append(m.Simulated, *order)
	fn := m.SimulateFn
	m.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(order)
}

func (m *MockSettlement) Execute(_ context.Context, order *entity.Order, priorityFee *big.Int) (common.Hash, error) {
	m.mu.Lock()
	m.Executed = append(m.Executed, *order)
	m.Fees = append(m.Fees, new(big.Int).Set(priorityFee))
	fn := m.ExecuteFn
	m.mu.Unlock()
	if fn == nil {
		return common.HexToHash("0xabc"), nil
	}
	return fn(order, priorityFee)
}

// MockExecutionSink implements outbound.ExecutionSink.
type MockExecutionSink struct {
	mu        sync.Mutex
	Published []entity.ExecutionResult
	Err       error
	Closed    int
}

func (m *MockExecutionSink) PublishExecution(_ context.Context, result *entity.ExecutionResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Published = append(m.Published, *result)
	return nil
}

func (m *MockExecutionSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed++
	return nil
}

// MockMetrics implements outbound.MetricsRecorder and counts calls.
type MockMetrics struct {
	mu         sync.Mutex
	Scans      []string
	Cycles     int
	Plans      int
	Executions []entity.FailureKind
	LastWatch  int
	LastExec   int
}

func (m *MockMetrics) RecordScan(_ context.Context, mode string, _ uint64, _ int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Scans = append(m.Scans, mode)
}

func (m *MockMetrics) RecordCycle(context.Context, time.Duration, int, int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Cycles++
}

func (m *MockMetrics) RecordCandidates(_ context.Context, watch, execReady int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastWatch, m.LastExec = watch, execReady
}

func (m *MockMetrics) RecordPlan(context.Context, int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Plans++
}

func (m *MockMetrics) RecordExecution(_ context.Context, kind entity.FailureKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Executions = append(m.Executions, kind)
}
