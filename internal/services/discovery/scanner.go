// Package discovery finds borrower accounts by scanning the pool's event logs
// in fixed block windows, backward (backfill) or forward.
//
// Extraction does not decode events. Every non-zero indexed topic after the
// event signature is taken as a possible account; the health engine decides
// which of them are real borrowers.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/archon-research/stl-sentry/internal/domain/entity"
	"github.com/archon-research/stl-sentry/internal/ports/inbound"
	"github.com/archon-research/stl-sentry/internal/ports/outbound"
	"github.com/archon-research/stl-sentry/internal/services/syncstate"
)

const tracerName = "github.com/archon-research/stl-sentry/internal/services/discovery"

var _ inbound.Worker = (*Scanner)(nil)

// Mode is the direction of one scan window.
type Mode string

const (
	ModeIdle     Mode = "idle"
	ModeForward  Mode = "forward"
	ModeBackfill Mode = "backfill"
)

// Window is an inclusive block range to scan.
type Window struct {
	Mode Mode
	From uint64
	To   uint64
}

// Blocks returns the number of blocks in the window.
func (w Window) Blocks() uint64 {
	if w.Mode == ModeIdle || w.To < w.From {
		return 0
	}
	return w.To - w.From + 1
}

// Config holds configuration for the Scanner.
type Config struct {
	// Pool is the lending pool whose logs are scanned.
	Pool common.Address

	// Known are contract addresses that are never accounts (pool, reserves, tokens).
	Known map[common.Address]struct{}

	// WindowSize is the number of blocks per scan.
	WindowSize uint64

	// UniverseThreshold: below this many known accounts, backfill is preferred.
	UniverseThreshold int

	// CatchupWindows: when the forward cursor trails the tip by more than
	// this many windows, the scan jumps to the latest window.
	CatchupWindows uint64

	// Interval is the pause between scans when the scanner is idle.
	Interval time.Duration

	// BusyInterval is the pause between scans while there is work left.
	BusyInterval time.Duration

	Metrics outbound.MetricsRecorder
	Logger  *slog.Logger
}

// ConfigDefaults returns default configuration.
func ConfigDefaults() Config {
	return Config{
		WindowSize:        10_000,
		UniverseThreshold: 50_000,
		CatchupWindows:    5,
		Interval:          12 * time.Second,
		BusyInterval:      time.Second,
		Metrics:           outbound.NopMetrics{},
		Logger:            slog.Default(),
	}
}

// ScanResult describes one ScanOnce call.
type ScanResult struct {
	Window       Window
	Tip          uint64
	Logs         int
	Discovered   int
	UniverseSize int
}

// Scanner runs discovery windows against a chain and persists the results.
type Scanner struct {
	config Config
	chain  outbound.ChainReader
	state  *syncstate.Store
	now    func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewScanner creates a new Scanner.
func NewScanner(config Config, chain outbound.ChainReader, state *syncstate.Store) (*Scanner, error) {
	if chain == nil {
		return nil, fmt.Errorf("chain reader is required")
	}
	if state == nil {
		return nil, fmt.Errorf("sync state store is required")
	}
	if config.Pool == (common.Address{}) {
		return nil, fmt.Errorf("pool address is required")
	}

	defaults := ConfigDefaults()
	if config.WindowSize == 0 {
		config.WindowSize = defaults.WindowSize
	}
	if config.UniverseThreshold == 0 {
		config.UniverseThreshold = defaults.UniverseThreshold
	}
	if config.CatchupWindows == 0 {
		config.CatchupWindows = defaults.CatchupWindows
	}
	if config.Interval == 0 {
		config.Interval = defaults.Interval
	}
	if config.BusyInterval == 0 {
		config.BusyInterval = defaults.BusyInterval
	}
	if config.Metrics == nil {
		config.Metrics = defaults.Metrics
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	known := make(map[common.Address]struct{}, len(config.Known)+1)
	for addr := range config.Known {
		known[addr] = struct{}{}
	}
	known[config.Pool] = struct{}{}
	config.Known = known

	return &Scanner{
		config: config,
		chain:  chain,
		state:  state,
		now:    time.Now,
		logger: config.Logger.With("component", "discovery"),
	}, nil
}

// PlanWindow chooses the next window from the pointer, the chain tip and the
// current universe size. It does not move the pointer.
func (s *Scanner) PlanWindow(p *entity.SyncPointer, tip uint64, universeSize int) Window {
	size := s.config.WindowSize

	if p.Forward == nil {
		from := p.Floor
		if tip+1 > size && tip+1-size > from {
			from = tip + 1 - size
		}
		if from > tip {
			return Window{Mode: ModeIdle}
		}
		return Window{Mode: ModeForward, From: from, To: tip}
	}

	if universeSize < s.config.UniverseThreshold && !p.BackfillComplete() {
		if head, ok := p.BackfillHead(); ok && head > p.Floor {
			from := p.Floor
			if head > size && head-size > from {
				from = head - size
			}
			return Window{Mode: ModeBackfill, From: from, To: head - 1}
		}
	}

	last := p.Forward.LastBlock
	if last >= tip {
		return Window{Mode: ModeIdle}
	}
	if tip-last > size*s.config.CatchupWindows {
		return Window{Mode: ModeForward, From: tip - size + 1, To: tip}
	}
	to := last + size
	if to > tip {
		to = tip
	}
	return Window{Mode: ModeForward, From: last + 1, To: to}
}

// ScanOnce runs one window. On any read or write error no cursor moves and
// the next call plans the same window again.
func (s *Scanner) ScanOnce(ctx context.Context) (ScanResult, error) {
	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "discovery.ScanOnce",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer func() {
		span.SetAttributes(attribute.Int64("discovery.duration_ms", time.Since(start).Milliseconds()))
		span.End()
	}()

	fail := func(msg string, err error) (ScanResult, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, msg)
		return ScanResult{}, fmt.Errorf("%s: %w", msg, err)
	}

	tip, err := s.chain.BlockNumber(ctx)
	if err != nil {
		return fail("failed to get chain tip", err)
	}
	pointer, err := s.state.LoadPointer(ctx)
	if err != nil {
		return fail("failed to load sync pointer", err)
	}
	universe, err := s.state.LoadUniverse(ctx)
	if err != nil {
		return fail("failed to load universe", err)
	}

	window := s.PlanWindow(pointer, tip, universe.Len())
	result := ScanResult{Window: window, Tip: tip, UniverseSize: universe.Len()}
	span.SetAttributes(
		attribute.String("discovery.mode", string(window.Mode)),
		attribute.Int64("discovery.from", int64(window.From)),
		attribute.Int64("discovery.to", int64(window.To)),
	)
	if window.Mode == ModeIdle {
		s.logger.Debug("nothing to scan", "tip", tip)
		return result, nil
	}

	logs, err := s.chain.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(window.From),
		ToBlock:   new(big.Int).SetUint64(window.To),
		Addresses: []common.Address{s.config.Pool},
	})
	if err != nil {
		return fail("failed to fetch logs", err)
	}
	result.Logs = len(logs)

	added := universe.Union(s.ExtractAccounts(logs)...)
	result.Discovered = added
	result.UniverseSize = universe.Len()

	if added > 0 {
		if err := s.state.SaveUniverse(ctx, universe); err != nil {
			return fail("failed to save universe", err)
		}
	}

	now := s.now().UTC()
	switch window.Mode {
	case ModeForward:
		if pointer.Forward == nil {
			pointer.StartForward(window.From, window.To, now)
		} else {
			pointer.AdvanceForward(window.To, now)
		}
		if err := s.state.SaveForward(ctx, pointer.Forward); err != nil {
			return fail("failed to save forward cursor", err)
		}
	case ModeBackfill:
		pointer.AdvanceBackfill(window.From, now)
		if err := s.state.SaveBackfill(ctx, pointer.Backfill); err != nil {
			return fail("failed to save backfill cursor", err)
		}
	}

	s.config.Metrics.RecordScan(ctx, string(window.Mode), window.Blocks(), added)
	span.SetAttributes(
		attribute.Int("discovery.logs", len(logs)),
		attribute.Int("discovery.discovered", added),
	)
	s.logger.Info("scan complete",
		"mode", window.Mode,
		"from", window.From,
		"to", window.To,
		"tip", tip,
		"logs", len(logs),
		"discovered", added,
		"universe", result.UniverseSize)
	return result, nil
}

// ExtractAccounts returns the candidate accounts referenced by logs' indexed
// topics, skipping the event signature, zero values and known contracts.
func (s *Scanner) ExtractAccounts(logs []types.Log) []common.Address {
	var out []common.Address
	for _, lg := range logs {
		if len(lg.Topics) < 2 {
			continue
		}
		for _, topic := range lg.Topics[1:] {
			if topic == (common.Hash{}) {
				continue
			}
			addr := common.BytesToAddress(topic[common.HashLength-common.AddressLength:])
			if addr == (common.Address{}) {
				continue
			}
			if _, skip := s.config.Known[addr]; skip {
				continue
			}
			out = append(out, addr)
		}
	}
	return out
}

// Start runs ScanOnce in a loop until Stop is called or ctx is cancelled.
func (s *Scanner) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.run(ctx)

	s.logger.Info("discovery started",
		"pool", s.config.Pool.Hex(),
		"window", s.config.WindowSize,
		"interval", s.config.Interval)
	return nil
}

// Stop stops the loop and waits for the current scan to finish.
func (s *Scanner) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("discovery stopped")
	return nil
}

func (s *Scanner) run(ctx context.Context) {
	defer s.wg.Done()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		delay := s.config.Interval
		result, err := s.ScanOnce(ctx)
		switch {
		case err != nil:
			s.logger.Warn("scan failed, retrying window next cycle", "error", err)
		case result.Window.Mode != ModeIdle:
			delay = s.config.BusyInterval
		}
		timer.Reset(delay)
	}
}
