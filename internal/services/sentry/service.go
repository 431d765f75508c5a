// Package sentry runs the monitoring loop: it mixes the at-risk priority set
// with a rotating slice of the whole universe, evaluates both through the
// health engine and publishes the classified candidates every cycle.
package sentry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/archon-research/stl-sentry/internal/domain/entity"
	"github.com/archon-research/stl-sentry/internal/ports/inbound"
	"github.com/archon-research/stl-sentry/internal/ports/outbound"
	"github.com/archon-research/stl-sentry/internal/services/discovery"
	"github.com/archon-research/stl-sentry/internal/services/syncstate"
)

const tracerName = "github.com/archon-research/stl-sentry/internal/services/sentry"

var _ inbound.Worker = (*Service)(nil)

// Evaluator reads account health. *health.Engine implements it.
type Evaluator interface {
	Evaluate(ctx context.Context, accounts []common.Address) map[common.Address]*entity.HealthSnapshot
}

// Discoverer runs one discovery window. *discovery.Scanner implements it.
type Discoverer interface {
	ScanOnce(ctx context.Context) (discovery.ScanResult, error)
}

// Config holds configuration for the Service.
type Config struct {
	// Protocol prefixes candidate IDs.
	Protocol string

	Thresholds entity.Thresholds

	// ChunkSize is how many universe accounts rotate into each cycle.
	ChunkSize int

	// ReloadEvery reloads the universe from the store every N cycles.
	ReloadEvery uint64

	// FastInterval is the sleep while the priority set is non-empty.
	FastInterval time.Duration

	// SlowInterval is the sleep while the priority set is empty.
	SlowInterval time.Duration

	Metrics outbound.MetricsRecorder
	Logger  *slog.Logger
}

// ConfigDefaults returns default configuration.
func ConfigDefaults() Config {
	return Config{
		Thresholds:   entity.DefaultThresholds(),
		ChunkSize:    500,
		ReloadEvery:  20,
		FastInterval: 3 * time.Second,
		SlowInterval: 12 * time.Second,
		Metrics:      outbound.NopMetrics{},
		Logger:       slog.Default(),
	}
}

// Service is the sentry scheduler.
type Service struct {
	config  Config
	engine  Evaluator
	store   *syncstate.Store
	scanner Discoverer
	now     func() time.Time

	mu    sync.Mutex
	state *State

	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// New creates a new Service. scanner may be nil when discovery runs as a
// separate process.
func New(config Config, engine Evaluator, store *syncstate.Store, scanner Discoverer) (*Service, error) {
	if engine == nil {
		return nil, fmt.Errorf("health evaluator is required")
	}
	if store == nil {
		return nil, fmt.Errorf("sync state store is required")
	}
	if config.Protocol == "" {
		return nil, fmt.Errorf("protocol is required")
	}

	defaults := ConfigDefaults()
	if config.Thresholds == (entity.Thresholds{}) {
		config.Thresholds = defaults.Thresholds
	}
	if err := config.Thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("invalid thresholds: %w", err)
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = defaults.ChunkSize
	}
	if config.ReloadEvery == 0 {
		config.ReloadEvery = defaults.ReloadEvery
	}
	if config.FastInterval <= 0 {
		config.FastInterval = defaults.FastInterval
	}
	if config.SlowInterval <= 0 {
		config.SlowInterval = defaults.SlowInterval
	}
	if config.Metrics == nil {
		config.Metrics = defaults.Metrics
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	return &Service{
		config:  config,
		engine:  engine,
		store:   store,
		scanner: scanner,
		now:     time.Now,
		state:   NewState(),
		logger:  config.Logger.With("component", "sentry"),
	}, nil
}

// Step runs DISCOVER, EVALUATE and PUBLISH once and leaves st in SLEEP.
// On error nothing is published and st keeps its priority set.
func (s *Service) Step(ctx context.Context, st *State) (*entity.CandidateBatch, error) {
	start := time.Now()
	st.Cycle++
	ctx, span := otel.Tracer(tracerName).Start(ctx, "sentry.Step",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.Int64("sentry.cycle", int64(st.Cycle))),
	)
	defer span.End()

	fail := func(msg string, err error) (*entity.CandidateBatch, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, msg)
		st.Phase = PhaseSleep
		return nil, fmt.Errorf("%s: %w", msg, err)
	}

	st.Phase = PhaseDiscover
	blacklist, err := s.discover(ctx, st)
	if err != nil {
		return fail("discover phase failed", err)
	}

	st.Phase = PhaseEvaluate
	now := s.now()
	accounts := s.evaluationSet(st, blacklist, now)
	snapshots := s.engine.Evaluate(ctx, accounts)
	failed := 0
	for _, snap := range snapshots {
		if snap == nil {
			failed++
		}
	}
	added, evicted := st.updatePriority(snapshots, s.config.Thresholds.Warning)

	st.Phase = PhasePublish
	batch := s.classify(st.Cycle, snapshots, s.now())
	if err := s.store.SaveCandidates(ctx, batch); err != nil {
		return fail("failed to publish candidates", err)
	}
	st.LastCycleAt = s.now()
	st.Phase = PhaseSleep

	watch, execReady := batch.CountByStatus(entity.StatusWatch), batch.CountByStatus(entity.StatusExecReady)
	duration := time.Since(start)
	s.config.Metrics.RecordCycle(ctx, duration, len(accounts), failed, len(st.Priority))
	s.config.Metrics.RecordCandidates(ctx, watch, execReady)
	span.SetAttributes(
		attribute.Int("sentry.evaluated", len(accounts)),
		attribute.Int("sentry.failed", failed),
		attribute.Int("sentry.priority", len(st.Priority)),
		attribute.Int("sentry.candidates", len(batch.Items)),
	)
	s.logger.Info("cycle complete",
		"cycle", st.Cycle,
		"evaluated", len(accounts),
		"failed", failed,
		"priority", len(st.Priority),
		"priorityAdded", added,
		"priorityEvicted", evicted,
		"watch", watch,
		"execReady", execReady,
		"duration", duration)
	return batch, nil
}

// discover runs the embedded scan, reloads the universe when due and returns
// a fresh blacklist.
func (s *Service) discover(ctx context.Context, st *State) (*entity.Blacklist, error) {
	reload := st.Universe == nil || (st.Cycle-1)%s.config.ReloadEvery == 0

	if s.scanner != nil {
		result, err := s.scanner.ScanOnce(ctx)
		if err != nil {
			s.logger.Warn("discovery scan failed", "error", err)
		} else if result.Discovered > 0 {
			reload = true
		}
	}

	if reload {
		universe, err := s.store.LoadUniverse(ctx)
		switch {
		case err != nil && st.Universe == nil:
			return nil, fmt.Errorf("loading universe: %w", err)
		case err != nil:
			s.logger.Warn("universe reload failed, keeping previous", "error", err)
		default:
			if st.Universe != nil && universe.Len() != st.Universe.Len() {
				s.logger.Info("universe reloaded", "previous", st.Universe.Len(), "size", universe.Len())
			}
			st.Universe = universe
			if st.Cursor >= universe.Len() {
				st.Cursor = 0
			}
		}
	}

	blacklist, err := s.store.LoadBlacklist(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading blacklist: %w", err)
	}
	return blacklist, nil
}

// evaluationSet is the priority set plus the next universe chunk, without
// duplicates and without blacklisted accounts. It advances the cursor.
func (s *Service) evaluationSet(st *State, blacklist *entity.Blacklist, now time.Time) []common.Address {
	var chunk []common.Address
	if st.Universe != nil {
		chunk, st.Cursor = st.Universe.Chunk(st.Cursor, s.config.ChunkSize)
	}

	seen := make(map[common.Address]struct{}, len(st.Priority)+len(chunk))
	out := make([]common.Address, 0, len(st.Priority)+len(chunk))
	skipped := 0
	for _, group := range [][]common.Address{st.PriorityAccounts(), chunk} {
		for _, account := range group {
			if _, dup := seen[account]; dup {
				continue
			}
			seen[account] = struct{}{}
			if blacklist.Contains(account, now) {
				skipped++
				continue
			}
			out = append(out, account)
		}
	}
	if skipped > 0 {
		s.logger.Debug("skipped blacklisted accounts", "count", skipped)
	}
	return out
}

// classify turns snapshots into a batch ordered by proximity, most urgent first.
func (s *Service) classify(cycle uint64, snapshots map[common.Address]*entity.HealthSnapshot, now time.Time) *entity.CandidateBatch {
	items := make([]entity.Candidate, 0)
	for _, snap := range snapshots {
		if c, ok := entity.Classify(snap, s.config.Thresholds, s.config.Protocol, now); ok {
			items = append(items, c)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if c := items[i].Proximity.Cmp(items[j].Proximity); c != 0 {
			return c > 0
		}
		return items[i].ID < items[j].ID
	})
	return &entity.CandidateBatch{GeneratedAt: now.UTC(), Cycle: cycle, Items: items}
}

// SleepFor returns the pause after a cycle.
func (s *Service) SleepFor(st *State) time.Duration {
	if len(st.Priority) > 0 {
		return s.config.FastInterval
	}
	return s.config.SlowInterval
}

// RunOnce runs one cycle on the service's own state.
func (s *Service) RunOnce(ctx context.Context) (*entity.CandidateBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Step(ctx, s.state)
}

// Start runs cycles until Stop is called or ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.run(ctx)

	s.logger.Info("sentry started",
		"protocol", s.config.Protocol,
		"chunkSize", s.config.ChunkSize,
		"reloadEvery", s.config.ReloadEvery,
		"fastInterval", s.config.FastInterval,
		"slowInterval", s.config.SlowInterval)
	return nil
}

// Stop stops the loop and waits for the current cycle to finish.
func (s *Service) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("sentry stopped")
	return nil
}

func (s *Service) run(ctx context.Context) {
	defer s.wg.Done()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Warn("cycle failed", "error", err)
		}

		s.mu.Lock()
		delay := s.SleepFor(s.state)
		s.mu.Unlock()
		timer.Reset(delay)
	}
}
