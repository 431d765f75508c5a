// Package executor re-checks the latest order plan against live conditions,
// simulates each order and broadcasts at most one per cycle.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/archon-research/stl-sentry/internal/domain/entity"
	"github.com/archon-research/stl-sentry/internal/ports/inbound"
	"github.com/archon-research/stl-sentry/internal/ports/outbound"
	"github.com/archon-research/stl-sentry/internal/services/blacklist"
	"github.com/archon-research/stl-sentry/internal/services/syncstate"
)

const tracerName = "github.com/archon-research/stl-sentry/internal/services/executor"

var _ inbound.Worker = (*Service)(nil)

var (
	// ErrNoPlan is returned before the planner has published anything.
	ErrNoPlan = errors.New("no order plan published")

	// ErrStalePlan aborts a cycle whose plan is older than MaxPlanAge.
	ErrStalePlan = errors.New("order plan is stale")

	// ErrGasPriceExceeded is returned when every candidate order was skipped
	// because the network gas price was above its ceiling.
	ErrGasPriceExceeded = errors.New("gas price above order ceiling")
)

// Config holds configuration for the Service.
type Config struct {
	// MaxPlanAge is the oldest plan the executor acts on.
	MaxPlanAge time.Duration

	// DeadlineHorizon sets the refreshed order deadline.
	DeadlineHorizon time.Duration

	Fees FeePolicy

	// Interval is the pause between RunOnce calls in the loop.
	Interval time.Duration

	Metrics outbound.MetricsRecorder
	Logger  *slog.Logger
}

// ConfigDefaults returns default configuration.
func ConfigDefaults() Config {
	return Config{
		MaxPlanAge:      90 * time.Second,
		DeadlineHorizon: 5 * time.Minute,
		Fees:            DefaultFeePolicy(),
		Interval:        2 * time.Second,
		Metrics:         outbound.NopMetrics{},
		Logger:          slog.Default(),
	}
}

// Service is the execution safety layer.
type Service struct {
	config     Config
	store      *syncstate.Store
	blacklist  *blacklist.Service
	gas        outbound.GasOracle
	settlement outbound.Settlement
	sink       outbound.ExecutionSink
	nonces     entity.NonceClock
	now        func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// New creates a new Service. sink may be nil.
func New(config Config, store *syncstate.Store, bl *blacklist.Service, gas outbound.GasOracle, settlement outbound.Settlement, sink outbound.ExecutionSink) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("sync state store is required")
	}
	if bl == nil {
		return nil, fmt.Errorf("blacklist is required")
	}
	if gas == nil {
		return nil, fmt.Errorf("gas oracle is required")
	}
	if settlement == nil {
		return nil, fmt.Errorf("settlement is required")
	}

	defaults := ConfigDefaults()
	if config.MaxPlanAge <= 0 {
		config.MaxPlanAge = defaults.MaxPlanAge
	}
	if config.DeadlineHorizon <= 0 {
		config.DeadlineHorizon = defaults.DeadlineHorizon
	}
	if config.Fees.Share.IsZero() {
		config.Fees.Share = defaults.Fees.Share
	}
	if config.Fees.CapUSD.IsZero() {
		config.Fees.CapUSD = defaults.Fees.CapUSD
	}
	if config.Fees.FloorUSD.IsZero() {
		config.Fees.FloorUSD = decimal.Min(defaults.Fees.FloorUSD, config.Fees.CapUSD)
	}
	if config.Fees.GasUnits == 0 {
		config.Fees.GasUnits = defaults.Fees.GasUnits
	}
	if err := config.Fees.Validate(); err != nil {
		return nil, fmt.Errorf("invalid fee policy: %w", err)
	}
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.Metrics == nil {
		config.Metrics = defaults.Metrics
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	return &Service{
		config:     config,
		store:      store,
		blacklist:  bl,
		gas:        gas,
		settlement: settlement,
		sink:       sink,
		now:        time.Now,
		logger:     config.Logger.With("component", "executor"),
	}, nil
}

// RunOnce acts on the latest plan. It returns the broadcast result, or nil
// when no order went through this cycle.
func (s *Service) RunOnce(ctx context.Context) (*entity.ExecutionResult, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "executor.RunOnce",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	fail := func(msg string, err error) (*entity.ExecutionResult, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, msg)
		return nil, err
	}

	plan, err := s.store.LoadPlan(ctx)
	if err != nil {
		if errors.Is(err, outbound.ErrNotFound) {
			return nil, ErrNoPlan
		}
		kind := entity.FailureTransport
		if errors.Is(err, syncstate.ErrUndecodable) {
			kind = entity.FailureDecode
		}
		s.config.Metrics.RecordExecution(ctx, kind)
		return fail("failed to load plan", fmt.Errorf("failed to load plan: %w", err))
	}
	span.SetAttributes(attribute.String("executor.plan_id", plan.PlanID))

	now := s.now()
	if age := plan.Age(now); age > s.config.MaxPlanAge {
		s.config.Metrics.RecordExecution(ctx, entity.FailureStalePlan)
		s.logger.Warn("plan is stale, skipping cycle",
			"planId", plan.PlanID,
			"age", age.Round(time.Second),
			"maxAge", s.config.MaxPlanAge)
		return fail("stale plan", fmt.Errorf("%w: plan %s is %s old", ErrStalePlan, plan.PlanID, age.Round(time.Second)))
	}

	items := plan.Actionable()
	if len(items) == 0 {
		return nil, nil
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].ExpectedProfitUSD.GreaterThan(items[j].ExpectedProfitUSD)
	})

	bl, err := s.blacklist.Load(ctx)
	if err != nil {
		s.config.Metrics.RecordExecution(ctx, entity.FailureTransport)
		return fail("failed to load blacklist", fmt.Errorf("failed to load blacklist: %w", err))
	}
	gasPrice, err := s.gas.SuggestGasPrice(ctx)
	if err != nil {
		s.config.Metrics.RecordExecution(ctx, entity.FailureTransport)
		return fail("failed to read gas price", fmt.Errorf("failed to read gas price: %w", err))
	}
	span.SetAttributes(
		attribute.Int("executor.actionable", len(items)),
		attribute.String("executor.gas_price", gasPrice.String()),
	)

	gasSkipped := 0
	for _, item := range items {
		if bl.Contains(item.Borrower, now) {
			s.logger.Debug("skipping blacklisted borrower", "borrower", item.Borrower.Hex())
			continue
		}
		if gasPrice.Cmp(item.Order.MaxGasPrice) > 0 {
			gasSkipped++
			s.config.Metrics.RecordExecution(ctx, entity.FailureGasExceeded)
			s.logger.Info("gas price above order ceiling, skipping",
				"borrower", item.Borrower.Hex(),
				"gasPrice", gasPrice,
				"maxGasPrice", item.Order.MaxGasPrice)
			continue
		}

		result, kind, err := s.attempt(ctx, item)
		if err == nil {
			span.SetAttributes(attribute.String("executor.tx", result.TransactionReference.Hex()))
			return result, nil
		}
		s.config.Metrics.RecordExecution(ctx, kind)
		s.logger.Warn("order failed",
			"borrower", item.Borrower.Hex(),
			"candidateId", item.CandidateID,
			"kind", kind,
			"error", err)
		if kind.Blacklists() {
			if err := s.blacklist.Add(ctx, item.Borrower, kind); err != nil {
				s.logger.Warn("failed to blacklist borrower", "borrower", item.Borrower.Hex(), "error", err)
			}
		}
	}

	if gasSkipped > 0 {
		return nil, fmt.Errorf("%w: %d orders skipped at %s wei", ErrGasPriceExceeded, gasSkipped, gasPrice)
	}
	return nil, nil
}

// attempt refreshes, simulates and broadcasts one order.
func (s *Service) attempt(ctx context.Context, item entity.PlanItem) (*entity.ExecutionResult, entity.FailureKind, error) {
	order := *item.Order
	now := s.now()
	order.Refresh(now.Add(s.config.DeadlineHorizon), s.nonces.Next(now))

	if err := s.settlement.Simulate(ctx, &order); err != nil {
		return nil, ClassifySimulation(err), fmt.Errorf("simulation: %w", err)
	}

	fee := s.config.Fees.PriorityFee(item.ExpectedProfitUSD)
	if fee.Cmp(order.MaxGasPrice) > 0 {
		fee = new(big.Int).Set(order.MaxGasPrice)
	}
	tx, err := s.settlement.Execute(ctx, &order, fee)
	if err != nil {
		return nil, entity.FailureGeneric, fmt.Errorf("broadcast: %w", err)
	}

	result := &entity.ExecutionResult{
		GeneratedAt:          s.now().UTC(),
		CandidateID:          item.CandidateID,
		Borrower:             item.Borrower,
		TransactionReference: tx,
		PriorityFee:          fee,
		ExpectedProfitUSD:    item.ExpectedProfitUSD,
	}
	s.config.Metrics.RecordExecution(ctx, "")
	s.logger.Info("liquidation broadcast",
		"borrower", item.Borrower.Hex(),
		"tx", tx.Hex(),
		"priorityFee", fee,
		"expectedProfitUSD", item.ExpectedProfitUSD.StringFixed(2))

	if err := s.store.SaveExecution(ctx, result); err != nil {
		s.logger.Warn("failed to record execution", "tx", tx.Hex(), "error", err)
	}
	if s.sink != nil {
		if err := s.sink.PublishExecution(ctx, result); err != nil {
			s.logger.Warn("failed to publish execution", "tx", tx.Hex(), "error", err)
		}
	}
	return result, "", nil
}

// Start runs RunOnce every Interval until Stop is called or ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.run(ctx)

	s.logger.Info("executor started",
		"interval", s.config.Interval,
		"maxPlanAge", s.config.MaxPlanAge,
		"nativePriceUSD", s.config.Fees.NativePriceUSD)
	return nil
}

// Stop stops the loop and waits for the current cycle to finish.
func (s *Service) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("executor stopped")
	return nil
}

func (s *Service) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		_, err := s.RunOnce(ctx)
		switch {
		case err == nil, errors.Is(err, ErrStalePlan), errors.Is(err, ErrGasPriceExceeded):
			// Logged where they happen.
		case errors.Is(err, ErrNoPlan):
			s.logger.Debug("waiting for first plan")
		default:
			s.logger.Warn("execution cycle failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
