// Package planner turns published candidates into liquidation orders for the
// settlement contract, or into watch notes when no order can be built.
package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/archon-research/stl-sentry/internal/domain/entity"
	"github.com/archon-research/stl-sentry/internal/pkg/swappath"
	"github.com/archon-research/stl-sentry/internal/ports/inbound"
	"github.com/archon-research/stl-sentry/internal/ports/outbound"
	"github.com/archon-research/stl-sentry/internal/services/syncstate"
)

const tracerName = "github.com/archon-research/stl-sentry/internal/services/planner"

var _ inbound.Worker = (*Service)(nil)

var (
	// ErrNoCandidates is returned by PlanOnce before the first candidate batch exists.
	ErrNoCandidates = errors.New("no candidate batch published")

	// ErrStaleCandidates is returned by PlanOnce when the latest batch is
	// older than MaxCandidateAge. No plan is published for it.
	ErrStaleCandidates = errors.New("candidate batch is stale")
)

// AssetResolver looks up an account's best debt and collateral reserves.
// *health.Engine implements it.
type AssetResolver interface {
	ResolveAssets(ctx context.Context, account common.Address) (*entity.AssetSelection, error)
}

// Config holds configuration for the Service.
type Config struct {
	// Fees picks the pool fee tier of the collateral/debt swap.
	Fees *swappath.FeeTable

	// DeadlineHorizon is added to the planning time to form the order deadline.
	DeadlineHorizon time.Duration

	// MaxGasPrice is the gas price ceiling written into every order, in wei.
	MaxGasPrice *big.Int

	ReferralCode uint16

	// MinProfitBps is the minimum profit, in basis points of the repay amount,
	// that the settlement contract must realize.
	MinProfitBps int64

	// LiquidationBonus is the collateral bonus used to estimate profit.
	LiquidationBonus decimal.Decimal

	// Interval is the pause between PlanOnce calls in the loop.
	Interval time.Duration

	// MaxCandidateAge is the oldest candidate batch PlanOnce plans.
	MaxCandidateAge time.Duration

	Metrics outbound.MetricsRecorder
	Logger  *slog.Logger
}

// ConfigDefaults returns default configuration.
func ConfigDefaults() Config {
	return Config{
		Fees:             swappath.NewFeeTable(swappath.FeeMedium),
		DeadlineHorizon:  5 * time.Minute,
		MaxGasPrice:      big.NewInt(100_000_000_000), // 100 gwei
		LiquidationBonus: decimal.RequireFromString("0.05"),
		Interval:         5 * time.Second,
		MaxCandidateAge:  90 * time.Second,
		Metrics:          outbound.NopMetrics{},
		Logger:           slog.Default(),
	}
}

// Service builds order plans.
type Service struct {
	config   Config
	store    *syncstate.Store
	resolver AssetResolver
	now      func() time.Time

	nonces entity.NonceClock

	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// New creates a new Service. resolver may be nil, in which case candidates
// without an asset pair stay on watch.
func New(config Config, store *syncstate.Store, resolver AssetResolver) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("sync state store is required")
	}

	defaults := ConfigDefaults()
	if config.Fees == nil {
		config.Fees = defaults.Fees
	}
	if config.Fees.Default == 0 || config.Fees.Default > swappath.MaxFee {
		return nil, fmt.Errorf("invalid default fee tier %d", config.Fees.Default)
	}
	if config.DeadlineHorizon <= 0 {
		config.DeadlineHorizon = defaults.DeadlineHorizon
	}
	if config.MaxGasPrice == nil || config.MaxGasPrice.Sign() <= 0 {
		config.MaxGasPrice = defaults.MaxGasPrice
	}
	if config.MinProfitBps < 0 {
		return nil, fmt.Errorf("min profit bps must be non-negative, got %d", config.MinProfitBps)
	}
	if config.LiquidationBonus.IsZero() {
		config.LiquidationBonus = defaults.LiquidationBonus
	}
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.MaxCandidateAge <= 0 {
		config.MaxCandidateAge = defaults.MaxCandidateAge
	}
	if config.Metrics == nil {
		config.Metrics = defaults.Metrics
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	return &Service{
		config:   config,
		store:    store,
		resolver: resolver,
		now:      time.Now,
		logger:   config.Logger.With("component", "planner"),
	}, nil
}

// Plan decides one candidate.
func (s *Service) Plan(ctx context.Context, c entity.Candidate) entity.PlanItem {
	item := entity.PlanItem{
		CandidateID:  c.ID,
		Borrower:     c.Borrower,
		Action:       entity.ActionWatch,
		HealthFactor: c.HealthFactor,
		Proximity:    c.Proximity,
	}
	if c.Status != entity.StatusExecReady {
		item.Reason = fmt.Sprintf("status %s", c.Status)
		return item
	}

	sel, err := s.assetPair(ctx, c)
	if err != nil {
		item.Reason = fmt.Sprintf("asset pair unresolved: %v", err)
		s.logger.Info("exec-ready candidate left on watch", "borrower", c.Borrower.Hex(), "reason", item.Reason)
		return item
	}

	order, err := s.buildOrder(c.Borrower, sel)
	if err != nil {
		item.Reason = fmt.Sprintf("order not buildable: %v", err)
		s.logger.Warn("order build failed", "borrower", c.Borrower.Hex(), "error", err)
		return item
	}

	item.Action = entity.ActionExec
	item.Order = order
	item.ExpectedProfitUSD = sel.DebtUSD.Div(decimal.NewFromInt(2)).Mul(s.config.LiquidationBonus)
	return item
}

// assetPair returns the candidate's asset pair, resolving it when the
// published one is missing or zero.
func (s *Service) assetPair(ctx context.Context, c entity.Candidate) (*entity.AssetSelection, error) {
	if c.HasAssetPair() {
		sel := &entity.AssetSelection{
			DebtAsset:       *c.BestDebtAsset,
			CollateralAsset: *c.BestCollateralAsset,
			DebtAmount:      c.BestDebtAmount,
		}
		if c.BestDebtUSD != nil {
			sel.DebtUSD = *c.BestDebtUSD
		}
		if c.BestCollateralUSD != nil {
			sel.CollateralUSD = *c.BestCollateralUSD
		}
		return sel, nil
	}
	if s.resolver == nil {
		return nil, errors.New("no asset resolver configured")
	}
	return s.resolver.ResolveAssets(ctx, c.Borrower)
}

func (s *Service) buildOrder(borrower common.Address, sel *entity.AssetSelection) (*entity.Order, error) {
	if sel.DebtAsset == sel.CollateralAsset {
		return nil, fmt.Errorf("debt and collateral are both %s", sel.DebtAsset.Hex())
	}
	path, err := swappath.Single(sel.CollateralAsset, s.config.Fees.Fee(sel.CollateralAsset, sel.DebtAsset), sel.DebtAsset).Encode()
	if err != nil {
		return nil, err
	}

	repay := entity.HalfDebt(sel.DebtAmount)
	if repay.Sign() <= 0 {
		return nil, fmt.Errorf("debt %s too small to split", sel.DebtAmount)
	}
	minProfit := new(big.Int).Mul(repay, big.NewInt(s.config.MinProfitBps))
	minProfit.Quo(minProfit, big.NewInt(10_000))

	order := &entity.Order{
		DebtAsset:       sel.DebtAsset,
		CollateralAsset: sel.CollateralAsset,
		User:            borrower,
		DebtToCover:     repay,
		SwapPath:        path,
		// The swap has to return at least what was repaid.
		MinAmountOut: new(big.Int).Set(repay),
		MinProfit:    minProfit,
		MaxGasPrice:  new(big.Int).Set(s.config.MaxGasPrice),
		ReferralCode: s.config.ReferralCode,
	}
	order.Refresh(s.now().Add(s.config.DeadlineHorizon), s.NextNonce())
	if err := order.Validate(); err != nil {
		return nil, err
	}
	return order, nil
}

// NextNonce returns a nonce strictly greater than any this service handed out before.
func (s *Service) NextNonce() *big.Int {
	return s.nonces.Next(s.now())
}

// PlanOnce plans the latest candidate batch and replaces the published plan.
func (s *Service) PlanOnce(ctx context.Context) (*entity.OrderPlan, error) {
	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "planner.PlanOnce")
	defer span.End()

	batch, err := s.store.LoadCandidates(ctx)
	if err != nil {
		if errors.Is(err, outbound.ErrNotFound) {
			return nil, ErrNoCandidates
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load candidates")
		return nil, fmt.Errorf("failed to load candidates: %w", err)
	}
	if age := s.now().Sub(batch.GeneratedAt); age > s.config.MaxCandidateAge {
		span.SetAttributes(attribute.Int64("planner.batch_age_ms", age.Milliseconds()))
		return nil, fmt.Errorf("%w: cycle %d is %s old", ErrStaleCandidates, batch.Cycle, age.Truncate(time.Second))
	}

	// The plan carries the batch time so the executor's age check covers the data.
	plan := &entity.OrderPlan{
		PlanID:      uuid.NewString(),
		GeneratedAt: batch.GeneratedAt.UTC(),
		Items:       make([]entity.PlanItem, 0, len(batch.Items)),
	}
	for _, c := range batch.Items {
		item := s.Plan(ctx, c)
		if item.Action == entity.ActionExec {
			plan.ActionableCount++
		}
		plan.Items = append(plan.Items, item)
	}

	if err := s.store.SavePlan(ctx, plan); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to save plan")
		return nil, fmt.Errorf("failed to save plan: %w", err)
	}

	s.config.Metrics.RecordPlan(ctx, len(plan.Items), plan.ActionableCount)
	span.SetAttributes(
		attribute.String("planner.plan_id", plan.PlanID),
		attribute.Int("planner.items", len(plan.Items)),
		attribute.Int("planner.actionable", plan.ActionableCount),
	)
	s.logger.Info("plan published",
		"planId", plan.PlanID,
		"cycle", batch.Cycle,
		"items", len(plan.Items),
		"actionable", plan.ActionableCount,
		"duration", time.Since(start))
	return plan, nil
}

// Start runs PlanOnce every Interval until Stop is called or ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.run(ctx)

	s.logger.Info("planner started",
		"interval", s.config.Interval,
		"horizon", s.config.DeadlineHorizon,
		"maxCandidateAge", s.config.MaxCandidateAge)
	return nil
}

// Stop stops the loop and waits for it to exit.
func (s *Service) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("planner stopped")
	return nil
}

func (s *Service) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.PlanOnce(ctx); err != nil {
			if errors.Is(err, ErrNoCandidates) {
				s.logger.Debug("waiting for first candidate batch")
			} else {
				s.logger.Warn("planning failed", "error", err)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
