// Package main runs the planner: it turns the latest candidate batch into an
// order plan with one settlement order per liquidatable account.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/archon-research/stl-sentry/internal/application"
	"github.com/archon-research/stl-sentry/internal/pkg/blockchain"
	"github.com/archon-research/stl-sentry/internal/pkg/env"
	"github.com/archon-research/stl-sentry/internal/pkg/swappath"
	"github.com/archon-research/stl-sentry/internal/services/health"
	"github.com/archon-research/stl-sentry/internal/services/planner"
)

func main() {
	_ = godotenv.Load(".env")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

type cliConfig struct {
	opts             application.Options
	once             bool
	fees             *swappath.FeeTable
	deadlineHorizon  time.Duration
	maxGasPrice      *big.Int
	referralCode     uint16
	minProfitBps     int64
	liquidationBonus decimal.Decimal
	interval         time.Duration
	maxCandidateAge  time.Duration
}

func parseConfig(args []string) (cliConfig, error) {
	fs := flag.NewFlagSet("planner", flag.ContinueOnError)
	opts := application.BindFlags(fs)
	once := fs.Bool("once", false, "build a single plan and exit")
	if err := fs.Parse(args); err != nil {
		return cliConfig{}, err
	}
	// Without an RPC URL candidates lacking an asset pair stay WATCH.
	if err := opts.Resolve(false); err != nil {
		return cliConfig{}, err
	}

	defaults := planner.ConfigDefaults()
	cfg := cliConfig{opts: *opts, once: *once}

	var err error
	if cfg.deadlineHorizon, err = env.GetDuration("DEADLINE_HORIZON", defaults.DeadlineHorizon); err != nil {
		return cliConfig{}, err
	}
	if cfg.interval, err = env.GetDuration("PLAN_INTERVAL", defaults.Interval); err != nil {
		return cliConfig{}, err
	}
	if cfg.maxCandidateAge, err = env.GetDuration("MAX_CANDIDATE_AGE", defaults.MaxCandidateAge); err != nil {
		return cliConfig{}, err
	}
	if cfg.liquidationBonus, err = env.GetDecimal("LIQUIDATION_BONUS", defaults.LiquidationBonus); err != nil {
		return cliConfig{}, err
	}
	if cfg.minProfitBps, err = envInt64("MIN_PROFIT_BPS", defaults.MinProfitBps); err != nil {
		return cliConfig{}, err
	}

	referral, err := env.GetUint64("REFERRAL_CODE", uint64(defaults.ReferralCode))
	if err != nil {
		return cliConfig{}, err
	}
	if referral > 0xffff {
		return cliConfig{}, fmt.Errorf("REFERRAL_CODE %d does not fit in 16 bits", referral)
	}
	cfg.referralCode = uint16(referral)

	gwei, err := env.GetDecimal("MAX_GAS_PRICE_GWEI", decimal.NewFromBigInt(defaults.MaxGasPrice, -9))
	if err != nil {
		return cliConfig{}, err
	}
	if !gwei.IsPositive() {
		return cliConfig{}, fmt.Errorf("MAX_GAS_PRICE_GWEI must be positive, got %s", gwei)
	}
	cfg.maxGasPrice = gwei.Shift(9).BigInt()

	if cfg.fees, err = parseFees(opts.Deployment()); err != nil {
		return cliConfig{}, err
	}
	return cfg, nil
}

func envInt64(key string, def int64) (int64, error) {
	v, err := env.GetInt(key, int(def))
	return int64(v), err
}

// parseFees builds the fee table from FEE_TIER and FEE_OVERRIDES, a comma
// separated list of SYMBOL/SYMBOL=fee entries such as "WETH/DAI=500".
func parseFees(d blockchain.Deployment) (*swappath.FeeTable, error) {
	def, err := env.GetUint64("FEE_TIER", uint64(swappath.FeeMedium))
	if err != nil {
		return nil, err
	}
	if def == 0 || def > swappath.MaxFee {
		return nil, fmt.Errorf("FEE_TIER %d out of range", def)
	}
	table := swappath.NewFeeTable(uint32(def))

	raw := env.Get("FEE_OVERRIDES", "")
	if raw == "" {
		return table, nil
	}
	for _, entry := range strings.Split(raw, ",") {
		pair, feeStr, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok {
			return nil, fmt.Errorf("FEE_OVERRIDES: malformed entry %q", entry)
		}
		symA, symB, ok := strings.Cut(pair, "/")
		if !ok {
			return nil, fmt.Errorf("FEE_OVERRIDES: malformed pair %q", pair)
		}
		a, err := reserveBySymbol(d, symA)
		if err != nil {
			return nil, err
		}
		b, err := reserveBySymbol(d, symB)
		if err != nil {
			return nil, err
		}
		fee, err := strconv.ParseUint(strings.TrimSpace(feeStr), 10, 32)
		if err != nil || fee == 0 || fee > swappath.MaxFee {
			return nil, fmt.Errorf("FEE_OVERRIDES: invalid fee %q for %s", feeStr, pair)
		}
		table.Set(a, b, uint32(fee))
	}
	return table, nil
}

func reserveBySymbol(d blockchain.Deployment, symbol string) (common.Address, error) {
	r, ok := d.ReserveBySymbol(strings.TrimSpace(symbol))
	if ok {
		return r.Address, nil
	}
	return common.Address{}, fmt.Errorf("unknown reserve %q on %s", symbol, d.Name)
}

func run(ctx context.Context, args []string) error {
	cfg, err := parseConfig(args)
	if err != nil {
		return err
	}

	logger := application.NewLogger()
	logger.Info("starting planner",
		"chain", cfg.opts.Chain,
		"protocol", cfg.opts.Protocol,
		"maxGasPrice", cfg.maxGasPrice.String(),
		"deadlineHorizon", cfg.deadlineHorizon)

	tel, err := application.InitTelemetry(ctx, "stl-sentry-planner")
	if err != nil {
		return err
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	state, kv, err := application.OpenState(ctx, &cfg.opts, logger)
	if err != nil {
		return err
	}
	defer kv.Close()

	var resolver planner.AssetResolver
	if cfg.opts.RPCURL != "" {
		chain, err := application.DialChain(ctx, &cfg.opts, logger)
		if err != nil {
			return err
		}
		defer chain.Close()

		engine, err := health.NewEngine(chain.Multicall, application.HealthConfig(cfg.opts.Deployment(), logger))
		if err != nil {
			return fmt.Errorf("creating health engine: %w", err)
		}
		resolver = engine
	}

	service, err := planner.New(planner.Config{
		Fees:             cfg.fees,
		DeadlineHorizon:  cfg.deadlineHorizon,
		MaxGasPrice:      cfg.maxGasPrice,
		ReferralCode:     cfg.referralCode,
		MinProfitBps:     cfg.minProfitBps,
		LiquidationBonus: cfg.liquidationBonus,
		Interval:         cfg.interval,
		MaxCandidateAge:  cfg.maxCandidateAge,
		Metrics:          tel.Metrics,
		Logger:           logger,
	}, state, resolver)
	if err != nil {
		return fmt.Errorf("creating planner: %w", err)
	}

	if cfg.once {
		plan, err := service.PlanOnce(ctx)
		if err != nil {
			return fmt.Errorf("planning: %w", err)
		}
		logger.Info("plan published", "planId", plan.PlanID, "items", len(plan.Items), "actionable", plan.ActionableCount)
		return nil
	}

	return application.Serve(ctx, service, logger)
}
