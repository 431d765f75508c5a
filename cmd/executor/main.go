// Package main runs the executor: it reads the latest order plan, simulates
// and broadcasts the most profitable executable order, and blacklists
// borrowers whose orders fail.
package main

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awssns "github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/archon-research/stl-sentry/internal/adapters/outbound/ethereum"
	"github.com/archon-research/stl-sentry/internal/adapters/outbound/postgres"
	snsadapter "github.com/archon-research/stl-sentry/internal/adapters/outbound/sns"
	"github.com/archon-research/stl-sentry/internal/application"
	"github.com/archon-research/stl-sentry/internal/domain/entity"
	"github.com/archon-research/stl-sentry/internal/pkg/env"
	"github.com/archon-research/stl-sentry/internal/ports/outbound"
	"github.com/archon-research/stl-sentry/internal/services/blacklist"
	"github.com/archon-research/stl-sentry/internal/services/executor"
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
	opts            application.Options
	once            bool
	chainID         *big.Int
	settlement      common.Address
	key             *ecdsa.PrivateKey
	gasBuffer       uint64
	fees            executor.FeePolicy
	maxPlanAge      time.Duration
	deadlineHorizon time.Duration
	interval        time.Duration
	cooldown        time.Duration
	topicARN        string
	executionLogURL string
}

func parseConfig(args []string) (cliConfig, error) {
	fs := flag.NewFlagSet("executor", flag.ContinueOnError)
	opts := application.BindFlags(fs)
	once := fs.Bool("once", false, "run a single execution cycle and exit")
	settlement := fs.String("settlement", "", "settlement contract address")
	if err := fs.Parse(args); err != nil {
		return cliConfig{}, err
	}
	if err := opts.Resolve(true); err != nil {
		return cliConfig{}, err
	}

	chain, err := entity.ParseChain(opts.Chain)
	if err != nil {
		return cliConfig{}, err
	}
	cfg := cliConfig{opts: *opts, once: *once, chainID: big.NewInt(chain.ChainID)}

	if *settlement == "" {
		*settlement = env.Get("SETTLEMENT_ADDRESS", "")
	}
	if !common.IsHexAddress(*settlement) {
		return cliConfig{}, fmt.Errorf("settlement address not provided (use -settlement flag or SETTLEMENT_ADDRESS env var)")
	}
	cfg.settlement = common.HexToAddress(*settlement)

	rawKey := os.Getenv("SIGNER_KEY")
	if rawKey == "" {
		return cliConfig{}, fmt.Errorf("SIGNER_KEY environment variable is required")
	}
	if cfg.key, err = ethereum.ParsePrivateKey(rawKey); err != nil {
		return cliConfig{}, fmt.Errorf("SIGNER_KEY: %w", err)
	}

	if cfg.fees, err = parseFeePolicy(); err != nil {
		return cliConfig{}, err
	}

	defaults := executor.ConfigDefaults()
	if cfg.maxPlanAge, err = env.GetDuration("MAX_PLAN_AGE", defaults.MaxPlanAge); err != nil {
		return cliConfig{}, err
	}
	if cfg.deadlineHorizon, err = env.GetDuration("DEADLINE_HORIZON", defaults.DeadlineHorizon); err != nil {
		return cliConfig{}, err
	}
	if cfg.interval, err = env.GetDuration("EXEC_INTERVAL", defaults.Interval); err != nil {
		return cliConfig{}, err
	}
	if cfg.cooldown, err = env.GetDuration("BLACKLIST_COOLDOWN", blacklist.ConfigDefaults().Cooldown); err != nil {
		return cliConfig{}, err
	}
	if cfg.gasBuffer, err = env.GetUint64("GAS_BUFFER_PERCENT", 20); err != nil {
		return cliConfig{}, err
	}

	cfg.topicARN = env.Get("AWS_SNS_TOPIC_ARN", "")
	cfg.executionLogURL = env.Get("EXECUTION_LOG_DATABASE_URL", "")
	return cfg, nil
}

// parseFeePolicy reads the fee bidding policy. NATIVE_PRICE_USD has no default.
func parseFeePolicy() (executor.FeePolicy, error) {
	p := executor.DefaultFeePolicy()
	var err error
	if p.NativePriceUSD, err = env.GetDecimal("NATIVE_PRICE_USD", p.NativePriceUSD); err != nil {
		return p, err
	}
	if !p.NativePriceUSD.IsPositive() {
		return p, fmt.Errorf("NATIVE_PRICE_USD environment variable is required")
	}
	if p.Share, err = env.GetDecimal("FEE_SHARE", p.Share); err != nil {
		return p, err
	}
	if p.FloorUSD, err = env.GetDecimal("FEE_FLOOR_USD", p.FloorUSD); err != nil {
		return p, err
	}
	if p.CapUSD, err = env.GetDecimal("FEE_CAP_USD", p.CapUSD); err != nil {
		return p, err
	}
	if p.GasUnits, err = env.GetUint64("SETTLEMENT_GAS_UNITS", p.GasUnits); err != nil {
		return p, err
	}
	return p, p.Validate()
}

func run(ctx context.Context, args []string) error {
	cfg, err := parseConfig(args)
	if err != nil {
		return err
	}

	logger := application.NewLogger()
	logger.Info("starting executor",
		"chain", cfg.opts.Chain,
		"protocol", cfg.opts.Protocol,
		"settlement", cfg.settlement.Hex(),
		"maxPlanAge", cfg.maxPlanAge)

	tel, err := application.InitTelemetry(ctx, "stl-sentry-executor")
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

	chain, err := application.DialChain(ctx, &cfg.opts, logger)
	if err != nil {
		return err
	}
	defer chain.Close()

	settlement, err := ethereum.NewSettlement(chain.Conn.Eth, ethereum.SettlementConfig{
		Address:          cfg.settlement,
		ChainID:          cfg.chainID,
		Key:              cfg.key,
		GasBufferPercent: cfg.gasBuffer,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating settlement: %w", err)
	}
	logger.Info("settlement bound", "from", settlement.From().Hex())

	sinks, closeSinks, err := openSinks(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSinks()
	sink := combine(sinks...)
	if sink != nil {
		defer sink.Close()
	}

	bl, err := blacklist.New(state, blacklist.Config{Cooldown: cfg.cooldown, Logger: logger})
	if err != nil {
		return fmt.Errorf("creating blacklist: %w", err)
	}

	service, err := executor.New(executor.Config{
		MaxPlanAge:      cfg.maxPlanAge,
		DeadlineHorizon: cfg.deadlineHorizon,
		Fees:            cfg.fees,
		Interval:        cfg.interval,
		Metrics:         tel.Metrics,
		Logger:          logger,
	}, state, bl, chain.Conn.Eth, settlement, sink)
	if err != nil {
		return fmt.Errorf("creating executor: %w", err)
	}

	if cfg.once {
		res, err := service.RunOnce(ctx)
		if errors.Is(err, executor.ErrNoPlan) {
			logger.Info("no plan published yet")
			return nil
		}
		if err != nil {
			return fmt.Errorf("executing: %w", err)
		}
		if res != nil {
			logger.Info("executed", "borrower", res.Borrower.Hex(), "tx", res.TransactionReference.Hex())
		}
		return nil
	}

	return application.Serve(ctx, service, logger)
}

// openSinks builds the SNS topic sink and the postgres execution log when
// configured. The returned func releases the execution log's pool.
func openSinks(ctx context.Context, cfg cliConfig, logger *slog.Logger) ([]outbound.ExecutionSink, func(), error) {
	var sinks []outbound.ExecutionSink
	if cfg.topicARN != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(env.Get("AWS_REGION", "eu-west-1")),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("loading AWS config: %w", err)
		}

		var snsOptFns []func(*awssns.Options)
		if endpoint := env.Get("AWS_SNS_ENDPOINT", ""); endpoint != "" {
			snsOptFns = append(snsOptFns, func(o *awssns.Options) {
				o.BaseEndpoint = aws.String(endpoint)
			})
		}

		snsCfg := snsadapter.ConfigDefaults()
		snsCfg.TopicARN = cfg.topicARN
		snsCfg.Logger = logger
		sink, err := snsadapter.NewExecutionSink(awssns.NewFromConfig(awsCfg, snsOptFns...), snsCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("creating SNS sink: %w", err)
		}
		sinks = append(sinks, sink)
	}

	if cfg.executionLogURL == "" {
		return sinks, func() {}, nil
	}
	return appendExecutionLog(ctx, cfg.executionLogURL, sinks, logger)
}

// appendExecutionLog adds the postgres execution log to sinks. On failure the
// sinks already built are closed.
func appendExecutionLog(ctx context.Context, dsn string, sinks []outbound.ExecutionSink, logger *slog.Logger) ([]outbound.ExecutionSink, func(), error) {
	fail := func(err error) ([]outbound.ExecutionSink, func(), error) {
		for _, s := range sinks {
			if cerr := s.Close(); cerr != nil {
				logger.Warn("closing execution sink", "error", cerr)
			}
		}
		return nil, nil, err
	}

	pool, err := postgres.OpenPool(ctx, postgres.DefaultDBConfig(dsn))
	if err != nil {
		return fail(fmt.Errorf("connecting to execution log database: %w", err))
	}
	logger.Info("PostgreSQL connected")

	execLog, err := postgres.NewExecutionLog(pool, logger)
	if err != nil {
		pool.Close()
		return fail(fmt.Errorf("creating execution log: %w", err))
	}
	return append(sinks, execLog), pool.Close, nil
}
