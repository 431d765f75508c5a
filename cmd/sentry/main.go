// Package main runs the sentry scheduler: each cycle evaluates the priority
// set plus a rotating chunk of the account universe and publishes the
// candidate batch. With -discover it also runs the discovery scanner inline.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/archon-research/stl-sentry/internal/application"
	"github.com/archon-research/stl-sentry/internal/domain/entity"
	"github.com/archon-research/stl-sentry/internal/pkg/env"
	"github.com/archon-research/stl-sentry/internal/services/discovery"
	"github.com/archon-research/stl-sentry/internal/services/health"
	"github.com/archon-research/stl-sentry/internal/services/sentry"
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
	opts        application.Options
	discover    bool
	thresholds  entity.Thresholds
	chunkSize   int
	reloadEvery uint64
	fast        time.Duration
	slow        time.Duration
}

func parseConfig(args []string) (cliConfig, error) {
	fs := flag.NewFlagSet("sentry", flag.ContinueOnError)
	opts := application.BindFlags(fs)
	discover := fs.Bool("discover", false, "run the discovery scanner inside each cycle")
	chunkSize := fs.Int("chunk", 0, "universe accounts evaluated per cycle")
	if err := fs.Parse(args); err != nil {
		return cliConfig{}, err
	}
	if err := opts.Resolve(true); err != nil {
		return cliConfig{}, err
	}

	defaults := sentry.ConfigDefaults()
	cfg := cliConfig{opts: *opts, discover: *discover, chunkSize: *chunkSize}

	var err error
	if !cfg.discover {
		if cfg.discover, err = env.GetBool("SENTRY_DISCOVER", false); err != nil {
			return cliConfig{}, err
		}
	}
	if cfg.chunkSize == 0 {
		if cfg.chunkSize, err = env.GetInt("SENTRY_CHUNK_SIZE", defaults.ChunkSize); err != nil {
			return cliConfig{}, err
		}
	}
	if cfg.reloadEvery, err = env.GetUint64("SENTRY_RELOAD_EVERY", defaults.ReloadEvery); err != nil {
		return cliConfig{}, err
	}
	if cfg.fast, err = env.GetDuration("SENTRY_FAST_INTERVAL", defaults.FastInterval); err != nil {
		return cliConfig{}, err
	}
	if cfg.slow, err = env.GetDuration("SENTRY_SLOW_INTERVAL", defaults.SlowInterval); err != nil {
		return cliConfig{}, err
	}
	if cfg.thresholds, err = parseThresholds(); err != nil {
		return cliConfig{}, err
	}
	return cfg, nil
}

func parseThresholds() (entity.Thresholds, error) {
	t := entity.DefaultThresholds()
	var err error
	if t.Liquidation, err = env.GetDecimal("HF_LIQUIDATION", t.Liquidation); err != nil {
		return t, err
	}
	if t.Risk, err = env.GetDecimal("HF_RISK", t.Risk); err != nil {
		return t, err
	}
	if t.Warning, err = env.GetDecimal("HF_WARNING", t.Warning); err != nil {
		return t, err
	}
	if t.DustUSD, err = env.GetDecimal("DUST_USD", t.DustUSD); err != nil {
		return t, err
	}
	return t, t.Validate()
}

func run(ctx context.Context, args []string) error {
	cfg, err := parseConfig(args)
	if err != nil {
		return err
	}

	logger := application.NewLogger()
	logger.Info("starting sentry",
		"chain", cfg.opts.Chain,
		"protocol", cfg.opts.Protocol,
		"discover", cfg.discover,
		"risk", cfg.thresholds.Risk.String())

	tel, err := application.InitTelemetry(ctx, "stl-sentry")
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

	deployment := cfg.opts.Deployment()

	healthCfg := application.HealthConfig(deployment, logger)
	healthCfg.DetailBelow = cfg.thresholds.Risk
	engine, err := health.NewEngine(chain.Multicall, healthCfg)
	if err != nil {
		return fmt.Errorf("creating health engine: %w", err)
	}

	// A nil *discovery.Scanner must not reach sentry.New as a non-nil interface.
	var scanner sentry.Discoverer
	if cfg.discover {
		scanCfg, err := application.DiscoveryConfig(deployment, tel.Metrics, logger)
		if err != nil {
			return err
		}
		s, err := discovery.NewScanner(scanCfg, chain.Conn.Eth, state)
		if err != nil {
			return fmt.Errorf("creating scanner: %w", err)
		}
		scanner = s
	}

	service, err := sentry.New(sentry.Config{
		Protocol:     cfg.opts.Protocol,
		Thresholds:   cfg.thresholds,
		ChunkSize:    cfg.chunkSize,
		ReloadEvery:  cfg.reloadEvery,
		FastInterval: cfg.fast,
		SlowInterval: cfg.slow,
		Metrics:      tel.Metrics,
		Logger:       logger,
	}, engine, state, scanner)
	if err != nil {
		return fmt.Errorf("creating sentry: %w", err)
	}

	return application.Serve(ctx, service, logger)
}

