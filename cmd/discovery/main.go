// Package main runs the discovery scanner on its own: it walks pool logs
// forward from the tip and backward toward the deployment block, growing the
// account universe the sentry evaluates.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/archon-research/stl-sentry/internal/application"
	"github.com/archon-research/stl-sentry/internal/services/discovery"
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
	opts application.Options
	once bool
}

func parseConfig(args []string) (cliConfig, error) {
	fs := flag.NewFlagSet("discovery", flag.ContinueOnError)
	opts := application.BindFlags(fs)
	once := fs.Bool("once", false, "scan a single window and exit")
	if err := fs.Parse(args); err != nil {
		return cliConfig{}, err
	}
	if err := opts.Resolve(true); err != nil {
		return cliConfig{}, err
	}
	return cliConfig{opts: *opts, once: *once}, nil
}

func run(ctx context.Context, args []string) error {
	cfg, err := parseConfig(args)
	if err != nil {
		return err
	}

	logger := application.NewLogger()
	logger.Info("starting discovery", "chain", cfg.opts.Chain, "protocol", cfg.opts.Protocol)

	tel, err := application.InitTelemetry(ctx, "stl-sentry-discovery")
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

	scanCfg, err := application.DiscoveryConfig(cfg.opts.Deployment(), tel.Metrics, logger)
	if err != nil {
		return err
	}
	scanner, err := discovery.NewScanner(scanCfg, chain.Conn.Eth, state)
	if err != nil {
		return fmt.Errorf("creating scanner: %w", err)
	}

	if cfg.once {
		res, err := scanner.ScanOnce(ctx)
		if err != nil {
			return fmt.Errorf("scanning: %w", err)
		}
		logger.Info("scan complete",
			"mode", res.Window.Mode,
			"from", res.Window.From,
			"to", res.Window.To,
			"discovered", res.Discovered,
			"universe", res.UniverseSize)
		return nil
	}

	return application.Serve(ctx, scanner, logger)
}
