// Package application holds the process wiring shared by the sentry binaries:
// common flags, logging, telemetry, the record store and the worker lifecycle.
package application

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"golang.org/x/time/rate"

	"github.com/archon-research/stl-sentry/internal/adapters/outbound/ethereum"
	"github.com/archon-research/stl-sentry/internal/adapters/outbound/kvstore"
	"github.com/archon-research/stl-sentry/internal/adapters/outbound/telemetry"
	"github.com/archon-research/stl-sentry/internal/pkg/blockchain"
	"github.com/archon-research/stl-sentry/internal/pkg/blockchain/multicall"
	"github.com/archon-research/stl-sentry/internal/pkg/env"
	"github.com/archon-research/stl-sentry/internal/pkg/httpclient"
	"github.com/archon-research/stl-sentry/internal/ports/inbound"
	"github.com/archon-research/stl-sentry/internal/ports/outbound"
	"github.com/archon-research/stl-sentry/internal/services/discovery"
	"github.com/archon-research/stl-sentry/internal/services/health"
	"github.com/archon-research/stl-sentry/internal/services/syncstate"
)

// ShutdownTimeout bounds how long Serve waits for a worker to stop.
const ShutdownTimeout = 25 * time.Second

// Options are the flags every binary shares.
type Options struct {
	Chain    string
	Protocol string
	StoreURL string
	RPCURL   string
}

// BindFlags registers the shared flags on fs.
func BindFlags(fs *flag.FlagSet) *Options {
	o := &Options{}
	fs.StringVar(&o.Chain, "chain", "", "chain selector, e.g. mainnet")
	fs.StringVar(&o.Protocol, "protocol", "", "lending protocol, e.g. sparklend")
	fs.StringVar(&o.StoreURL, "store", "", "record store URL (file://, memory://, redis://, postgres://, bolt://, s3://)")
	fs.StringVar(&o.RPCURL, "rpc", "", "JSON-RPC endpoint")
	return o
}

// Resolve fills unset options from the environment and checks them.
func (o *Options) Resolve(needRPC bool) error {
	if o.Chain == "" {
		o.Chain = env.Get("CHAIN", "mainnet")
	}
	if o.Protocol == "" {
		o.Protocol = env.Get("PROTOCOL", "sparklend")
	}
	if _, err := blockchain.GetDeployment(o.Chain, o.Protocol); err != nil {
		return err
	}

	if o.StoreURL == "" {
		o.StoreURL = env.Get("STORE_URL", "")
	}
	if o.StoreURL == "" {
		return fmt.Errorf("store URL not provided (use -store flag or STORE_URL env var)")
	}

	if o.RPCURL == "" {
		o.RPCURL = env.Get("RPC_URL", "")
	}
	if needRPC && o.RPCURL == "" {
		return fmt.Errorf("RPC URL not provided (use -rpc flag or RPC_URL env var)")
	}
	return nil
}

// Deployment returns the registry entry for the selected chain and protocol.
func (o *Options) Deployment() blockchain.Deployment {
	d, _ := blockchain.GetDeployment(o.Chain, o.Protocol)
	return d
}

// NewLogger builds the process logger and installs it as the default.
func NewLogger() *slog.Logger {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: env.ParseLogLevel(slog.LevelInfo),
	}))
	slog.SetDefault(logger)
	return logger
}

// Telemetry is the process tracer and meter.
type Telemetry struct {
	Metrics  *telemetry.SentryMetrics
	shutdown telemetry.Shutdown
}

// InitTelemetry sets up tracing and metrics export from the environment.
// Without OTEL_EXPORTER_OTLP_ENDPOINT spans are dropped, or printed when TRACE_STDOUT is set.
func InitTelemetry(ctx context.Context, serviceName string) (*Telemetry, error) {
	endpoint := env.Get("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	environment := env.Get("ENVIRONMENT", "development")

	cfg := telemetry.ConfigDefaults()
	cfg.ServiceName = serviceName
	cfg.Environment = environment
	cfg.OTLPEndpoint = endpoint
	if stdout, _ := env.GetBool("TRACE_STDOUT", false); stdout {
		cfg.StdoutWriter = os.Stderr
	}
	sampleRate, err := env.GetFloat("TRACE_SAMPLE_RATE", cfg.SampleRate)
	if err != nil {
		return nil, err
	}
	cfg.SampleRate = sampleRate

	shutdown, err := telemetry.Setup(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}

	metrics, err := telemetry.NewSentryMetrics(otel.GetMeterProvider())
	if err != nil {
		_ = shutdown(ctx)
		return nil, fmt.Errorf("creating metrics: %w", err)
	}

	return &Telemetry{Metrics: metrics, shutdown: shutdown}, nil
}

// Shutdown flushes pending spans and metrics.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return t.shutdown(ctx)
}

// OpenState opens the record store named by o.StoreURL and wraps it in the
// typed state view. Closing the returned KVStore releases the backend.
func OpenState(ctx context.Context, o *Options, logger *slog.Logger) (*syncstate.Store, outbound.KVStore, error) {
	kv, err := kvstore.Open(ctx, o.StoreURL, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("opening store: %w", err)
	}

	state, err := syncstate.New(kv, syncstate.Config{
		Chain:    o.Chain,
		Protocol: o.Protocol,
		Floor:    o.Deployment().DeploymentBlock,
		Logger:   logger,
	})
	if err != nil {
		_ = kv.Close()
		return nil, nil, fmt.Errorf("creating state store: %w", err)
	}
	return state, kv, nil
}

// Chain is a node connection plus the batched reader built on it.
type Chain struct {
	Conn      *ethereum.Conn
	Multicall outbound.Multicaller
}

// DialChain connects to o.RPCURL. RPC_RATE_LIMIT and RPC_RATE_BURST tune the
// HTTP transport. MULTICALL_MODE=direct replaces Multicall3 aggregation with
// plain eth_call batches, for forks where Multicall3 is not deployed.
func DialChain(ctx context.Context, o *Options, logger *slog.Logger) (*Chain, error) {
	httpCfg := httpclient.DefaultConfig()
	limit, err := env.GetFloat("RPC_RATE_LIMIT", float64(httpCfg.RateLimit))
	if err != nil {
		return nil, err
	}
	burst, err := env.GetInt("RPC_RATE_BURST", httpCfg.RateBurst)
	if err != nil {
		return nil, err
	}
	httpCfg.RateLimit = rate.Limit(limit)
	httpCfg.RateBurst = burst

	conn, err := ethereum.Dial(ctx, ethereum.Config{URL: o.RPCURL, HTTP: httpCfg}, logger)
	if err != nil {
		return nil, fmt.Errorf("connecting to Ethereum node: %w", err)
	}

	switch mode := env.Get("MULTICALL_MODE", "aggregate"); mode {
	case "direct":
		return &Chain{Conn: conn, Multicall: multicall.NewDirectCaller(conn.RPC)}, nil
	case "aggregate":
		mc, err := multicall.NewClient(conn.Eth, blockchain.Multicall3)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("creating multicall client: %w", err)
		}
		return &Chain{Conn: conn, Multicall: mc}, nil
	default:
		conn.Close()
		return nil, fmt.Errorf("MULTICALL_MODE: unknown mode %q", mode)
	}
}

// Close closes the node connection.
func (c *Chain) Close() {
	c.Conn.Close()
}

// HealthConfig returns the health engine bindings for d. PRICE_ORACLE pins
// the oracle instead of resolving it through the addresses provider.
func HealthConfig(d blockchain.Deployment, logger *slog.Logger) health.Config {
	return health.Config{
		Pool:              d.PoolAddress,
		DataProvider:      d.PoolDataProvider,
		AddressesProvider: d.PoolAddressesProvider,
		Oracle:            common.HexToAddress(env.Get("PRICE_ORACLE", "")),
		Reserves:          d.Reserves,
		Logger:            logger,
	}
}

// DiscoveryConfig returns the scanner settings for d, tuned by
// DISCOVERY_WINDOW_SIZE, UNIVERSE_THRESHOLD and DISCOVERY_INTERVAL.
func DiscoveryConfig(d blockchain.Deployment, metrics outbound.MetricsRecorder, logger *slog.Logger) (discovery.Config, error) {
	cfg := discovery.ConfigDefaults()
	cfg.Pool = d.PoolAddress
	cfg.Known = d.KnownContracts()
	cfg.Metrics = metrics
	cfg.Logger = logger

	var err error
	if cfg.WindowSize, err = env.GetUint64("DISCOVERY_WINDOW_SIZE", cfg.WindowSize); err != nil {
		return discovery.Config{}, err
	}
	if cfg.UniverseThreshold, err = env.GetInt("UNIVERSE_THRESHOLD", cfg.UniverseThreshold); err != nil {
		return discovery.Config{}, err
	}
	if cfg.Interval, err = env.GetDuration("DISCOVERY_INTERVAL", cfg.Interval); err != nil {
		return discovery.Config{}, err
	}
	return cfg, nil
}

// Serve starts w, blocks until ctx is cancelled, then stops w within ShutdownTimeout.
func Serve(ctx context.Context, w inbound.Worker, logger *slog.Logger) error {
	logger.Info("starting service...")
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("starting service: %w", err)
	}
	logger.Info("service started")

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer shutdownCancel()

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		if err := w.Stop(); err != nil {
			logger.Error("error stopping service", "error", err)
		}
	}()

	select {
	case <-shutdownDone:
		logger.Info("shutdown complete")
	case <-shutdownCtx.Done():
		return fmt.Errorf("shutdown timed out")
	}
	return nil
}
