// Package ethereum connects the sentry to an execution-layer JSON-RPC node and
// to the settlement contract.
package ethereum

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/archon-research/stl-sentry/internal/pkg/httpclient"
	"github.com/archon-research/stl-sentry/internal/ports/outbound"
)

var (
	_ outbound.ChainReader = (*ethclient.Client)(nil)
	_ outbound.GasOracle   = (*ethclient.Client)(nil)
)

// Config holds the node connection settings.
type Config struct {
	// URL is an http(s) or ws(s) JSON-RPC endpoint.
	URL string
	// HTTP configures rate limiting and retries for http(s) endpoints.
	HTTP httpclient.Config
}

// Conn holds both views of one RPC connection: the typed ethclient for
// reads and transactions, and the raw client for JSON-RPC batching.
type Conn struct {
	Eth *ethclient.Client
	RPC *rpc.Client
}

// Dial connects to cfg.URL. HTTP endpoints go through the rate-limited client.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Conn, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("RPC URL is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	var opts []rpc.ClientOption
	if strings.HasPrefix(cfg.URL, "http://") || strings.HasPrefix(cfg.URL, "https://") {
		opts = append(opts, rpc.WithHTTPClient(httpclient.New(cfg.HTTP, logger)))
	}

	rpcClient, err := rpc.DialOptions(ctx, cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", redact(cfg.URL), err)
	}

	logger.With("component", "ethereum").Info("connected to RPC", "url", redact(cfg.URL))
	return &Conn{Eth: ethclient.NewClient(rpcClient), RPC: rpcClient}, nil
}

// Close closes the underlying RPC connection.
func (c *Conn) Close() {
	c.RPC.Close()
}

// redact strips the path and query from an RPC URL, where providers put API keys.
func redact(u string) string {
	scheme, rest, ok := strings.Cut(u, "://")
	if !ok {
		return "<invalid>"
	}
	host, _, _ := strings.Cut(rest, "/")
	host, _, _ = strings.Cut(host, "?")
	if i := strings.LastIndex(host, "@"); i >= 0 {
		host = host[i+1:]
	}
	return scheme + "://" + host
}
