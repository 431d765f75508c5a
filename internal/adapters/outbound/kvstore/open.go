// Package kvstore selects a KVStore backend from a URL.
//
//	file://<dir>                     one JSON file per key
//	memory://                        process memory
//	redis://[:password@]host:port[/db][?prefix=p]
//	postgres://... or postgresql://  kv_store table (run cmd/migrate first)
//	bolt://<path>                    embedded bbolt file
//	s3://<bucket>[/<prefix>]         one object per key, default AWS credentials
package kvstore

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/archon-research/stl-sentry/internal/adapters/outbound/bolt"
	"github.com/archon-research/stl-sentry/internal/adapters/outbound/file"
	"github.com/archon-research/stl-sentry/internal/adapters/outbound/memory"
	"github.com/archon-research/stl-sentry/internal/adapters/outbound/postgres"
	"github.com/archon-research/stl-sentry/internal/adapters/outbound/redis"
	"github.com/archon-research/stl-sentry/internal/adapters/outbound/s3"
	"github.com/archon-research/stl-sentry/internal/ports/outbound"
)

// Open returns the backend named by rawURL. A URL without a scheme is treated as a file directory.
func Open(ctx context.Context, rawURL string, logger *slog.Logger) (outbound.KVStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if rawURL == "" {
		return nil, fmt.Errorf("store URL is required")
	}

	scheme, rest, ok := strings.Cut(rawURL, "://")
	if !ok {
		return file.NewStore(rawURL, logger)
	}

	switch scheme {
	case "file":
		return file.NewStore(rest, logger)
	case "memory":
		return memory.NewStore(), nil
	case "bolt":
		return bolt.Open(bolt.Config{Path: rest}, logger)
	case "postgres", "postgresql":
		return postgres.OpenStore(ctx, postgres.DefaultDBConfig(rawURL), logger)
	case "redis":
		cfg, err := redisConfig(rawURL)
		if err != nil {
			return nil, err
		}
		store, err := redis.NewStore(cfg, logger)
		if err != nil {
			return nil, err
		}
		if err := store.Ping(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
		}
		return store, nil
	case "s3":
		bucket, prefix, _ := strings.Cut(rest, "/")
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		return s3.NewStore(awsCfg, s3.Config{Bucket: bucket, Prefix: prefix}, logger)
	default:
		return nil, fmt.Errorf("unsupported store scheme %q", scheme)
	}
}

func redisConfig(rawURL string) (redis.Config, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return redis.Config{}, fmt.Errorf("invalid redis URL: %w", err)
	}
	cfg := redis.ConfigDefaults()
	if u.Host != "" {
		cfg.Addr = u.Host
	}
	if u.User != nil {
		if pw, ok := u.User.Password(); ok {
			cfg.Password = pw
		} else {
			cfg.Password = u.User.Username()
		}
	}
	if db := strings.Trim(u.Path, "/"); db != "" {
		n, err := strconv.Atoi(db)
		if err != nil {
			return redis.Config{}, fmt.Errorf("invalid redis database %q: %w", db, err)
		}
		cfg.DB = n
	}
	if p := u.Query().Get("prefix"); p != "" {
		cfg.KeyPrefix = p
	}
	return cfg, nil
}
