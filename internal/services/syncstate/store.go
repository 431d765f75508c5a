// Package syncstate reads and writes the sentry's persisted records through a
// KVStore. Every key is scoped to one chain and protocol
// ("<chain>:<protocol>:<record>") and holds one JSON document that each write
// replaces whole.
package syncstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/stl-sentry/internal/domain/entity"
	"github.com/archon-research/stl-sentry/internal/pkg/retry"
	"github.com/archon-research/stl-sentry/internal/ports/outbound"
)

// Record names under the chain/protocol prefix.
const (
	KeyUniverse      = "universe"
	KeyForward       = "sync:forward"
	KeyBackfill      = "sync:backfill"
	KeyCandidates    = "candidates"
	KeyBlacklist     = "blacklist"
	KeyOrders        = "orders"
	KeyExecutionLast = "execution:last"
)

// ErrUndecodable marks a record that exists but does not hold valid JSON
// for its type.
var ErrUndecodable = errors.New("undecodable record")

// Config holds configuration for the Store.
type Config struct {
	Chain    string
	Protocol string
	// Floor is the lowest block the backfill may reach, usually the pool deployment block.
	Floor uint64
	// WriteRetry governs retries of failed writes. Reads are never retried.
	WriteRetry retry.Config
	Logger     *slog.Logger
}

// Store is the typed view over the sentry's KV records.
type Store struct {
	kv     outbound.KVStore
	prefix string
	floor  uint64
	retry  retry.Config
	logger *slog.Logger
}

// New creates a Store.
func New(kv outbound.KVStore, config Config) (*Store, error) {
	if kv == nil {
		return nil, fmt.Errorf("kv store is required")
	}
	if config.Chain == "" {
		return nil, fmt.Errorf("chain is required")
	}
	if config.Protocol == "" {
		return nil, fmt.Errorf("protocol is required")
	}
	if config.WriteRetry == (retry.Config{}) {
		config.WriteRetry = retry.DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Store{
		kv:     kv,
		prefix: config.Chain + ":" + config.Protocol + ":",
		floor:  config.Floor,
		retry:  config.WriteRetry,
		logger: config.Logger.With("component", "sync-state"),
	}, nil
}

// Key returns the full KV key of a record.
func (s *Store) Key(record string) string {
	return s.prefix + record
}

func (s *Store) getJSON(ctx context.Context, record string, v any) error {
	data, err := s.kv.Get(ctx, s.Key(record))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w %s: %w", ErrUndecodable, s.Key(record), err)
	}
	return nil
}

func (s *Store) putJSON(ctx context.Context, record string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", s.Key(record), err)
	}
	key := s.Key(record)
	onRetry := func(attempt int, err error, backoff time.Duration) {
		s.logger.Warn("write failed, retrying", "key", key, "attempt", attempt, "backoff", backoff, "error", err)
	}
	return retry.DoVoid(ctx, s.retry, nil, onRetry, func() error {
		return s.kv.Put(ctx, key, data)
	})
}

// LoadPointer reads both cursors. Missing cursors are left nil.
func (s *Store) LoadPointer(ctx context.Context) (*entity.SyncPointer, error) {
	p := &entity.SyncPointer{Floor: s.floor}

	var fwd entity.ForwardCursor
	switch err := s.getJSON(ctx, KeyForward, &fwd); {
	case err == nil:
		p.Forward = &fwd
	case !errors.Is(err, outbound.ErrNotFound):
		return nil, fmt.Errorf("loading forward cursor: %w", err)
	}

	var back entity.BackfillCursor
	switch err := s.getJSON(ctx, KeyBackfill, &back); {
	case err == nil:
		p.Backfill = &back
	case !errors.Is(err, outbound.ErrNotFound):
		return nil, fmt.Errorf("loading backfill cursor: %w", err)
	}
	return p, nil
}

func (s *Store) SaveForward(ctx context.Context, c *entity.ForwardCursor) error {
	if c == nil {
		return fmt.Errorf("forward cursor is required")
	}
	return s.putJSON(ctx, KeyForward, c)
}

func (s *Store) SaveBackfill(ctx context.Context, c *entity.BackfillCursor) error {
	if c == nil {
		return fmt.Errorf("backfill cursor is required")
	}
	return s.putJSON(ctx, KeyBackfill, c)
}

// LoadUniverse returns the persisted universe, or an empty set when none exists yet.
func (s *Store) LoadUniverse(ctx context.Context) (*entity.UniverseSet, error) {
	u := entity.NewUniverseSet()
	if err := s.getJSON(ctx, KeyUniverse, u); err != nil {
		if errors.Is(err, outbound.ErrNotFound) {
			return entity.NewUniverseSet(), nil
		}
		return nil, fmt.Errorf("loading universe: %w", err)
	}
	return u, nil
}

func (s *Store) SaveUniverse(ctx context.Context, u *entity.UniverseSet) error {
	if u == nil {
		return fmt.Errorf("universe is required")
	}
	return s.putJSON(ctx, KeyUniverse, u)
}

// LoadCandidates returns the latest batch or outbound.ErrNotFound.
func (s *Store) LoadCandidates(ctx context.Context) (*entity.CandidateBatch, error) {
	var b entity.CandidateBatch
	if err := s.getJSON(ctx, KeyCandidates, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *Store) SaveCandidates(ctx context.Context, b *entity.CandidateBatch) error {
	if b == nil {
		return fmt.Errorf("candidate batch is required")
	}
	if b.Items == nil {
		b.Items = []entity.Candidate{}
	}
	return s.putJSON(ctx, KeyCandidates, b)
}

// LoadBlacklist returns the persisted blacklist, or an empty one.
func (s *Store) LoadBlacklist(ctx context.Context) (*entity.Blacklist, error) {
	entries := make(map[common.Address]int64)
	if err := s.getJSON(ctx, KeyBlacklist, &entries); err != nil {
		if errors.Is(err, outbound.ErrNotFound) {
			return entity.NewBlacklist(), nil
		}
		return nil, fmt.Errorf("loading blacklist: %w", err)
	}
	return &entity.Blacklist{Entries: entries}, nil
}

func (s *Store) SaveBlacklist(ctx context.Context, b *entity.Blacklist) error {
	if b == nil {
		return fmt.Errorf("blacklist is required")
	}
	entries := b.Entries
	if entries == nil {
		entries = map[common.Address]int64{}
	}
	return s.putJSON(ctx, KeyBlacklist, entries)
}

// LoadPlan returns the latest order plan or outbound.ErrNotFound.
func (s *Store) LoadPlan(ctx context.Context) (*entity.OrderPlan, error) {
	var p entity.OrderPlan
	if err := s.getJSON(ctx, KeyOrders, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) SavePlan(ctx context.Context, p *entity.OrderPlan) error {
	if p == nil {
		return fmt.Errorf("order plan is required")
	}
	if p.Items == nil {
		p.Items = []entity.PlanItem{}
	}
	return s.putJSON(ctx, KeyOrders, p)
}

// LoadExecution returns the last execution result or outbound.ErrNotFound.
func (s *Store) LoadExecution(ctx context.Context) (*entity.ExecutionResult, error) {
	var r entity.ExecutionResult
	if err := s.getJSON(ctx, KeyExecutionLast, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) SaveExecution(ctx context.Context, r *entity.ExecutionResult) error {
	if r == nil {
		return fmt.Errorf("execution result is required")
	}
	return s.putJSON(ctx, KeyExecutionLast, r)
}
