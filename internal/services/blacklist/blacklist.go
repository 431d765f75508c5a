// Package blacklist keeps accounts that recently failed execution out of
// evaluation and execution for a cooldown period.
package blacklist

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/stl-sentry/internal/domain/entity"
	"github.com/archon-research/stl-sentry/internal/services/syncstate"
)

// Config holds configuration for the Service.
type Config struct {
	Cooldown time.Duration

	// Now is the clock used for expiries. Defaults to time.Now.
	Now func() time.Time

	Logger *slog.Logger
}

// ConfigDefaults returns default configuration.
func ConfigDefaults() Config {
	return Config{
		Cooldown: 15 * time.Minute,
		Now:      time.Now,
		Logger:   slog.Default(),
	}
}

// Service reads and extends the persisted blacklist. It holds no copy
// between calls; every read goes to the store.
type Service struct {
	state    *syncstate.Store
	cooldown time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// New creates a new Service.
func New(state *syncstate.Store, config Config) (*Service, error) {
	if state == nil {
		return nil, fmt.Errorf("sync state store is required")
	}
	defaults := ConfigDefaults()
	if config.Cooldown <= 0 {
		config.Cooldown = defaults.Cooldown
	}
	if config.Now == nil {
		config.Now = defaults.Now
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	return &Service{
		state:    state,
		cooldown: config.Cooldown,
		now:      config.Now,
		logger:   config.Logger.With("component", "blacklist"),
	}, nil
}

// Cooldown returns the configured suppression window.
func (s *Service) Cooldown() time.Duration {
	return s.cooldown
}

// Load returns the current blacklist.
func (s *Service) Load(ctx context.Context) (*entity.Blacklist, error) {
	return s.state.LoadBlacklist(ctx)
}

// Add blacklists account until now+cooldown. Expired entries are pruned in
// the same write.
func (s *Service) Add(ctx context.Context, account common.Address, reason entity.FailureKind) error {
	bl, err := s.state.LoadBlacklist(ctx)
	if err != nil {
		return fmt.Errorf("loading blacklist: %w", err)
	}
	now := s.now()
	bl.Add(account, now, s.cooldown)
	if err := s.state.SaveBlacklist(ctx, bl); err != nil {
		return fmt.Errorf("saving blacklist: %w", err)
	}
	s.logger.Info("account blacklisted",
		"borrower", account.Hex(),
		"reason", reason,
		"until", now.Add(s.cooldown).UTC().Format(time.RFC3339))
	return nil
}
