package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/archon-research/stl-sentry/internal/domain/entity"
	"github.com/archon-research/stl-sentry/internal/ports/outbound"
)

// Compile-time check that ExecutionLog implements outbound.ExecutionSink
var _ outbound.ExecutionSink = (*ExecutionLog)(nil)

// ExecutionLog appends broadcast liquidations to the execution_log table.
type ExecutionLog struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewExecutionLog(pool *pgxpool.Pool, logger *slog.Logger) (*ExecutionLog, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecutionLog{pool: pool, logger: logger.With("component", "execution-log")}, nil
}

func (l *ExecutionLog) PublishExecution(ctx context.Context, result *entity.ExecutionResult) error {
	if result == nil {
		return fmt.Errorf("execution result is required")
	}
	fee := result.PriorityFee
	if fee == nil {
		fee = new(big.Int)
	}
	_, err := l.pool.Exec(ctx, `
		INSERT INTO execution_log
			(candidate_id, borrower, transaction_reference, priority_fee, expected_profit_usd, generated_at)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6)`,
		result.CandidateID,
		result.Borrower.Bytes(),
		result.TransactionReference.Bytes(),
		fee.String(),
		result.ExpectedProfitUSD.String(),
		result.GeneratedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert execution for %s: %w", result.CandidateID, err)
	}
	l.logger.Debug("execution recorded", "candidate", result.CandidateID, "tx", result.TransactionReference.Hex())
	return nil
}

// Close is a no-op; the pool belongs to the caller.
func (l *ExecutionLog) Close() error { return nil }
