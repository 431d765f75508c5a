package outbound

import (
	"context"

	"github.com/archon-research/stl-sentry/internal/domain/entity"
)

// ExecutionSink receives every successful broadcast.
type ExecutionSink interface {
	PublishExecution(ctx context.Context, result *entity.ExecutionResult) error
	Close() error
}
