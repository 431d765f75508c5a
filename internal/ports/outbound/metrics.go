package outbound

import (
	"context"
	"time"

	"github.com/archon-research/stl-sentry/internal/domain/entity"
)

// MetricsRecorder lets services record domain metrics without depending on a
// telemetry implementation.
type MetricsRecorder interface {
	// RecordScan records one discovery window. mode is "forward" or "backfill".
	RecordScan(ctx context.Context, mode string, blocks uint64, discovered int)

	// RecordCycle records one scheduler cycle.
	RecordCycle(ctx context.Context, duration time.Duration, evaluated, failed, prioritySize int)

	// RecordCandidates records the published candidates per status.
	RecordCandidates(ctx context.Context, watch, execReady int)

	// RecordPlan records one planner publication.
	RecordPlan(ctx context.Context, items, actionable int)

	// RecordExecution records the outcome of one order. kind is empty on success.
	RecordExecution(ctx context.Context, kind entity.FailureKind)
}

// NopMetrics discards every measurement.
type NopMetrics struct{}

var _ MetricsRecorder = NopMetrics{}

func (NopMetrics) RecordScan(context.Context, string, uint64, int) {}
func (NopMetrics) RecordCycle(context.Context, time.Duration, int, int, int) {}
func (NopMetrics) RecordCandidates(context.Context, int, int) {}
func (NopMetrics) RecordPlan(context.Context, int, int) {}
func (NopMetrics) RecordExecution(context.Context, entity.FailureKind) {}
