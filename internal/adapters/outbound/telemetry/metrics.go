package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/archon-research/stl-sentry/internal/domain/entity"
	"github.com/archon-research/stl-sentry/internal/ports/outbound"
)

// Compile-time check that SentryMetrics implements outbound.MetricsRecorder
var _ outbound.MetricsRecorder = (*SentryMetrics)(nil)

// SentryMetrics records pipeline metrics through an OpenTelemetry meter.
type SentryMetrics struct {
	scanBlocks       metric.Int64Counter
	discovered       metric.Int64Counter
	cycleDuration    metric.Float64Histogram
	cycles           metric.Int64Counter
	evaluated        metric.Int64Counter
	evalFailures     metric.Int64Counter
	prioritySize     metric.Int64Gauge
	candidates       metric.Int64Gauge
	planItems        metric.Int64Gauge
	planActionable   metric.Int64Gauge
	executionOutcome metric.Int64Counter
}

// NewSentryMetrics creates instruments on the given provider; nil uses the global one.
func NewSentryMetrics(provider metric.MeterProvider) (*SentryMetrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter("github.com/archon-research/stl-sentry")

	var (
		m   SentryMetrics
		err error
	)
	if m.scanBlocks, err = meter.Int64Counter("sentry.scan.blocks",
		metric.WithDescription("Blocks covered by discovery scans"),
		metric.WithUnit("{block}")); err != nil {
		return nil, fmt.Errorf("failed to create sentry.scan.blocks counter: %w", err)
	}
	if m.discovered, err = meter.Int64Counter("sentry.scan.discovered",
		metric.WithDescription("Accounts newly added to the universe")); err != nil {
		return nil, fmt.Errorf("failed to create sentry.scan.discovered counter: %w", err)
	}
	if m.cycleDuration, err = meter.Float64Histogram("sentry.cycle.duration",
		metric.WithDescription("Duration of one sentry evaluation cycle"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("failed to create sentry.cycle.duration histogram: %w", err)
	}
	if m.cycles, err = meter.Int64Counter("sentry.cycles",
		metric.WithDescription("Completed sentry cycles")); err != nil {
		return nil, fmt.Errorf("failed to create sentry.cycles counter: %w", err)
	}
	if m.evaluated, err = meter.Int64Counter("sentry.accounts.evaluated",
		metric.WithDescription("Accounts with a fresh health snapshot")); err != nil {
		return nil, fmt.Errorf("failed to create sentry.accounts.evaluated counter: %w", err)
	}
	if m.evalFailures, err = meter.Int64Counter("sentry.accounts.failed",
		metric.WithDescription("Accounts whose evaluation failed")); err != nil {
		return nil, fmt.Errorf("failed to create sentry.accounts.failed counter: %w", err)
	}
	if m.prioritySize, err = meter.Int64Gauge("sentry.priority.size",
		metric.WithDescription("Accounts in the priority set")); err != nil {
		return nil, fmt.Errorf("failed to create sentry.priority.size gauge: %w", err)
	}
	if m.candidates, err = meter.Int64Gauge("sentry.candidates",
		metric.WithDescription("Published candidates by status")); err != nil {
		return nil, fmt.Errorf("failed to create sentry.candidates gauge: %w", err)
	}
	if m.planItems, err = meter.Int64Gauge("sentry.plan.items",
		metric.WithDescription("Items in the latest order plan")); err != nil {
		return nil, fmt.Errorf("failed to create sentry.plan.items gauge: %w", err)
	}
	if m.planActionable, err = meter.Int64Gauge("sentry.plan.actionable",
		metric.WithDescription("EXEC items in the latest order plan")); err != nil {
		return nil, fmt.Errorf("failed to create sentry.plan.actionable gauge: %w", err)
	}
	if m.executionOutcome, err = meter.Int64Counter("sentry.executions",
		metric.WithDescription("Execution attempts by outcome")); err != nil {
		return nil, fmt.Errorf("failed to create sentry.executions counter: %w", err)
	}
	return &m, nil
}

func (m *SentryMetrics) RecordScan(ctx context.Context, mode string, blocks uint64, discovered int) {
	attrs := metric.WithAttributes(attribute.String("mode", mode))
	m.scanBlocks.Add(ctx, int64(blocks), attrs)
	m.discovered.Add(ctx, int64(discovered), attrs)
}

func (m *SentryMetrics) RecordCycle(ctx context.Context, duration time.Duration, evaluated, failed, prioritySize int) {
	m.cycles.Add(ctx, 1)
	m.cycleDuration.Record(ctx, duration.Seconds())
	m.evaluated.Add(ctx, int64(evaluated))
	m.evalFailures.Add(ctx, int64(failed))
	m.prioritySize.Record(ctx, int64(prioritySize))
}

func (m *SentryMetrics) RecordCandidates(ctx context.Context, watch, execReady int) {
	m.candidates.Record(ctx, int64(watch), metric.WithAttributes(attribute.String("status", string(entity.StatusWatch))))
	m.candidates.Record(ctx, int64(execReady), metric.WithAttributes(attribute.String("status", string(entity.StatusExecReady))))
}

func (m *SentryMetrics) RecordPlan(ctx context.Context, items, actionable int) {
	m.planItems.Record(ctx, int64(items))
	m.planActionable.Record(ctx, int64(actionable))
}

// RecordExecution counts one attempt; an empty kind means the order was broadcast.
func (m *SentryMetrics) RecordExecution(ctx context.Context, kind entity.FailureKind) {
	outcome := "sent"
	if kind != "" {
		outcome = string(kind)
	}
	m.executionOutcome.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
