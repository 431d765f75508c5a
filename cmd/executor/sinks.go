package main

import (
	"context"
	"errors"

	"github.com/archon-research/stl-sentry/internal/domain/entity"
	"github.com/archon-research/stl-sentry/internal/ports/outbound"
)

// fanout publishes each execution to every configured sink.
type fanout []outbound.ExecutionSink

var _ outbound.ExecutionSink = fanout(nil)

func (f fanout) PublishExecution(ctx context.Context, result *entity.ExecutionResult) error {
	var errs []error
	for _, s := range f {
		errs = append(errs, s.PublishExecution(ctx, result))
	}
	return errors.Join(errs...)
}

func (f fanout) Close() error {
	var errs []error
	for _, s := range f {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}

// combine returns nil, the single sink, or a fanout over all of them.
func combine(sinks ...outbound.ExecutionSink) outbound.ExecutionSink {
	switch len(sinks) {
	case 0:
		return nil
	case 1:
		return sinks[0]
	default:
		return fanout(sinks)
	}
}
