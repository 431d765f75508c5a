// Package inbound contains the primary/inbound ports.
// These interfaces define what the binaries drive.
package inbound

import "context"

// Worker is a long-running loop owned by a binary.
//
// Implementations:
//   - discovery.Scanner: one discovery window per tick
//   - sentry.Service: one evaluation cycle per tick
//   - planner.Service: one plan per tick
//   - executor.Service: at most one execution per tick
type Worker interface {
	// Start launches the loop in the background and returns immediately.
	Start(ctx context.Context) error

	// Stop cancels the loop and waits for the in-flight cycle to finish.
	Stop() error
}
