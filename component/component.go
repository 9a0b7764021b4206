// Package component defines the lifecycle contract shared by the
// pipeline stages and the dependency bundle they are constructed with.
package component

import (
	"context"
	"time"
)

// State represents the current lifecycle state of a stage
type State int

const (
	// StateCreated indicates the stage was created but not started
	StateCreated State = iota
	// StateStarted indicates the stage is running
	StateStarted
	// StateStopped indicates the stage was stopped
	StateStopped
	// StateFailed indicates the stage failed during a lifecycle operation
	StateFailed
)

// String returns a string representation of the stage state
func (cs State) String() string {
	switch cs {
	case StateCreated:
		return "created"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Stage is a long-running pipeline component:
//   - Start(ctx context.Context) error    // start with context passed through
//   - Stop(timeout time.Duration) error   // graceful shutdown within timeout
//
// Start must not block beyond setup; the stage's work happens in its own
// goroutines. Stop returns once in-flight work has settled or the timeout
// expires.
type Stage interface {
	Name() string
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
	Health() HealthStatus
}

// HealthStatus reports a stage's liveness for the health endpoint.
type HealthStatus struct {
	Healthy    bool          `json:"healthy"`
	LastCheck  time.Time     `json:"last_check"`
	ErrorCount int           `json:"error_count"`
	Uptime     time.Duration `json:"uptime"`
}
