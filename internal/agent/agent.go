// Package agent defines the narrow interfaces through which the
// orchestrator consumes its external collaborators: the agent executor
// spawning the LLM CLI, the configuration store, and the audit sink.
// Implementations live outside the core and are injected.
package agent

import (
	"context"
	"time"
)

// ExecEventKind tags events streamed back from a running agent.
type ExecEventKind string

const (
	ExecStarted  ExecEventKind = "started"
	ExecOutput   ExecEventKind = "output"
	ExecFinished ExecEventKind = "finished"
	ExecFailed   ExecEventKind = "failed"
)

// ExecEvent is one structured event from an agent run.
type ExecEvent struct {
	Kind      ExecEventKind
	Timestamp time.Time
	Payload   string
}

// Result is an agent run's terminal outcome.
type Result struct {
	Success  bool
	ExitCode int
	Output   string
	Duration time.Duration
}

// Executor runs one prompt through the external LLM CLI and reports the
// outcome. Implementations own process spawning and stream piping; the
// scheduler only sees the result. Execute must honor ctx cancellation.
type Executor interface {
	Execute(ctx context.Context, prompt string, events chan<- ExecEvent) (*Result, error)
}

// ConfigStore gets and sets settings by dotted path.
type ConfigStore interface {
	Get(path string) (interface{}, bool)
	Set(path string, value interface{}) error
}

// AuditSink accepts structured audit events.
type AuditSink interface {
	Record(event string, fields map[string]interface{})
}
