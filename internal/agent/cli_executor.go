package agent

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

// CLIExecutor runs prompts through an external command-line tool, one
// process per execution. It is the default Executor wired by the CLI;
// anything richer (stream parsing, retries) belongs to the collaborator,
// not the core.
type CLIExecutor struct {
	logger  *zap.Logger
	command string
	args    []string
}

// NewCLIExecutor creates an executor spawning the given command. The prompt
// is passed on stdin.
func NewCLIExecutor(logger *zap.Logger, command string, args ...string) *CLIExecutor {
	return &CLIExecutor{
		logger:  logger.Named("executor"),
		command: command,
		args:    args,
	}
}

// Execute implements Executor.
func (e *CLIExecutor) Execute(ctx context.Context, prompt string, events chan<- ExecEvent) (*Result, error) {
	start := time.Now()
	emit := func(kind ExecEventKind, payload string) {
		if events == nil {
			return
		}
		select {
		case events <- ExecEvent{Kind: kind, Timestamp: time.Now(), Payload: payload}:
		default:
		}
	}

	cmd := exec.CommandContext(ctx, e.command, e.args...)
	cmd.Stdin = bytes.NewBufferString(prompt)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	emit(ExecStarted, e.command)
	err := cmd.Run()
	duration := time.Since(start)

	result := &Result{
		Success:  err == nil,
		Output:   out.String(),
		Duration: duration,
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		result.ExitCode = exitErr.ExitCode()
	}

	if err != nil {
		emit(ExecFailed, err.Error())
		e.logger.Warn("Agent execution failed",
			zap.String("command", e.command),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return result, nil
	}
	emit(ExecFinished, "")
	e.logger.Debug("Agent execution finished",
		zap.String("command", e.command),
		zap.Duration("duration", duration),
	)
	return result, nil
}
