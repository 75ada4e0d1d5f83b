//go:build !linux

package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"algohub/internal/algorithm/sandbox/result"
	"algohub/internal/algorithm/sandbox/spec"
)

type plainEngine struct {
	cfg Config
}

// NewEngine creates a portable engine. Only the direct child is killed on timeout.
func NewEngine(cfg Config) (Engine, error) {
	if cfg.OutputLimitBytes < 0 {
		return nil, fmt.Errorf("output limit must not be negative")
	}
	return &plainEngine{cfg: cfg}, nil
}

func (e *plainEngine) Run(ctx context.Context, runSpec spec.RunSpec) (result.RunResult, error) {
	if err := validateRunSpec(runSpec); err != nil {
		return result.RunResult{}, err
	}
	runCtx := ctx
	if runSpec.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, runSpec.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, runSpec.Cmd[0], runSpec.Cmd[1:]...)
	cmd.Dir = runSpec.WorkDir
	if len(runSpec.Env) > 0 {
		cmd.Env = append(cmd.Environ(), runSpec.Env...)
	}
	if runSpec.Stdin != nil {
		cmd.Stdin = bytes.NewReader(runSpec.Stdin)
	}
	limit := e.cfg.outputLimit(runSpec)
	stdout := &cappedBuffer{limit: limit}
	stderr := &cappedBuffer{limit: limit}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return result.RunResult{}, fmt.Errorf("start %s: %w", runSpec.Cmd[0], err)
	}
	waitErr := cmd.Wait()

	exitCode := 0
	if waitErr != nil {
		exitCode = -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) && exitErr.ExitCode() >= 0 {
			exitCode = exitErr.ExitCode()
		}
	}
	timedOut := errors.Is(runCtx.Err(), context.DeadlineExceeded)
	if timedOut && exitCode == 0 {
		exitCode = -1
	}
	return result.RunResult{
		ExitCode:   exitCode,
		Stdout:     stdout.Bytes(),
		Stderr:     stderr.Bytes(),
		WallTimeMs: time.Since(start).Milliseconds(),
		TimedOut:   timedOut,
		Truncated:  stdout.truncated || stderr.truncated,
	}, nil
}
