// Package testbot runs a built artifact against test input.
package testbot

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"algohub/internal/algorithm/language"
	"algohub/internal/algorithm/model"
	"algohub/internal/algorithm/sandbox/engine"
	"algohub/internal/algorithm/sandbox/observer"
	"algohub/internal/algorithm/sandbox/spec"
	appErr "algohub/pkg/errors"

	"github.com/google/shlex"
)

// Config controls run behavior.
type Config struct {
	// RunTimeout bounds one execution. Zero means no limit beyond ctx.
	RunTimeout time.Duration `yaml:"runTimeout"`
}

// RunRequest describes one execution.
type RunRequest struct {
	// Launcher builds argv for the artifact; it comes from the submission's language.
	Launcher       language.Backend
	ExecutablePath string
	RunOptions     string
	Stdin          []byte
}

// TestBot executes artifacts through the engine.
type TestBot struct {
	cfg     Config
	eng     engine.Engine
	metrics observer.MetricsRecorder
}

func New(cfg Config, eng engine.Engine, metrics observer.MetricsRecorder) *TestBot {
	if metrics == nil {
		metrics = observer.NoopMetricsRecorder{}
	}
	return &TestBot{cfg: cfg, eng: eng, metrics: metrics}
}

// Run executes the artifact with RunOptions split into arguments.
// A missing artifact is ExecutableNotFound; a start failure is EnvironmentError.
func (b *TestBot) Run(ctx context.Context, req RunRequest) (model.RunResult, error) {
	if req.Launcher == nil {
		return model.RunResult{}, appErr.New(appErr.InvalidParams).WithMessage("launcher is required")
	}
	info, err := os.Stat(req.ExecutablePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return model.RunResult{}, appErr.Newf(appErr.ExecutableNotFound, "executable %s not found", filepath.Base(req.ExecutablePath))
		}
		return model.RunResult{}, appErr.Wrapf(err, appErr.EnvironmentError, "stat executable failed")
	}
	if !info.Mode().IsRegular() {
		return model.RunResult{}, appErr.Newf(appErr.ExecutableNotFound, "executable %s is not a regular file", filepath.Base(req.ExecutablePath))
	}

	args, err := shlex.Split(req.RunOptions)
	if err != nil {
		return model.RunResult{}, appErr.Wrapf(err, appErr.InvalidParams, "parse run options failed")
	}
	cmd, err := req.Launcher.LaunchCommand(req.ExecutablePath, args)
	if err != nil {
		return model.RunResult{}, err
	}
	// Native artifacts are exec'd directly and need the exec bit; managed ones go through a host.
	if cmd[0] == req.ExecutablePath && info.Mode().Perm()&0o111 == 0 {
		return model.RunResult{}, appErr.Newf(appErr.ExecutableNotFound, "executable %s is not executable", filepath.Base(req.ExecutablePath))
	}

	runRes, err := b.eng.Run(ctx, spec.RunSpec{
		Cmd:     cmd,
		WorkDir: filepath.Dir(req.ExecutablePath),
		Stdin:   req.Stdin,
		Timeout: b.cfg.RunTimeout,
	})
	if err != nil {
		return model.RunResult{}, appErr.Wrapf(err, appErr.EnvironmentError, "start executable failed")
	}
	b.metrics.ObserveRun(ctx, runRes.ExitCode, runRes.TimedOut, time.Duration(runRes.WallTimeMs)*time.Millisecond)

	res := model.RunResult{
		Status:     appErr.Success,
		ExitCode:   runRes.ExitCode,
		Stdout:     string(runRes.Stdout),
		Stderr:     string(runRes.Stderr),
		DurationMs: runRes.WallTimeMs,
		TimedOut:   runRes.TimedOut,
		Truncated:  runRes.Truncated,
	}
	if runRes.TimedOut {
		res.Status = appErr.RunTimeout
	}
	return res, nil
}
