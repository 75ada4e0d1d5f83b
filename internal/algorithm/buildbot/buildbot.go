// Package buildbot writes a submission's source and drives one compile.
package buildbot

import (
	"context"
	"errors"
	"os"
	"time"

	"algohub/internal/algorithm/language"
	"algohub/internal/algorithm/model"
	"algohub/internal/algorithm/sandbox/observer"
	appErr "algohub/pkg/errors"
	"algohub/pkg/utils/logger"

	"go.uber.org/zap"
)

const defaultCompileTimeout = time.Minute

// Config controls compile behavior.
type Config struct {
	CompileTimeout time.Duration `yaml:"compileTimeout"`
}

// BuildRequest describes one build. Paths come from the workspace layout.
type BuildRequest struct {
	Backend        language.Backend
	SourcePath     string
	ExecutablePath string
	Source         []byte
	BuildOptions   string
}

// BuildBot holds no per-build state and is safe for concurrent use.
type BuildBot struct {
	cfg     Config
	metrics observer.MetricsRecorder
}

func New(cfg Config) *BuildBot {
	return NewWithObserver(cfg, observer.NoopMetricsRecorder{})
}

func NewWithObserver(cfg Config, metrics observer.MetricsRecorder) *BuildBot {
	if cfg.CompileTimeout <= 0 {
		cfg.CompileTimeout = defaultCompileTimeout
	}
	if metrics == nil {
		metrics = observer.NoopMetricsRecorder{}
	}
	return &BuildBot{cfg: cfg, metrics: metrics}
}

// Build overwrites the source file and compiles it.
// A compiler rejection is a BuildFailed result with a nil error. The error is
// reserved for environment faults: the source could not be written or the
// toolchain could not be started.
func (b *BuildBot) Build(ctx context.Context, req BuildRequest) (model.BuildResult, error) {
	if err := validate(req); err != nil {
		return model.BuildResult{}, err
	}
	if err := os.WriteFile(req.SourcePath, req.Source, 0o644); err != nil {
		return model.BuildResult{}, appErr.Wrapf(err, appErr.EnvironmentError, "write source failed")
	}
	// A stale artifact from a previous build must not outlive a failed compile.
	if err := os.Remove(req.ExecutablePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return model.BuildResult{}, appErr.Wrapf(err, appErr.EnvironmentError, "remove stale artifact failed")
	}

	compileCtx, cancel := context.WithTimeout(ctx, b.cfg.CompileTimeout)
	defer cancel()

	start := time.Now()
	runRes, err := req.Backend.Compile(compileCtx, req.SourcePath, req.ExecutablePath, req.BuildOptions)
	elapsed := time.Since(start)
	if appErr.GetCode(err) == appErr.InvalidParams {
		return model.BuildResult{}, err
	}
	if err != nil {
		b.metrics.ObserveBuild(ctx, req.Backend.Name(), int(appErr.EnvironmentError), elapsed)
		return model.BuildResult{}, appErr.Wrapf(err, appErr.EnvironmentError, "start %s toolchain failed", req.Backend.Name())
	}

	res := model.BuildResult{
		Status:     appErr.Success,
		ExitCode:   runRes.ExitCode,
		Stdout:     string(runRes.Stdout),
		Stderr:     string(runRes.Stderr),
		DurationMs: elapsed.Milliseconds(),
		TimedOut:   runRes.TimedOut,
	}
	if runRes.ExitCode != 0 || runRes.TimedOut {
		res.Status = appErr.BuildFailed
	}
	b.metrics.ObserveBuild(ctx, req.Backend.Name(), int(res.Status), elapsed)
	logger.Debug(ctx, "build finished",
		zap.String("language", req.Backend.Name()),
		zap.Int("exit_code", res.ExitCode),
		zap.Bool("timed_out", res.TimedOut),
		zap.Int64("duration_ms", res.DurationMs),
	)
	return res, nil
}

func validate(req BuildRequest) error {
	if req.Backend == nil {
		return appErr.New(appErr.InvalidParams).WithMessage("backend is required")
	}
	if req.SourcePath == "" || req.ExecutablePath == "" {
		return appErr.New(appErr.InvalidParams).WithMessage("source and executable paths are required")
	}
	return nil
}
