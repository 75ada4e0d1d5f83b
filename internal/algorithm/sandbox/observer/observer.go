// Package observer defines metrics hooks for build and run steps.
package observer

import (
	"context"
	"time"

	"algohub/pkg/utils/logger"

	"go.uber.org/zap"
)

// MetricsRecorder records build and run outcomes.
type MetricsRecorder interface {
	ObserveBuild(ctx context.Context, language string, status int, elapsed time.Duration)
	ObserveRun(ctx context.Context, exitCode int, timedOut bool, elapsed time.Duration)
}

// NoopMetricsRecorder discards everything.
type NoopMetricsRecorder struct{}

func (NoopMetricsRecorder) ObserveBuild(context.Context, string, int, time.Duration) {}

func (NoopMetricsRecorder) ObserveRun(context.Context, int, bool, time.Duration) {}

// LogMetricsRecorder writes one debug line per observation.
type LogMetricsRecorder struct{}

func (LogMetricsRecorder) ObserveBuild(ctx context.Context, language string, status int, elapsed time.Duration) {
	logger.Debug(ctx, "build observed",
		zap.String("language", language),
		zap.Int("status", status),
		zap.Int64("elapsed_ms", elapsed.Milliseconds()),
	)
}

func (LogMetricsRecorder) ObserveRun(ctx context.Context, exitCode int, timedOut bool, elapsed time.Duration) {
	logger.Debug(ctx, "run observed",
		zap.Int("exit_code", exitCode),
		zap.Bool("timed_out", timedOut),
		zap.Int64("elapsed_ms", elapsed.Milliseconds()),
	)
}
