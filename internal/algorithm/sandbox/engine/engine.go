package engine

import (
	"bytes"
	"context"
	"fmt"

	"algohub/internal/algorithm/sandbox/result"
	"algohub/internal/algorithm/sandbox/spec"
)

// Engine executes a RunSpec as a child process.
// The error return is reserved for processes that could not be started.
type Engine interface {
	Run(ctx context.Context, runSpec spec.RunSpec) (result.RunResult, error)
}

// Config controls engine behavior.
type Config struct {
	// OutputLimitBytes caps each of stdout and stderr. Zero keeps everything.
	OutputLimitBytes int64 `yaml:"outputLimitBytes"`
}

// outputLimit is the per-stream cap applied to runSpec.
func (c Config) outputLimit(runSpec spec.RunSpec) int64 {
	if runSpec.KeepAllOutput {
		return 0
	}
	return c.OutputLimitBytes
}

func validateRunSpec(runSpec spec.RunSpec) error {
	if len(runSpec.Cmd) == 0 || runSpec.Cmd[0] == "" {
		return fmt.Errorf("command is required")
	}
	if runSpec.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	return nil
}

// cappedBuffer keeps at most limit bytes and swallows the rest so the child never blocks.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int64
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if b.limit <= 0 {
		return b.buf.Write(p)
	}
	remain := b.limit - int64(b.buf.Len())
	if remain <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if int64(len(p)) > remain {
		b.buf.Write(p[:remain])
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) Bytes() []byte {
	return b.buf.Bytes()
}
