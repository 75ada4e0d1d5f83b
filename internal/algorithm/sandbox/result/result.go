// Package result defines raw process execution results.
package result

// RunResult captures what a finished process produced.
// A non-zero ExitCode is a result, never an error.
type RunResult struct {
	ExitCode   int
	Stdout     []byte
	Stderr     []byte
	WallTimeMs int64
	TimedOut   bool
	// Truncated is set when an output stream hit the configured byte limit.
	Truncated bool
}
