// Package spec describes a process to execute.
package spec

import "time"

// RunSpec describes one process invocation.
type RunSpec struct {
	// Cmd is argv; Cmd[0] is looked up in PATH when it has no separator.
	Cmd     []string
	WorkDir string
	// Env is appended to the parent environment.
	Env   []string
	Stdin []byte
	// Timeout bounds wall time. Zero means only ctx applies.
	Timeout time.Duration
	// KeepAllOutput disables the engine's output cap. Compiles set it so
	// diagnostics are never cut short.
	KeepAllOutput bool
}
