// Package language holds the language backends a submission can be built with.
package language

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"algohub/internal/algorithm/sandbox/engine"
	"algohub/internal/algorithm/sandbox/result"
	"algohub/internal/algorithm/sandbox/spec"
	appErr "algohub/pkg/errors"

	"github.com/google/shlex"
)

const (
	placeholderSrc        = "{src}"
	placeholderBin        = "{bin}"
	placeholderExtraFlags = "{extraFlags}"
	placeholderArgs       = "{args}"

	// DefaultRunTemplate launches a native artifact directly.
	DefaultRunTemplate = "{bin} {args}"
)

// Backend compiles sources of one language and knows how to launch the result.
type Backend interface {
	Name() string
	SourceExtension() string
	// Compile runs the toolchain. A non-zero exit is reported in the result;
	// err is only returned when the toolchain could not be started.
	Compile(ctx context.Context, sourcePath, executablePath, buildOptions string) (result.RunResult, error)
	// LaunchCommand returns argv that runs executablePath with args.
	LaunchCommand(executablePath string, args []string) ([]string, error)
}

// Descriptor is the static description of a language.
type Descriptor struct {
	Name            string
	DisplayName     string
	SourceExt       string
	Managed         bool
	CompileTemplate string
	RunTemplate     string
	Env             []string
}

// Toolchain is a Descriptor bound to an execution engine.
type Toolchain struct {
	desc Descriptor
	eng  engine.Engine
}

// NewToolchain validates desc and binds it to eng.
func NewToolchain(desc Descriptor, eng engine.Engine) (*Toolchain, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if strings.TrimSpace(desc.Name) == "" {
		return nil, fmt.Errorf("language name is required")
	}
	if desc.SourceExt == "" {
		return nil, fmt.Errorf("language %s: source extension is required", desc.Name)
	}
	if _, err := expandTemplate(desc.CompileTemplate, "src", "bin", "", nil); err != nil {
		return nil, fmt.Errorf("language %s: %w", desc.Name, err)
	}
	if desc.RunTemplate == "" {
		desc.RunTemplate = DefaultRunTemplate
	}
	if _, err := expandTemplate(desc.RunTemplate, "", "bin", "", nil); err != nil {
		return nil, fmt.Errorf("language %s: %w", desc.Name, err)
	}
	desc.Env = append([]string(nil), desc.Env...)
	return &Toolchain{desc: desc, eng: eng}, nil
}

func (t *Toolchain) Name() string { return t.desc.Name }

func (t *Toolchain) SourceExtension() string { return t.desc.SourceExt }

// Descriptor returns a copy of the bound description.
func (t *Toolchain) Descriptor() Descriptor {
	d := t.desc
	d.Env = append([]string(nil), t.desc.Env...)
	return d
}

func (t *Toolchain) Compile(ctx context.Context, sourcePath, executablePath, buildOptions string) (result.RunResult, error) {
	cmd, err := expandTemplate(t.desc.CompileTemplate, sourcePath, executablePath, buildOptions, nil)
	if err != nil {
		return result.RunResult{}, err
	}
	return t.eng.Run(ctx, spec.RunSpec{
		Cmd:           cmd,
		WorkDir:       filepath.Dir(sourcePath),
		Env:           t.desc.Env,
		KeepAllOutput: true,
	})
}

func (t *Toolchain) LaunchCommand(executablePath string, args []string) ([]string, error) {
	return expandTemplate(t.desc.RunTemplate, "", executablePath, "", args)
}

// SplitBuildOptions splits extra compiler flags like a shell would.
// Malformed input, such as an unterminated quote, is InvalidParams.
func SplitBuildOptions(opts string) ([]string, error) {
	if strings.TrimSpace(opts) == "" {
		return nil, nil
	}
	flags, err := shlex.Split(opts)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InvalidParams, "parse build options failed")
	}
	return flags, nil
}

// expandTemplate splits tpl first and substitutes afterwards, so paths with
// spaces stay a single argument. {extraFlags} and {args} must be whole tokens.
func expandTemplate(tpl, src, bin, extraFlags string, args []string) ([]string, error) {
	if strings.TrimSpace(tpl) == "" {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("command template is required")
	}
	tokens, err := shlex.Split(tpl)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InvalidParams, "parse command template failed")
	}
	flags, err := SplitBuildOptions(extraFlags)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(tokens)+len(flags)+len(args))
	for _, tok := range tokens {
		switch tok {
		case placeholderExtraFlags:
			out = append(out, flags...)
		case placeholderArgs:
			out = append(out, args...)
		default:
			tok = strings.ReplaceAll(tok, placeholderSrc, src)
			tok = strings.ReplaceAll(tok, placeholderBin, bin)
			out = append(out, tok)
		}
	}
	if len(out) == 0 || out[0] == "" {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("command is empty after expansion")
	}
	return out, nil
}
