package language

import (
	"fmt"

	"algohub/internal/algorithm/sandbox/engine"
)

const (
	CPP = "cpp"
	CS  = "cs"
	FP  = "fp"
)

// Builtins returns the supported languages in their listing order.
func Builtins() []Descriptor {
	return []Descriptor{
		{
			Name:            CPP,
			DisplayName:     "C++",
			SourceExt:       "cpp",
			CompileTemplate: "g++ -std=gnu++17 -O2 -pipe {extraFlags} -o {bin} {src}",
			RunTemplate:     DefaultRunTemplate,
		},
		{
			Name:            CS,
			DisplayName:     "C#",
			SourceExt:       "cs",
			Managed:         true,
			CompileTemplate: "mcs -optimize+ {extraFlags} -out:{bin} {src}",
			RunTemplate:     "mono {bin} {args}",
		},
		{
			Name:            FP,
			DisplayName:     "Free Pascal",
			SourceExt:       "pas",
			CompileTemplate: "fpc -O2 {extraFlags} -o{bin} {src}",
			RunTemplate:     DefaultRunTemplate,
		},
	}
}

// Override replaces toolchain fields of a built-in language. Empty fields keep the default.
type Override struct {
	CompileTemplate string   `yaml:"compile"`
	RunTemplate     string   `yaml:"run"`
	Env             []string `yaml:"env"`
}

// ApplyOverrides rewrites descs in place. Overrides can not add languages.
func ApplyOverrides(descs []Descriptor, overrides map[string]Override) error {
	index := make(map[string]int, len(descs))
	for i, d := range descs {
		index[d.Name] = i
	}
	for name, o := range overrides {
		i, ok := index[name]
		if !ok {
			return fmt.Errorf("override for unknown language %q", name)
		}
		if o.CompileTemplate != "" {
			descs[i].CompileTemplate = o.CompileTemplate
		}
		if o.RunTemplate != "" {
			descs[i].RunTemplate = o.RunTemplate
		}
		if len(o.Env) > 0 {
			descs[i].Env = o.Env
		}
	}
	return nil
}

// NewDefaultRegistry builds the registry of built-in languages with overrides applied.
func NewDefaultRegistry(eng engine.Engine, overrides map[string]Override) (*Registry, error) {
	descs := Builtins()
	if err := ApplyOverrides(descs, overrides); err != nil {
		return nil, err
	}
	backends := make([]Backend, 0, len(descs))
	for _, d := range descs {
		tc, err := NewToolchain(d, eng)
		if err != nil {
			return nil, err
		}
		backends = append(backends, tc)
	}
	return NewRegistry(backends...)
}
