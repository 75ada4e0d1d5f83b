package language

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"testing"

	"algohub/internal/algorithm/sandbox/engine"
	"algohub/internal/algorithm/sandbox/result"
	"algohub/internal/algorithm/sandbox/spec"
)

type recordingEngine struct {
	specs []spec.RunSpec
	res   result.RunResult
}

func (e *recordingEngine) Run(ctx context.Context, runSpec spec.RunSpec) (result.RunResult, error) {
	e.specs = append(e.specs, runSpec)
	return e.res, nil
}

func TestRegistryResolveEverySupportedName(t *testing.T) {
	reg, err := NewDefaultRegistry(&recordingEngine{}, nil)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	names := reg.ListSupported()
	if !reflect.DeepEqual(names, []string{CPP, CS, FP}) {
		t.Fatalf("unexpected order: %v", names)
	}
	for _, name := range names {
		b, ok := reg.Resolve(name)
		if !ok || b.Name() != name {
			t.Fatalf("resolve %s: got %v %v", name, b, ok)
		}
	}
	if _, ok := reg.Resolve("A"); ok {
		t.Fatal("unknown language must not resolve")
	}

	names[0] = "mutated"
	if reg.ListSupported()[0] != CPP {
		t.Fatal("ListSupported must return a copy")
	}
}

func TestNewRegistryRejectsDuplicates(t *testing.T) {
	eng := &recordingEngine{}
	a, _ := NewToolchain(Builtins()[0], eng)
	b, _ := NewToolchain(Builtins()[0], eng)
	if _, err := NewRegistry(a, b); err == nil {
		t.Fatal("expected duplicate error")
	}
	if _, err := NewRegistry(nil); err == nil {
		t.Fatal("expected nil backend error")
	}
}

func TestCompileExpandsTemplate(t *testing.T) {
	eng := &recordingEngine{}
	tc, err := NewToolchain(Builtins()[0], eng)
	if err != nil {
		t.Fatalf("toolchain: %v", err)
	}
	src := filepath.Join("/work/my dir", "sort.cpp")
	bin := filepath.Join("/work/my dir", "sort.exe")
	if _, err := tc.Compile(context.Background(), src, bin, "-DLOCAL -Wall"); err != nil {
		t.Fatalf("compile: %v", err)
	}
	want := []string{"g++", "-std=gnu++17", "-O2", "-pipe", "-DLOCAL", "-Wall", "-o", bin, src}
	got := eng.specs[0]
	if !reflect.DeepEqual(got.Cmd, want) {
		t.Fatalf("unexpected cmd:\n got %q\nwant %q", got.Cmd, want)
	}
	if got.WorkDir != "/work/my dir" {
		t.Fatalf("unexpected workdir %q", got.WorkDir)
	}
}

func TestFreePascalInlineBinPlaceholder(t *testing.T) {
	eng := &recordingEngine{}
	tc, _ := NewToolchain(Builtins()[2], eng)
	_, _ = tc.Compile(context.Background(), "/w/a.pas", "/w/a.exe", "")
	want := []string{"fpc", "-O2", "-o/w/a.exe", "/w/a.pas"}
	if !reflect.DeepEqual(eng.specs[0].Cmd, want) {
		t.Fatalf("unexpected cmd %q", eng.specs[0].Cmd)
	}
}

func TestLaunchCommand(t *testing.T) {
	eng := &recordingEngine{}
	cpp, _ := NewToolchain(Builtins()[0], eng)
	cs, _ := NewToolchain(Builtins()[1], eng)

	got, err := cpp.LaunchCommand("/w/a.exe", []string{"echo", "test"})
	if err != nil || !reflect.DeepEqual(got, []string{"/w/a.exe", "echo", "test"}) {
		t.Fatalf("cpp launch: %q %v", got, err)
	}
	got, _ = cs.LaunchCommand("/w/a.exe", nil)
	if !reflect.DeepEqual(got, []string{"mono", "/w/a.exe"}) {
		t.Fatalf("cs launch: %q", got)
	}
}

func TestApplyOverrides(t *testing.T) {
	descs := Builtins()
	err := ApplyOverrides(descs, map[string]Override{CPP: {CompileTemplate: "clang++ -o {bin} {src}"}})
	if err != nil {
		t.Fatalf("override: %v", err)
	}
	if descs[0].CompileTemplate != "clang++ -o {bin} {src}" || descs[0].RunTemplate != DefaultRunTemplate {
		t.Fatalf("unexpected descriptor: %+v", descs[0])
	}
	if err := ApplyOverrides(Builtins(), map[string]Override{"rust": {}}); err == nil {
		t.Fatal("unknown language override must fail")
	}
}

func TestNewToolchainValidation(t *testing.T) {
	eng := &recordingEngine{}
	if _, err := NewToolchain(Descriptor{Name: "x", SourceExt: "x"}, eng); err == nil {
		t.Fatal("missing compile template must fail")
	}
	if _, err := NewToolchain(Descriptor{Name: "x", SourceExt: "x", CompileTemplate: "cc '{src}"}, eng); err == nil {
		t.Fatal("unbalanced quote must fail")
	}
	if _, err := NewToolchain(Builtins()[0], nil); err == nil {
		t.Fatal("nil engine must fail")
	}
}

func TestCompileCppWithRealToolchain(t *testing.T) {
	if _, err := exec.LookPath("g++"); err != nil {
		t.Skip("g++ not available")
	}
	eng, err := engine.NewEngine(engine.Config{})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	tc, _ := NewToolchain(Builtins()[0], eng)
	dir := t.TempDir()
	src := filepath.Join(dir, "main.cpp")
	bin := filepath.Join(dir, "main.exe")
	if err := os.WriteFile(src, []byte("int main(){return 0;}\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	res, err := tc.Compile(context.Background(), src, bin, "")
	if err != nil || res.ExitCode != 0 {
		t.Fatalf("compile failed: %v %s", err, res.Stderr)
	}
	if _, err := os.Stat(bin); err != nil {
		t.Fatalf("artifact missing: %v", err)
	}
}
