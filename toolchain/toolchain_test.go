package toolchain

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"testing"

	"github.com/chazu/moonshine/compiler"
	"github.com/chazu/moonshine/pkg/codegen"
	"github.com/chazu/moonshine/pkg/optimize"
)

func TestArtifactsFor(t *testing.T) {
	want := Artifacts{Asm: "dir/hello.asm", Object: "dir/hello.o", Binary: "dir/hello"}
	for _, path := range []string{"dir/hello.b", "dir/hello.bf", "dir/hello.asm", "dir/hello.o", "dir/hello"} {
		if got := ArtifactsFor(path); got != want {
			t.Errorf("ArtifactsFor(%q) = %+v", path, got)
		}
	}
	if got := ArtifactsFor("v1.2/prog").Binary; got != "v1.2/prog" {
		t.Errorf("dotted directory: Binary = %q", got)
	}

	dotted := Artifacts{Asm: "hello.world.asm", Object: "hello.world.o", Binary: "hello.world"}
	for _, path := range []string{"hello.world.b", "hello.world.asm", "hello.world.o", "hello.world"} {
		if got := ArtifactsFor(path); got != dotted {
			t.Errorf("ArtifactsFor(%q) = %+v", path, got)
		}
	}
}

func TestArtifactsContains(t *testing.T) {
	a := ArtifactsFor("dir/prog.b")
	for _, p := range []string{"dir/prog", "dir/prog.o", "./dir/prog.asm"} {
		if !a.Contains(p) {
			t.Errorf("Contains(%q) = false", p)
		}
	}
	if a.Contains("dir/prog.b") {
		t.Error("source counted as an artifact")
	}
}

func TestCleanDottedStem(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "hello.world.b")
	a := ArtifactsFor(src)
	other := filepath.Join(dir, "hello")
	touch(t, src, a.Asm, a.Object, a.Binary, other)

	removed, err := Clean(a.Binary)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(removed, a.All()) {
		t.Errorf("removed = %v, want %v", removed, a.All())
	}
	for _, p := range []string{src, other} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("%s removed", p)
		}
	}
}

func TestArgs(t *testing.T) {
	tc := Default()
	if got := tc.AssembleArgs("p.asm", "p.o"); !reflect.DeepEqual(got, []string{"-m", "64000", "p.asm", "p.o"}) {
		t.Errorf("AssembleArgs = %q", got)
	}
	if got := tc.LinkArgs("p.o", "p"); !reflect.DeepEqual(got, []string{"-o", "p", "p.o"}) {
		t.Errorf("LinkArgs = %q", got)
	}
	tc.LinkLibc = true
	want := []string{"-dynamic-linker", DefaultDynamicLinker, "-lc", "-o", "p", "p.o"}
	if got := tc.LinkArgs("p.o", "p"); !reflect.DeepEqual(got, want) {
		t.Errorf("LinkArgs(libc) = %q", got)
	}
	if len(tc.AssemblerArgs) != 2 {
		t.Error("AssembleArgs modified AssemblerArgs")
	}
}

func touch(t *testing.T, paths ...string) {
	t.Helper()
	for _, p := range paths {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestClean(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "prog.b")
	a := ArtifactsFor(src)

	for _, from := range []string{src, a.Asm, a.Object, a.Binary} {
		touch(t, src, a.Asm, a.Object, a.Binary)
		removed, err := Clean(from)
		if err != nil {
			t.Fatalf("Clean(%s): %v", from, err)
		}
		if len(removed) != 3 {
			t.Errorf("Clean(%s) removed %v", from, removed)
		}
		for _, p := range a.All() {
			if _, err := os.Stat(p); !errors.Is(err, os.ErrNotExist) {
				t.Errorf("%s survived Clean(%s)", p, from)
			}
		}
		if _, err := os.Stat(src); err != nil {
			t.Errorf("source removed by Clean(%s)", from)
		}
	}
}

func TestCleanMissing(t *testing.T) {
	dir := t.TempDir()
	a := ArtifactsFor(filepath.Join(dir, "prog.b"))
	touch(t, a.Asm)

	removed, err := Clean(a.Binary)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(removed, []string{a.Asm}) {
		t.Errorf("removed = %v", removed)
	}
	if removed, err := Clean(a.Binary); err != nil || len(removed) != 0 {
		t.Errorf("second Clean = %v, %v", removed, err)
	}
}

func TestCleanRefusesDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "prog"), 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := Clean(filepath.Join(dir, "prog.b")); err == nil {
		t.Error("expected error for directory artifact")
	}
}

// script writes an executable shell script standing in for a tool.
func script(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestBuildToolError(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts")
	}
	dir := t.TempDir()
	tc := &Toolchain{
		Assembler: script(t, dir, "fake-fasm", `echo "error: illegal instruction" >&2; exit 2`),
		Linker:    script(t, dir, "fake-ld", `touch "$2"`),
	}

	err := tc.Build(context.Background(), "p.asm", "p.o", "p")
	var te *ToolError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *ToolError", err)
	}
	if te.ExitCode != 2 || te.Tool != tc.Assembler {
		t.Errorf("ToolError = %+v", te)
	}
	if !strings.Contains(err.Error(), "illegal instruction") {
		t.Errorf("message lacks tool output: %q", err.Error())
	}
}

func TestBuildRunsBothTools(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts")
	}
	dir := t.TempDir()
	calls := filepath.Join(dir, "calls")
	tc := &Toolchain{
		Assembler: script(t, dir, "fake-fasm", `echo asm "$@" >> `+calls),
		Linker:    script(t, dir, "fake-ld", `echo ld "$@" >> `+calls),
		LinkLibc:  true,
	}
	if err := tc.Build(context.Background(), "p.asm", "p.o", "p"); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(calls)
	if err != nil {
		t.Fatal(err)
	}
	want := "asm p.asm p.o\nld -dynamic-linker " + DefaultDynamicLinker + " -lc -o p p.o\n"
	if string(got) != want {
		t.Errorf("calls:\n%s\nwant:\n%s", got, want)
	}
}

func TestBuildMissingTool(t *testing.T) {
	tc := &Toolchain{Assembler: filepath.Join(t.TempDir(), "no-such-fasm"), Linker: "ld"}
	err := tc.Build(context.Background(), "p.asm", "p.o", "p")
	var te *ToolError
	if !errors.As(err, &te) || te.ExitCode != -1 {
		t.Fatalf("err = %v", err)
	}
	if tc.Available() == nil {
		t.Error("Available succeeded with a missing assembler")
	}
}

func TestBuildFASM(t *testing.T) {
	if runtime.GOOS != "linux" || runtime.GOARCH != "amd64" {
		t.Skip("fasm output targets linux/amd64")
	}
	tc := Default()
	if err := tc.Available(); err != nil {
		t.Skip(err)
	}

	dir := t.TempDir()
	a := ArtifactsFor(filepath.Join(dir, "hello.b"))
	p, err := compiler.Parse("++++++++[>++++++++<-]>+.+.+.")
	if err != nil {
		t.Fatal(err)
	}
	l, err := codegen.Lower(optimize.Optimize(p), codegen.Options{})
	if err != nil {
		t.Fatal(err)
	}
	var asm bytes.Buffer
	if err := l.WriteFASM(&asm); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(a.Asm, asm.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := tc.Build(context.Background(), a.Asm, a.Object, a.Binary); err != nil {
		t.Fatal(err)
	}
	out, err := exec.Command(a.Binary).Output()
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "ABC" {
		t.Errorf("output = %q", out)
	}

	removed, err := Clean(a.Binary)
	if err != nil || len(removed) != 3 {
		t.Errorf("Clean = %v, %v", removed, err)
	}
}
