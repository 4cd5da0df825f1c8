// Package toolchain drives the external assembler and linker that turn
// generated fasm source into an executable, and removes the artifacts they
// leave behind.
package toolchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("moonshine.toolchain")

// DefaultDynamicLinker is passed to ld when linking against libc.
const DefaultDynamicLinker = "/lib64/ld-linux-x86-64.so.2"

// Artifacts are the files derived from one program's path.
type Artifacts struct {
	Asm    string // stem.asm
	Object string // stem.o
	Binary string // stem
}

// SourceExtensions are the program file extensions stripped to find a stem.
var SourceExtensions = []string{".b", ".bf"}

// stem removes a source or artifact extension from path. Any other path is
// taken to be a binary, which is its own stem.
func stem(path string) string {
	ext := filepath.Ext(path)
	switch ext {
	case ".asm", ".o":
		return strings.TrimSuffix(path, ext)
	}
	if slices.Contains(SourceExtensions, ext) {
		return strings.TrimSuffix(path, ext)
	}
	return path
}

// ArtifactsFor derives the artifact family of path. path may be the source
// file or any of its artifacts; all of them share the same stem.
func ArtifactsFor(path string) Artifacts {
	s := stem(path)
	return Artifacts{
		Asm:    s + ".asm",
		Object: s + ".o",
		Binary: s,
	}
}

// Contains reports whether path names one of the artifacts.
func (a Artifacts) Contains(path string) bool {
	path = filepath.Clean(path)
	for _, p := range a.All() {
		if filepath.Clean(p) == path {
			return true
		}
	}
	return false
}

// All lists the artifacts in removal order.
func (a Artifacts) All() []string {
	return []string{a.Object, a.Binary, a.Asm}
}

// ToolError reports an assembler or linker that exited unsuccessfully.
type ToolError struct {
	Tool     string
	Args     []string
	ExitCode int // -1 when the tool could not be started
	Output   []byte
	Err      error
}

func (e *ToolError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s failed", e.Tool)
	if e.ExitCode >= 0 {
		fmt.Fprintf(&b, " with exit status %d", e.ExitCode)
	} else if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if out := bytes.TrimSpace(e.Output); len(out) > 0 {
		fmt.Fprintf(&b, "\n%s", out)
	}
	return b.String()
}

func (e *ToolError) Unwrap() error { return e.Err }

// Toolchain names the external programs used to build an executable.
type Toolchain struct {
	Assembler     string
	AssemblerArgs []string
	Linker        string
	DynamicLinker string
	LinkLibc      bool
}

// Default returns the fasm/ld toolchain.
func Default() *Toolchain {
	return &Toolchain{
		Assembler:     "fasm",
		AssemblerArgs: []string{"-m", "64000"},
		Linker:        "ld",
		DynamicLinker: DefaultDynamicLinker,
	}
}

// Available reports whether both tools can be found on PATH.
func (tc *Toolchain) Available() error {
	for _, tool := range []string{tc.Assembler, tc.Linker} {
		if _, err := exec.LookPath(tool); err != nil {
			return fmt.Errorf("%s not found: %w", tool, err)
		}
	}
	return nil
}

// AssembleArgs returns the assembler command line for asm -> obj.
func (tc *Toolchain) AssembleArgs(asm, obj string) []string {
	args := append([]string(nil), tc.AssemblerArgs...)
	return append(args, asm, obj)
}

// LinkArgs returns the linker command line for obj -> bin.
func (tc *Toolchain) LinkArgs(obj, bin string) []string {
	var args []string
	if tc.LinkLibc {
		dl := tc.DynamicLinker
		if dl == "" {
			dl = DefaultDynamicLinker
		}
		args = append(args, "-dynamic-linker", dl, "-lc")
	}
	return append(args, "-o", bin, obj)
}

// Build assembles asm into obj and links obj into bin. It stops at the
// first tool that fails.
func (tc *Toolchain) Build(ctx context.Context, asm, obj, bin string) error {
	log.Infof("building object with %s", tc.Assembler)
	if err := run(ctx, tc.Assembler, tc.AssembleArgs(asm, obj)); err != nil {
		return err
	}
	log.Infof("linking binary with %s", tc.Linker)
	return run(ctx, tc.Linker, tc.LinkArgs(obj, bin))
}

func run(ctx context.Context, tool string, args []string) error {
	cmd := exec.CommandContext(ctx, tool, args...)
	log.Debugf("exec %s %s", tool, strings.Join(args, " "))

	output, err := cmd.CombinedOutput()
	if err == nil {
		return nil
	}
	te := &ToolError{Tool: tool, Args: args, ExitCode: -1, Output: output, Err: err}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		te.ExitCode = exitErr.ExitCode()
	}
	return te
}

// Clean removes every existing artifact derived from path and returns the
// paths it removed. Missing artifacts are skipped.
func Clean(path string) ([]string, error) {
	var removed []string
	for _, p := range ArtifactsFor(path).All() {
		info, err := os.Lstat(p)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return removed, err
		}
		if info.IsDir() {
			return removed, fmt.Errorf("refusing to remove directory %s", p)
		}
		if err := os.Remove(p); err != nil {
			return removed, err
		}
		log.Debugf("removed %s", p)
		removed = append(removed, p)
	}
	return removed, nil
}
