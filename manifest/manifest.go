// Package manifest handles moonshine.toml project configuration.
package manifest

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/BurntSushi/toml"
)

// FileName is the manifest file looked up by Load and FindAndLoad.
const FileName = "moonshine.toml"

//go:embed schema.cue
var schemaSource []byte

// Manifest represents a moonshine.toml project configuration.
type Manifest struct {
	Build     Build     `toml:"build"`
	Toolchain Toolchain `toml:"toolchain"`
	Optimize  Optimize  `toml:"optimize"`
	Run       Run       `toml:"run"`
	Cache     Cache     `toml:"cache"`

	// Dir is the directory containing the moonshine.toml file (set at load
	// time, empty for Default).
	Dir string `toml:"-"`
}

// Build configures how programs are compiled.
type Build struct {
	OutputDir string `toml:"output-dir"`
	Backend   string `toml:"backend"` // "fasm" or "native"
	LinkLibc  bool   `toml:"link-libc"`
}

// Toolchain names the external assembler and linker.
type Toolchain struct {
	Assembler     string   `toml:"assembler"`
	AssemblerArgs []string `toml:"assembler-args"`
	Linker        string   `toml:"linker"`
	DynamicLinker string   `toml:"dynamic-linker"`
}

// Optimize configures the optimization pipeline.
type Optimize struct {
	Level         int `toml:"level"`
	MaxIterations int `toml:"max-iterations"`
}

// Run configures the interpreter.
type Run struct {
	MaxSteps int64 `toml:"max-steps"` // 0 means unlimited
}

// Cache configures the compilation cache.
type Cache struct {
	Path          string `toml:"path"`
	MemoryEntries int    `toml:"memory-entries"`
	Disabled      bool   `toml:"disabled"`
}

// Backends.
const (
	BackendFASM   = "fasm"
	BackendNative = "native"
)

// SchemaError reports a manifest that does not satisfy the schema.
type SchemaError struct {
	Path    string
	Details string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Path, e.Details)
}

// Default returns the configuration used when no manifest exists.
func Default() *Manifest {
	return &Manifest{
		Build: Build{Backend: BackendFASM},
		Toolchain: Toolchain{
			Assembler:     "fasm",
			AssemblerArgs: []string{"-m", "64000"},
			Linker:        "ld",
			DynamicLinker: "/lib64/ld-linux-x86-64.so.2",
		},
		Optimize: Optimize{Level: 2, MaxIterations: 16},
		Cache:    Cache{Path: filepath.Join(".moonshine", "cache.db"), MemoryEntries: 128},
	}
}

// Load parses a moonshine.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m, err := Parse(path, data)
	if err != nil {
		return nil, err
	}
	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return m, nil
}

// Parse decodes and validates manifest data. path is only used in errors.
// Keys absent from data keep their Default values.
func Parse(path string, data []byte) (*Manifest, error) {
	var raw map[string]any
	if _, err := toml.Decode(string(data), &raw); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	if err := validate(path, raw); err != nil {
		return nil, err
	}

	m := Default()
	if _, err := toml.Decode(string(data), m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if m.Build.Backend == BackendNative && m.Build.LinkLibc {
		return nil, &SchemaError{Path: path, Details: "build.link-libc requires the fasm backend"}
	}
	return m, nil
}

func validate(path string, raw map[string]any) error {
	ctx := cuecontext.New()
	schema := ctx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("manifest schema: %w", err)
	}
	v := schema.LookupPath(cue.ParsePath("#Manifest")).Unify(ctx.Encode(raw))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return &SchemaError{Path: path, Details: cueerrors.Details(err, nil)}
	}
	return nil
}

// FindAndLoad walks up from startDir to find a moonshine.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Resolve makes a manifest-relative path absolute. Absolute paths and
// manifests without a directory are returned unchanged.
func (m *Manifest) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || m.Dir == "" {
		return p
	}
	return filepath.Join(m.Dir, p)
}

// CachePath returns the cache database location, or "" when caching is
// disabled.
func (m *Manifest) CachePath() string {
	if m.Cache.Disabled {
		return ""
	}
	return m.Resolve(m.Cache.Path)
}

// OutputPath maps a source path to the stem its artifacts are written
// under. Without an output directory artifacts sit next to the source.
func (m *Manifest) OutputPath(source string) string {
	if m.Build.OutputDir == "" {
		return source
	}
	return filepath.Join(m.Resolve(m.Build.OutputDir), filepath.Base(source))
}
