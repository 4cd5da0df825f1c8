package driver

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chazu/moonshine/compiler/hash"
	"github.com/chazu/moonshine/manifest"
	"github.com/chazu/moonshine/pkg/cache"
	"github.com/chazu/moonshine/pkg/codegen"
	"github.com/chazu/moonshine/pkg/image"
	"github.com/chazu/moonshine/toolchain"
)

// Backend produces an executable from a compiled program.
type Backend interface {
	Name() string
	Build(ctx context.Context, c *Compiled, a toolchain.Artifacts) error
}

// fasmBackend writes fasm source and hands it to the external toolchain.
type fasmBackend struct{ d *Driver }

func (fasmBackend) Name() string { return manifest.BackendFASM }

func (b fasmBackend) Build(ctx context.Context, c *Compiled, a toolchain.Artifacts) error {
	data, err := b.d.asm(c)
	if err != nil {
		return err
	}
	log.Infof("writing assembly to %s", a.Asm)
	if err := os.WriteFile(a.Asm, data, 0o644); err != nil {
		return err
	}
	return b.d.Toolchain.Build(ctx, a.Asm, a.Object, a.Binary)
}

// nativeBackend assembles and links in process. It writes only the binary.
type nativeBackend struct{ d *Driver }

func (nativeBackend) Name() string { return manifest.BackendNative }

func (b nativeBackend) Build(ctx context.Context, c *Compiled, a toolchain.Artifacts) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := b.d.Image(c)
	if err != nil {
		return err
	}
	log.Infof("writing binary to %s", a.Binary)
	return image.WriteFile(a.Binary, bytes.NewReader(data))
}

// Image returns the linked ELF executable for c.
func (d *Driver) Image(c *Compiled) ([]byte, error) {
	if d.Manifest.Build.LinkLibc {
		return nil, fmt.Errorf("%w: use the fasm backend", codegen.ErrExternalCall)
	}
	return d.cached(hash.Key(c.Program, "image"), cache.KindImage, func() ([]byte, error) {
		l, err := d.Lower(c)
		if err != nil {
			return nil, err
		}
		obj, err := codegen.Assemble(l)
		if err != nil {
			return nil, err
		}
		img, err := image.Link(obj)
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if _, err := img.WriteTo(&buf); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	})
}

// Backend returns the configured backend.
func (d *Driver) Backend() (Backend, error) {
	switch d.Manifest.Build.Backend {
	case manifest.BackendFASM, "":
		return fasmBackend{d}, nil
	case manifest.BackendNative:
		return nativeBackend{d}, nil
	}
	return nil, fmt.Errorf("unknown backend %q", d.Manifest.Build.Backend)
}

// Build compiles the program at path into an executable and returns the
// artifacts it derived from path.
func (d *Driver) Build(ctx context.Context, path string) (toolchain.Artifacts, error) {
	a := toolchain.ArtifactsFor(d.Manifest.OutputPath(path))
	if a.Contains(path) {
		return a, fmt.Errorf("%s: build would overwrite the source; name it with a %s extension",
			path, strings.Join(toolchain.SourceExtensions, " or "))
	}
	backend, err := d.Backend()
	if err != nil {
		return a, err
	}
	c, err := d.CompileFile(path)
	if err != nil {
		return a, err
	}
	if dir := filepath.Dir(a.Binary); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return a, err
		}
	}
	log.Infof("building %s with the %s backend", path, backend.Name())
	if err := backend.Build(ctx, c, a); err != nil {
		return a, fmt.Errorf("%s: %w", path, err)
	}
	return a, nil
}
