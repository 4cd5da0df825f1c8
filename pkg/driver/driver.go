// Package driver runs the compilation pipeline end to end: parse, optimize,
// then either interpret or generate code and produce an executable. It owns
// the project configuration and the artifact cache so that the CLI, the LSP
// server and the playground all compile programs the same way.
package driver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/chazu/moonshine/compiler"
	"github.com/chazu/moonshine/compiler/hash"
	"github.com/chazu/moonshine/manifest"
	"github.com/chazu/moonshine/pkg/cache"
	"github.com/chazu/moonshine/pkg/codegen"
	"github.com/chazu/moonshine/pkg/ir"
	"github.com/chazu/moonshine/pkg/optimize"
	"github.com/chazu/moonshine/toolchain"
	"github.com/chazu/moonshine/vm"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("moonshine.driver")

// Driver compiles and runs programs under one configuration.
type Driver struct {
	Manifest  *manifest.Manifest
	Optimizer *optimize.Optimizer
	Toolchain *toolchain.Toolchain
	Cache     *cache.Cache // may be nil
}

// New builds a driver from m. c may be nil to disable caching.
func New(m *manifest.Manifest, c *cache.Cache) (*Driver, error) {
	if m == nil {
		m = manifest.Default()
	}
	level, err := optimize.ParseLevel(m.Optimize.Level)
	if err != nil {
		return nil, err
	}
	opt := optimize.New(level)
	if m.Optimize.MaxIterations > 0 {
		opt.MaxIterations = m.Optimize.MaxIterations
	}
	return &Driver{
		Manifest:  m,
		Optimizer: opt,
		Toolchain: &toolchain.Toolchain{
			Assembler:     m.Toolchain.Assembler,
			AssemblerArgs: m.Toolchain.AssemblerArgs,
			Linker:        m.Toolchain.Linker,
			DynamicLinker: m.Toolchain.DynamicLinker,
			LinkLibc:      m.Build.LinkLibc,
		},
		Cache: c,
	}, nil
}

// Compiled is an optimized program.
type Compiled struct {
	Raw     ir.Program // parser output
	Program ir.Program // optimized
	Key     hash.Sum   // cache key of Program and the settings that made it
	Stats   *optimize.Stats
	Cached  bool // Program came from the cache; Stats is nil
}

func (d *Driver) optimizeKey(raw ir.Program) hash.Sum {
	return hash.Key(raw, "optimize",
		strconv.Itoa(int(d.Optimizer.Level)),
		strconv.Itoa(d.Optimizer.MaxIterations))
}

// Compile parses and optimizes src, consulting the cache.
func (d *Driver) Compile(src []byte) (*Compiled, error) {
	return d.compile(src, d.Cache)
}

// Analyze is Compile without the cache, so Stats is always set.
func (d *Driver) Analyze(src []byte) (*Compiled, error) {
	return d.compile(src, nil)
}

func (d *Driver) compile(src []byte, c *cache.Cache) (*Compiled, error) {
	raw, err := compiler.ParseBytes(src)
	if err != nil {
		return nil, err
	}
	out := &Compiled{Raw: raw, Key: d.optimizeKey(raw)}

	if c != nil {
		data, ok, err := c.Get(out.Key, cache.KindIR)
		if err != nil {
			log.Warningf("cache lookup: %s", err)
		} else if ok {
			p, err := ir.Unmarshal(data)
			if err == nil {
				out.Program, out.Cached = p, true
				log.Debugf("optimized program %s from cache", out.Key.Short())
				return out, nil
			}
			log.Warningf("discarding unreadable cache entry %s: %s", out.Key.Short(), err)
		}
	}

	log.Infof("collapsing idioms")
	out.Program, out.Stats = d.Optimizer.Optimize(raw)

	if c != nil {
		if data, err := ir.Marshal(out.Program); err != nil {
			log.Warningf("encoding program for cache: %s", err)
		} else if err := c.Put(out.Key, cache.KindIR, data); err != nil {
			log.Warningf("cache store: %s", err)
		}
	}
	return out, nil
}

// CompileFile reads and compiles the program at path.
func (d *Driver) CompileFile(path string) (*Compiled, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := d.Compile(src)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Run interprets c with the configured step limit.
func (d *Driver) Run(ctx context.Context, c *Compiled, in io.Reader, out io.Writer) error {
	m := vm.New(in, out, vm.WithStepLimit(d.Manifest.Run.MaxSteps))
	err := m.RunContext(ctx, c.Program)
	log.Debugf("executed %d steps", m.Steps())
	return err
}

// Lower generates the instruction listing for c.
func (d *Driver) Lower(c *Compiled) (*codegen.Listing, error) {
	return codegen.Lower(c.Program, codegen.Options{LinkLibc: d.Manifest.Build.LinkLibc})
}

// Asm writes the fasm source for c to w.
func (d *Driver) Asm(c *Compiled, w io.Writer) error {
	data, err := d.asm(c)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func (d *Driver) asm(c *Compiled) ([]byte, error) {
	key := hash.Key(c.Program, "asm", strconv.FormatBool(d.Manifest.Build.LinkLibc))
	return d.cached(key, cache.KindAsm, func() ([]byte, error) {
		l, err := d.Lower(c)
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if err := l.WriteFASM(&buf); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	})
}

// cached returns the entry for key, computing and storing it on a miss.
func (d *Driver) cached(key hash.Sum, kind cache.Kind, build func() ([]byte, error)) ([]byte, error) {
	if d.Cache != nil {
		if data, ok, err := d.Cache.Get(key, kind); err != nil {
			log.Warningf("cache lookup: %s", err)
		} else if ok {
			log.Debugf("%s %s from cache", kind, key.Short())
			return data, nil
		}
	}
	data, err := build()
	if err != nil {
		return nil, err
	}
	if d.Cache != nil {
		if err := d.Cache.Put(key, kind, data); err != nil {
			log.Warningf("cache store: %s", err)
		}
	}
	return data, nil
}

// Dump writes the optimized IR of c as an indented listing.
func Dump(c *Compiled, w io.Writer) error {
	return ir.Format(w, c.Program)
}
