package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chazu/moonshine/compiler"
	"github.com/chazu/moonshine/manifest"
	"github.com/chazu/moonshine/pkg/driver"
	"github.com/chazu/moonshine/pkg/ir"
	"github.com/chazu/moonshine/server"
	"github.com/chazu/moonshine/toolchain"
)

func newFlagSet(name, usage string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: moonshine %s %s\n", name, usage)
		fs.PrintDefaults()
	}
	return fs
}

// runCommand interprets one program with stdin and stdout attached.
func runCommand(ctx context.Context, m *manifest.Manifest, args []string) error {
	fs := newFlagSet("run", "[options] <file>")
	input := fs.String("input", "", "Read program input from this file instead of stdin")
	fs.Int64Var(&m.Run.MaxSteps, "max-steps", m.Run.MaxSteps, "Stop after this many steps (0 means unlimited)")
	rest, err := parseFlags(fs, args, 1, 1)
	if err != nil {
		return err
	}

	var in io.Reader = os.Stdin
	if *input != "" {
		f, err := os.Open(*input)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	d, err := newDriver(m)
	if err != nil {
		return err
	}
	c, err := d.CompileFile(rest[0])
	if err != nil {
		return err
	}
	return d.Run(ctx, c, in, os.Stdout)
}

// buildCommand compiles every file given, in parallel.
func buildCommand(ctx context.Context, m *manifest.Manifest, args []string) error {
	fs := newFlagSet("build", "[options] <files...>")
	fs.StringVar(&m.Build.OutputDir, "o", m.Build.OutputDir, "Directory to write artifacts to (default next to the source)")
	fs.StringVar(&m.Build.Backend, "backend", m.Build.Backend, "Backend: fasm or native")
	fs.BoolVar(&m.Build.LinkLibc, "link-libc", m.Build.LinkLibc, "Link against libc and scan with memchr (fasm backend only)")
	jobs := fs.Int("j", runtime.NumCPU(), "Number of programs to build at once")
	rest, err := parseFlags(fs, args, 1, -1)
	if err != nil {
		return err
	}
	if m.Build.Backend == manifest.BackendNative && m.Build.LinkLibc {
		return errors.New("-link-libc needs the fasm backend")
	}

	d, err := newDriver(m)
	if err != nil {
		return err
	}
	if b, err := d.Backend(); err != nil {
		return err
	} else if b.Name() == manifest.BackendFASM {
		if err := d.Toolchain.Available(); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(*jobs, 1))
	for _, path := range rest {
		g.Go(func() error {
			a, err := d.Build(ctx, path)
			if err != nil {
				return err
			}
			log.Noticef("built %s", a.Binary)
			return nil
		})
	}
	return g.Wait()
}

// asmCommand prints the fasm source of a program.
func asmCommand(ctx context.Context, m *manifest.Manifest, args []string) error {
	fs := newFlagSet("asm", "[options] <file>")
	output := fs.String("o", "", "Write the assembly to this file instead of stdout")
	fs.BoolVar(&m.Build.LinkLibc, "link-libc", m.Build.LinkLibc, "Emit memchr calls for forward scans")
	rest, err := parseFlags(fs, args, 1, 1)
	if err != nil {
		return err
	}

	d, err := newDriver(m)
	if err != nil {
		return err
	}
	c, err := d.CompileFile(rest[0])
	if err != nil {
		return err
	}
	if *output == "" {
		return d.Asm(c, os.Stdout)
	}
	f, err := os.Create(*output)
	if err != nil {
		return err
	}
	if err := d.Asm(c, f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// dumpCommand prints the IR of a program.
func dumpCommand(ctx context.Context, m *manifest.Manifest, args []string) error {
	fs := newFlagSet("dump", "[options] <file>")
	raw := fs.Bool("raw", false, "Print the parser output without optimizing")
	source := fs.Bool("source", false, "Print the program as operator text with comments removed")
	rest, err := parseFlags(fs, args, 1, 1)
	if err != nil {
		return err
	}

	d, err := newDriver(m)
	if err != nil {
		return err
	}
	c, err := d.CompileFile(rest[0])
	if err != nil {
		return err
	}
	if *source {
		text, err := compiler.Render(c.Raw)
		if err != nil {
			return err
		}
		_, err = fmt.Println(text)
		return err
	}
	if *raw {
		return ir.Format(os.Stdout, c.Raw)
	}
	return driver.Dump(c, os.Stdout)
}

// statsCommand optimizes each file without the cache and tabulates the
// result.
func statsCommand(ctx context.Context, m *manifest.Manifest, args []string) error {
	fs := newFlagSet("stats", "<files...>")
	rest, err := parseFlags(fs, args, 1, -1)
	if err != nil {
		return err
	}

	d, err := newDriver(m)
	if err != nil {
		return err
	}
	rows := make([]statsRow, 0, len(rest))
	for _, path := range rest {
		src, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		c, err := d.Analyze(src)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		rows = append(rows, statsRow{Name: path, Stats: c.Stats, Depth: ir.Depth(c.Program)})
	}
	writeStats(os.Stdout, rows)
	return nil
}

// cleanCommand removes the assembly, object and binary derived from a path
// after asking for confirmation.
func cleanCommand(ctx context.Context, m *manifest.Manifest, args []string) error {
	fs := newFlagSet("clean", "[options] <file>")
	yes := fs.Bool("y", false, "Do not ask for confirmation")
	rest, err := parseFlags(fs, args, 1, 1)
	if err != nil {
		return err
	}

	a := toolchain.ArtifactsFor(m.OutputPath(rest[0]))
	if !*yes {
		fmt.Fprintf(os.Stderr, "This will remove %s.\n", strings.Join(a.All(), ", "))
		if !confirm(os.Stdin, os.Stderr, "Continue?") {
			return errors.New("aborted")
		}
	}
	removed, err := toolchain.Clean(m.OutputPath(rest[0]))
	for _, p := range removed {
		log.Noticef("removed %s", p)
	}
	if err != nil {
		return err
	}
	if len(removed) == 0 {
		log.Notice("nothing to remove")
	}
	return nil
}

// confirm asks a yes/no question. Anything but an answer starting with y
// is a no.
func confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N] ", question)
	line, _ := bufio.NewReader(in).ReadString('\n')
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(line)), "y")
}

func lspCommand(ctx context.Context, m *manifest.Manifest, args []string) error {
	fs := newFlagSet("lsp", "")
	if _, err := parseFlags(fs, args, 0, 0); err != nil {
		return err
	}
	d, err := newDriver(m)
	if err != nil {
		return err
	}
	return server.NewLSP(d).Run()
}

// serveCommand runs the playground until interrupted.
func serveCommand(ctx context.Context, m *manifest.Manifest, args []string) error {
	fs := newFlagSet("serve", "[options]")
	port := fs.Int("port", 4567, "Port to listen on")
	timeout := fs.Duration("timeout", 10*time.Second, "Wall time limit per run")
	output := fs.Int("max-output", 1<<20, "Bytes of output kept per run")
	fs.Int64Var(&m.Run.MaxSteps, "max-steps", m.Run.MaxSteps, "Step limit per run (0 means the server default)")
	if _, err := parseFlags(fs, args, 0, 0); err != nil {
		return err
	}

	d, err := newDriver(m)
	if err != nil {
		return err
	}
	srv := server.New(d, server.WithTimeout(*timeout), server.WithOutputLimit(*output))
	defer srv.Stop()
	return srv.ListenAndServe(ctx, fmt.Sprintf(":%d", *port))
}
