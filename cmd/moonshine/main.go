// Moonshine CLI - compiles and interprets brainfuck programs
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/tebeka/atexit"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/moonshine/manifest"
	"github.com/chazu/moonshine/pkg/cache"
	"github.com/chazu/moonshine/pkg/driver"
)

var log = commonlog.GetLogger("moonshine.cli")

// command is a subcommand. run receives the arguments after its name.
type command struct {
	name    string
	summary string
	run     func(ctx context.Context, m *manifest.Manifest, args []string) error
}

var commands = []command{
	{"run", "interpret a program", runCommand},
	{"build", "compile programs to executables", buildCommand},
	{"asm", "print the generated assembly", asmCommand},
	{"dump", "print the intermediate representation", dumpCommand},
	{"stats", "show what the optimizer did", statsCommand},
	{"clean", "remove the artifacts of a build", cleanCommand},
	{"lsp", "start the language server on stdio", lspCommand},
	{"serve", "start the playground server", serveCommand},
}

func main() {
	verbose := flag.Bool("v", false, "Verbose output")
	debug := flag.Bool("debug", false, "Debug output")
	quiet := flag.Bool("q", false, "Only report warnings and errors")
	noCache := flag.Bool("no-cache", false, "Do not read or write the compilation cache")
	level := flag.Int("O", -1, "Optimization level 0-2 (default from moonshine.toml, else 2)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: moonshine [options] <command> [arguments]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		for _, c := range commands {
			fmt.Fprintf(os.Stderr, "  %-7s %s\n", c.name, c.summary)
		}
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  moonshine run hello.b              # Interpret\n")
		fmt.Fprintf(os.Stderr, "  moonshine build hello.b            # Write hello.asm, hello.o and hello\n")
		fmt.Fprintf(os.Stderr, "  moonshine build -backend native *.b\n")
		fmt.Fprintf(os.Stderr, "  moonshine clean hello.b            # Remove them again\n")
		fmt.Fprintf(os.Stderr, "\nCompiling with the fasm backend requires `fasm` and `ld` on PATH.\n")
	}
	flag.Parse()

	verbosity := 0
	switch {
	case *debug:
		verbosity = 2
	case *verbose:
		verbosity = 1
	case *quiet:
		verbosity = -1
	}
	commonlog.Configure(verbosity, nil)

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		atexit.Exit(2)
	}
	cmd, ok := lookup(args[0])
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
		flag.Usage()
		atexit.Exit(2)
	}

	m, err := loadManifest(*level, *noCache)
	if err != nil {
		fail(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err = cmd.run(ctx, m, args[1:])
	stop()
	if err != nil {
		fail(err)
	}
	atexit.Exit(0)
}

func lookup(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	atexit.Exit(1)
}

// loadManifest finds moonshine.toml above the working directory and applies
// the global flags to it.
func loadManifest(level int, noCache bool) (*manifest.Manifest, error) {
	m, err := manifest.FindAndLoad(".")
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = manifest.Default()
		// Outside a project there is nowhere sensible to keep a database.
		m.Cache.Path = ""
	} else {
		log.Debugf("using %s", m.Resolve(manifest.FileName))
	}
	if level >= 0 {
		m.Optimize.Level = level
	}
	if noCache {
		m.Cache.Disabled = true
	}
	return m, nil
}

// newDriver opens the cache described by m and creates a driver. The cache
// is closed when the process exits through atexit.
func newDriver(m *manifest.Manifest) (*driver.Driver, error) {
	var c *cache.Cache
	if !m.Cache.Disabled {
		var err error
		if c, err = cache.Open(m.CachePath(), m.Cache.MemoryEntries); err != nil {
			return nil, fmt.Errorf("opening cache: %w", err)
		}
		atexit.Register(func() {
			if err := c.Close(); err != nil {
				log.Warningf("closing cache: %s", err)
			}
		})
	}
	return driver.New(m, c)
}

// parseFlags parses args with fs and checks the number of positional
// arguments. max < 0 means no upper bound.
func parseFlags(fs *flag.FlagSet, args []string, min, max int) ([]string, error) {
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	rest := fs.Args()
	if len(rest) < min || (max >= 0 && len(rest) > max) {
		fs.Usage()
		return nil, errUsage
	}
	return rest, nil
}

var errUsage = errors.New("wrong number of arguments")
