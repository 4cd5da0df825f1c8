package codegen

import (
	"bytes"
	"debug/elf"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/chazu/moonshine/compiler"
	"github.com/chazu/moonshine/pkg/image"
	"github.com/chazu/moonshine/pkg/ir"
	"github.com/chazu/moonshine/pkg/optimize"
	"github.com/chazu/moonshine/vm"
)

// buildNative compiles src through the in-process assembler and linker.
func buildNative(t *testing.T, src string) string {
	t.Helper()
	p, err := compiler.Parse(src)
	if err != nil {
		t.Fatal(err)
	}
	l := mustLower(t, optimize.Optimize(p), Options{})
	obj, err := Assemble(l)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	img, err := image.Link(obj)
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	path := filepath.Join(t.TempDir(), "prog")
	if err := image.WriteFile(path, img); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNativeImageParses(t *testing.T) {
	path := buildNative(t, "+[>+<-]>.")
	f, err := elf.Open(path)
	if err != nil {
		t.Fatalf("elf.Open: %v", err)
	}
	defer f.Close()

	if f.Type != elf.ET_EXEC || f.Machine != elf.EM_X86_64 || f.Class != elf.ELFCLASS64 {
		t.Errorf("header = %v %v %v", f.Type, f.Machine, f.Class)
	}
	if f.Entry != image.BaseAddress+image.CodeOffset {
		t.Errorf("entry = %#x", f.Entry)
	}
	if len(f.Progs) != 2 {
		t.Fatalf("progs = %d", len(f.Progs))
	}
	tape := f.Progs[1]
	if tape.Filesz != 0 || tape.Memsz != ir.TapeSize || tape.Flags != elf.PF_R|elf.PF_W {
		t.Errorf("tape segment = %+v", tape.ProgHeader)
	}
	if s := f.Section(".bss"); s == nil || s.Addr != tape.Vaddr || s.Size != ir.TapeSize {
		t.Errorf(".bss = %+v", s)
	}
	text := f.Section(".text")
	if text == nil || text.Addr != f.Entry {
		t.Fatalf(".text = %+v", text)
	}
	data, err := text.Data()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(data, []byte{0x31, 0xDB}) {
		t.Errorf("text starts % X, want xor ebx, ebx", data[:4])
	}
}

var nativePrograms = []struct {
	name, src, input string
}{
	{"hello", "++++++++[>++++[>++>+++>+++>+<<<<-]>+>+>->>+[<]<-]>>.>---.+++++++..+++.>>.<-.<.+++.------.--------.>>+.>++.", ""},
	{"echo", ",[.,]", "native echo"},
	{"eof keeps cell", "+++,.", ""},
	{"wrap left", "<+++++[-<++++++++++++>]<.", ""},
	{"transfer", "++++++[->+++++++++++<]>.<+++[->>+++++++++++<<]>>.", ""},
	{"anchor", ">>>>-<<<<+>+>+>+<<<[->+]-+++++++++++++++++++++++++++++++++++++++++++++++++.", ""},
	{"scan", "+>+>+>>++++++++[<++++++>-]<+<<<[>]<.", ""},
}

func TestNativeMatchesInterpreter(t *testing.T) {
	if runtime.GOOS != "linux" || runtime.GOARCH != "amd64" {
		t.Skip("native execution needs linux/amd64")
	}
	for _, tc := range nativePrograms {
		t.Run(tc.name, func(t *testing.T) {
			p, err := compiler.Parse(tc.src)
			if err != nil {
				t.Fatal(err)
			}
			var want bytes.Buffer
			m := vm.New(strings.NewReader(tc.input), &want, vm.WithStepLimit(10_000_000))
			if err := m.Run(p); err != nil {
				t.Fatalf("interpreter: %v", err)
			}

			cmd := exec.Command(buildNative(t, tc.src))
			cmd.Stdin = strings.NewReader(tc.input)
			got, err := cmd.Output()
			if err != nil {
				t.Fatalf("native run: %v", err)
			}
			if !bytes.Equal(got, want.Bytes()) {
				t.Errorf("native output %q, interpreter %q", got, want.Bytes())
			}
		})
	}
}
