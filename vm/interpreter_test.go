package vm

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/chazu/moonshine/compiler"
	"github.com/chazu/moonshine/pkg/ir"
	"github.com/chazu/moonshine/pkg/optimize"
)

const helloWorld = `++++++++[>++++[>++>+++>+++>+<<<<-]>+>+>->>+[<]<-]>>.>---.+++++++..+++.>>.<-.<.+++.------.--------.>>+.>++.`

func mustParse(t *testing.T, src string) ir.Program {
	t.Helper()
	p, err := compiler.Parse(src)
	if err != nil {
		t.Fatalf("Parse(%q): %v", src, err)
	}
	return p
}

// run executes src both raw and optimized and checks that the two agree.
func run(t *testing.T, src, input string) (string, *Interpreter) {
	t.Helper()
	raw := mustParse(t, src)

	var rawOut bytes.Buffer
	rawVM := New(strings.NewReader(input), &rawOut, WithStepLimit(10_000_000))
	if err := rawVM.Run(raw); err != nil {
		t.Fatalf("raw run of %q: %v", src, err)
	}

	var optOut bytes.Buffer
	optVM := New(strings.NewReader(input), &optOut, WithStepLimit(10_000_000))
	if err := optVM.Run(optimize.Optimize(raw)); err != nil {
		t.Fatalf("optimized run of %q: %v", src, err)
	}

	if rawOut.String() != optOut.String() {
		t.Errorf("output differs for %q: raw %q, optimized %q", src, rawOut.String(), optOut.String())
	}
	if !bytes.Equal(rawVM.Tape().Bytes(), optVM.Tape().Bytes()) {
		t.Errorf("tape differs for %q", src)
	}
	if rawVM.Cursor() != optVM.Cursor() {
		t.Errorf("cursor differs for %q: raw %d, optimized %d", src, rawVM.Cursor(), optVM.Cursor())
	}
	return optOut.String(), optVM
}

func TestHelloWorld(t *testing.T) {
	out, _ := run(t, helloWorld, "")
	if out != "Hello World!\n" {
		t.Errorf("output = %q", out)
	}
}

func TestCellWraparound(t *testing.T) {
	_, vm := run(t, strings.Repeat("+", 256), "")
	if got := vm.Tape().Cell(0); got != 0 {
		t.Errorf("256 increments: cell = %d, want 0", got)
	}

	_, vm = run(t, "-", "")
	if got := vm.Tape().Cell(0); got != 255 {
		t.Errorf("0-1: cell = %d, want 255", got)
	}
}

func TestCursorWraparound(t *testing.T) {
	_, vm := run(t, "<+", "")
	if vm.Cursor() != ir.TapeSize-1 {
		t.Errorf("cursor = %d, want %d", vm.Cursor(), ir.TapeSize-1)
	}
	if vm.Tape().Cell(ir.TapeSize-1) != 1 {
		t.Error("increment did not land on the last cell")
	}

	_, vm = run(t, "<>", "")
	if vm.Cursor() != 0 {
		t.Errorf("cursor = %d, want 0", vm.Cursor())
	}
}

func TestEcho(t *testing.T) {
	out, _ := run(t, ",.", "A")
	if out != "A" {
		t.Errorf("output = %q, want %q", out, "A")
	}

	out, _ = run(t, ",[.,]", "moonshine")
	if out != "moonshine" {
		t.Errorf("cat output = %q", out)
	}
}

func TestInputEOFLeavesCell(t *testing.T) {
	_, vm := run(t, "+++++,", "")
	if got := vm.Tape().Cell(0); got != 5 {
		t.Errorf("cell after EOF read = %d, want 5", got)
	}

	_, vm = run(t, ",>,>,", "x")
	if vm.Tape().Cell(0) != 'x' || vm.Tape().Cell(1) != 0 || vm.Tape().Cell(2) != 0 {
		t.Errorf("cells = %v", vm.Tape().Bytes()[:3])
	}
}

func TestClearAndTransfer(t *testing.T) {
	out, vm := run(t, "+++[-]", "")
	if out != "" {
		t.Errorf("unexpected output %q", out)
	}
	if vm.Tape().Cell(0) != 0 {
		t.Errorf("cell = %d, want 0", vm.Tape().Cell(0))
	}

	_, vm = run(t, "++++[->++<]", "")
	if vm.Tape().Cell(0) != 0 || vm.Tape().Cell(1) != 8 {
		t.Errorf("cells = %d %d, want 0 8", vm.Tape().Cell(0), vm.Tape().Cell(1))
	}
}

func TestScan(t *testing.T) {
	tests := []struct {
		src    string
		cursor int
	}{
		{"+>+>+>+>>+<<<<<[>]", 4},
		{"<<+<+<+[<]", ir.TapeSize - 5},
		{"+>>+>>+<<<<[>>]", 6},
		{">>>+[<]", 2},
		{"+" + strings.Repeat(">+", 10) + "[>]", 11},
		// Wraps off the right edge back to cell 0.
		{"<+[>]", 0},
	}
	for _, tc := range tests {
		_, vm := run(t, tc.src, "")
		if vm.Cursor() != tc.cursor {
			t.Errorf("%q: cursor = %d, want %d", tc.src, vm.Cursor(), tc.cursor)
		}
	}
}

func TestScanWrapsAroundTape(t *testing.T) {
	// Every cell but 3 is non-zero; a right scan from cell 10 wraps to 3.
	vm := New(nil, nil)
	for c := 0; c < ir.TapeSize; c++ {
		if c != 3 {
			vm.Tape().cells[c] = 1
		}
	}
	vm.Tape().cursor = 10
	if err := vm.Run(ir.Program{ir.ScanMove{Step: 1}}); err != nil {
		t.Fatal(err)
	}
	if vm.Cursor() != 3 {
		t.Errorf("cursor = %d, want 3", vm.Cursor())
	}
	if vm.Steps() != 1+ir.TapeSize-7 {
		t.Errorf("steps = %d, want %d", vm.Steps(), 1+ir.TapeSize-7)
	}

	// And a left scan from cell 1 wraps the other way.
	vm.Tape().cursor = 1
	vm.Tape().cells[3] = 1
	vm.Tape().cells[ir.TapeSize-2] = 0
	if err := vm.Run(ir.Program{ir.ScanMove{Step: -1}}); err != nil {
		t.Fatal(err)
	}
	if vm.Cursor() != ir.TapeSize-2 {
		t.Errorf("cursor = %d, want %d", vm.Cursor(), ir.TapeSize-2)
	}
}

func TestStepLimit(t *testing.T) {
	p := optimize.Optimize(mustParse(t, "+[>+]"))
	vm := New(nil, nil, WithStepLimit(100_000))
	if err := vm.Run(p); !errors.Is(err, ErrStepLimit) {
		t.Fatalf("err = %v, want ErrStepLimit", err)
	}
	if vm.Steps() <= 100_000 {
		t.Errorf("steps = %d", vm.Steps())
	}

	// A scan for a value that is nowhere on the tape never ends.
	vm = New(nil, nil, WithStepLimit(1_000_000))
	err := vm.Run(ir.Program{ir.AddCell{Delta: 1}, ir.ScanMove{Step: 1, Target: 7}})
	if !errors.Is(err, ErrStepLimit) {
		t.Fatalf("err = %v, want ErrStepLimit", err)
	}
}

func TestRunContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	vm := New(nil, nil)
	err := vm.RunContext(ctx, mustParse(t, "+[]"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("device gone") }

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestIOErrors(t *testing.T) {
	vm := New(failingReader{}, nil)
	err := vm.Run(ir.Program{ir.Input{}})
	var ioe *IOError
	if !errors.As(err, &ioe) || ioe.Op != "read" {
		t.Fatalf("read err = %v, want *IOError(read)", err)
	}

	vm = New(nil, failingWriter{})
	err = vm.Run(ir.Program{ir.Output{}})
	if !errors.As(err, &ioe) || ioe.Op != "write" {
		t.Fatalf("write err = %v, want *IOError(write)", err)
	}
}

// promptReader records how much output was visible when input was requested.
type promptReader struct {
	out  *bytes.Buffer
	seen []string
}

func (r *promptReader) Read(p []byte) (int, error) {
	r.seen = append(r.seen, r.out.String())
	if len(r.seen) > 1 {
		return 0, io.EOF
	}
	p[0] = 'y'
	return 1, nil
}

func TestOutputFlushedBeforeInput(t *testing.T) {
	var out bytes.Buffer
	in := &promptReader{out: &out}
	vm := New(in, &out)
	if err := vm.Run(mustParse(t, "++++++++[>++++++++<-]>+.,.")); err != nil {
		t.Fatal(err)
	}
	if len(in.seen) == 0 || in.seen[0] != "A" {
		t.Errorf("output visible at first read = %q, want %q", in.seen, "A")
	}
	if out.String() != "Ay" {
		t.Errorf("output = %q", out.String())
	}
}

func TestTransferMultipliers(t *testing.T) {
	vm := New(nil, nil)
	p := ir.Program{
		ir.SetCell{Value: 3},
		ir.SetCell{Value: 10, Offset: -1},
		ir.Transfer{Terms: []ir.Term{{Offset: 1, Multiplier: 2}, {Offset: -1, Multiplier: 255}}},
	}
	if err := vm.Run(p); err != nil {
		t.Fatal(err)
	}
	if got := vm.Tape().Cell(1); got != 6 {
		t.Errorf("cell 1 = %d, want 6", got)
	}
	if got := vm.Tape().Cell(-1); got != 7 {
		t.Errorf("cell -1 = %d, want 7", got)
	}
	if got := vm.Tape().Cell(0); got != 0 {
		t.Errorf("cell 0 = %d, want 0", got)
	}
}

func TestReset(t *testing.T) {
	vm := New(nil, nil)
	if err := vm.Run(mustParse(t, "+>+")); err != nil {
		t.Fatal(err)
	}
	vm.Reset()
	if vm.Cursor() != 0 || vm.Steps() != 0 || vm.Tape().Cell(0) != 0 {
		t.Error("Reset did not clear state")
	}
}
