package vm

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/chazu/moonshine/pkg/ir"
)

// ---------------------------------------------------------------------------
// Interpreter: tree-walking execution engine
// ---------------------------------------------------------------------------

// Interpreter runs IR programs against a Tape.
type Interpreter struct {
	tape Tape

	in  *bufio.Reader
	out *bufio.Writer
	eof bool

	limit int64 // 0 means unlimited
	steps int64

	ctx      context.Context
	ctxCheck int64 // steps until the next cancellation check
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithStepLimit stops execution with ErrStepLimit after n steps. A step is
// one executed instruction, one loop test, or one cell visited by a scan.
func WithStepLimit(n int64) Option {
	return func(i *Interpreter) { i.limit = n }
}

// New creates an interpreter reading from in and writing to out. Either may
// be nil: a nil input is always at end of stream, a nil output discards.
func New(in io.Reader, out io.Writer, opts ...Option) *Interpreter {
	if in == nil {
		in = eofReader{}
	}
	if out == nil {
		out = io.Discard
	}
	i := &Interpreter{
		in:  bufio.NewReader(in),
		out: bufio.NewWriter(out),
		ctx: context.Background(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Tape returns the interpreter's memory.
func (i *Interpreter) Tape() *Tape { return &i.tape }

// Cursor returns the current cell index.
func (i *Interpreter) Cursor() int { return i.tape.cursor }

// Reset clears the tape and the step counter. Input and output streams are
// kept.
func (i *Interpreter) Reset() {
	i.tape.Reset()
	i.steps = 0
}

// Steps returns the number of steps executed so far.
func (i *Interpreter) Steps() int64 { return i.steps }

// Run executes p to completion. The tape and cursor carry over between
// calls. Buffered output is flushed before Run returns, whatever the outcome.
func (i *Interpreter) Run(p ir.Program) error {
	return i.RunContext(context.Background(), p)
}

// RunContext is Run with cancellation. Cancellation is polled, so a
// cancelled run stops within a bounded number of steps.
func (i *Interpreter) RunContext(ctx context.Context, p ir.Program) (err error) {
	i.ctx = ctx
	i.ctxCheck = checkInterval
	defer func() {
		if ferr := i.flush(); err == nil {
			err = ferr
		}
	}()
	return i.exec(p)
}

func (i *Interpreter) flush() error {
	if err := i.out.Flush(); err != nil {
		return &IOError{Op: "write", Err: err}
	}
	return nil
}

// step charges n steps against the limit and polls for cancellation.
func (i *Interpreter) step(n int64) error {
	i.steps += n
	if i.limit > 0 && i.steps > i.limit {
		return ErrStepLimit
	}
	i.ctxCheck -= n
	if i.ctxCheck <= 0 {
		i.ctxCheck = checkInterval
		if err := i.ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

func (i *Interpreter) exec(p ir.Program) error {
	for _, ins := range p {
		if err := i.step(1); err != nil {
			return err
		}
		switch x := ins.(type) {
		case ir.MovePointer:
			i.tape.Move(x.Delta)

		case ir.AddCell:
			i.tape.Add(x.Offset, x.Delta)

		case ir.SetCell:
			i.tape.Set(x.Offset, x.Value)

		case ir.Output:
			if err := i.out.WriteByte(i.tape.At(x.Offset)); err != nil {
				return &IOError{Op: "write", Err: err}
			}

		case ir.Input:
			if err := i.read(x.Offset); err != nil {
				return err
			}

		case ir.Loop:
			for i.tape.At(0) != 0 {
				if err := i.exec(x.Body); err != nil {
					return err
				}
				if err := i.step(1); err != nil {
					return err
				}
			}

		case ir.ScanMove:
			if err := i.scan(x.Step, x.Target); err != nil {
				return err
			}

		case ir.Transfer:
			v := int(i.tape.At(0))
			if v != 0 {
				for _, t := range x.Terms {
					i.tape.Add(t.Offset, v*t.Multiplier)
				}
				i.tape.Set(0, 0)
			}

		default:
			return fmt.Errorf("unknown instruction %T", ins)
		}
	}
	return nil
}

func (i *Interpreter) read(offset int) error {
	if i.eof {
		return nil
	}
	// Anything already written must be visible before we block.
	if err := i.flush(); err != nil {
		return err
	}
	b, err := i.in.ReadByte()
	switch {
	case err == nil:
		i.tape.Set(offset, b)
	case errors.Is(err, io.EOF):
		i.eof = true
	default:
		return &IOError{Op: "read", Err: err}
	}
	return nil
}

// scan moves the cursor by step until the current cell equals target.
func (i *Interpreter) scan(step int, target byte) error {
	if i.tape.At(0) == target {
		return nil
	}
	if step == 1 || step == -1 {
		if n, ok := i.distance(step, target); ok {
			if err := i.step(int64(n)); err != nil {
				return err
			}
			i.tape.Move(step * n)
			return nil
		}
		// No cell holds target: the scan never ends.
	}
	for i.tape.At(0) != target {
		if err := i.step(1); err != nil {
			return err
		}
		i.tape.Move(step)
	}
	return nil
}

// distance finds how many unit steps separate the cursor from the nearest
// cell holding target in the given direction, wrapping around the tape.
func (i *Interpreter) distance(step int, target byte) (int, bool) {
	c := i.tape.cursor
	if step > 0 {
		if n := bytes.IndexByte(i.tape.cells[c:], target); n >= 0 {
			return n, true
		}
		if n := bytes.IndexByte(i.tape.cells[:c], target); n >= 0 {
			return ir.TapeSize - c + n, true
		}
		return 0, false
	}
	if n := bytes.LastIndexByte(i.tape.cells[:c+1], target); n >= 0 {
		return c - n, true
	}
	if n := bytes.LastIndexByte(i.tape.cells[c+1:], target); n >= 0 {
		return c + ir.TapeSize - (c + 1 + n), true
	}
	return 0, false
}

const checkInterval = 1 << 14

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }
