package vm

import (
	"github.com/chazu/moonshine/pkg/ir"
)

// ---------------------------------------------------------------------------
// Tape: the machine's memory
// ---------------------------------------------------------------------------

// Tape is the interpreter's memory: ir.TapeSize cells, all zero at start.
type Tape struct {
	cells  [ir.TapeSize]byte
	cursor int
}

// Cursor returns the current cell index.
func (t *Tape) Cursor() int { return t.cursor }

// Move shifts the cursor by delta, wrapping at both ends.
func (t *Tape) Move(delta int) {
	t.cursor = ir.Wrap(t.cursor + delta)
}

// At returns the cell at cursor+offset.
func (t *Tape) At(offset int) byte {
	return t.cells[ir.Wrap(t.cursor+offset)]
}

// Set stores v at cursor+offset.
func (t *Tape) Set(offset int, v byte) {
	t.cells[ir.Wrap(t.cursor+offset)] = v
}

// Add adds delta (mod 256) to the cell at cursor+offset.
func (t *Tape) Add(offset, delta int) {
	i := ir.Wrap(t.cursor + offset)
	t.cells[i] += byte(delta)
}

// Cell returns the cell at absolute index i (wrapped).
func (t *Tape) Cell(i int) byte {
	return t.cells[ir.Wrap(i)]
}

// Bytes returns a copy of the whole tape.
func (t *Tape) Bytes() []byte {
	out := make([]byte, ir.TapeSize)
	copy(out, t.cells[:])
	return out
}

// Reset zeroes every cell and returns the cursor to 0.
func (t *Tape) Reset() {
	clear(t.cells[:])
	t.cursor = 0
}
