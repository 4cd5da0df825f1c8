// Package ir defines the tree-shaped intermediate representation shared by
// the parser, the optimizer, the interpreter and the native code generator.
//
// A Program is an ordered list of Instructions. Loops own their nested
// Program, so the whole structure is a tree without cycles. Instructions are
// plain values: rewriting passes build new Programs instead of mutating
// nodes in place.
//
// # Machine model
//
// Every backend executes the IR against the same machine:
//
//   - a tape of TapeSize byte cells, all zero at start
//   - a cursor starting at cell 0
//   - cursor arithmetic wraps modulo TapeSize (moving left from cell 0
//     lands on cell TapeSize-1)
//   - cell arithmetic wraps modulo 256
//   - reading past the end of the input leaves the target cell unchanged
package ir

import "fmt"

// TapeSize is the number of cells on the tape. It is a power of two so that
// wrapping the cursor is a single mask in generated code.
const TapeSize = 1 << 16

// TapeMask masks a cursor value into range.
const TapeMask = TapeSize - 1

// Wrap reduces a cursor position into [0, TapeSize).
func Wrap(pos int) int {
	return pos & TapeMask
}

// Kind identifies an Instruction variant.
type Kind uint8

const (
	KindMovePointer Kind = iota + 1
	KindAddCell
	KindSetCell
	KindOutput
	KindInput
	KindLoop
	KindScanMove
	KindTransfer
)

var kindNames = map[Kind]string{
	KindMovePointer: "move",
	KindAddCell:     "add",
	KindSetCell:     "set",
	KindOutput:      "out",
	KindInput:       "in",
	KindLoop:        "loop",
	KindScanMove:    "scan",
	KindTransfer:    "transfer",
}

// String returns the listing mnemonic for the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Instruction is one node of the IR. The set of implementations is closed:
// only the variants declared in this package satisfy it.
type Instruction interface {
	Kind() Kind
	String() string
	instruction()
}

// Program is an ordered sequence of instructions.
type Program []Instruction

// MovePointer moves the cursor by Delta cells.
type MovePointer struct {
	Delta int
}

// AddCell adds Delta (mod 256) to the cell at cursor+Offset.
type AddCell struct {
	Delta  int
	Offset int
}

// SetCell stores Value into the cell at cursor+Offset.
type SetCell struct {
	Value  byte
	Offset int
}

// Output writes the cell at cursor+Offset to the output stream.
type Output struct {
	Offset int
}

// Input reads one byte into the cell at cursor+Offset. At end of input the
// cell keeps its value.
type Input struct {
	Offset int
}

// Loop runs Body while the cell under the cursor is non-zero. The test
// happens before every iteration, including the first.
type Loop struct {
	Body Program
}

// ScanMove moves the cursor by Step until the cell under it equals Target.
// The current cell is tested first, so a ScanMove that starts on Target does
// not move.
type ScanMove struct {
	Step   int
	Target byte
}

// Term is one destination of a Transfer.
type Term struct {
	Offset     int
	Multiplier int
}

// Transfer adds cell[cursor]*Multiplier into cell[cursor+Offset] for every
// term, then clears the current cell. All arithmetic is mod 256.
type Transfer struct {
	Terms []Term
}

func (MovePointer) Kind() Kind { return KindMovePointer }
func (AddCell) Kind() Kind     { return KindAddCell }
func (SetCell) Kind() Kind     { return KindSetCell }
func (Output) Kind() Kind      { return KindOutput }
func (Input) Kind() Kind       { return KindInput }
func (Loop) Kind() Kind        { return KindLoop }
func (ScanMove) Kind() Kind    { return KindScanMove }
func (Transfer) Kind() Kind    { return KindTransfer }

func (MovePointer) instruction() {}
func (AddCell) instruction()     {}
func (SetCell) instruction()     {}
func (Output) instruction()      {}
func (Input) instruction()       {}
func (Loop) instruction()        {}
func (ScanMove) instruction()    {}
func (Transfer) instruction()    {}

func (i MovePointer) String() string { return fmt.Sprintf("move %+d", i.Delta) }
func (i AddCell) String() string     { return fmt.Sprintf("add %+d%s", i.Delta, at(i.Offset)) }
func (i SetCell) String() string     { return fmt.Sprintf("set %d%s", i.Value, at(i.Offset)) }
func (i Output) String() string      { return "out" + at(i.Offset) }
func (i Input) String() string       { return "in" + at(i.Offset) }
func (i Loop) String() string        { return fmt.Sprintf("loop (%d)", len(i.Body)) }
func (i ScanMove) String() string    { return fmt.Sprintf("scan %+d until %d", i.Step, i.Target) }

func (i Transfer) String() string {
	s := "transfer"
	for _, t := range i.Terms {
		s += fmt.Sprintf(" %+d*%d", t.Offset, t.Multiplier)
	}
	return s
}

func at(offset int) string {
	if offset == 0 {
		return ""
	}
	return fmt.Sprintf(" @%+d", offset)
}

// Count returns the number of instructions in p, including the contents of
// every loop body.
func Count(p Program) int {
	n := 0
	for _, ins := range p {
		n++
		if l, ok := ins.(Loop); ok {
			n += Count(l.Body)
		}
	}
	return n
}

// Depth returns the maximum loop nesting depth of p.
func Depth(p Program) int {
	max := 0
	for _, ins := range p {
		if l, ok := ins.(Loop); ok {
			if d := 1 + Depth(l.Body); d > max {
				max = d
			}
		}
	}
	return max
}

// Equal reports whether a and b are structurally identical.
func Equal(a, b Program) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !equalInstruction(a[i], b[i]) {
			return false
		}
	}
	return true
}

func equalInstruction(a, b Instruction) bool {
	switch x := a.(type) {
	case Loop:
		y, ok := b.(Loop)
		return ok && Equal(x.Body, y.Body)
	case Transfer:
		y, ok := b.(Transfer)
		if !ok || len(x.Terms) != len(y.Terms) {
			return false
		}
		for i := range x.Terms {
			if x.Terms[i] != y.Terms[i] {
				return false
			}
		}
		return true
	default:
		// The remaining variants are comparable structs.
		return a == b
	}
}

// NormalizeDelta reduces a cell delta to the range [-128, 127].
func NormalizeDelta(d int) int {
	return int(int8(uint8(d)))
}

// NormalizeOffset reduces a cursor offset to the range
// [-TapeSize/2, TapeSize/2). Offsets that differ by a multiple of TapeSize
// address the same cell and normalize to the same value.
func NormalizeOffset(off int) int {
	w := Wrap(off)
	if w >= TapeSize/2 {
		w -= TapeSize
	}
	return w
}
