package compiler

import "fmt"

// ---------------------------------------------------------------------------
// Operator bytes
// ---------------------------------------------------------------------------

// The eight operator bytes of the language. Every other byte is a comment.
const (
	OpRight  = '>'
	OpLeft   = '<'
	OpInc    = '+'
	OpDec    = '-'
	OpOutput = '.'
	OpInput  = ','
	OpOpen   = '['
	OpClose  = ']'
)

// Position is a location in program text.
type Position struct {
	Offset int // byte offset, 0-based
	Line   int // 1-based
	Column int // 1-based, in bytes
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}
