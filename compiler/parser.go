// Package compiler turns program text into the raw IR.
//
// The parser is deliberately literal: every operator byte becomes exactly one
// instruction and bracket pairs become nested Loop nodes. All rewriting is
// left to package optimize.
package compiler

import (
	"errors"
	"fmt"

	"github.com/chazu/moonshine/pkg/ir"
)

// ErrUnbalancedLoop is matched by every ParseError.
var ErrUnbalancedLoop = errors.New("unbalanced loop")

// ParseErrorKind distinguishes the two ways brackets can be unbalanced.
type ParseErrorKind int

const (
	// UnmatchedOpen is a '[' with no closing ']' before end of input.
	UnmatchedOpen ParseErrorKind = iota
	// UnmatchedClose is a ']' with no open loop.
	UnmatchedClose
)

// ParseError reports an unbalanced bracket.
type ParseError struct {
	Kind ParseErrorKind
	Position
}

func (e *ParseError) Error() string {
	bracket := byte(OpOpen)
	if e.Kind == UnmatchedClose {
		bracket = OpClose
	}
	return fmt.Sprintf("unbalanced loop: unmatched '%c' at position %d (line %d, column %d)",
		bracket, e.Offset, e.Line, e.Column)
}

// Is makes errors.Is(err, ErrUnbalancedLoop) hold for every ParseError.
func (e *ParseError) Is(target error) bool {
	return target == ErrUnbalancedLoop
}

// frame is an open loop context.
type frame struct {
	body ir.Program
	at   Position
}

// Parser scans program text left to right, keeping a stack of open loops.
type Parser struct {
	src   []byte
	pos   Position
	stack []frame
	body  ir.Program
	errs  []*ParseError
}

// NewParser creates a parser for src.
func NewParser(src []byte) *Parser {
	return &Parser{
		src: src,
		pos: Position{Line: 1, Column: 1},
	}
}

// Parse converts program text to raw IR. It fails with a *ParseError on the
// first unmatched ']' or, at end of input, on the innermost unclosed '['.
func Parse(src string) (ir.Program, error) {
	return ParseBytes([]byte(src))
}

// ParseBytes is Parse for a byte slice.
func ParseBytes(src []byte) (ir.Program, error) {
	p := NewParser(src)
	prog := p.run(true)
	if len(p.errs) > 0 {
		return nil, p.errs[0]
	}
	return prog, nil
}

// Check reports every unbalanced bracket in src, in source order. Unmatched
// closing brackets are skipped so that scanning can continue.
func Check(src string) []*ParseError {
	p := NewParser([]byte(src))
	p.run(false)
	return p.errs
}

// run performs the scan. With stopEarly set it returns at the first error.
func (p *Parser) run(stopEarly bool) ir.Program {
	for _, b := range p.src {
		at := p.pos
		p.advance(b)

		switch b {
		case OpRight:
			p.body = append(p.body, ir.MovePointer{Delta: 1})
		case OpLeft:
			p.body = append(p.body, ir.MovePointer{Delta: -1})
		case OpInc:
			p.body = append(p.body, ir.AddCell{Delta: 1})
		case OpDec:
			p.body = append(p.body, ir.AddCell{Delta: -1})
		case OpOutput:
			p.body = append(p.body, ir.Output{})
		case OpInput:
			p.body = append(p.body, ir.Input{})
		case OpOpen:
			p.stack = append(p.stack, frame{body: p.body, at: at})
			p.body = nil
		case OpClose:
			if len(p.stack) == 0 {
				p.errs = append(p.errs, &ParseError{Kind: UnmatchedClose, Position: at})
				if stopEarly {
					return nil
				}
				continue
			}
			top := p.stack[len(p.stack)-1]
			p.stack = p.stack[:len(p.stack)-1]
			p.body = append(top.body, ir.Loop{Body: p.body})
		}
	}

	if len(p.stack) > 0 {
		if stopEarly {
			top := p.stack[len(p.stack)-1]
			p.errs = append(p.errs, &ParseError{Kind: UnmatchedOpen, Position: top.at})
			return nil
		}
		for _, f := range p.stack {
			p.errs = append(p.errs, &ParseError{Kind: UnmatchedOpen, Position: f.at})
		}
		sortErrors(p.errs)
	}
	return p.body
}

func (p *Parser) advance(b byte) {
	p.pos.Offset++
	if b == '\n' {
		p.pos.Line++
		p.pos.Column = 1
	} else {
		p.pos.Column++
	}
}

// sortErrors orders errors by offset. Lists are short, so insertion sort.
func sortErrors(errs []*ParseError) {
	for i := 1; i < len(errs); i++ {
		for j := i; j > 0 && errs[j].Offset < errs[j-1].Offset; j-- {
			errs[j], errs[j-1] = errs[j-1], errs[j]
		}
	}
}
