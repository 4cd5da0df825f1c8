package server

import "github.com/chazu/moonshine/compiler"

// RunRequest asks the playground to interpret a program.
type RunRequest struct {
	Source   string `cbor:"1,keyasint"`
	Input    []byte `cbor:"2,keyasint,omitempty"`
	MaxSteps int64  `cbor:"3,keyasint,omitempty"` // lowers the server limit
}

// Diagnostic is an unbalanced bracket in submitted source. Line and Column
// are 1-based.
type Diagnostic struct {
	Message string `cbor:"1,keyasint"`
	Offset  int    `cbor:"2,keyasint"`
	Line    int    `cbor:"3,keyasint"`
	Column  int    `cbor:"4,keyasint"`
}

// RunResponse is the outcome of a run. Source errors are reported in
// Diagnostics and runtime failures in Error; neither is an RPC error.
type RunResponse struct {
	ID          string       `cbor:"1,keyasint"`
	Output      []byte       `cbor:"2,keyasint,omitempty"`
	Steps       int64        `cbor:"3,keyasint,omitempty"`
	Diagnostics []Diagnostic `cbor:"4,keyasint,omitempty"`
	Error       string       `cbor:"5,keyasint,omitempty"`
	StepLimit   bool         `cbor:"6,keyasint,omitempty"` // stopped by the step limit
}

// CompileRequest asks for the optimized IR and assembly of a program.
type CompileRequest struct {
	Source string `cbor:"1,keyasint"`
}

// CompileResponse carries the compiler's view of a program.
type CompileResponse struct {
	ID          string         `cbor:"1,keyasint"`
	Diagnostics []Diagnostic   `cbor:"2,keyasint,omitempty"`
	IR          string         `cbor:"3,keyasint,omitempty"`
	Asm         string         `cbor:"4,keyasint,omitempty"`
	Key         string         `cbor:"5,keyasint,omitempty"`
	Before      int            `cbor:"6,keyasint,omitempty"`
	After       int            `cbor:"7,keyasint,omitempty"`
	Iterations  int            `cbor:"8,keyasint,omitempty"`
	Rewrites    map[string]int `cbor:"9,keyasint,omitempty"`
}

// ResultRequest fetches a stored run.
type ResultRequest struct {
	ID string `cbor:"1,keyasint"`
}

// diagnose converts every unbalanced bracket in src.
func diagnose(src string) []Diagnostic {
	var out []Diagnostic
	for _, e := range compiler.Check(src) {
		out = append(out, Diagnostic{
			Message: e.Error(),
			Offset:  e.Offset,
			Line:    e.Line,
			Column:  e.Column,
		})
	}
	return out
}
