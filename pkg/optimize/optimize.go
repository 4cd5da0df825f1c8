// Package optimize rewrites raw IR into a cheaper equivalent program.
//
// Two kinds of rewriting are interleaved:
//
//   - idiom recognition replaces whole loops with ScanMove, Transfer or
//     SetCell instructions (see Recognize)
//   - peephole rewriting folds runs of cursor moves and cell updates into
//     offset-addressed operations and drops code made dead by what is known
//     about the current cell (see Peephole)
//
// The pipeline applies both bottom-up through every loop body and repeats
// until the program stops changing.
package optimize

import (
	"fmt"

	"github.com/chazu/moonshine/pkg/ir"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("moonshine.optimize")

// Level selects how much rewriting the pipeline performs.
type Level int

const (
	// LevelNone returns the program unchanged.
	LevelNone Level = iota
	// LevelPeephole folds and removes dead code but keeps every loop.
	LevelPeephole
	// LevelFull adds idiom recognition.
	LevelFull
)

// DefaultMaxIterations bounds the fixed-point loop. Real programs converge
// in two or three rounds.
const DefaultMaxIterations = 16

// ParseLevel converts a level number from configuration or flags.
func ParseLevel(n int) (Level, error) {
	if n < int(LevelNone) || n > int(LevelFull) {
		return 0, fmt.Errorf("optimization level %d out of range 0..%d", n, LevelFull)
	}
	return Level(n), nil
}

// InvariantError reports an iteration whose output failed validation. The
// pipeline discards that output and returns the last valid program.
type InvariantError struct {
	Iteration int
	Err       error
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("optimizer iteration %d produced invalid IR: %v", e.Iteration, e.Err)
}

func (e *InvariantError) Unwrap() error { return e.Err }

// Stats describes one pipeline run.
type Stats struct {
	Iterations int
	Converged  bool
	Before     int // ir.Count of the input
	After      int // ir.Count of the output
	Rewrites   map[string]int
	Discarded  *InvariantError // set when an iteration was thrown away
}

func (s *Stats) rewrite(rule string) { s.rewriteN(rule, 1) }

func (s *Stats) rewriteN(rule string, n int) {
	if s.Rewrites == nil {
		s.Rewrites = make(map[string]int)
	}
	s.Rewrites[rule] += n
}

// Optimizer holds pipeline settings. The zero value is not useful; use New.
type Optimizer struct {
	Level         Level
	MaxIterations int
}

// New returns an optimizer at the given level with the default iteration
// bound.
func New(level Level) *Optimizer {
	return &Optimizer{Level: level, MaxIterations: DefaultMaxIterations}
}

// Optimize runs the full pipeline with default settings.
func Optimize(p ir.Program) ir.Program {
	out, _ := New(LevelFull).Optimize(p)
	return out
}

// Optimize rewrites p until it reaches a fixed point or the iteration bound.
// The input is not modified.
func (o *Optimizer) Optimize(p ir.Program) (ir.Program, *Stats) {
	return o.optimize(p, true)
}

// OptimizeFragment is Optimize for code taken out of a larger program. No
// cell value is assumed on entry, so a leading loop is kept.
func (o *Optimizer) OptimizeFragment(p ir.Program) (ir.Program, *Stats) {
	return o.optimize(p, false)
}

func (o *Optimizer) optimize(p ir.Program, top bool) (ir.Program, *Stats) {
	st := &Stats{Before: ir.Count(p), Rewrites: make(map[string]int)}
	if o.Level <= LevelNone {
		st.After = st.Before
		st.Converged = true
		return p, st
	}

	limit := o.MaxIterations
	if limit <= 0 {
		limit = DefaultMaxIterations
	}

	cur := p
	for i := 1; i <= limit; i++ {
		next := o.pass(cur, top, st)
		st.Iterations = i
		if err := ir.Validate(next); err != nil {
			st.Discarded = &InvariantError{Iteration: i, Err: err}
			log.Errorf("%s", st.Discarded)
			break
		}
		if ir.Equal(cur, next) {
			st.Converged = true
			break
		}
		cur = next
	}
	if !st.Converged && st.Discarded == nil {
		log.Warningf("no fixed point after %d iterations", limit)
	}

	st.After = ir.Count(cur)
	log.Debugf("optimized %d -> %d instructions in %d iterations", st.Before, st.After, st.Iterations)
	return cur, st
}

// pass is one bottom-up round: loop bodies first, then idioms on the
// rewritten loops, then peephole on this level.
func (o *Optimizer) pass(p ir.Program, top bool, st *Stats) ir.Program {
	out := make(ir.Program, 0, len(p))
	for _, ins := range p {
		l, ok := ins.(ir.Loop)
		if !ok {
			out = append(out, ins)
			continue
		}
		l = ir.Loop{Body: o.pass(l.Body, false, st)}
		if o.Level >= LevelFull {
			if r, rule, ok := recognize(l); ok {
				st.rewrite(rule)
				out = append(out, r)
				continue
			}
		}
		out = append(out, l)
	}
	return peephole(out, top, st)
}
