package optimize

import (
	"github.com/chazu/moonshine/pkg/ir"
)

// ---------------------------------------------------------------------------
// Segment folding
// ---------------------------------------------------------------------------

// cellOp is the pending effect on one cell of a segment.
type cellOp struct {
	offset int
	set    bool
	value  int // stored byte when set, else accumulated delta
}

// segment collects cursor moves and cell updates between two barriers.
type segment struct {
	ops   []cellOp
	index map[int]int // wrapped offset -> position in ops
	pos   int         // deferred cursor displacement
}

func newSegment() *segment {
	return &segment{index: make(map[int]int)}
}

func (s *segment) op(off int) *cellOp {
	key := ir.Wrap(s.pos + off)
	if i, ok := s.index[key]; ok {
		return &s.ops[i]
	}
	s.index[key] = len(s.ops)
	s.ops = append(s.ops, cellOp{offset: ir.NormalizeOffset(s.pos + off)})
	return &s.ops[len(s.ops)-1]
}

func (s *segment) add(off, delta int) {
	c := s.op(off)
	c.value = (c.value + delta) & 0xFF
}

func (s *segment) assign(off int, v byte) {
	c := s.op(off)
	c.set = true
	c.value = int(v)
}

// flush appends the segment's instructions to out: cell operations in
// first-touch order, then a single cursor move.
func (s *segment) flush(out ir.Program) ir.Program {
	for _, c := range s.ops {
		switch {
		case c.set:
			out = append(out, ir.SetCell{Value: byte(c.value), Offset: c.offset})
		case ir.NormalizeDelta(c.value) != 0:
			out = append(out, ir.AddCell{Delta: ir.NormalizeDelta(c.value), Offset: c.offset})
		}
	}
	if d := ir.NormalizeOffset(s.pos); d != 0 {
		out = append(out, ir.MovePointer{Delta: d})
	}
	s.ops = s.ops[:0]
	clear(s.index)
	s.pos = 0
	return out
}

// fold rewrites every run of MovePointer/AddCell/SetCell in p (one level, no
// recursion) into its canonical form. Barriers are copied through unchanged
// with all pending work flushed ahead of them.
func fold(p ir.Program) ir.Program {
	out := make(ir.Program, 0, len(p))
	seg := newSegment()
	for _, ins := range p {
		switch x := ins.(type) {
		case ir.MovePointer:
			seg.pos += x.Delta
		case ir.AddCell:
			seg.add(x.Offset, x.Delta)
		case ir.SetCell:
			seg.assign(x.Offset, x.Value)
		default:
			out = seg.flush(out)
			out = append(out, ins)
		}
	}
	return seg.flush(out)
}

// ---------------------------------------------------------------------------
// Dead code
// ---------------------------------------------------------------------------

// knownCell tracks what is statically known about the cell under the cursor.
type knownCell struct {
	valid bool
	value byte
}

func (k *knownCell) set(v byte) { k.valid, k.value = true, v }
func (k *knownCell) forget()    { k.valid = false }
func (k knownCell) is(v byte) bool {
	return k.valid && k.value == v
}

// eliminateDead drops instructions whose effect is already established by
// the known value of the current cell. top marks the program's outermost
// level, where every cell starts at zero.
func eliminateDead(p ir.Program, top bool, st *Stats) ir.Program {
	var cur knownCell
	if top {
		cur.set(0)
	}

	out := make(ir.Program, 0, len(p))
	for _, ins := range p {
		switch x := ins.(type) {
		case ir.MovePointer:
			if ir.Wrap(x.Delta) != 0 {
				cur.forget()
			}
		case ir.AddCell:
			if ir.Wrap(x.Offset) == 0 && cur.valid {
				cur.set(cur.value + byte(x.Delta))
			}
		case ir.SetCell:
			if ir.Wrap(x.Offset) == 0 {
				if cur.is(x.Value) {
					st.rewrite(RuleDeadSet)
					continue
				}
				cur.set(x.Value)
			}
		case ir.Input:
			if ir.Wrap(x.Offset) == 0 {
				cur.forget()
			}
		case ir.Output:
		case ir.Loop:
			if cur.is(0) {
				st.rewrite(RuleDeadLoop)
				continue
			}
			cur.set(0)
		case ir.Transfer:
			if cur.is(0) {
				st.rewrite(RuleDeadXfer)
				continue
			}
			cur.set(0)
		case ir.ScanMove:
			if cur.is(x.Target) {
				st.rewrite(RuleDeadScan)
				continue
			}
			cur.set(x.Target)
		}
		out = append(out, ins)
	}
	return out
}

// Peephole runs one round of local rewriting over a single level of p:
// segment folding followed by dead-code removal. Loop bodies are not
// visited. top must be true only for the outermost program.
func Peephole(p ir.Program, top bool) ir.Program {
	return peephole(p, top, &Stats{})
}

func peephole(p ir.Program, top bool, st *Stats) ir.Program {
	folded := fold(p)
	if n := len(p) - len(folded); n > 0 {
		st.rewriteN(RuleFold, n)
	}
	return eliminateDead(folded, top, st)
}
