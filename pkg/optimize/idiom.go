package optimize

import (
	"github.com/chazu/moonshine/pkg/ir"
)

// transferWindow bounds the offsets a loop body may touch and still be
// analyzed. Anything outside stays a Loop.
const transferWindow = 256

// Rule names recorded in Stats.Rewrites.
const (
	RuleScan     = "scan"
	RuleTransfer = "transfer"
	RuleClear    = "clear"
	RuleAnchor   = "anchor"
	RuleFold     = "fold"
	RuleDeadLoop = "dead-loop"
	RuleDeadScan = "dead-scan"
	RuleDeadXfer = "dead-transfer"
	RuleDeadSet  = "dead-set"
)

// effect is the result of symbolically running a loop body once.
type effect struct {
	deltas map[int]int // offset -> net change, mod 256
	order  []int       // offsets in first-touch order
	disp   int         // net cursor displacement
}

// simulate runs body once against a symbolic tape. It reports false when the
// body does anything other than move the cursor and add to cells, or when it
// strays outside the analysis window.
func simulate(body ir.Program) (effect, bool) {
	e := effect{deltas: make(map[int]int)}
	pos := 0
	for _, ins := range body {
		switch x := ins.(type) {
		case ir.MovePointer:
			pos += x.Delta
		case ir.AddCell:
			at := pos + x.Offset
			if at < -transferWindow || at > transferWindow {
				return effect{}, false
			}
			if _, seen := e.deltas[at]; !seen {
				e.order = append(e.order, at)
			}
			e.deltas[at] = (e.deltas[at] + x.Delta) & 0xFF
		default:
			return effect{}, false
		}
		if pos < -transferWindow || pos > transferWindow {
			return effect{}, false
		}
	}
	e.disp = pos
	return e, true
}

// inverse256 returns the multiplicative inverse of an odd d modulo 256.
func inverse256(d int) int {
	d &= 0xFF
	// Newton iteration: each step doubles the number of correct low bits.
	x := d
	for i := 0; i < 3; i++ {
		x = (x * (2 - d*x)) & 0xFF
	}
	return x
}

// Recognize replaces a loop with a cheaper equivalent instruction when its
// body matches a known idiom. The body must already be in the canonical form
// produced by Peephole. It reports false when no idiom applies or the idiom's
// preconditions cannot be established.
func Recognize(loop ir.Loop) (ir.Instruction, bool) {
	ins, _, ok := recognize(loop)
	return ins, ok
}

func recognize(loop ir.Loop) (ir.Instruction, string, bool) {
	body := loop.Body

	// [>] [<<] ...
	if len(body) == 1 {
		if mp, ok := body[0].(ir.MovePointer); ok && ir.Wrap(mp.Delta) != 0 {
			return ir.ScanMove{Step: ir.NormalizeOffset(mp.Delta)}, RuleScan, true
		}
	}

	if ins, rule, ok := recognizeLinear(body); ok {
		return ins, rule, true
	}
	if ins, ok := recognizeAnchor(body); ok {
		return ins, RuleAnchor, true
	}
	return nil, "", false
}

// recognizeLinear handles bodies that only add constants to cells around a
// fixed cursor. If the current cell changes by an odd d per iteration the loop
// runs exactly -c*inv(d) times for an initial value c, so each other cell
// receives c * (-delta*inv(d)).
func recognizeLinear(body ir.Program) (ir.Instruction, string, bool) {
	e, ok := simulate(body)
	if !ok || ir.Wrap(e.disp) != 0 {
		return nil, "", false
	}
	d := e.deltas[0]
	if d&1 == 0 {
		// Even (including zero) steps may never reach zero.
		return nil, "", false
	}
	inv := inverse256(d)

	var terms []ir.Term
	for _, off := range e.order {
		if off == 0 {
			continue
		}
		m := (-e.deltas[off] * inv) & 0xFF
		if m == 0 {
			continue
		}
		terms = append(terms, ir.Term{Offset: off, Multiplier: m})
	}
	if len(terms) == 0 {
		return ir.SetCell{Value: 0}, RuleClear, true
	}
	return ir.Transfer{Terms: terms}, RuleTransfer, true
}

// recognizeAnchor handles the "walk to the next cell holding k" loop:
//
//	[ -k >s +k ]   (canonical: add -k, add +k @s, move s)
//
// Each step restores the cell it leaves, so the loop is a scan for the
// first cell equal to -(+k) followed by clearing it. The outer Loop keeps
// the entry test.
func recognizeAnchor(body ir.Program) (ir.Instruction, bool) {
	if len(body) != 3 {
		return nil, false
	}
	mp, ok := body[2].(ir.MovePointer)
	if !ok || ir.Wrap(mp.Delta) == 0 {
		return nil, false
	}
	a1, ok1 := body[0].(ir.AddCell)
	a2, ok2 := body[1].(ir.AddCell)
	if !ok1 || !ok2 {
		return nil, false
	}
	step := ir.NormalizeOffset(mp.Delta)

	var here, there ir.AddCell
	switch {
	case ir.Wrap(a1.Offset) == 0 && ir.Wrap(a2.Offset-step) == 0:
		here, there = a1, a2
	case ir.Wrap(a2.Offset) == 0 && ir.Wrap(a1.Offset-step) == 0:
		here, there = a2, a1
	default:
		return nil, false
	}
	if ir.NormalizeDelta(here.Delta) == 0 || ir.NormalizeDelta(here.Delta+there.Delta) != 0 {
		return nil, false
	}

	return ir.Loop{Body: ir.Program{
		ir.AddCell{Delta: ir.NormalizeDelta(here.Delta)},
		ir.MovePointer{Delta: step},
		ir.ScanMove{Step: step, Target: byte(-there.Delta)},
		ir.AddCell{Delta: ir.NormalizeDelta(there.Delta)},
	}}, true
}
