package ir

import "fmt"

// InvalidError reports an instruction that breaks an IR invariant.
type InvalidError struct {
	Path        []int // index path from the root program to the instruction
	Instruction Instruction
	Reason      string
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("invalid instruction %v at %v: %s", e.Instruction, e.Path, e.Reason)
}

// Validate checks the structural invariants of p:
//
//   - a ScanMove step is non-zero modulo TapeSize
//   - Transfer term offsets are non-zero modulo TapeSize and distinct
//   - Loop and instruction values are known variants
//
// Validate recurses into loop bodies.
func Validate(p Program) error {
	return validate(p, nil)
}

func validate(p Program, path []int) error {
	for i, ins := range p {
		here := append(append([]int(nil), path...), i)
		fail := func(reason string) error {
			return &InvalidError{Path: here, Instruction: ins, Reason: reason}
		}
		switch x := ins.(type) {
		case MovePointer, AddCell, SetCell, Output, Input:
		case ScanMove:
			if Wrap(x.Step) == 0 {
				return fail("scan step is zero")
			}
		case Transfer:
			seen := make(map[int]bool, len(x.Terms))
			for _, t := range x.Terms {
				off := Wrap(t.Offset)
				if off == 0 {
					return fail("transfer into the source cell")
				}
				if seen[off] {
					return fail(fmt.Sprintf("duplicate transfer offset %d", t.Offset))
				}
				seen[off] = true
			}
		case Loop:
			if err := validate(x.Body, here); err != nil {
				return err
			}
		case nil:
			return fail("nil instruction")
		default:
			return fail(fmt.Sprintf("unknown instruction type %T", ins))
		}
	}
	return nil
}
