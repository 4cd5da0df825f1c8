package compiler

import (
	"fmt"
	"strings"

	"github.com/chazu/moonshine/pkg/ir"
)

// Render writes p back out as program text. Only the variants the parser
// produces (plus coalesced moves and adds at offset 0) can be rendered.
func Render(p ir.Program) (string, error) {
	var sb strings.Builder
	if err := render(&sb, p); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func render(sb *strings.Builder, p ir.Program) error {
	for _, ins := range p {
		switch x := ins.(type) {
		case ir.MovePointer:
			if x.Delta >= 0 {
				sb.WriteString(strings.Repeat(string(rune(OpRight)), x.Delta))
			} else {
				sb.WriteString(strings.Repeat(string(rune(OpLeft)), -x.Delta))
			}
		case ir.AddCell:
			if x.Offset != 0 {
				return fmt.Errorf("render: cannot express %v", ins)
			}
			if x.Delta >= 0 {
				sb.WriteString(strings.Repeat(string(rune(OpInc)), x.Delta))
			} else {
				sb.WriteString(strings.Repeat(string(rune(OpDec)), -x.Delta))
			}
		case ir.Output:
			if x.Offset != 0 {
				return fmt.Errorf("render: cannot express %v", ins)
			}
			sb.WriteByte(OpOutput)
		case ir.Input:
			if x.Offset != 0 {
				return fmt.Errorf("render: cannot express %v", ins)
			}
			sb.WriteByte(OpInput)
		case ir.Loop:
			sb.WriteByte(OpOpen)
			if err := render(sb, x.Body); err != nil {
				return err
			}
			sb.WriteByte(OpClose)
		default:
			return fmt.Errorf("render: cannot express %v", ins)
		}
	}
	return nil
}
