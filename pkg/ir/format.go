package ir

import (
	"fmt"
	"io"
	"strings"
)

// Format writes an indented listing of p to w, one instruction per line.
func Format(w io.Writer, p Program) error {
	return format(w, p, 0)
}

func format(w io.Writer, p Program, indent int) error {
	pad := strings.Repeat("  ", indent)
	for _, ins := range p {
		if l, ok := ins.(Loop); ok {
			if _, err := fmt.Fprintf(w, "%sloop {\n", pad); err != nil {
				return err
			}
			if err := format(w, l.Body, indent+1); err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "%s}\n", pad); err != nil {
				return err
			}
			continue
		}
		if _, err := fmt.Fprintf(w, "%s%s\n", pad, ins); err != nil {
			return err
		}
	}
	return nil
}

// String returns the indented listing of p.
func (p Program) String() string {
	var sb strings.Builder
	_ = Format(&sb, p)
	return sb.String()
}
