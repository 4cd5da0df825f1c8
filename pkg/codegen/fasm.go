package codegen

import (
	"bufio"
	"fmt"
	"io"

	"github.com/chazu/moonshine/pkg/ir"
)

// WriteFASM renders l as a fasm ELF64 object source file.
func (l *Listing) WriteFASM(w io.Writer) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintln(bw, "format ELF64")
	fmt.Fprintln(bw, "; generated by moonshine")
	fmt.Fprintf(bw, "public %s\n", entrySymbol)
	for _, name := range l.Externs {
		fmt.Fprintf(bw, "extrn %s\n", name)
	}
	fmt.Fprintln(bw)
	fmt.Fprintln(bw, "section '.bss' writable")
	fmt.Fprintf(bw, "%s rb %d\n", tapeSymbol, ir.TapeSize)
	fmt.Fprintln(bw)
	fmt.Fprintln(bw, "section '.text' executable")

	for _, it := range l.Items {
		switch x := it.(type) {
		case Label:
			fmt.Fprintf(bw, "%s:\n", x)
		case Inst:
			fmt.Fprintf(bw, "    %s\n", x)
		}
	}
	return bw.Flush()
}
