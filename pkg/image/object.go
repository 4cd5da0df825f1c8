// Package image links machine code into a static ELF64 executable for
// x86-64 Linux.
//
// The layout is fixed: one read/execute segment holding the ELF header,
// program headers and code, followed by one read/write segment for the tape
// that occupies no space in the file.
package image

import "fmt"

// RelocKind identifies how a relocation is patched.
type RelocKind uint8

const (
	// RelocTape32 is a 32-bit absolute address of tape+Addend, sign
	// extended by the CPU (the disp32 of a SIB operand with no base).
	RelocTape32 RelocKind = iota + 1
)

func (k RelocKind) String() string {
	switch k {
	case RelocTape32:
		return "tape32"
	}
	return fmt.Sprintf("RelocKind(%d)", uint8(k))
}

// Reloc is a place in Text that needs the tape address.
type Reloc struct {
	Offset int // byte offset into Text
	Kind   RelocKind
	Addend int64
}

// Object is position-dependent machine code awaiting layout.
type Object struct {
	Text     []byte
	Entry    int // offset of the entry point in Text
	TapeSize int // bytes of zeroed read/write memory
	Relocs   []Reloc
}
