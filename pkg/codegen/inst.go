package codegen

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Registers
// ---------------------------------------------------------------------------

// Reg is a general purpose register at a given width.
type Reg struct {
	Num   uint8 // hardware encoding, 0..7
	Width uint8 // 8, 32 or 64
}

var (
	AL  = Reg{0, 8}
	CL  = Reg{1, 8}
	DL  = Reg{2, 8}
	EAX = Reg{0, 32}
	ECX = Reg{1, 32}
	EDX = Reg{2, 32}
	EBX = Reg{3, 32}
	ESI = Reg{6, 32}
	EDI = Reg{7, 32}
	RAX = Reg{0, 64}
	RCX = Reg{1, 64}
	RDX = Reg{2, 64}
	RBX = Reg{3, 64}
	RSI = Reg{6, 64}
	RDI = Reg{7, 64}
)

var regNames = map[uint8][8]string{
	8:  {"al", "cl", "dl", "bl", "spl", "bpl", "sil", "dil"},
	32: {"eax", "ecx", "edx", "ebx", "esp", "ebp", "esi", "edi"},
	64: {"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi"},
}

func (r Reg) String() string {
	names, ok := regNames[r.Width]
	if !ok || r.Num > 7 {
		return fmt.Sprintf("r?%d/%d", r.Num, r.Width)
	}
	return names[r.Num]
}

// ---------------------------------------------------------------------------
// Operands
// ---------------------------------------------------------------------------

// Operand is an instruction argument: Reg, Imm, Mem, Ref or Sym.
type Operand interface {
	String() string
	operand()
}

// Imm is an immediate value.
type Imm int64

// Mem addresses the tape: tape + Index + Disp. Index is optional.
type Mem struct {
	Index    Reg
	HasIndex bool
	Disp     int
	Byte     bool // emit a "byte" size qualifier
}

// Ref names a label in the same listing.
type Ref string

// Sym names an external symbol resolved by the linker.
type Sym string

func (Reg) operand() {}
func (Imm) operand() {}
func (Mem) operand() {}
func (Ref) operand() {}
func (Sym) operand() {}

func (i Imm) String() string {
	if i >= 256 {
		return fmt.Sprintf("0x%X", int64(i))
	}
	return fmt.Sprintf("%d", int64(i))
}

func (m Mem) String() string {
	var sb strings.Builder
	if m.Byte {
		sb.WriteString("byte ")
	}
	sb.WriteString("[")
	sb.WriteString(tapeSymbol)
	if m.HasIndex {
		sb.WriteString(" + ")
		sb.WriteString(m.Index.String())
	}
	switch {
	case m.Disp > 0:
		fmt.Fprintf(&sb, " + %d", m.Disp)
	case m.Disp < 0:
		fmt.Fprintf(&sb, " - %d", -m.Disp)
	}
	sb.WriteString("]")
	return sb.String()
}

func (r Ref) String() string { return string(r) }
func (s Sym) String() string { return string(s) }

// tapeAt is the byte cell at tape[index].
func tapeAt(index Reg) Mem {
	return Mem{Index: index, HasIndex: true, Byte: true}
}

// ---------------------------------------------------------------------------
// Instructions and listings
// ---------------------------------------------------------------------------

// Op is an instruction mnemonic.
type Op string

const (
	MOV     Op = "mov"
	MOVZX   Op = "movzx"
	LEA     Op = "lea"
	ADD     Op = "add"
	SUB     Op = "sub"
	AND     Op = "and"
	XOR     Op = "xor"
	IMUL    Op = "imul"
	CMP     Op = "cmp"
	TEST    Op = "test"
	JMP     Op = "jmp"
	JE      Op = "je"
	JNZ     Op = "jnz"
	JS      Op = "js"
	CALL    Op = "call"
	SYSCALL Op = "syscall"
)

// Item is one line of a listing: an Inst or a Label definition.
type Item interface {
	item()
}

// Inst is a single machine instruction in Intel operand order.
type Inst struct {
	Op   Op
	Args []Operand
}

// Label defines a jump target at the current position.
type Label string

func (Inst) item()  {}
func (Label) item() {}

func (i Inst) String() string {
	if len(i.Args) == 0 {
		return string(i.Op)
	}
	args := make([]string, len(i.Args))
	for n, a := range i.Args {
		args[n] = a.String()
	}
	return string(i.Op) + " " + strings.Join(args, ", ")
}

// Listing is the lowered form of a program.
type Listing struct {
	Items   []Item
	Externs []string // external symbols called, in first-use order
}

// Len returns the number of instructions, not counting labels.
func (l *Listing) Len() int {
	n := 0
	for _, it := range l.Items {
		if _, ok := it.(Inst); ok {
			n++
		}
	}
	return n
}
