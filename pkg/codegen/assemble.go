package codegen

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/chazu/moonshine/pkg/image"
	"github.com/chazu/moonshine/pkg/ir"
)

// ErrExternalCall is returned by Assemble for listings that call into libc.
// Those must be built with the external toolchain.
var ErrExternalCall = errors.New("external calls need the system linker")

// EncodeError reports an instruction form the assembler cannot encode.
type EncodeError struct {
	Inst Inst
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("cannot encode %q", e.Inst.String())
}

// fixup is a rel32 field waiting for its label's address.
type fixup struct {
	at    int // offset of the rel32 field
	label string
}

type assembler struct {
	buf    []byte
	labels map[string]int
	fixups []fixup
	relocs []image.Reloc
}

// Assemble encodes l into machine code. Jumps are resolved in a second pass
// once every label's offset is known; tape addresses are left as
// relocations for image.Link.
func Assemble(l *Listing) (*image.Object, error) {
	a := &assembler{labels: make(map[string]int)}

	for _, it := range l.Items {
		switch x := it.(type) {
		case Label:
			if _, dup := a.labels[string(x)]; dup {
				return nil, fmt.Errorf("duplicate label %q", x)
			}
			a.labels[string(x)] = len(a.buf)
		case Inst:
			if err := a.inst(x); err != nil {
				return nil, err
			}
		}
	}

	for _, f := range a.fixups {
		target, ok := a.labels[f.label]
		if !ok {
			return nil, fmt.Errorf("undefined label %q", f.label)
		}
		rel := target - (f.at + 4)
		binary.LittleEndian.PutUint32(a.buf[f.at:], uint32(int32(rel)))
	}

	entry, ok := a.labels[entrySymbol]
	if !ok {
		return nil, fmt.Errorf("listing has no %s label", entrySymbol)
	}
	return &image.Object{
		Text:     a.buf,
		Entry:    entry,
		TapeSize: ir.TapeSize,
		Relocs:   a.relocs,
	}, nil
}

func (a *assembler) bytes(b ...byte) {
	a.buf = append(a.buf, b...)
}

func (a *assembler) imm32(v int64) {
	a.buf = binary.LittleEndian.AppendUint32(a.buf, uint32(int32(v)))
}

func modrm(mod, reg, rm uint8) byte {
	return mod<<6 | (reg&7)<<3 | rm&7
}

// mem encodes a tape operand as ModRM+SIB+disp32 with no base register.
func (a *assembler) mem(reg uint8, m Mem) {
	index := uint8(4) // none
	if m.HasIndex {
		index = m.Index.Num
	}
	a.bytes(modrm(0, reg, 4), modrm(0, index, 5))
	a.relocs = append(a.relocs, image.Reloc{
		Offset: len(a.buf),
		Kind:   image.RelocTape32,
		Addend: int64(m.Disp),
	})
	a.imm32(0)
}

func (a *assembler) jump(opcode []byte, target Operand) bool {
	ref, ok := target.(Ref)
	if !ok {
		return false
	}
	a.bytes(opcode...)
	a.fixups = append(a.fixups, fixup{at: len(a.buf), label: string(ref)})
	a.imm32(0)
	return true
}

func is32(o Operand) (Reg, bool) {
	r, ok := o.(Reg)
	return r, ok && r.Width == 32
}

func is64(o Operand) (Reg, bool) {
	r, ok := o.(Reg)
	return r, ok && r.Width == 64
}

func is8(o Operand) (Reg, bool) {
	r, ok := o.(Reg)
	return r, ok && r.Width == 8 && r.Num < 4
}

func (a *assembler) inst(in Inst) error {
	if a.encode(in) {
		return nil
	}
	if in.Op == CALL {
		if _, ok := in.Args[0].(Sym); ok {
			return fmt.Errorf("%w: %s", ErrExternalCall, in)
		}
	}
	return &EncodeError{Inst: in}
}

// encode appends the encoding of in and reports whether the form is known.
func (a *assembler) encode(in Inst) bool {
	args := in.Args
	switch in.Op {
	case SYSCALL:
		a.bytes(0x0F, 0x05)
		return true

	case JMP:
		return len(args) == 1 && a.jump([]byte{0xE9}, args[0])
	case JE:
		return len(args) == 1 && a.jump([]byte{0x0F, 0x84}, args[0])
	case JNZ:
		return len(args) == 1 && a.jump([]byte{0x0F, 0x85}, args[0])
	case JS:
		return len(args) == 1 && a.jump([]byte{0x0F, 0x88}, args[0])
	case CALL:
		return len(args) == 1 && a.jump([]byte{0xE8}, args[0])
	}

	if len(args) == 3 && in.Op == IMUL {
		dst, ok1 := is32(args[0])
		src, ok2 := is32(args[1])
		imm, ok3 := args[2].(Imm)
		if !ok1 || !ok2 || !ok3 {
			return false
		}
		a.bytes(0x69, modrm(3, dst.Num, src.Num))
		a.imm32(int64(imm))
		return true
	}
	if len(args) != 2 {
		return false
	}

	// reg32, reg32
	if dst, ok := is32(args[0]); ok {
		if src, ok := is32(args[1]); ok {
			var op byte
			switch in.Op {
			case MOV:
				op = 0x89
			case XOR:
				op = 0x31
			case SUB:
				op = 0x29
			default:
				return false
			}
			a.bytes(op, modrm(3, src.Num, dst.Num))
			return true
		}
	}

	// reg64, reg64
	if dst, ok := is64(args[0]); ok {
		if src, ok := is64(args[1]); ok {
			var op byte
			switch in.Op {
			case TEST:
				op = 0x85
			case SUB:
				op = 0x29
			default:
				return false
			}
			a.bytes(0x48, op, modrm(3, src.Num, dst.Num))
			return true
		}
	}

	// reg32, imm32
	if dst, ok := is32(args[0]); ok {
		if imm, ok := args[1].(Imm); ok {
			switch in.Op {
			case MOV:
				a.bytes(0xB8 + dst.Num)
			case ADD:
				a.bytes(0x81, modrm(3, 0, dst.Num))
			case AND:
				a.bytes(0x81, modrm(3, 4, dst.Num))
			default:
				return false
			}
			a.imm32(int64(imm))
			return true
		}
	}

	// byte [mem], imm8
	if m, ok := args[0].(Mem); ok {
		if imm, ok := args[1].(Imm); ok {
			switch in.Op {
			case ADD:
				a.bytes(0x80)
				a.mem(0, m)
			case CMP:
				a.bytes(0x80)
				a.mem(7, m)
			case MOV:
				a.bytes(0xC6)
				a.mem(0, m)
			default:
				return false
			}
			a.bytes(byte(imm))
			return true
		}
		// byte [mem], reg8
		if src, ok := is8(args[1]); ok && in.Op == ADD {
			a.bytes(0x00)
			a.mem(src.Num, m)
			return true
		}
		return false
	}

	// movzx reg32, byte [mem]
	if dst, ok := is32(args[0]); ok && in.Op == MOVZX {
		if m, ok := args[1].(Mem); ok {
			a.bytes(0x0F, 0xB6)
			a.mem(dst.Num, m)
			return true
		}
	}

	// lea reg64, [mem]
	if dst, ok := is64(args[0]); ok && in.Op == LEA {
		if m, ok := args[1].(Mem); ok {
			a.bytes(0x48, 0x8D)
			a.mem(dst.Num, m)
			return true
		}
	}

	return false
}
