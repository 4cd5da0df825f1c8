// Package codegen lowers optimized IR to x86-64 machine instructions.
//
// The generated program keeps the cursor in ebx (always in 0..0xFFFF) and
// the tape in a zero-filled 64 KiB .bss symbol named "tape". eax, ecx and
// edx are scratch. I/O goes straight to the kernel with read(2)/write(2);
// a failed syscall exits with status 1, and the program exits with status 0
// after the last instruction.
//
// A Listing can be rendered as fasm source (WriteFASM) for the external
// toolchain, or encoded in-process (Assemble) and linked by package image.
package codegen

import (
	"fmt"

	"github.com/chazu/moonshine/pkg/ir"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("moonshine.codegen")

const (
	tapeSymbol   = "tape"
	entrySymbol  = "_start"
	ioErrorLabel = "io_error"

	sysRead  = 0
	sysWrite = 1
	sysExit  = 60
)

// Options controls lowering.
type Options struct {
	// LinkLibc lowers unit-step scans to memchr/memrchr calls. The result
	// must go through the external linker with libc.
	LinkLibc bool
}

// UnsupportedInstructionError reports an IR variant the generator has no
// lowering for.
type UnsupportedInstructionError struct {
	Instruction ir.Instruction
}

func (e *UnsupportedInstructionError) Error() string {
	return fmt.Sprintf("codegen: unsupported instruction %T (%v)", e.Instruction, e.Instruction)
}

// Lower translates p into a Listing.
func Lower(p ir.Program, opts Options) (*Listing, error) {
	g := &generator{opts: opts, externs: make(map[string]bool)}

	g.label(entrySymbol)
	g.emit(XOR, EBX, EBX)
	if err := g.program(p); err != nil {
		return nil, err
	}
	g.emit(MOV, EAX, Imm(sysExit))
	g.emit(XOR, EDI, EDI)
	g.emit(SYSCALL)

	g.label(ioErrorLabel)
	g.emit(MOV, EAX, Imm(sysExit))
	g.emit(MOV, EDI, Imm(1))
	g.emit(SYSCALL)

	log.Debugf("lowered %d IR instructions to %d machine instructions", ir.Count(p), g.listing.Len())
	return &g.listing, nil
}

type generator struct {
	opts    Options
	listing Listing
	labels  int
	externs map[string]bool
}

func (g *generator) emit(op Op, args ...Operand) {
	g.listing.Items = append(g.listing.Items, Inst{Op: op, Args: args})
}

func (g *generator) label(name string) {
	g.listing.Items = append(g.listing.Items, Label(name))
}

// newLabels returns a fresh start/end label pair.
func (g *generator) newLabels(kind string) (string, string) {
	n := g.labels
	g.labels++
	return fmt.Sprintf("%s%d_start", kind, n), fmt.Sprintf("%s%d_end", kind, n)
}

func (g *generator) extern(name string) Sym {
	if !g.externs[name] {
		g.externs[name] = true
		g.listing.Externs = append(g.listing.Externs, name)
	}
	return Sym(name)
}

// cell returns a memory operand for cursor+offset. Non-zero offsets are
// computed into rax, wrapped to the tape.
func (g *generator) cell(offset int) Mem {
	off := ir.Wrap(offset)
	if off == 0 {
		return tapeAt(RBX)
	}
	g.emit(MOV, EAX, EBX)
	g.emit(ADD, EAX, Imm(off))
	g.emit(AND, EAX, Imm(ir.TapeMask))
	return tapeAt(RAX)
}

func (g *generator) move(delta int) {
	g.emit(ADD, EBX, Imm(ir.Wrap(delta)))
	g.emit(AND, EBX, Imm(ir.TapeMask))
}

func (g *generator) program(p ir.Program) error {
	for _, ins := range p {
		if err := g.instruction(ins); err != nil {
			return err
		}
	}
	return nil
}

func (g *generator) instruction(ins ir.Instruction) error {
	switch x := ins.(type) {
	case ir.MovePointer:
		if ir.Wrap(x.Delta) != 0 {
			g.move(x.Delta)
		}

	case ir.AddCell:
		if d := byte(x.Delta); d != 0 {
			g.emit(ADD, g.cell(x.Offset), Imm(d))
		}

	case ir.SetCell:
		g.emit(MOV, g.cell(x.Offset), Imm(x.Value))

	case ir.Output:
		g.syscall(sysWrite, 1, x.Offset)

	case ir.Input:
		g.syscall(sysRead, 0, x.Offset)

	case ir.Loop:
		start, end := g.newLabels("loop")
		g.label(start)
		g.emit(CMP, tapeAt(RBX), Imm(0))
		g.emit(JE, Ref(end))
		if err := g.program(x.Body); err != nil {
			return err
		}
		g.emit(JMP, Ref(start))
		g.label(end)

	case ir.ScanMove:
		if g.opts.LinkLibc && (x.Step == 1 || x.Step == -1) {
			g.libcScan(x.Step, x.Target)
			break
		}
		start, end := g.newLabels("scan")
		g.label(start)
		g.emit(CMP, tapeAt(RBX), Imm(x.Target))
		g.emit(JE, Ref(end))
		g.move(x.Step)
		g.emit(JMP, Ref(start))
		g.label(end)

	case ir.Transfer:
		g.emit(MOVZX, ECX, tapeAt(RBX))
		for _, t := range x.Terms {
			m := byte(t.Multiplier)
			if m == 0 {
				continue
			}
			dst := g.cell(t.Offset)
			if m == 1 {
				g.emit(ADD, dst, CL)
				continue
			}
			g.emit(IMUL, EDX, ECX, Imm(m))
			g.emit(ADD, dst, DL)
		}
		g.emit(MOV, tapeAt(RBX), Imm(0))

	default:
		return &UnsupportedInstructionError{Instruction: ins}
	}
	return nil
}

// syscall emits a one-byte read or write on fd for the cell at offset.
func (g *generator) syscall(nr, fd, offset int) {
	addr := g.cell(offset)
	addr.Byte = false
	g.emit(LEA, RSI, addr)
	if nr == 0 {
		g.emit(XOR, EAX, EAX)
	} else {
		g.emit(MOV, EAX, Imm(nr))
	}
	if fd == 0 {
		g.emit(XOR, EDI, EDI)
	} else {
		g.emit(MOV, EDI, Imm(fd))
	}
	g.emit(MOV, EDX, Imm(1))
	g.emit(SYSCALL)
	g.emit(TEST, RAX, RAX)
	g.emit(JS, Ref(ioErrorLabel))
}

// libcScan searches for target with memchr (step 1) or memrchr (step -1),
// wrapping to the other part of the tape when the first search fails. When
// no cell holds target the program spins, as the plain loop would.
func (g *generator) libcScan(step int, target byte) {
	start, end := g.newLabels("scan")
	found := start + "_found"
	spin := start + "_spin"
	g.label(start)
	g.emit(CMP, tapeAt(RBX), Imm(target))
	g.emit(JE, Ref(end))

	whole := Mem{}
	here := Mem{Index: RBX, HasIndex: true}
	if step > 0 {
		fn := g.extern("memchr")
		// [cursor, end)
		g.emit(LEA, RDI, here)
		g.emit(MOV, ESI, Imm(target))
		g.emit(MOV, EDX, Imm(ir.TapeSize))
		g.emit(SUB, EDX, EBX)
		g.emit(CALL, fn)
		g.emit(TEST, RAX, RAX)
		g.emit(JNZ, Ref(found))
		// [0, cursor)
		g.emit(LEA, RDI, whole)
		g.emit(MOV, ESI, Imm(target))
		g.emit(MOV, EDX, EBX)
		g.emit(CALL, fn)
	} else {
		fn := g.extern("memrchr")
		// [0, cursor]
		g.emit(LEA, RDI, whole)
		g.emit(MOV, ESI, Imm(target))
		g.emit(MOV, EDX, EBX)
		g.emit(ADD, EDX, Imm(1))
		g.emit(CALL, fn)
		g.emit(TEST, RAX, RAX)
		g.emit(JNZ, Ref(found))
		// (cursor, end)
		g.emit(LEA, RDI, Mem{Index: RBX, HasIndex: true, Disp: 1})
		g.emit(MOV, ESI, Imm(target))
		g.emit(MOV, EDX, Imm(ir.TapeMask))
		g.emit(SUB, EDX, EBX)
		g.emit(CALL, fn)
	}
	g.emit(TEST, RAX, RAX)
	g.emit(JNZ, Ref(found))
	g.label(spin)
	g.emit(JMP, Ref(spin))

	g.label(found)
	g.emit(LEA, RCX, whole)
	g.emit(SUB, RAX, RCX)
	g.emit(MOV, EBX, EAX)
	g.label(end)
}
