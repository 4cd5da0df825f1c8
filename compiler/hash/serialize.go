package hash

import (
	"encoding/binary"
	"fmt"

	"github.com/chazu/moonshine/pkg/ir"
)

// ---------------------------------------------------------------------------
// Deterministic binary serialization of IR programs.
//
// Encoding conventions:
//   - First byte: HashVersion (0x01)
//   - Integers: big-endian int64 (8B)
//   - Counts: big-endian uint32 (4B)
//   - Programs: TagProgram + count + instructions (flat)
// ---------------------------------------------------------------------------

// Serialize produces a deterministic byte serialization of p.
func Serialize(p ir.Program) []byte {
	s := &serializer{buf: make([]byte, 0, 256)}
	s.writeByte(HashVersion)
	s.serializeProgram(p)
	return s.buf
}

type serializer struct {
	buf []byte
}

func (s *serializer) writeByte(b byte) {
	s.buf = append(s.buf, b)
}

func (s *serializer) writeUint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	s.buf = append(s.buf, b[:]...)
}

func (s *serializer) writeInt(v int) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(int64(v)))
	s.buf = append(s.buf, b[:]...)
}

func (s *serializer) writeString(v string) {
	s.writeUint32(uint32(len(v)))
	s.buf = append(s.buf, v...)
}

func (s *serializer) serializeProgram(p ir.Program) {
	s.writeByte(TagProgram)
	s.writeUint32(uint32(len(p)))
	for _, ins := range p {
		s.serializeInstruction(ins)
	}
}

func (s *serializer) serializeInstruction(ins ir.Instruction) {
	switch n := ins.(type) {
	case ir.MovePointer:
		s.writeByte(TagMovePointer)
		s.writeInt(n.Delta)

	case ir.AddCell:
		s.writeByte(TagAddCell)
		s.writeInt(n.Delta)
		s.writeInt(n.Offset)

	case ir.SetCell:
		s.writeByte(TagSetCell)
		s.writeByte(n.Value)
		s.writeInt(n.Offset)

	case ir.Output:
		s.writeByte(TagOutput)
		s.writeInt(n.Offset)

	case ir.Input:
		s.writeByte(TagInput)
		s.writeInt(n.Offset)

	case ir.Loop:
		s.writeByte(TagLoop)
		s.serializeProgram(n.Body)

	case ir.ScanMove:
		s.writeByte(TagScanMove)
		s.writeInt(n.Step)
		s.writeByte(n.Target)

	case ir.Transfer:
		s.writeByte(TagTransfer)
		s.writeUint32(uint32(len(n.Terms)))
		for _, t := range n.Terms {
			s.writeInt(t.Offset)
			s.writeInt(t.Multiplier)
		}

	default:
		panic(fmt.Sprintf("hash: unknown instruction type %T", ins))
	}
}
