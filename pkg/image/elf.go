package image

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("moonshine.image")

const (
	// BaseAddress is where the first segment is mapped.
	BaseAddress = 0x400000
	pageSize    = 0x1000

	ehdrSize = 64
	phdrSize = 56
	shdrSize = 64
	numProgs = 2

	// CodeOffset is the file offset of the first byte of code.
	CodeOffset = ehdrSize + numProgs*phdrSize
)

var shstrtab = []byte("\x00.text\x00.bss\x00.shstrtab\x00")

const (
	nameText     = 1
	nameBSS      = 7
	nameShstrtab = 12
)

// Image is a linked executable ready to be written.
type Image struct {
	Text     []byte // patched code
	Entry    uint64 // virtual address of the entry point
	TextAddr uint64 // virtual address of Text[0]
	TapeAddr uint64 // virtual address of the tape
	TapeSize uint64
}

func alignUp(v, a uint64) uint64 {
	return (v + a - 1) &^ (a - 1)
}

// Link lays out obj and resolves its relocations. obj is not modified.
func Link(obj *Object) (*Image, error) {
	if obj.Entry < 0 || obj.Entry > len(obj.Text) {
		return nil, fmt.Errorf("entry offset %d outside text of %d bytes", obj.Entry, len(obj.Text))
	}

	img := &Image{
		Text:     append([]byte(nil), obj.Text...),
		TextAddr: BaseAddress + CodeOffset,
		TapeSize: uint64(obj.TapeSize),
	}
	img.Entry = img.TextAddr + uint64(obj.Entry)
	img.TapeAddr = alignUp(img.TextAddr+uint64(len(obj.Text)), pageSize)

	for _, r := range obj.Relocs {
		if r.Offset < 0 || r.Offset+4 > len(img.Text) {
			return nil, fmt.Errorf("relocation at %d outside text", r.Offset)
		}
		switch r.Kind {
		case RelocTape32:
			addr := int64(img.TapeAddr) + r.Addend
			if addr < math.MinInt32 || addr > math.MaxInt32 {
				return nil, fmt.Errorf("tape address %#x does not fit a 32-bit displacement", addr)
			}
			binary.LittleEndian.PutUint32(img.Text[r.Offset:], uint32(int32(addr)))
		default:
			return nil, fmt.Errorf("unknown relocation kind %v", r.Kind)
		}
	}

	log.Debugf("linked %d bytes of text, entry %#x, tape at %#x", len(img.Text), img.Entry, img.TapeAddr)
	return img, nil
}

// WriteTo writes the executable to w.
func (img *Image) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer

	textEnd := uint64(CodeOffset + len(img.Text))
	strOff := textEnd
	shOff := alignUp(strOff+uint64(len(shstrtab)), 8)

	var ident [elf.EI_NIDENT]byte
	copy(ident[:], elf.ELFMAG)
	ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	ident[elf.EI_OSABI] = byte(elf.ELFOSABI_NONE)

	hdr := elf.Header64{
		Ident:     ident,
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_X86_64),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     img.Entry,
		Phoff:     ehdrSize,
		Shoff:     shOff,
		Ehsize:    ehdrSize,
		Phentsize: phdrSize,
		Phnum:     numProgs,
		Shentsize: shdrSize,
		Shnum:     4,
		Shstrndx:  3,
	}

	progs := []elf.Prog64{
		{
			Type:   uint32(elf.PT_LOAD),
			Flags:  uint32(elf.PF_R | elf.PF_X),
			Off:    0,
			Vaddr:  BaseAddress,
			Paddr:  BaseAddress,
			Filesz: textEnd,
			Memsz:  textEnd,
			Align:  pageSize,
		},
		{
			Type:   uint32(elf.PT_LOAD),
			Flags:  uint32(elf.PF_R | elf.PF_W),
			Off:    0,
			Vaddr:  img.TapeAddr,
			Paddr:  img.TapeAddr,
			Filesz: 0,
			Memsz:  img.TapeSize,
			Align:  pageSize,
		},
	}

	sections := []elf.Section64{
		{},
		{
			Name:      nameText,
			Type:      uint32(elf.SHT_PROGBITS),
			Flags:     uint64(elf.SHF_ALLOC | elf.SHF_EXECINSTR),
			Addr:      img.TextAddr,
			Off:       CodeOffset,
			Size:      uint64(len(img.Text)),
			Addralign: 1,
		},
		{
			Name:      nameBSS,
			Type:      uint32(elf.SHT_NOBITS),
			Flags:     uint64(elf.SHF_ALLOC | elf.SHF_WRITE),
			Addr:      img.TapeAddr,
			Off:       textEnd,
			Size:      img.TapeSize,
			Addralign: 16,
		},
		{
			Name:      nameShstrtab,
			Type:      uint32(elf.SHT_STRTAB),
			Off:       strOff,
			Size:      uint64(len(shstrtab)),
			Addralign: 1,
		},
	}

	le := binary.LittleEndian
	if err := binary.Write(&buf, le, &hdr); err != nil {
		return 0, err
	}
	if err := binary.Write(&buf, le, progs); err != nil {
		return 0, err
	}
	buf.Write(img.Text)
	buf.Write(shstrtab)
	for uint64(buf.Len()) < shOff {
		buf.WriteByte(0)
	}
	if err := binary.Write(&buf, le, sections); err != nil {
		return 0, err
	}

	return buf.WriteTo(w)
}

// WriteFile writes the executable produced by exe to path with mode 0755.
// exe is usually an *Image, or a reader over one already encoded.
func WriteFile(path string, exe io.WriterTo) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return err
	}
	// An existing file keeps its old mode through O_TRUNC.
	if err := f.Chmod(0o755); err != nil {
		f.Close()
		return err
	}
	if _, err := exe.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}
