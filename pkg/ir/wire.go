package ir

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// WireVersion is the current version of the CBOR program encoding.
// Increment when making incompatible changes to the format.
const WireVersion uint16 = 1

// cborEncMode uses canonical mode so that equal programs encode to equal
// bytes.
var cborEncMode cbor.EncMode

// cborDecMode lifts the default nesting limit of 32. Every loop costs two
// levels (the instruction map and its body array).
var cborDecMode cbor.DecMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("ir: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em

	dm, err := cbor.DecOptions{MaxNestedLevels: 65535}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("ir: failed to create CBOR dec mode: %v", err))
	}
	cborDecMode = dm
}

// wireProgram is the envelope written by Marshal.
type wireProgram struct {
	Version uint16            `cbor:"1,keyasint"`
	Code    []wireInstruction `cbor:"2,keyasint"`
}

// wireInstruction is a tagged record. The meaning of A and B depends on
// Kind:
//
//	move      A=delta
//	add       A=delta  B=offset
//	set       A=value  B=offset
//	out, in   B=offset
//	scan      A=step   B=target
//	loop      Body
//	transfer  Terms
type wireInstruction struct {
	Kind  Kind              `cbor:"1,keyasint"`
	A     int               `cbor:"2,keyasint,omitempty"`
	B     int               `cbor:"3,keyasint,omitempty"`
	Body  []wireInstruction `cbor:"4,keyasint,omitempty"`
	Terms []wireTerm        `cbor:"5,keyasint,omitempty"`
}

type wireTerm struct {
	Offset     int `cbor:"1,keyasint"`
	Multiplier int `cbor:"2,keyasint"`
}

// Marshal serializes a Program to canonical CBOR bytes.
func Marshal(p Program) ([]byte, error) {
	return cborEncMode.Marshal(wireProgram{Version: WireVersion, Code: toWire(p)})
}

// Unmarshal deserializes a Program from CBOR bytes and validates it.
func Unmarshal(data []byte) (Program, error) {
	var w wireProgram
	if err := cborDecMode.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("ir: unmarshal program: %w", err)
	}
	if w.Version != WireVersion {
		return nil, fmt.Errorf("ir: unsupported wire version %d (want %d)", w.Version, WireVersion)
	}
	p, err := fromWire(w.Code)
	if err != nil {
		return nil, fmt.Errorf("ir: unmarshal program: %w", err)
	}
	if err := Validate(p); err != nil {
		return nil, fmt.Errorf("ir: unmarshal program: %w", err)
	}
	return p, nil
}

func toWire(p Program) []wireInstruction {
	if len(p) == 0 {
		return nil
	}
	out := make([]wireInstruction, 0, len(p))
	for _, ins := range p {
		w := wireInstruction{Kind: ins.Kind()}
		switch x := ins.(type) {
		case MovePointer:
			w.A = x.Delta
		case AddCell:
			w.A, w.B = x.Delta, x.Offset
		case SetCell:
			w.A, w.B = int(x.Value), x.Offset
		case Output:
			w.B = x.Offset
		case Input:
			w.B = x.Offset
		case ScanMove:
			w.A, w.B = x.Step, int(x.Target)
		case Loop:
			w.Body = toWire(x.Body)
		case Transfer:
			w.Terms = make([]wireTerm, len(x.Terms))
			for i, t := range x.Terms {
				w.Terms[i] = wireTerm{Offset: t.Offset, Multiplier: t.Multiplier}
			}
		}
		out = append(out, w)
	}
	return out
}

func fromWire(ws []wireInstruction) (Program, error) {
	p := make(Program, 0, len(ws))
	for i, w := range ws {
		switch w.Kind {
		case KindMovePointer:
			p = append(p, MovePointer{Delta: w.A})
		case KindAddCell:
			p = append(p, AddCell{Delta: w.A, Offset: w.B})
		case KindSetCell:
			if w.A < 0 || w.A > 255 {
				return nil, fmt.Errorf("instruction %d: set value %d out of byte range", i, w.A)
			}
			p = append(p, SetCell{Value: byte(w.A), Offset: w.B})
		case KindOutput:
			p = append(p, Output{Offset: w.B})
		case KindInput:
			p = append(p, Input{Offset: w.B})
		case KindScanMove:
			if w.B < 0 || w.B > 255 {
				return nil, fmt.Errorf("instruction %d: scan target %d out of byte range", i, w.B)
			}
			p = append(p, ScanMove{Step: w.A, Target: byte(w.B)})
		case KindLoop:
			body, err := fromWire(w.Body)
			if err != nil {
				return nil, err
			}
			p = append(p, Loop{Body: body})
		case KindTransfer:
			terms := make([]Term, len(w.Terms))
			for j, t := range w.Terms {
				terms[j] = Term{Offset: t.Offset, Multiplier: t.Multiplier}
			}
			p = append(p, Transfer{Terms: terms})
		default:
			return nil, fmt.Errorf("instruction %d: unknown kind %d", i, w.Kind)
		}
	}
	return p, nil
}
