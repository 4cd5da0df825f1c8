package ir

import (
	"errors"
	"strings"
	"testing"
)

func sample() Program {
	return Program{
		AddCell{Delta: 4},
		Loop{Body: Program{
			AddCell{Delta: -1},
			MovePointer{Delta: 1},
			AddCell{Delta: 2},
			MovePointer{Delta: -1},
		}},
		SetCell{Value: 7, Offset: 2},
		Transfer{Terms: []Term{{Offset: 1, Multiplier: 3}, {Offset: -2, Multiplier: 255}}},
		ScanMove{Step: -1, Target: 0},
		Output{Offset: 1},
		Input{},
	}
}

func TestWrap(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, 0},
		{1, 1},
		{-1, TapeSize - 1},
		{TapeSize, 0},
		{TapeSize + 5, 5},
		{-TapeSize - 1, TapeSize - 1},
	}
	for _, tc := range tests {
		if got := Wrap(tc.in); got != tc.want {
			t.Errorf("Wrap(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeDelta(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, 0},
		{1, 1},
		{255, -1},
		{256, 0},
		{-257, -1},
		{128, -128},
		{127, 127},
	}
	for _, tc := range tests {
		if got := NormalizeDelta(tc.in); got != tc.want {
			t.Errorf("NormalizeDelta(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeOffset(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, 0},
		{-1, -1},
		{TapeSize - 1, -1},
		{TapeSize, 0},
		{TapeSize / 2, -TapeSize / 2},
		{TapeSize/2 - 1, TapeSize/2 - 1},
		{-TapeSize - 3, -3},
	}
	for _, tc := range tests {
		if got := NormalizeOffset(tc.in); got != tc.want {
			t.Errorf("NormalizeOffset(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestCountAndDepth(t *testing.T) {
	p := Program{
		AddCell{Delta: 1},
		Loop{Body: Program{
			Loop{Body: Program{MovePointer{Delta: 1}}},
			Output{},
		}},
	}
	if got := Count(p); got != 5 {
		t.Errorf("Count = %d, want 5", got)
	}
	if got := Depth(p); got != 2 {
		t.Errorf("Depth = %d, want 2", got)
	}
	if got := Depth(Program{Output{}}); got != 0 {
		t.Errorf("Depth of flat program = %d, want 0", got)
	}
}

func TestEqual(t *testing.T) {
	a := sample()
	b := sample()
	if !Equal(a, b) {
		t.Fatal("identical programs compare unequal")
	}

	b[1] = Loop{Body: Program{AddCell{Delta: -1}}}
	if Equal(a, b) {
		t.Error("programs with different loop bodies compare equal")
	}

	c := sample()
	c[3] = Transfer{Terms: []Term{{Offset: 1, Multiplier: 3}}}
	if Equal(a, c) {
		t.Error("programs with different transfer terms compare equal")
	}

	if !Equal(Program{Loop{}}, Program{Loop{Body: Program{}}}) {
		t.Error("nil and empty loop bodies should compare equal")
	}
	if Equal(Program{MovePointer{Delta: 1}}, Program{Loop{}}) {
		t.Error("different kinds compare equal")
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(sample()); err != nil {
		t.Fatalf("Validate(sample) = %v", err)
	}

	tests := []struct {
		name string
		prog Program
	}{
		{"zero scan", Program{ScanMove{Step: 0}}},
		{"scan by tape size", Program{ScanMove{Step: TapeSize}}},
		{"transfer into self", Program{Transfer{Terms: []Term{{Offset: 0, Multiplier: 1}}}}},
		{"duplicate terms", Program{Transfer{Terms: []Term{{Offset: 1, Multiplier: 1}, {Offset: 1, Multiplier: 2}}}}},
		{"nested", Program{Loop{Body: Program{Loop{Body: Program{ScanMove{}}}}}}},
		{"nil", Program{nil}},
	}
	for _, tc := range tests {
		err := Validate(tc.prog)
		var invalid *InvalidError
		if !errors.As(err, &invalid) {
			t.Errorf("%s: Validate = %v, want *InvalidError", tc.name, err)
		}
	}
}

func TestValidateReportsPath(t *testing.T) {
	p := Program{
		Output{},
		Loop{Body: Program{AddCell{Delta: 1}, ScanMove{Step: 0}}},
	}
	var invalid *InvalidError
	if !errors.As(Validate(p), &invalid) {
		t.Fatal("expected *InvalidError")
	}
	if len(invalid.Path) != 2 || invalid.Path[0] != 1 || invalid.Path[1] != 1 {
		t.Errorf("Path = %v, want [1 1]", invalid.Path)
	}
}

func TestFormat(t *testing.T) {
	p := Program{
		AddCell{Delta: 3},
		Loop{Body: Program{AddCell{Delta: -1}, MovePointer{Delta: 2}}},
		SetCell{Value: 0, Offset: -1},
		Output{},
	}
	want := strings.Join([]string{
		"add +3",
		"loop {",
		"  add -1",
		"  move +2",
		"}",
		"set 0 @-1",
		"out",
		"",
	}, "\n")
	if got := p.String(); got != want {
		t.Errorf("listing mismatch\n got:\n%s\nwant:\n%s", got, want)
	}
}

func TestKindString(t *testing.T) {
	if KindTransfer.String() != "transfer" {
		t.Errorf("KindTransfer.String() = %q", KindTransfer.String())
	}
	if Kind(99).String() != "Kind(99)" {
		t.Errorf("unknown kind string = %q", Kind(99).String())
	}
}
