package sim

import (
	"errors"
	"strings"
	"testing"
)

const twoFrames = `
    MOV R0, #0
    MOV R1, #.PixelScreen
    MOV R2, #table
    MOV R3, #0
loop:
    STR R0, .ClearScreen
    LSL R4, R3, #2
    ADD R4, R4, R2
    LDR R5, [R4]        ; byte offset to draw
    STR R0, [R1+R5]
    ADD R3, R3, #1
    CMP R3, #2
    BLT loop
    HALT

.DATA
table:
    .WORD 4
    .WORD 12
`

func TestRun_CapturesFrames(t *testing.T) {
	p, err := Parse(strings.NewReader(twoFrames))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	res, err := p.Run(4, 1, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Frames) != 2 {
		t.Fatalf("frames = %d, want 2", len(res.Frames))
	}
	if got := res.Frames[0].Indices(); len(got) != 1 || got[0] != 1 {
		t.Fatalf("frame 0 = %v, want [1]", got)
	}
	if got := res.Frames[1].Indices(); len(got) != 1 || got[0] != 3 {
		t.Fatalf("frame 1 = %v, want [3]", got)
	}
}

func TestRun_StrayWrites(t *testing.T) {
	src := `
    MOV R0, #0
    MOV R1, #.PixelScreen
    MOV R2, #-4
    STR R0, .ClearScreen
    STR R0, [R1+R2]
    HALT
`
	p, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	res, err := p.Run(2, 1, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Stray != 1 || res.Frames[0].Len() != 0 {
		t.Fatalf("stray = %d frame = %v", res.Stray, res.Frames[0].Indices())
	}
}

func TestRun_StepLimit(t *testing.T) {
	p, err := Parse(strings.NewReader("spin:\n    B spin\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, err := p.Run(1, 1, Options{MaxSteps: 100}); !errors.Is(err, ErrStepLimit) {
		t.Fatalf("err = %v, want ErrStepLimit", err)
	}
}

func TestRun_Errors(t *testing.T) {
	for _, tc := range []struct {
		name string
		src  string
	}{
		{"unknown_op", "    FOO R1, R2\n"},
		{"unknown_label", "    B nowhere\n"},
		{"load_outside", "    MOV R1, #0\n    LDR R2, [R1]\n"},
		{"no_halt", "    MOV R1, #0\n"},
		{"bad_dest", "    MOV #1, R2\n"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			p, err := Parse(strings.NewReader(tc.src))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if _, err := p.Run(1, 1, Options{}); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestParse_BadDirective(t *testing.T) {
	if _, err := Parse(strings.NewReader(".DATA\nx:\n    .WORD abc\n")); !errors.Is(err, ErrSyntax) {
		t.Fatalf("err = %v, want ErrSyntax", err)
	}
}

func TestRun_ConditionalBranches(t *testing.T) {
	// BEQ falls through, BNE jumps over the store to pixel 0, then pixel 2 is drawn
	src := `
    MOV R0, #0
    MOV R1, #.PixelScreen
    MOV R3, #1
    MOV R4, #8
    CMP R3, #2
    BEQ skip
    BNE draw
skip:
    STR R0, [R1]
draw:
    STR R0, [R1+R4]
    HALT
`
	p, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	res, err := p.Run(4, 1, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Frames) != 1 {
		t.Fatalf("frames = %d, want 1", len(res.Frames))
	}
	if got := res.Frames[0].Indices(); len(got) != 1 || got[0] != 2 {
		t.Fatalf("frame = %v, want [2]", got)
	}
}
