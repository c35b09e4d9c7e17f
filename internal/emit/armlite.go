package emit

import (
	"bufio"
	"fmt"
	"io"
	"math/bits"

	"github.com/armlite-video/framepack/pkg/types"
)

// ByteRowWidth is the number of packed bytes per .BYTE line
const ByteRowWidth = 16

// ARMLite emits programs for the ARMLite simulator: general registers R0-R12,
// a word-addressed pixel screen at .PixelScreen and a .ClearScreen port.
type ARMLite struct{}

func (ARMLite) Name() string { return "armlite" }

// asmWriter keeps the first write error so emitters can write straight through
type asmWriter struct {
	w   *bufio.Writer
	err error
}

func newASMWriter(w io.Writer) *asmWriter {
	return &asmWriter{w: bufio.NewWriter(w)}
}

func (a *asmWriter) printf(format string, args ...any) {
	if a.err != nil {
		return
	}
	_, a.err = fmt.Fprintf(a.w, format, args...)
}

func (a *asmWriter) op(format string, args ...any) {
	a.printf("    "+format+"\n", args...)
}

func (a *asmWriter) label(name string) {
	a.printf("%s:\n", name)
}

func (a *asmWriter) blank() {
	a.printf("\n")
}

func (a *asmWriter) words(name string, vs []int) {
	a.blank()
	a.label(name)
	for _, v := range vs {
		a.op(".WORD %d", v)
	}
}

func (a *asmWriter) flush() error {
	if a.err != nil {
		return a.err
	}
	return a.w.Flush()
}

// EmitDelta writes the delta runtime: for each frame clear the screen, draw the
// base shifted by the frame's shift, draw additions black and removals white.
func (ARMLite) EmitDelta(w io.Writer, seg *types.DeltaSegment) error {
	if seg == nil || seg.FrameCount == 0 {
		return fmt.Errorf("emit delta: %w", types.ErrEmptyInput)
	}
	a := newASMWriter(w)

	a.printf("; delta segment %03d, first frame %d\n", seg.Segment, seg.FirstFrame)
	a.printf("; frames: %d  size: %dx%d  base_pixels: %d  additions_total: %d  removals_total: %d\n",
		seg.FrameCount, seg.Width, seg.Height, len(seg.BaseOffsets), len(seg.AdditionsData), len(seg.RemovalsData))
	a.blank()

	a.op("MOV R0, #0x000000      ; black")
	a.op("MOV R12, #0xFFFFFF     ; white")
	a.op("MOV R1, #.PixelScreen")
	a.op("MOV R2, #base_offsets")
	a.op("MOV R3, #%d", len(seg.BaseOffsets))
	a.op("MOV R4, #shifts")
	a.op("MOV R5, #%d            ; frame count", seg.FrameCount)
	a.op("MOV R6, #0             ; frame index")
	a.blank()

	a.label("frame_loop")
	a.op("LSL R7, R6, #2         ; word offset of this frame's table entries")
	a.op("ADD R8, R4, R7")
	a.op("LDR R8, [R8]           ; shift in pixels")
	a.op("LSL R8, R8, #2         ; shift in bytes")
	a.op("STR R0, .ClearScreen")

	a.op("MOV R9, R2")
	a.op("MOV R10, #0")
	a.label("base_loop")
	a.op("CMP R10, R3")
	a.op("BGE base_done")
	a.op("LDR R11, [R9]")
	a.op("ADD R11, R11, R8")
	a.op("STR R0, [R1+R11]")
	a.op("ADD R9, R9, #4")
	a.op("ADD R10, R10, #1")
	a.op("B base_loop")
	a.label("base_done")

	emitSlice(a, "add", "additions", "R0")
	emitSlice(a, "rem", "removals", "R12")

	a.op("ADD R6, R6, #1")
	a.op("CMP R6, R5")
	a.op("BLT frame_loop")
	a.op("HALT")

	a.blank()
	a.printf(".DATA\n")
	a.words("base_offsets", seg.BaseOffsets)
	a.words("shifts", seg.Shifts)
	a.words("additions_data", seg.AdditionsData)
	a.words("additions_index", seg.AdditionsIndex)
	a.words("additions_count", seg.AdditionsCount)
	a.words("removals_data", seg.RemovalsData)
	a.words("removals_index", seg.RemovalsIndex)
	a.words("removals_count", seg.RemovalsCount)

	return a.flush()
}

// emitSlice draws table[index[f] : index[f]+count[f]] in colour. R7 holds f*4.
func emitSlice(a *asmWriter, prefix, table, colour string) {
	a.op("MOV R8, #%s_index", table)
	a.op("ADD R8, R8, R7")
	a.op("LDR R9, [R8]           ; first entry")
	a.op("LSL R9, R9, #2")
	a.op("MOV R8, #%s_data", table)
	a.op("ADD R9, R9, R8         ; pointer into %s_data", table)
	a.op("MOV R8, #%s_count", table)
	a.op("ADD R8, R8, R7")
	a.op("LDR R10, [R8]          ; entries left")
	a.label(prefix + "_loop")
	a.op("CMP R10, #0")
	a.op("BEQ %s_done", prefix)
	a.op("LDR R11, [R9]")
	a.op("STR %s, [R1+R11]", colour)
	a.op("ADD R9, R9, #4")
	a.op("SUB R10, R10, #1")
	a.op("B %s_loop", prefix)
	a.label(prefix + "_done")
}

// EmitBitpack writes the bitpack runtime: for each frame clear the screen and
// scan bytes_per_frame bytes MSB-first, drawing a black pixel per set bit.
func (ARMLite) EmitBitpack(w io.Writer, seg *types.BitpackSegment) error {
	if seg == nil || seg.FrameCount == 0 {
		return fmt.Errorf("emit bitpack: %w", types.ErrEmptyInput)
	}
	if len(seg.Data) != seg.FrameCount*seg.BytesPerFrame {
		return fmt.Errorf("emit bitpack: %d bytes for %d frames of %d", len(seg.Data), seg.FrameCount, seg.BytesPerFrame)
	}
	a := newASMWriter(w)

	a.printf("; bitpacked segment %03d, first frame %d\n", seg.Segment, seg.FirstFrame)
	a.printf("; frames=%d w=%d h=%d bytes_per_frame=%d\n", seg.FrameCount, seg.Width, seg.Height, seg.BytesPerFrame)
	a.blank()

	a.op("MOV R0, #0x000000      ; black")
	a.op("MOV R1, #.PixelScreen")
	a.op("MOV R2, #frames_data")
	a.op("MOV R3, #%d            ; frame count", seg.FrameCount)
	a.op("MOV R4, #%d            ; bytes per frame", seg.BytesPerFrame)
	a.op("MOV R5, #0             ; frame index")
	a.blank()

	a.label("frame_loop")
	a.op("STR R0, .ClearScreen")
	emitMultiply(a, "R6", "R5", "R7", seg.BytesPerFrame)
	a.op("ADD R6, R6, R2         ; pointer to frame data")
	a.op("MOV R10, #0            ; pixel index")
	a.op("MOV R7, #0             ; byte index")

	a.label("byte_loop")
	a.op("LDRB R8, [R6]")
	a.op("CMP R8, #0")
	a.op("BEQ byte_skip")
	a.op("MOV R9, #0x80          ; MSB first")
	a.label("bit_loop")
	a.op("AND R11, R8, R9")
	a.op("CMP R11, #0")
	a.op("BEQ bit_skip")
	a.op("LSL R12, R10, #2")
	a.op("STR R0, [R1+R12]")
	a.label("bit_skip")
	a.op("LSR R9, R9, #1")
	a.op("ADD R10, R10, #1")
	a.op("CMP R9, #0")
	a.op("BNE bit_loop")
	a.op("B byte_next")
	a.label("byte_skip")
	a.op("ADD R10, R10, #8")
	a.label("byte_next")
	a.op("ADD R6, R6, #1")
	a.op("ADD R7, R7, #1")
	a.op("CMP R7, R4")
	a.op("BLT byte_loop")

	a.op("ADD R5, R5, #1")
	a.op("CMP R5, R3")
	a.op("BLT frame_loop")
	a.op("HALT")

	a.blank()
	a.printf(".DATA\n")
	a.label("frames_data")
	for i := 0; i < seg.FrameCount; i++ {
		a.printf("; frame %d\n", seg.FirstFrame+i)
		frame := seg.Frame(i)
		for off := 0; off < len(frame); off += ByteRowWidth {
			row := frame[off:min(off+ByteRowWidth, len(frame))]
			a.printf("    .BYTE ")
			for j, b := range row {
				if j > 0 {
					a.printf(",")
				}
				a.printf("0x%02x", b)
			}
			a.printf("\n")
		}
	}

	return a.flush()
}

// emitMultiply sets dst = src * k using one shift and add per set bit of k
func emitMultiply(a *asmWriter, dst, src, tmp string, k int) {
	a.op("MOV %s, #0             ; %s * %d", dst, src, k)
	for k > 0 {
		shift := bits.TrailingZeros(uint(k))
		if shift == 0 {
			a.op("ADD %s, %s, %s", dst, dst, src)
		} else {
			a.op("LSL %s, %s, #%d", tmp, src, shift)
			a.op("ADD %s, %s, %s", dst, dst, tmp)
		}
		k &= k - 1
	}
}
