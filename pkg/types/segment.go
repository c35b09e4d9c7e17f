package types

import "errors"

// ErrEmptyInput is returned when zero frames reach the analyzer, an encoder or the emitter
var ErrEmptyInput = errors.New("no frames supplied")

// Codec identifies how a segment is packed
type Codec string

const (
	CodecDelta   Codec = "delta"
	CodecBitpack Codec = "bitpack"
)

// PixelBytes is the size of one pixel cell on the playback target;
// every offset in a DeltaSegment is pixel_index * PixelBytes
const PixelBytes = 4

// DeltaSegment is the per-segment record handed to a code generation backend.
//
// Frame i is replayed by drawing BaseOffsets translated by Shifts[i] pixels,
// then AdditionsData[AdditionsIndex[i]:+AdditionsCount[i]] as foreground and
// RemovalsData[RemovalsIndex[i]:+RemovalsCount[i]] as background.
type DeltaSegment struct {
	Segment    int `json:"segment"`
	FirstFrame int `json:"first_frame"` // 1-based index of the segment's reference frame
	FrameCount int `json:"frame_count"`
	Width      int `json:"width"`
	Height     int `json:"height"`

	BaseOffsets []int `json:"base_offsets"` // ascending byte offsets
	Shifts      []int `json:"shifts"`       // pixels, one per frame

	AdditionsData  []int `json:"additions_data"`
	AdditionsIndex []int `json:"additions_index"`
	AdditionsCount []int `json:"additions_count"`

	RemovalsData  []int `json:"removals_data"`
	RemovalsIndex []int `json:"removals_index"`
	RemovalsCount []int `json:"removals_count"`
}

// Additions returns the addition offsets of frame i
func (s *DeltaSegment) Additions(i int) []int {
	return s.AdditionsData[s.AdditionsIndex[i] : s.AdditionsIndex[i]+s.AdditionsCount[i]]
}

// Removals returns the removal offsets of frame i
func (s *DeltaSegment) Removals(i int) []int {
	return s.RemovalsData[s.RemovalsIndex[i] : s.RemovalsIndex[i]+s.RemovalsCount[i]]
}

// BitpackSegment is the dense per-segment record: FrameCount buffers of
// BytesPerFrame bytes, concatenated, one bit per pixel MSB-first.
type BitpackSegment struct {
	Segment       int    `json:"segment"`
	FirstFrame    int    `json:"first_frame"`
	FrameCount    int    `json:"frame_count"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	BytesPerFrame int    `json:"bytes_per_frame"`
	Data          []byte `json:"-"`
}

// Frame returns the packed bytes of frame i
func (s *BitpackSegment) Frame(i int) []byte {
	return s.Data[i*s.BytesPerFrame : (i+1)*s.BytesPerFrame]
}
