// Package bitpack is the dense codec: one bit per pixel, MSB-first, no alignment or delta.
package bitpack

import (
	"fmt"

	"github.com/armlite-video/framepack/internal/mask"
	"github.com/armlite-video/framepack/pkg/types"
)

// FrameBytes returns ceil(w*h/8)
func FrameBytes(w, h int) int {
	return (w*h + 7) / 8
}

// Pack writes pixel i to byte i/8, bit 7-(i%8). Indices outside [0, w*h) are ignored.
func Pack(s *mask.PixelSet, w, h int) []byte {
	buf := make([]byte, FrameBytes(w, h))
	packInto(buf, s, w*h)
	return buf
}

func packInto(buf []byte, s *mask.PixelSet, total int) {
	s.Each(func(i int) {
		if i >= total {
			return
		}
		buf[i>>3] |= 1 << (7 - uint(i&7))
	})
}

// Unpack tests every bit of buf MSB-first and returns the on pixels
func Unpack(buf []byte, w, h int) *mask.PixelSet {
	s := mask.NewPixelSet()
	total := w * h
	for b, v := range buf {
		if v == 0 {
			continue
		}
		for bit := 0; bit < 8; bit++ {
			i := b*8 + bit
			if i >= total {
				break
			}
			if v&(0x80>>uint(bit)) != 0 {
				s.Add(i)
			}
		}
	}
	return s
}

// Encode packs every frame and concatenates the buffers in order
func Encode(frames []*mask.PixelSet, w, h int) (*types.BitpackSegment, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("bitpack: %w", types.ErrEmptyInput)
	}
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("bitpack: %w: %dx%d", mask.ErrBadDimensions, w, h)
	}

	per := FrameBytes(w, h)
	seg := &types.BitpackSegment{
		FrameCount:    len(frames),
		Width:         w,
		Height:        h,
		BytesPerFrame: per,
		Data:          make([]byte, per*len(frames)),
	}
	for i, f := range frames {
		packInto(seg.Data[i*per:(i+1)*per], f, w*h)
	}
	return seg, nil
}

// CheckLayout verifies the buffer holds exactly FrameCount frames of the declared size
func CheckLayout(seg *types.BitpackSegment) error {
	if seg == nil {
		return fmt.Errorf("bitpack: missing segment")
	}
	if seg.Width <= 0 || seg.Height <= 0 {
		return fmt.Errorf("bitpack: %w: %dx%d", mask.ErrBadDimensions, seg.Width, seg.Height)
	}
	if want := FrameBytes(seg.Width, seg.Height); seg.BytesPerFrame != want {
		return fmt.Errorf("bitpack: bytes_per_frame %d, want %d for %dx%d", seg.BytesPerFrame, want, seg.Width, seg.Height)
	}
	if len(seg.Data) != seg.FrameCount*seg.BytesPerFrame {
		return fmt.Errorf("bitpack: %d bytes for %d frames of %d", len(seg.Data), seg.FrameCount, seg.BytesPerFrame)
	}
	return nil
}

// Frame unpacks frame i of the segment
func Frame(seg *types.BitpackSegment, i int) (*mask.PixelSet, error) {
	if err := CheckLayout(seg); err != nil {
		return nil, err
	}
	if i < 0 || i >= seg.FrameCount {
		return nil, fmt.Errorf("frame %d outside segment of %d frames", i, seg.FrameCount)
	}
	return Unpack(seg.Frame(i), seg.Width, seg.Height), nil
}
