// Package delta expresses each frame of a segment as additions and removals
// against the segment's shifted base.
package delta

import (
	"errors"
	"fmt"

	"github.com/armlite-video/framepack/internal/consensus"
	"github.com/armlite-video/framepack/internal/mask"
	"github.com/armlite-video/framepack/pkg/types"
)

var (
	ErrTableMismatch  = errors.New("delta tables are inconsistent")
	ErrReplayMismatch = errors.New("replayed frame differs from source")
)

// Encode builds the segment record from the frames and their consensus.
// frames[i] must be the frame that c.Shifts[i] was computed for.
func Encode(frames []*mask.PixelSet, c *consensus.Consensus) (*types.DeltaSegment, error) {
	n := len(frames)
	if n == 0 {
		return nil, fmt.Errorf("delta: %w", types.ErrEmptyInput)
	}
	if c == nil || len(c.Shifts) != n {
		return nil, fmt.Errorf("delta: consensus covers %d frames, segment has %d", shiftCount(c), n)
	}

	seg := &types.DeltaSegment{
		FrameCount:     n,
		Width:          c.Width,
		Height:         c.Height,
		BaseOffsets:    byteOffsets(c.Base),
		Shifts:         append([]int(nil), c.Shifts...),
		AdditionsData:  []int{},
		AdditionsIndex: make([]int, n),
		AdditionsCount: make([]int, n),
		RemovalsData:   []int{},
		RemovalsIndex:  make([]int, n),
		RemovalsCount:  make([]int, n),
	}

	for i, cur := range frames {
		shifted := c.ShiftedBase(i)
		additions := byteOffsets(cur.Difference(shifted))
		removals := byteOffsets(shifted.Difference(cur))

		seg.AdditionsIndex[i] = len(seg.AdditionsData)
		seg.AdditionsCount[i] = len(additions)
		seg.AdditionsData = append(seg.AdditionsData, additions...)

		seg.RemovalsIndex[i] = len(seg.RemovalsData)
		seg.RemovalsCount[i] = len(removals)
		seg.RemovalsData = append(seg.RemovalsData, removals...)
	}

	return seg, nil
}

func shiftCount(c *consensus.Consensus) int {
	if c == nil {
		return 0
	}
	return len(c.Shifts)
}

// byteOffsets lists the set ascending as pixel_index * PixelBytes
func byteOffsets(s *mask.PixelSet) []int {
	out := make([]int, 0, s.Len())
	s.Each(func(idx int) {
		out = append(out, idx*types.PixelBytes)
	})
	return out
}

func pixelsOf(offsets []int) *mask.PixelSet {
	s := mask.NewPixelSet()
	for _, off := range offsets {
		s.Add(off / types.PixelBytes)
	}
	return s
}

// Replay reconstructs frame i: base translated by Shifts[i] (out-of-row pixels
// dropped), then additions drawn, then removals cleared.
func Replay(seg *types.DeltaSegment, i int) (*mask.PixelSet, error) {
	if i < 0 || i >= seg.FrameCount {
		return nil, fmt.Errorf("frame %d outside segment of %d frames", i, seg.FrameCount)
	}
	if err := CheckTables(seg); err != nil {
		return nil, err
	}
	return replay(seg, pixelsOf(seg.BaseOffsets), i), nil
}

func replay(seg *types.DeltaSegment, base *mask.PixelSet, i int) *mask.PixelSet {
	frame := base.Translate(seg.Shifts[i], seg.Width)
	frame = frame.Union(pixelsOf(seg.Additions(i)))
	return frame.Difference(pixelsOf(seg.Removals(i)))
}

// CheckTables verifies the CSR layout: one shift/index/count per frame,
// counts summing to the data length, and each index equal to the running sum.
// Every offset must be a whole pixel inside the screen.
func CheckTables(seg *types.DeltaSegment) error {
	if seg == nil {
		return fmt.Errorf("%w: missing segment", ErrTableMismatch)
	}
	n := seg.FrameCount
	if len(seg.Shifts) != n {
		return fmt.Errorf("%w: %d shifts for %d frames", ErrTableMismatch, len(seg.Shifts), n)
	}
	if err := checkCSR("additions", seg.AdditionsData, seg.AdditionsIndex, seg.AdditionsCount, n); err != nil {
		return err
	}
	if err := checkCSR("removals", seg.RemovalsData, seg.RemovalsIndex, seg.RemovalsCount, n); err != nil {
		return err
	}

	limit := seg.Width * seg.Height * types.PixelBytes
	for _, t := range []struct {
		name    string
		offsets []int
	}{
		{"base", seg.BaseOffsets},
		{"additions", seg.AdditionsData},
		{"removals", seg.RemovalsData},
	} {
		for i, off := range t.offsets {
			if off < 0 || off >= limit || off%types.PixelBytes != 0 {
				return fmt.Errorf("%w: %s offset[%d] = %d outside %dx%d screen",
					ErrTableMismatch, t.name, i, off, seg.Width, seg.Height)
			}
		}
	}
	return nil
}

func checkCSR(name string, data, index, count []int, n int) error {
	if len(index) != n || len(count) != n {
		return fmt.Errorf("%w: %s index/count have %d/%d entries for %d frames",
			ErrTableMismatch, name, len(index), len(count), n)
	}
	sum := 0
	for i := 0; i < n; i++ {
		if index[i] != sum {
			return fmt.Errorf("%w: %s index[%d] = %d, want %d", ErrTableMismatch, name, i, index[i], sum)
		}
		if count[i] < 0 {
			return fmt.Errorf("%w: %s count[%d] = %d", ErrTableMismatch, name, i, count[i])
		}
		sum += count[i]
	}
	if sum != len(data) {
		return fmt.Errorf("%w: %s counts sum to %d, data has %d", ErrTableMismatch, name, sum, len(data))
	}
	return nil
}

// Verify replays every frame and compares it with its source
func Verify(seg *types.DeltaSegment, frames []*mask.PixelSet) error {
	if len(frames) != seg.FrameCount {
		return fmt.Errorf("%w: %d source frames for %d encoded", ErrReplayMismatch, len(frames), seg.FrameCount)
	}
	if err := CheckTables(seg); err != nil {
		return err
	}
	base := pixelsOf(seg.BaseOffsets)
	for i, want := range frames {
		got := replay(seg, base, i)
		if !got.Equal(want) {
			return fmt.Errorf("%w: frame %d differs in %d pixels", ErrReplayMismatch, i, got.SymmetricDifferenceLen(want))
		}
	}
	return nil
}

// Size returns the number of table entries the record carries
func Size(seg *types.DeltaSegment) int {
	return len(seg.BaseOffsets) + len(seg.Shifts) +
		len(seg.AdditionsData) + 2*len(seg.AdditionsIndex) +
		len(seg.RemovalsData) + 2*len(seg.RemovalsIndex)
}
