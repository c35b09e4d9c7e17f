// Package consensus derives the per-segment base pixel set from aligned frames.
package consensus

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/armlite-video/framepack/internal/align"
	"github.com/armlite-video/framepack/internal/logger"
	"github.com/armlite-video/framepack/internal/mask"
	"github.com/armlite-video/framepack/pkg/types"
)

// DefaultBaseFrac is the fraction of aligned frames a pixel must appear in to join the base
const DefaultBaseFrac = 0.9

// Options tunes consensus building
type Options struct {
	MaxShift int
	BaseFrac float64
	// Workers bounds concurrent alignment of frames against the reference (0 = NumCPU)
	Workers int
}

// DefaultOptions returns max shift 64 and base_frac 0.9
func DefaultOptions() Options {
	return Options{
		MaxShift: align.SegmentMaxShift,
		BaseFrac: DefaultBaseFrac,
	}
}

// Consensus is the base set of a segment, in the reference frame's coordinates,
// plus the shift that aligns each frame to the reference.
type Consensus struct {
	Width     int
	Height    int
	Base      *mask.PixelSet
	Shifts    []int
	Threshold int
	// Unaligned counts frames after the reference for which no shift produced any overlap
	Unaligned int
}

// Build aligns every frame to frames[0], counts how often each pixel appears
// across the aligned frames, and keeps the pixels seen at least int(BaseFrac*n) times.
func Build(frames []*mask.PixelSet, width, height int, opts Options) (*Consensus, error) {
	n := len(frames)
	if n == 0 {
		return nil, fmt.Errorf("consensus: %w", types.ErrEmptyInput)
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("consensus: %w: %dx%d", mask.ErrBadDimensions, width, height)
	}

	reference := frames[0]
	shifts := make([]int, n)
	aligned := make([]*mask.PixelSet, n)
	aligned[0] = reference
	found := make([]bool, n)

	// Each frame aligns against the fixed reference, so frames are independent.
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for i := 1; i < n; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			best := align.FindBestShift(reference, frames[i], width, opts.MaxShift)
			shifts[i] = best.DX
			found[i] = best.Found()
			aligned[i] = frames[i].Translate(-best.DX, width)
		}(i)
	}
	wg.Wait()

	unaligned := 0
	for i := 1; i < n; i++ {
		if !found[i] {
			unaligned++
		}
	}
	if unaligned > 0 {
		logger.Debug("Consensus", "%d of %d frames found no overlapping shift", unaligned, n-1)
	}

	freq := make([]int, width*height)
	for _, s := range aligned {
		s.Each(func(idx int) {
			if idx < len(freq) {
				freq[idx]++
			}
		})
	}

	threshold := int(opts.BaseFrac * float64(n))
	base := mask.NewPixelSet()
	for idx, c := range freq {
		if c > 0 && c >= threshold {
			base.Add(idx)
		}
	}

	return &Consensus{
		Width:     width,
		Height:    height,
		Base:      base,
		Shifts:    shifts,
		Threshold: threshold,
		Unaligned: unaligned,
	}, nil
}

// ShiftedBase re-projects the base into frame i's own coordinates
func (c *Consensus) ShiftedBase(i int) *mask.PixelSet {
	return c.Base.Translate(c.Shifts[i], c.Width)
}
