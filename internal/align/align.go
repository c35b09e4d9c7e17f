// Package align finds the horizontal translation that best overlays one frame on another.
package align

import (
	"github.com/armlite-video/framepack/internal/mask"
)

// Default shift bounds
const (
	StatsMaxShift   = 32
	SegmentMaxShift = 64
)

// Result is the best displacement found and the overlap it achieves
type Result struct {
	DX      int `json:"best_dx"`
	Overlap int `json:"best_overlap"`
}

// Found reports whether any displacement overlapped at all.
// A zero overlap always comes back as (0, 0) and means no useful alignment.
func (r Result) Found() bool {
	return r.Overlap > 0
}

// rowIndex buckets a pixel set by row: cols[y] holds the x of every on pixel in row y
type rowIndex struct {
	cols [][]int
}

func newRowIndex(s *mask.PixelSet, width, height int) rowIndex {
	idx := rowIndex{cols: make([][]int, height)}
	s.Each(func(p int) {
		y := p / width
		if y < height {
			idx.cols[y] = append(idx.cols[y], p%width)
		}
	})
	return idx
}

// occupancy is the dense per-row form of the reference, one flag per column
func occupancy(s *mask.PixelSet, width, height int) [][]bool {
	rows := make([][]bool, height)
	s.Each(func(p int) {
		y := p / width
		if y >= height {
			return
		}
		if rows[y] == nil {
			rows[y] = make([]bool, width)
		}
		rows[y][p%width] = true
	})
	return rows
}

// FindBestShift scans dx from -maxShift to +maxShift and returns the first dx
// whose overlap strictly beats every earlier one. Overlap for dx counts target
// pixels (x,y) whose (x-dx,y) is inside the row and present in the reference.
func FindBestShift(reference, target *mask.PixelSet, width, maxShift int) Result {
	var best Result
	if width <= 0 || reference.Len() == 0 || target.Len() == 0 {
		return best
	}
	if maxShift < 0 {
		maxShift = 0
	}

	refMax, _ := reference.Max()
	tgtMax, _ := target.Max()
	height := max(refMax, tgtMax)/width + 1

	ref := occupancy(reference, width, height)
	tgt := newRowIndex(target, width, height)

	for dx := -maxShift; dx <= maxShift; dx++ {
		overlap := 0
		for y, xs := range tgt.cols {
			refRow := ref[y]
			if refRow == nil {
				continue
			}
			for _, x := range xs {
				x0 := x - dx
				if x0 >= 0 && x0 < width && refRow[x0] {
					overlap++
				}
			}
		}
		if overlap > best.Overlap {
			best = Result{DX: dx, Overlap: overlap}
		}
	}
	return best
}
