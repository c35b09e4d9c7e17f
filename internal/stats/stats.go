// Package stats computes per-frame difference and alignment metrics over a mask sequence.
package stats

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/armlite-video/framepack/internal/align"
	"github.com/armlite-video/framepack/internal/logger"
	"github.com/armlite-video/framepack/internal/mask"
	"github.com/armlite-video/framepack/pkg/types"
)

// DefaultMatchThreshold is the overlap fraction at which a frame counts as a shift match
const DefaultMatchThreshold = 0.7

// Options tunes the analyzer
type Options struct {
	MaxShift       int
	MatchThreshold float64
	// ProgressEvery logs a progress line every N frames (0 disables)
	ProgressEvery int
}

// DefaultOptions returns max shift 32 and match threshold 0.7
func DefaultOptions() Options {
	return Options{
		MaxShift:       align.StatsMaxShift,
		MatchThreshold: DefaultMatchThreshold,
		ProgressEvery:  200,
	}
}

// FrameStat holds the metrics of one frame
type FrameStat struct {
	Frame       int     `json:"frame"`
	File        string  `json:"file"`
	Black       int     `json:"black"`
	Diff        int     `json:"diff"`
	BestDX      int     `json:"best_dx"`
	BestOverlap int     `json:"best_overlap"`
	OverlapFrac float64 `json:"overlap_frac"`
}

// Summary aggregates the sequence
type Summary struct {
	Count             int     `json:"count"`
	AvgBlack          float64 `json:"avg_black"`
	AvgDiff           float64 `json:"avg_diff"`
	ShiftMatchPercent float64 `json:"shift_match_percent"`
	Width             int     `json:"width"`
	Height            int     `json:"height"`
}

// Report is the analyzer output
type Report struct {
	Frames  []FrameStat `json:"frames"`
	Summary Summary     `json:"summary"`
}

// Analyze walks frames in order. Frame 1 reports diff = black and no alignment;
// each later frame is diffed and aligned against its predecessor.
// Inputs are not modified.
func Analyze(frames []*mask.Frame, opts Options) (*Report, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("analyze: %w", types.ErrEmptyInput)
	}
	if err := mask.CheckSameSize(frames); err != nil {
		return nil, err
	}

	first := frames[0]
	report := &Report{
		Frames: make([]FrameStat, 0, len(frames)),
	}

	var totalBlack, totalDiff, shiftMatches int
	var prev *mask.PixelSet

	for i, f := range frames {
		cur := f.Pixels
		black := cur.Len()
		stat := FrameStat{
			Frame: i + 1,
			File:  f.Name,
			Black: black,
		}

		if prev == nil {
			stat.Diff = black
		} else {
			stat.Diff = prev.SymmetricDifferenceLen(cur)
			best := align.FindBestShift(prev, cur, first.Width, opts.MaxShift)
			stat.BestDX = best.DX
			stat.BestOverlap = best.Overlap
			stat.OverlapFrac = float64(best.Overlap) / float64(max(1, prev.Len(), black))
			totalDiff += stat.Diff
			if stat.OverlapFrac >= opts.MatchThreshold {
				shiftMatches++
			}
		}

		report.Frames = append(report.Frames, stat)
		totalBlack += black
		prev = cur

		if opts.ProgressEvery > 0 && (i+1)%opts.ProgressEvery == 0 {
			logger.Info("Stats", "Analyzed %d frames", i+1)
		}
	}

	n := len(frames)
	report.Summary = Summary{
		Count:             n,
		AvgBlack:          float64(totalBlack) / float64(n),
		AvgDiff:           float64(totalDiff) / float64(max(1, n-1)),
		ShiftMatchPercent: 100.0 * float64(shiftMatches) / float64(max(1, n-1)),
		Width:             first.Width,
		Height:            first.Height,
	}

	return report, nil
}

// WriteJSON writes the report as indented JSON
func (r *Report) WriteJSON(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write stats: %w", err)
	}
	return nil
}
