// Package mask holds the row-run (RLE) form of a binary frame and its pixel-set form.
package mask

import (
	"encoding/json"
	"fmt"
	"image"

	"golang.org/x/image/draw"
)

// DefaultThreshold is the luminance cut-off: pixels strictly darker are "on".
const DefaultThreshold = 128

// Run is a contiguous on-run inside one row. It serializes as [start, length].
type Run struct {
	Start  int
	Length int
}

func (r Run) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{r.Start, r.Length})
}

func (r *Run) UnmarshalJSON(data []byte) error {
	var pair []int
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("run must be a [start, length] pair, got %d values", len(pair))
	}
	r.Start, r.Length = pair[0], pair[1]
	return nil
}

// Mask is the RLE form of one frame: exactly Height rows, each an ordered run list.
type Mask struct {
	Width  int     `json:"w"`
	Height int     `json:"h"`
	Rows   [][]Run `json:"rows"`
}

// Encode thresholds a raster into a Mask. A pixel is on when its luminance is
// strictly below threshold (0-255 scale).
func Encode(img image.Image, threshold int) (*Mask, error) {
	gray, err := luminance(img)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}

	w, h := gray.Rect.Dx(), gray.Rect.Dy()
	m := &Mask{
		Width:  w,
		Height: h,
		Rows:   make([][]Run, h),
	}

	for y := 0; y < h; y++ {
		line := gray.Pix[y*gray.Stride : y*gray.Stride+w]
		runs := []Run{}
		x := 0
		for x < w {
			for x < w && int(line[x]) >= threshold {
				x++
			}
			if x >= w {
				break
			}
			start := x
			for x < w && int(line[x]) < threshold {
				x++
			}
			runs = append(runs, Run{Start: start, Length: x - start})
		}
		m.Rows[y] = runs
	}

	return m, nil
}

// luminance returns a zero-origin single-channel copy of img
func luminance(img image.Image) (*image.Gray, error) {
	if img == nil {
		return nil, ErrNotLuminance
	}
	b := img.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("%w: empty bounds %v", ErrNotLuminance, b)
	}
	if g, ok := img.(*image.Gray); ok && b.Min == (image.Point{}) {
		return g, nil
	}
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	return gray, nil
}

// Black returns the number of on pixels
func (m *Mask) Black() int {
	total := 0
	for _, runs := range m.Rows {
		for _, r := range runs {
			total += r.Length
		}
	}
	return total
}

// Validate checks dimensions and run bounds
func (m *Mask) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: missing record", ErrBadDimensions)
	}
	if m.Width <= 0 || m.Height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrBadDimensions, m.Width, m.Height)
	}
	if len(m.Rows) != m.Height {
		return fmt.Errorf("%w: %d rows for height %d", ErrRowCount, len(m.Rows), m.Height)
	}
	for y, runs := range m.Rows {
		end := 0
		for _, r := range runs {
			if r.Start < 0 || r.Length <= 0 || r.Start+r.Length > m.Width {
				return fmt.Errorf("%w: row %d run (%d,%d) width %d", ErrRunOutOfBounds, y, r.Start, r.Length, m.Width)
			}
			if r.Start < end {
				return fmt.Errorf("%w: row %d run at %d", ErrRunOrder, y, r.Start)
			}
			end = r.Start + r.Length
		}
	}
	return nil
}

// Pixels expands the runs into a PixelSet. Cost is proportional to the number
// of runs, not to w*h.
func (m *Mask) Pixels() *PixelSet {
	s := NewPixelSet()
	for y, runs := range m.Rows {
		base := y * m.Width
		for _, r := range runs {
			s.AddRange(base+r.Start, base+r.Start+r.Length)
		}
	}
	return s
}

// FromPixels rebuilds the RLE form of a pixel set. Indices outside [0, w*h) are ignored.
func FromPixels(s *PixelSet, w, h int) *Mask {
	m := &Mask{Width: w, Height: h, Rows: make([][]Run, h)}
	for y := range m.Rows {
		m.Rows[y] = []Run{}
	}
	if w <= 0 || h <= 0 {
		return m
	}

	total := w * h
	cur := Run{Start: -1}
	curRow := -1
	flush := func() {
		if curRow >= 0 && cur.Length > 0 {
			m.Rows[curRow] = append(m.Rows[curRow], cur)
		}
	}
	s.Each(func(idx int) {
		if idx >= total {
			return
		}
		y, x := idx/w, idx%w
		if y == curRow && x == cur.Start+cur.Length {
			cur.Length++
			return
		}
		flush()
		curRow = y
		cur = Run{Start: x, Length: 1}
	})
	flush()
	return m
}
