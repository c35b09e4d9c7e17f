package mask

// Frame is one decoded video frame. Index is 1-based within the run.
type Frame struct {
	Index  int
	Name   string
	Width  int
	Height int
	Pixels *PixelSet
}

// NewFrame validates m and decodes it into a Frame
func NewFrame(index int, name string, m *Mask) (*Frame, error) {
	if err := m.Validate(); err != nil {
		return nil, &DecodeError{File: name, Frame: index, Err: err}
	}
	return &Frame{
		Index:  index,
		Name:   name,
		Width:  m.Width,
		Height: m.Height,
		Pixels: m.Pixels(),
	}, nil
}

// Black returns the number of on pixels
func (f *Frame) Black() int {
	return f.Pixels.Len()
}

// CheckSameSize returns a DecodeError when frames disagree on dimensions
func CheckSameSize(frames []*Frame) error {
	if len(frames) == 0 {
		return nil
	}
	w, h := frames[0].Width, frames[0].Height
	for _, f := range frames[1:] {
		if f.Width != w || f.Height != h {
			return &DecodeError{File: f.Name, Frame: f.Index, Err: ErrDimensionMismatch}
		}
	}
	return nil
}

// Sets returns the pixel sets of frames, in order
func Sets(frames []*Frame) []*PixelSet {
	out := make([]*PixelSet, len(frames))
	for i, f := range frames {
		out[i] = f.Pixels
	}
	return out
}
