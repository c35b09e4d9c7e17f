package mask

import (
	"errors"
	"fmt"
)

var (
	ErrBadDimensions     = errors.New("bad mask dimensions")
	ErrRowCount          = errors.New("row count does not match height")
	ErrRunOutOfBounds    = errors.New("run outside row bounds")
	ErrRunOrder          = errors.New("runs overlap or are not sorted")
	ErrDimensionMismatch = errors.New("frame dimensions differ from the sequence")
	ErrNotLuminance      = errors.New("raster cannot be read as single-channel luminance")
)

// DecodeError reports a malformed or missing mask record.
// It is fatal for the frame it names and for the segment holding that frame.
type DecodeError struct {
	File  string
	Frame int
	Err   error
}

func (e *DecodeError) Error() string {
	switch {
	case e.File != "" && e.Frame > 0:
		return fmt.Sprintf("decode frame %d (%s): %v", e.Frame, e.File, e.Err)
	case e.File != "":
		return fmt.Sprintf("decode %s: %v", e.File, e.Err)
	case e.Frame > 0:
		return fmt.Sprintf("decode frame %d: %v", e.Frame, e.Err)
	default:
		return fmt.Sprintf("decode: %v", e.Err)
	}
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsDecodeError reports whether err carries a DecodeError
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}
