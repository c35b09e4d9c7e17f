// Package preview plays encoded segments back to browsers over WebRTC data channels.
package preview

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/armlite-video/framepack/internal/bitpack"
	"github.com/armlite-video/framepack/internal/delta"
	"github.com/armlite-video/framepack/internal/logger"
	"github.com/armlite-video/framepack/internal/mask"
	"github.com/armlite-video/framepack/internal/wire"
	"github.com/armlite-video/framepack/pkg/types"
)

// FrameHeaderSize is the size of the header before the packed pixels:
// frame number u32, width u16, height u16, all big-endian
const FrameHeaderSize = 8

// Frame is one reconstructed frame ready to send
type Frame struct {
	Number  int
	Payload []byte
}

// Playlist holds every frame reconstructed from a segment directory, in order
type Playlist struct {
	Width    int
	Height   int
	Segments int
	Frames   []Frame
}

// EncodeFrame builds the wire payload of one frame
func EncodeFrame(number, width, height int, pixels *mask.PixelSet) []byte {
	packed := bitpack.Pack(pixels, width, height)
	buf := make([]byte, FrameHeaderSize, FrameHeaderSize+len(packed))
	binary.BigEndian.PutUint32(buf[0:4], uint32(number))
	binary.BigEndian.PutUint16(buf[4:6], uint16(width))
	binary.BigEndian.PutUint16(buf[6:8], uint16(height))
	return append(buf, packed...)
}

// segmentFiles lists delta containers, falling back to bitpacked ones when a
// directory was encoded with the bitpack codec only
func segmentFiles(dir string) ([]string, error) {
	for _, pattern := range []string{"segment_[0-9][0-9][0-9].fpk", "segment_*_bitpacked.fpk"} {
		paths, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		if len(paths) > 0 {
			sort.Strings(paths)
			return paths, nil
		}
	}
	return nil, nil
}

// LoadPlaylist decodes every segment container in dir
func LoadPlaylist(dir string) (*Playlist, error) {
	paths, err := segmentFiles(dir)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no segments in %s: %w", dir, types.ErrEmptyInput)
	}

	p := &Playlist{}
	for _, path := range paths {
		seg, err := wire.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := p.add(seg); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	logger.Info("Preview", "Loaded %d frames (%dx%d) from %d segments", len(p.Frames), p.Width, p.Height, p.Segments)
	return p, nil
}

func (p *Playlist) add(seg *wire.Segment) error {
	var width, height, first int
	var frame func(i int) (*mask.PixelSet, error)
	switch seg.Kind {
	case wire.KindDelta:
		d := seg.Delta
		width, height, first = d.Width, d.Height, d.FirstFrame
		frame = func(i int) (*mask.PixelSet, error) { return delta.Replay(d, i) }
	case wire.KindBitpack:
		b := seg.Bitpack
		width, height, first = b.Width, b.Height, b.FirstFrame
		frame = func(i int) (*mask.PixelSet, error) { return bitpack.Frame(b, i) }
	default:
		return fmt.Errorf("%w: %s", wire.ErrKind, seg.Kind)
	}

	if p.Width == 0 {
		p.Width, p.Height = width, height
	} else if p.Width != width || p.Height != height {
		return fmt.Errorf("%w: %dx%d after %dx%d", mask.ErrDimensionMismatch, width, height, p.Width, p.Height)
	}

	for i := 0; i < seg.FrameCount(); i++ {
		pixels, err := frame(i)
		if err != nil {
			return err
		}
		n := first + i
		p.Frames = append(p.Frames, Frame{Number: n, Payload: EncodeFrame(n, width, height, pixels)})
	}
	p.Segments++
	return nil
}
