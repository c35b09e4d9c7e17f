package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/armlite-video/framepack/internal/bitpack"
	"github.com/armlite-video/framepack/internal/delta"
	"github.com/armlite-video/framepack/pkg/types"
)

// Magic opens every segment container
const Magic = "FPK1"

// HeaderSize is magic + kind + flags + checksum
const HeaderSize = len(Magic) + 1 + 1 + 8

// Kind identifies the record inside a container
type Kind uint8

const (
	KindDelta   Kind = 1
	KindBitpack Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindDelta:
		return "delta"
	case KindBitpack:
		return "bitpack"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Header flags
const (
	FlagZstd uint8 = 1 << 0
)

var (
	ErrBadMagic = errors.New("not a segment container")
	ErrChecksum = errors.New("segment checksum mismatch")
	ErrKind     = errors.New("unexpected segment kind")
)

// Options controls container encoding
type Options struct {
	Compress bool
}

var zstdEncPool = sync.Pool{
	New: func() any {
		enc, err := zstd.NewWriter(nil,
			zstd.WithEncoderConcurrency(1),
			zstd.WithEncoderLevel(zstd.SpeedBetterCompression),
		)
		if err != nil {
			panic(err)
		}
		return enc
	},
}

var zstdDecPool = sync.Pool{
	New: func() any {
		dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		if err != nil {
			panic(err)
		}
		return dec
	},
}

// seal wraps a payload. The checksum covers the uncompressed payload.
func seal(kind Kind, payload []byte, opts Options) []byte {
	var flags uint8
	body := payload
	if opts.Compress && len(payload) > 0 {
		enc := zstdEncPool.Get().(*zstd.Encoder)
		body = enc.EncodeAll(payload, nil)
		zstdEncPool.Put(enc)
		flags |= FlagZstd
	}

	out := make([]byte, 0, HeaderSize+len(body))
	out = append(out, Magic...)
	out = append(out, byte(kind), flags)
	out = binary.BigEndian.AppendUint64(out, xxhash.Sum64(payload))
	return append(out, body...)
}

// open validates the header and returns the kind and uncompressed payload
func open(data []byte) (Kind, []byte, error) {
	if len(data) < HeaderSize || !bytes.Equal(data[:len(Magic)], []byte(Magic)) {
		return 0, nil, ErrBadMagic
	}
	kind := Kind(data[4])
	flags := data[5]
	sum := binary.BigEndian.Uint64(data[6:HeaderSize])
	payload := data[HeaderSize:]

	if flags&FlagZstd != 0 {
		dec := zstdDecPool.Get().(*zstd.Decoder)
		out, err := dec.DecodeAll(payload, nil)
		zstdDecPool.Put(dec)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to decompress segment: %w", err)
		}
		payload = out
	}
	if xxhash.Sum64(payload) != sum {
		return 0, nil, ErrChecksum
	}
	return kind, payload, nil
}

// EncodeDelta wraps a delta segment in a container
func EncodeDelta(seg *types.DeltaSegment, opts Options) []byte {
	return seal(KindDelta, MarshalDelta(seg), opts)
}

// EncodeBitpack wraps a bitpack segment in a container
func EncodeBitpack(seg *types.BitpackSegment, opts Options) []byte {
	return seal(KindBitpack, MarshalBitpack(seg), opts)
}

// Segment is a decoded container; exactly one of Delta and Bitpack is set
type Segment struct {
	Kind    Kind
	Delta   *types.DeltaSegment
	Bitpack *types.BitpackSegment
}

// FrameCount returns the number of frames the record holds
func (s *Segment) FrameCount() int {
	if s.Delta != nil {
		return s.Delta.FrameCount
	}
	if s.Bitpack != nil {
		return s.Bitpack.FrameCount
	}
	return 0
}

// Decode validates a container and parses its record. Delta records must pass
// delta.CheckTables and bitpack records bitpack.CheckLayout.
func Decode(data []byte) (*Segment, error) {
	kind, payload, err := open(data)
	if err != nil {
		return nil, err
	}

	switch kind {
	case KindDelta:
		seg, err := UnmarshalDelta(payload)
		if err != nil {
			return nil, err
		}
		if err := delta.CheckTables(seg); err != nil {
			return nil, err
		}
		return &Segment{Kind: kind, Delta: seg}, nil
	case KindBitpack:
		seg, err := UnmarshalBitpack(payload)
		if err != nil {
			return nil, err
		}
		if err := bitpack.CheckLayout(seg); err != nil {
			return nil, err
		}
		return &Segment{Kind: kind, Bitpack: seg}, nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrKind, kind)
	}
}

// ReadFile decodes the container stored at path
func ReadFile(path string) (*Segment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read segment: %w", err)
	}
	seg, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return seg, nil
}
