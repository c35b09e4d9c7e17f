// Package wire serializes segment records for storage and playback tools.
//
// Records use the protobuf wire format (no generated code): scalar metadata
// as varints, integer tables as packed repeated fields, shifts zigzag-encoded.
package wire

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/armlite-video/framepack/pkg/types"
)

// ErrMalformed is returned for payloads that do not parse as a segment record
var ErrMalformed = errors.New("malformed segment record")

// Delta segment field numbers
const (
	deltaSegment        protowire.Number = 1
	deltaFirstFrame     protowire.Number = 2
	deltaFrameCount     protowire.Number = 3
	deltaWidth          protowire.Number = 4
	deltaHeight         protowire.Number = 5
	deltaBaseOffsets    protowire.Number = 6
	deltaShifts         protowire.Number = 7
	deltaAdditionsData  protowire.Number = 8
	deltaAdditionsIndex protowire.Number = 9
	deltaAdditionsCount protowire.Number = 10
	deltaRemovalsData   protowire.Number = 11
	deltaRemovalsIndex  protowire.Number = 12
	deltaRemovalsCount  protowire.Number = 13
)

// Bitpack segment field numbers
const (
	bitpackSegment       protowire.Number = 1
	bitpackFirstFrame    protowire.Number = 2
	bitpackFrameCount    protowire.Number = 3
	bitpackWidth         protowire.Number = 4
	bitpackHeight        protowire.Number = 5
	bitpackBytesPerFrame protowire.Number = 6
	bitpackData          protowire.Number = 7
)

func appendUint(b []byte, num protowire.Number, v int) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

func appendPacked(b []byte, num protowire.Number, vs []int, zigzag bool) []byte {
	if len(vs) == 0 {
		return b
	}
	var packed []byte
	for _, v := range vs {
		if zigzag {
			packed = protowire.AppendVarint(packed, protowire.EncodeZigZag(int64(v)))
		} else {
			packed = protowire.AppendVarint(packed, uint64(v))
		}
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

// MarshalDelta encodes a delta segment record
func MarshalDelta(seg *types.DeltaSegment) []byte {
	var b []byte
	b = appendUint(b, deltaSegment, seg.Segment)
	b = appendUint(b, deltaFirstFrame, seg.FirstFrame)
	b = appendUint(b, deltaFrameCount, seg.FrameCount)
	b = appendUint(b, deltaWidth, seg.Width)
	b = appendUint(b, deltaHeight, seg.Height)
	b = appendPacked(b, deltaBaseOffsets, seg.BaseOffsets, false)
	b = appendPacked(b, deltaShifts, seg.Shifts, true)
	b = appendPacked(b, deltaAdditionsData, seg.AdditionsData, false)
	b = appendPacked(b, deltaAdditionsIndex, seg.AdditionsIndex, false)
	b = appendPacked(b, deltaAdditionsCount, seg.AdditionsCount, false)
	b = appendPacked(b, deltaRemovalsData, seg.RemovalsData, false)
	b = appendPacked(b, deltaRemovalsIndex, seg.RemovalsIndex, false)
	b = appendPacked(b, deltaRemovalsCount, seg.RemovalsCount, false)
	return b
}

// MarshalBitpack encodes a bitpack segment record
func MarshalBitpack(seg *types.BitpackSegment) []byte {
	var b []byte
	b = appendUint(b, bitpackSegment, seg.Segment)
	b = appendUint(b, bitpackFirstFrame, seg.FirstFrame)
	b = appendUint(b, bitpackFrameCount, seg.FrameCount)
	b = appendUint(b, bitpackWidth, seg.Width)
	b = appendUint(b, bitpackHeight, seg.Height)
	b = appendUint(b, bitpackBytesPerFrame, seg.BytesPerFrame)
	if len(seg.Data) > 0 {
		b = protowire.AppendTag(b, bitpackData, protowire.BytesType)
		b = protowire.AppendBytes(b, seg.Data)
	}
	return b
}

// field is one parsed top-level field
type field struct {
	num   protowire.Number
	typ   protowire.Type
	value uint64
	bytes []byte
}

func parseFields(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.value, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
		}
		b = b[n:]
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func (f field) int() (int, error) {
	if f.typ != protowire.VarintType {
		return 0, fmt.Errorf("%w: field %d is not a varint", ErrMalformed, f.num)
	}
	return int(f.value), nil
}

func (f field) ints(zigzag bool) ([]int, error) {
	if f.typ != protowire.BytesType {
		return nil, fmt.Errorf("%w: field %d is not packed", ErrMalformed, f.num)
	}
	var out []int
	b := f.bytes
	for len(b) > 0 {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: field %d: %v", ErrMalformed, f.num, protowire.ParseError(n))
		}
		b = b[n:]
		if zigzag {
			out = append(out, int(protowire.DecodeZigZag(v)))
		} else {
			out = append(out, int(v))
		}
	}
	return out, nil
}

// UnmarshalDelta parses a delta segment record. Unknown fields are skipped.
// Table consistency is not checked here.
func UnmarshalDelta(b []byte) (*types.DeltaSegment, error) {
	seg := &types.DeltaSegment{}
	scalars := map[protowire.Number]*int{
		deltaSegment:    &seg.Segment,
		deltaFirstFrame: &seg.FirstFrame,
		deltaFrameCount: &seg.FrameCount,
		deltaWidth:      &seg.Width,
		deltaHeight:     &seg.Height,
	}
	tables := map[protowire.Number]*[]int{
		deltaBaseOffsets:    &seg.BaseOffsets,
		deltaShifts:         &seg.Shifts,
		deltaAdditionsData:  &seg.AdditionsData,
		deltaAdditionsIndex: &seg.AdditionsIndex,
		deltaAdditionsCount: &seg.AdditionsCount,
		deltaRemovalsData:   &seg.RemovalsData,
		deltaRemovalsIndex:  &seg.RemovalsIndex,
		deltaRemovalsCount:  &seg.RemovalsCount,
	}

	err := parseFields(b, func(f field) error {
		if dst, ok := scalars[f.num]; ok {
			v, err := f.int()
			*dst = v
			return err
		}
		if dst, ok := tables[f.num]; ok {
			vs, err := f.ints(f.num == deltaShifts)
			*dst = append(*dst, vs...)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// empty tables come back as empty slices, not nil
	for _, dst := range tables {
		if *dst == nil {
			*dst = []int{}
		}
	}
	return seg, nil
}

// UnmarshalBitpack parses a bitpack segment record
func UnmarshalBitpack(b []byte) (*types.BitpackSegment, error) {
	seg := &types.BitpackSegment{}
	scalars := map[protowire.Number]*int{
		bitpackSegment:       &seg.Segment,
		bitpackFirstFrame:    &seg.FirstFrame,
		bitpackFrameCount:    &seg.FrameCount,
		bitpackWidth:         &seg.Width,
		bitpackHeight:        &seg.Height,
		bitpackBytesPerFrame: &seg.BytesPerFrame,
	}

	err := parseFields(b, func(f field) error {
		if dst, ok := scalars[f.num]; ok {
			v, err := f.int()
			*dst = v
			return err
		}
		if f.num == bitpackData {
			if f.typ != protowire.BytesType {
				return fmt.Errorf("%w: data is not a byte field", ErrMalformed)
			}
			seg.Data = append(seg.Data, f.bytes...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return seg, nil
}
