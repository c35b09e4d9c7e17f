package mask

import (
	"math"

	"github.com/RoaringBitmap/roaring"
)

// PixelSet is a set of linear pixel indices (y*w+x).
// It is the working form for every geometric operation; only the RLE form is persisted.
type PixelSet struct {
	bits *roaring.Bitmap
}

// NewPixelSet creates a set holding the given indices
func NewPixelSet(indices ...int) *PixelSet {
	s := &PixelSet{bits: roaring.New()}
	for _, idx := range indices {
		s.Add(idx)
	}
	return s
}

func wrap(bm *roaring.Bitmap) *PixelSet {
	return &PixelSet{bits: bm}
}

func (s *PixelSet) bitmap() *roaring.Bitmap {
	if s == nil || s.bits == nil {
		return roaring.New()
	}
	return s.bits
}

// Add inserts a pixel index. Indices outside [0, MaxUint32] are ignored.
func (s *PixelSet) Add(idx int) {
	if idx < 0 || uint64(idx) > math.MaxUint32 {
		return
	}
	if s.bits == nil {
		s.bits = roaring.New()
	}
	s.bits.Add(uint32(idx))
}

// AddRange inserts every index in [start, end)
func (s *PixelSet) AddRange(start, end int) {
	if start < 0 || end <= start {
		return
	}
	if s.bits == nil {
		s.bits = roaring.New()
	}
	s.bits.AddRange(uint64(start), uint64(end))
}

// Contains reports whether idx is in the set
func (s *PixelSet) Contains(idx int) bool {
	if idx < 0 || uint64(idx) > math.MaxUint32 || s == nil || s.bits == nil {
		return false
	}
	return s.bits.Contains(uint32(idx))
}

// Len returns the number of pixels in the set
func (s *PixelSet) Len() int {
	if s == nil || s.bits == nil {
		return 0
	}
	return int(s.bits.GetCardinality())
}

// Max returns the largest index, or false for an empty set
func (s *PixelSet) Max() (int, bool) {
	if s.Len() == 0 {
		return 0, false
	}
	return int(s.bits.Maximum()), true
}

// Each calls fn for every index in ascending order
func (s *PixelSet) Each(fn func(idx int)) {
	if s == nil || s.bits == nil {
		return
	}
	it := s.bits.Iterator()
	for it.HasNext() {
		fn(int(it.Next()))
	}
}

// Indices returns the members in ascending order
func (s *PixelSet) Indices() []int {
	out := make([]int, 0, s.Len())
	s.Each(func(idx int) {
		out = append(out, idx)
	})
	return out
}

// Clone returns an independent copy
func (s *PixelSet) Clone() *PixelSet {
	return wrap(s.bitmap().Clone())
}

// Difference returns s − o
func (s *PixelSet) Difference(o *PixelSet) *PixelSet {
	return wrap(roaring.AndNot(s.bitmap(), o.bitmap()))
}

// Union returns s ∪ o
func (s *PixelSet) Union(o *PixelSet) *PixelSet {
	return wrap(roaring.Or(s.bitmap(), o.bitmap()))
}

// SymmetricDifferenceLen returns |s ⊕ o|
func (s *PixelSet) SymmetricDifferenceLen(o *PixelSet) int {
	return int(roaring.Xor(s.bitmap(), o.bitmap()).GetCardinality())
}

// Equal reports whether both sets hold the same indices
func (s *PixelSet) Equal(o *PixelSet) bool {
	return s.bitmap().Equals(o.bitmap())
}

// Translate moves every pixel (x,y) to (x+dx,y) in a grid of the given width.
// Pixels landing outside [0,width) are dropped, never clamped or wrapped into the next row.
func (s *PixelSet) Translate(dx, width int) *PixelSet {
	if dx == 0 {
		return s.Clone()
	}
	out := NewPixelSet()
	if width <= 0 {
		return out
	}
	s.Each(func(idx int) {
		x := idx%width + dx
		if x < 0 || x >= width {
			return
		}
		out.Add((idx/width)*width + x)
	})
	return out
}
