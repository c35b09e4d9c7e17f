package align

import (
	"math/rand"
	"testing"

	"github.com/armlite-video/framepack/internal/mask"
)

func TestFindBestShift_Scenario(t *testing.T) {
	// 4x1: reference {(1,0),(2,0)}, target {(2,0),(3,0)}
	ref := mask.NewPixelSet(1, 2)
	tgt := mask.NewPixelSet(2, 3)
	got := FindBestShift(ref, tgt, 4, 2)
	if got.DX != 1 || got.Overlap != 2 {
		t.Fatalf("FindBestShift = %+v, want dx=1 overlap=2", got)
	}
}

func TestFindBestShift_Cases(t *testing.T) {
	for _, tc := range []struct {
		name     string
		ref, tgt []int
		width    int
		maxShift int
		want     Result
	}{
		{name: "identical", ref: []int{0, 5, 9}, tgt: []int{0, 5, 9}, width: 4, maxShift: 3, want: Result{DX: 0, Overlap: 3}},
		{name: "empty_reference", ref: nil, tgt: []int{1}, width: 4, maxShift: 3, want: Result{}},
		{name: "empty_target", ref: []int{1}, tgt: nil, width: 4, maxShift: 3, want: Result{}},
		{name: "no_overlap_in_range", ref: []int{0}, tgt: []int{7}, width: 8, maxShift: 2, want: Result{}},
		{name: "different_rows_never_match", ref: []int{0}, tgt: []int{8}, width: 8, maxShift: 4, want: Result{}},
		{name: "negative_max_shift", ref: []int{1}, tgt: []int{2}, width: 4, maxShift: -5, want: Result{}},
		{name: "shift_left", ref: []int{4, 5}, tgt: []int{1, 2}, width: 8, maxShift: 4, want: Result{DX: -3, Overlap: 2}},
		// both dx=-1 and dx=+1 reach overlap 1; the first seen in the ascending scan wins
		{name: "tie_prefers_first_scanned", ref: []int{2}, tgt: []int{1, 3}, width: 8, maxShift: 2, want: Result{DX: -1, Overlap: 1}},
		{name: "bound_respected", ref: []int{0}, tgt: []int{6}, width: 8, maxShift: 5, want: Result{}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got := FindBestShift(mask.NewPixelSet(tc.ref...), mask.NewPixelSet(tc.tgt...), tc.width, tc.maxShift)
			if got != tc.want {
				t.Fatalf("FindBestShift = %+v, want %+v", got, tc.want)
			}
			if got.Found() != (tc.want.Overlap > 0) {
				t.Fatalf("Found = %v", got.Found())
			}
		})
	}
}

func TestFindBestShift_BoundAndDeterminism(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	const w, h = 48, 12
	for iter := 0; iter < 50; iter++ {
		ref := mask.NewPixelSet()
		tgt := mask.NewPixelSet()
		for i := 0; i < 60; i++ {
			ref.Add(rng.Intn(w * h))
			tgt.Add(rng.Intn(w * h))
		}
		k := rng.Intn(10)
		first := FindBestShift(ref, tgt, w, k)
		if first.DX < -k || first.DX > k {
			t.Fatalf("iter %d: dx %d outside ±%d", iter, first.DX, k)
		}
		if again := FindBestShift(ref, tgt, w, k); again != first {
			t.Fatalf("iter %d: rerun %+v != %+v", iter, again, first)
		}
		if first.Overlap > tgt.Len() {
			t.Fatalf("iter %d: overlap %d exceeds target size %d", iter, first.Overlap, tgt.Len())
		}
	}
}

func TestFindBestShift_RecoversTranslation(t *testing.T) {
	const w = 64
	ref := mask.NewPixelSet()
	for y := 0; y < 10; y++ {
		for x := 20; x < 30; x++ {
			ref.Add(y*w + x)
		}
	}
	for _, dx := range []int{-7, -1, 0, 4, 12} {
		tgt := ref.Translate(dx, w)
		got := FindBestShift(ref, tgt, w, 16)
		if got.DX != dx || got.Overlap != ref.Len() {
			t.Fatalf("translated by %d: got %+v", dx, got)
		}
	}
}
