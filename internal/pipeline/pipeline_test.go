package pipeline

import (
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/armlite-video/framepack/internal/bitpack"
	"github.com/armlite-video/framepack/internal/config"
	"github.com/armlite-video/framepack/internal/delta"
	"github.com/armlite-video/framepack/internal/emit"
	"github.com/armlite-video/framepack/internal/mask"
	"github.com/armlite-video/framepack/internal/maskio"
	"github.com/armlite-video/framepack/internal/metrics"
	"github.com/armlite-video/framepack/internal/output"
	"github.com/armlite-video/framepack/internal/wire"
	"github.com/armlite-video/framepack/pkg/types"
)

const testW, testH = 32, 8

// movingBlock is a 6x4 block whose left edge drifts between x=8 and x=14
func movingBlock(i int) *mask.PixelSet {
	s := mask.NewPixelSet()
	x0 := 8 + (i*3)%7
	for y := 2; y < 6; y++ {
		for x := x0; x < x0+6; x++ {
			s.Add(y*testW + x)
		}
	}
	if i%4 == 0 {
		s.Add(7*testW + 30)
	}
	return s
}

func writeMasks(t *testing.T, dir string, n int) []*mask.PixelSet {
	t.Helper()
	sets := make([]*mask.PixelSet, n)
	for i := range sets {
		sets[i] = movingBlock(i)
		if _, err := maskio.WriteMask(dir, i+1, mask.FromPixels(sets[i], testW, testH)); err != nil {
			t.Fatalf("WriteMask: %v", err)
		}
	}
	return sets
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.MasksDir = t.TempDir()
	cfg.OutDir = filepath.Join(t.TempDir(), "segments")
	cfg.SegmentSize = 4
	cfg.Workers = 2
	cfg.Codec = config.CodecBoth
	cfg.Simulate = true
	return cfg
}

func TestEncode_WritesEverySegment(t *testing.T) {
	cfg := testConfig(t)
	sets := writeMasks(t, cfg.MasksDir, 10)
	m := metrics.New()

	manifest, err := Encode(context.Background(), cfg, m)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if manifest.Width != testW || manifest.Height != testH || manifest.FrameCount != 10 {
		t.Fatalf("manifest = %+v", manifest)
	}
	// 3 segments (4+4+2 frames), two codecs each
	if len(manifest.Segments) != 6 {
		t.Fatalf("segments = %d, want 6", len(manifest.Segments))
	}
	if m.SegmentsEncoded.Load() != 3 || m.FramesDecoded.Load() != 10 {
		t.Fatalf("metrics: segments=%d frames=%d", m.SegmentsEncoded.Load(), m.FramesDecoded.Load())
	}

	for _, e := range manifest.Segments {
		if e.Error != "" {
			t.Fatalf("segment %d %s: %s", e.Segment, e.Codec, e.Error)
		}
		if _, err := os.Stat(filepath.Join(cfg.OutDir, e.Assembly)); err != nil {
			t.Fatalf("assembly missing: %v", err)
		}
		seg, err := wire.ReadFile(filepath.Join(cfg.OutDir, e.Container))
		if err != nil {
			t.Fatalf("ReadFile: %v", err)
		}
		for i := 0; i < seg.FrameCount(); i++ {
			var got *mask.PixelSet
			if e.Codec == types.CodecDelta {
				got, err = delta.Replay(seg.Delta, i)
			} else {
				got, err = bitpack.Frame(seg.Bitpack, i)
			}
			if err != nil {
				t.Fatalf("replay: %v", err)
			}
			want := sets[e.FirstFrame-1+i]
			if !got.Equal(want) {
				t.Fatalf("segment %d %s frame %d differs", e.Segment, e.Codec, i)
			}
		}
	}

	if _, err := output.ReadManifest(cfg.OutDir); err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
}

func TestEncode_FailedSegmentDoesNotStopOthers(t *testing.T) {
	cfg := testConfig(t)
	cfg.Codec = string(types.CodecDelta)
	writeMasks(t, cfg.MasksDir, 12)
	// frame 6 sits in segment 1
	if err := os.WriteFile(filepath.Join(cfg.MasksDir, maskio.FrameName(6)), []byte(`{"w":32,"h":8,"rows":[]}`), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	m := metrics.New()

	manifest, err := Encode(context.Background(), cfg, m)
	if err == nil {
		t.Fatalf("expected an error for the broken segment")
	}
	if !mask.IsDecodeError(err) || !errors.Is(err, mask.ErrRowCount) {
		t.Fatalf("err = %v, want a row-count DecodeError", err)
	}
	if !strings.Contains(err.Error(), "segment 001") {
		t.Fatalf("err = %v, want it to name segment 001", err)
	}
	if m.SegmentsEncoded.Load() != 2 || m.SegmentsFailed.Load() != 1 {
		t.Fatalf("encoded=%d failed=%d", m.SegmentsEncoded.Load(), m.SegmentsFailed.Load())
	}
	for _, n := range []int{0, 2} {
		if _, err := os.Stat(filepath.Join(cfg.OutDir, output.ContainerName(n, types.CodecDelta))); err != nil {
			t.Fatalf("segment %d missing: %v", n, err)
		}
	}
	if manifest.Segments[1].Error == "" {
		t.Fatalf("manifest does not record the failure: %+v", manifest.Segments[1])
	}
}

func TestEncode_RejectsSizeChangeBetweenSegments(t *testing.T) {
	cfg := testConfig(t)
	writeMasks(t, cfg.MasksDir, 4)
	// segment 1 switches to 16x4
	for i := 5; i <= 8; i++ {
		if _, err := maskio.WriteMask(cfg.MasksDir, i, mask.FromPixels(mask.NewPixelSet(i), 16, 4)); err != nil {
			t.Fatalf("WriteMask: %v", err)
		}
	}
	m := metrics.New()

	manifest, err := Encode(context.Background(), cfg, m)
	if err == nil {
		t.Fatalf("expected an error for the resized segment")
	}
	if !mask.IsDecodeError(err) || !errors.Is(err, mask.ErrDimensionMismatch) {
		t.Fatalf("err = %v, want a dimension-mismatch DecodeError", err)
	}
	if !strings.Contains(err.Error(), "segment 001") {
		t.Fatalf("err = %v, want it to name segment 001", err)
	}
	if manifest.Width != testW || manifest.Height != testH {
		t.Fatalf("manifest size = %dx%d, want %dx%d", manifest.Width, manifest.Height, testW, testH)
	}
	if m.SegmentsEncoded.Load() != 1 || m.SegmentsFailed.Load() != 1 {
		t.Fatalf("encoded=%d failed=%d", m.SegmentsEncoded.Load(), m.SegmentsFailed.Load())
	}
	for _, e := range manifest.Segments {
		if (e.Segment == 1) != (e.Error != "") {
			t.Fatalf("segment %d %s error = %q", e.Segment, e.Codec, e.Error)
		}
	}
}

// brokenDelta fails every delta program and defers bitpack to ARMLite
type brokenDelta struct {
	emit.ARMLite
}

func (brokenDelta) EmitDelta(w io.Writer, seg *types.DeltaSegment) error {
	return errors.New("delta backend unavailable")
}

func TestEncode_CodecFailureKeepsOtherCodec(t *testing.T) {
	cfg := testConfig(t)
	cfg.Simulate = false
	writeMasks(t, cfg.MasksDir, 4)
	m := metrics.New()

	enc, err := NewEncoder(cfg, m)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	enc.backend = brokenDelta{}

	manifest, err := enc.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "delta backend unavailable") {
		t.Fatalf("err = %v, want the delta failure", err)
	}
	if len(manifest.Segments) != 2 {
		t.Fatalf("segments = %+v, want one entry per codec", manifest.Segments)
	}
	for _, e := range manifest.Segments {
		switch e.Codec {
		case types.CodecDelta:
			if e.Error == "" {
				t.Fatalf("delta entry has no error: %+v", e)
			}
		case types.CodecBitpack:
			if e.Error != "" {
				t.Fatalf("bitpack entry failed: %s", e.Error)
			}
			if _, err := wire.ReadFile(filepath.Join(cfg.OutDir, e.Container)); err != nil {
				t.Fatalf("bitpack container: %v", err)
			}
		}
	}
	if m.SegmentsFailed.Load() != 1 {
		t.Fatalf("failed = %d", m.SegmentsFailed.Load())
	}
}

func TestEncode_NoMasks(t *testing.T) {
	cfg := testConfig(t)
	if _, err := Encode(context.Background(), cfg, nil); !errors.Is(err, types.ErrEmptyInput) {
		t.Fatalf("err = %v, want ErrEmptyInput", err)
	}
}

func TestEncode_Cancelled(t *testing.T) {
	cfg := testConfig(t)
	writeMasks(t, cfg.MasksDir, 8)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Encode(ctx, cfg, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestNewEncoder_RejectsConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Backend = "z80"
	if _, err := NewEncoder(cfg, nil); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
	cfg = testConfig(t)
	cfg.Codec = "rle"
	if _, err := NewEncoder(cfg, nil); err == nil {
		t.Fatalf("expected error for unknown codec")
	}
}

func TestStats(t *testing.T) {
	cfg := testConfig(t)
	writeMasks(t, cfg.MasksDir, 5)
	report, err := Stats(cfg, "")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if report.Summary.Count != 5 || report.Summary.Width != testW {
		t.Fatalf("summary = %+v", report.Summary)
	}
	if _, err := os.Stat(filepath.Join(cfg.MasksDir, StatsName)); err != nil {
		t.Fatalf("stats.json missing: %v", err)
	}
}

func TestMasks(t *testing.T) {
	cfg := testConfig(t)
	cfg.FramesDir = t.TempDir()
	img := image.NewGray(image.Rect(0, 0, 4, 2))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	img.Pix[5] = 0
	f, err := os.Create(filepath.Join(cfg.FramesDir, "0001.png"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("png: %v", err)
	}
	f.Close()

	idx, err := Masks(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Masks: %v", err)
	}
	if idx.Count != 1 || idx.Frames[0].Black != 1 {
		t.Fatalf("index = %+v", idx)
	}
}
