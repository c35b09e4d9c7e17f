// Package pipeline runs the framepack stages: image conversion, statistics and segment encoding.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/armlite-video/framepack/internal/bitpack"
	"github.com/armlite-video/framepack/internal/config"
	"github.com/armlite-video/framepack/internal/consensus"
	"github.com/armlite-video/framepack/internal/delta"
	"github.com/armlite-video/framepack/internal/emit"
	"github.com/armlite-video/framepack/internal/emit/sim"
	"github.com/armlite-video/framepack/internal/logger"
	"github.com/armlite-video/framepack/internal/mask"
	"github.com/armlite-video/framepack/internal/maskio"
	"github.com/armlite-video/framepack/internal/metrics"
	"github.com/armlite-video/framepack/internal/output"
	"github.com/armlite-video/framepack/internal/stats"
	"github.com/armlite-video/framepack/internal/wire"
	"github.com/armlite-video/framepack/pkg/types"
)

// StatsName is the analyzer report written next to the masks
const StatsName = "stats.json"

// ErrSimulation is returned when an emitted program does not reproduce its frames
var ErrSimulation = errors.New("emitted program does not reproduce the segment")

// Masks converts the raster frames in cfg.FramesDir into mask files in cfg.MasksDir
func Masks(ctx context.Context, cfg config.Config) (*maskio.Index, error) {
	return maskio.Convert(ctx, cfg.FramesDir, cfg.MasksDir, maskio.ConvertOptions{
		Threshold:     cfg.Threshold,
		Subset:        cfg.Subset,
		ProgressEvery: cfg.ProgressEvery,
	})
}

// Stats analyzes every mask in cfg.MasksDir and writes the report to path
// (cfg.MasksDir/stats.json when path is empty).
func Stats(cfg config.Config, path string) (*stats.Report, error) {
	paths, err := maskio.List(cfg.MasksDir)
	if err != nil {
		return nil, err
	}
	frames, err := maskio.Load(paths, 1)
	if err != nil {
		return nil, err
	}
	report, err := stats.Analyze(frames, cfg.StatsOptions())
	if err != nil {
		return nil, err
	}
	if path == "" {
		path = filepath.Join(cfg.MasksDir, StatsName)
	}
	if err := report.WriteJSON(path); err != nil {
		return nil, err
	}
	s := report.Summary
	logger.Info("Stats", "frames=%d avg_black=%.1f avg_diff=%.1f shift_match=%.1f%%",
		s.Count, s.AvgBlack, s.AvgDiff, s.ShiftMatchPercent)
	return report, nil
}

// job is one contiguous chunk of mask files
type job struct {
	segment    int
	firstFrame int
	paths      []string
}

// Encoder runs segment jobs on a bounded worker pool
type Encoder struct {
	cfg     config.Config
	codecs  []types.Codec
	backend emit.Backend
	metrics *metrics.Metrics
	out     *output.Writer

	mu     sync.Mutex
	width  int
	height int
}

// NewEncoder validates cfg and prepares the output directory
func NewEncoder(cfg config.Config, m *metrics.Metrics) (*Encoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	codecs, err := cfg.Codecs()
	if err != nil {
		return nil, err
	}
	backend, err := emit.Lookup(cfg.Backend)
	if err != nil {
		return nil, err
	}
	out, err := output.NewWriter(cfg.OutDir)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = metrics.New()
	}
	return &Encoder{
		cfg:     cfg,
		codecs:  codecs,
		backend: backend,
		metrics: m,
		out:     out,
	}, nil
}

// Run chunks the masks into segments and encodes them concurrently. A failing
// segment does not stop the others; every failure is joined into the returned
// error and the manifest is written either way.
func (e *Encoder) Run(ctx context.Context) (*output.Manifest, error) {
	paths, err := maskio.List(e.cfg.MasksDir)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no masks in %s: %w", e.cfg.MasksDir, types.ErrEmptyInput)
	}

	var jobs []job
	for start := 0; start < len(paths); start += e.cfg.SegmentSize {
		end := min(start+e.cfg.SegmentSize, len(paths))
		jobs = append(jobs, job{
			segment:    start / e.cfg.SegmentSize,
			firstFrame: start + 1,
			paths:      paths[start:end],
		})
	}
	logger.Info("Encode", "%d masks -> %d segments of up to %d frames (codec=%s, workers=%d)",
		len(paths), len(jobs), e.cfg.SegmentSize, e.cfg.Codec, e.cfg.Workers)

	// frame 1 fixes the session size before any segment runs
	if first, err := maskio.ReadMask(paths[0], 1); err == nil && first.Width > 0 && first.Height > 0 {
		e.width, e.height = first.Width, first.Height
	}

	workers := e.cfg.Workers
	if workers <= 0 || workers > len(jobs) {
		workers = len(jobs)
	}
	jobChan := make(chan job)
	errs := make([]error, len(jobs))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobChan {
				if err := e.encodeSegment(ctx, j); err != nil {
					e.metrics.SegmentsFailed.Add(1)
					logger.Error("Segment", "segment %03d failed: %v", j.segment, err)
					errs[j.segment] = fmt.Errorf("segment %03d: %w", j.segment, err)
				}
			}
		}()
	}

feed:
	for _, j := range jobs {
		select {
		case jobChan <- j:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobChan)
	wg.Wait()

	e.mu.Lock()
	w, h := e.width, e.height
	e.mu.Unlock()

	manifest := e.out.Manifest(w, h, len(paths), e.cfg.SegmentSize)
	if err := e.out.WriteManifest(manifest); err != nil {
		errs = append(errs, err)
	}
	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}

	st := e.out.GetStatus()
	logger.Info("Encode", "wrote %d files (%d bytes) in %dms", st.Files, st.BytesWritten, st.DurationMs)
	return manifest, errors.Join(errs...)
}

func (e *Encoder) encodeSegment(ctx context.Context, j job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	started := time.Now()

	frames, err := maskio.Load(j.paths, j.firstFrame)
	if err == nil {
		err = e.checkSize(frames[0])
	}
	if err != nil {
		e.metrics.DecodeErrors.Add(1)
		for _, c := range e.codecs {
			e.out.Record(output.SegmentEntry{Segment: j.segment, Codec: c, FirstFrame: j.firstFrame, FrameCount: len(j.paths), Error: err.Error()})
		}
		return err
	}
	e.metrics.FramesDecoded.Add(uint64(len(frames)))

	w, h := frames[0].Width, frames[0].Height
	sets := mask.Sets(frames)

	// a failing codec does not keep the others from writing their outputs
	var errs []error
	for _, codec := range e.codecs {
		var entry output.SegmentEntry
		var err error
		switch codec {
		case types.CodecDelta:
			entry, err = e.encodeDelta(j, sets, w, h)
		case types.CodecBitpack:
			entry, err = e.encodeBitpack(j, sets, w, h)
		}
		if err != nil {
			entry = output.SegmentEntry{Segment: j.segment, Codec: codec, FirstFrame: j.firstFrame, FrameCount: len(sets), Error: err.Error()}
			errs = append(errs, fmt.Errorf("%s: %w", codec, err))
		}
		e.out.Record(entry)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	e.metrics.SegmentsEncoded.Add(1)
	e.metrics.UpdateEncodeLatency(time.Since(started))
	return nil
}

// checkSize holds every segment to the session's frame size. The size comes
// from frame 1, or from the first segment to load when frame 1 is unreadable.
func (e *Encoder) checkSize(f *mask.Frame) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.width == 0 {
		e.width, e.height = f.Width, f.Height
		return nil
	}
	if f.Width != e.width || f.Height != e.height {
		return &mask.DecodeError{
			File:  f.Name,
			Frame: f.Index,
			Err:   fmt.Errorf("%w: %dx%d, session is %dx%d", mask.ErrDimensionMismatch, f.Width, f.Height, e.width, e.height),
		}
	}
	return nil
}

func (e *Encoder) encodeDelta(j job, sets []*mask.PixelSet, w, h int) (output.SegmentEntry, error) {
	c, err := consensus.Build(sets, w, h, e.cfg.ConsensusOptions())
	if err != nil {
		return output.SegmentEntry{}, err
	}
	seg, err := delta.Encode(sets, c)
	if err != nil {
		return output.SegmentEntry{}, err
	}
	seg.Segment = j.segment
	seg.FirstFrame = j.firstFrame
	if err := delta.Verify(seg, sets); err != nil {
		return output.SegmentEntry{}, err
	}

	var asm bytes.Buffer
	if err := e.backend.EmitDelta(&asm, seg); err != nil {
		return output.SegmentEntry{}, err
	}
	if e.cfg.Simulate {
		differ, err := simulate(asm.Bytes(), w, h, sets)
		if err != nil {
			return output.SegmentEntry{}, err
		}
		if differ > 0 {
			// shifted base pixels pushed past a row edge land in the neighbouring row on the target
			logger.Warn("Segment", "segment %03d: %d of %d frames differ when run on the target", j.segment, differ, len(sets))
		}
	}

	entry := output.SegmentEntry{
		Segment:    j.segment,
		Codec:      types.CodecDelta,
		FirstFrame: j.firstFrame,
		FrameCount: seg.FrameCount,
		Container:  output.ContainerName(j.segment, types.CodecDelta),
		Assembly:   output.AssemblyName(j.segment, types.CodecDelta),
		Entries:    delta.Size(seg),
	}
	if entry.Bytes, err = e.write(entry, wire.EncodeDelta(seg, wire.Options{Compress: e.cfg.Compress}), asm.Bytes()); err != nil {
		return output.SegmentEntry{}, err
	}

	e.metrics.BasePixels.Add(uint64(len(seg.BaseOffsets)))
	e.metrics.DeltaEntries.Add(uint64(len(seg.AdditionsData) + len(seg.RemovalsData)))
	logger.Info("Segment", "segment %03d: frames=%d base_pixels=%d additions_total=%d removals_total=%d unaligned=%d",
		j.segment, seg.FrameCount, len(seg.BaseOffsets), len(seg.AdditionsData), len(seg.RemovalsData), c.Unaligned)
	return entry, nil
}

func (e *Encoder) encodeBitpack(j job, sets []*mask.PixelSet, w, h int) (output.SegmentEntry, error) {
	seg, err := bitpack.Encode(sets, w, h)
	if err != nil {
		return output.SegmentEntry{}, err
	}
	seg.Segment = j.segment
	seg.FirstFrame = j.firstFrame
	for i, want := range sets {
		got, err := bitpack.Frame(seg, i)
		if err != nil {
			return output.SegmentEntry{}, err
		}
		if !got.Equal(want) {
			return output.SegmentEntry{}, fmt.Errorf("bitpack frame %d does not unpack to its source", j.firstFrame+i)
		}
	}

	var asm bytes.Buffer
	if err := e.backend.EmitBitpack(&asm, seg); err != nil {
		return output.SegmentEntry{}, err
	}
	if e.cfg.Simulate {
		differ, err := simulate(asm.Bytes(), w, h, sets)
		if err != nil {
			return output.SegmentEntry{}, err
		}
		if differ > 0 {
			return output.SegmentEntry{}, fmt.Errorf("%w: %d of %d frames differ", ErrSimulation, differ, len(sets))
		}
	}

	entry := output.SegmentEntry{
		Segment:    j.segment,
		Codec:      types.CodecBitpack,
		FirstFrame: j.firstFrame,
		FrameCount: seg.FrameCount,
		Container:  output.ContainerName(j.segment, types.CodecBitpack),
		Assembly:   output.AssemblyName(j.segment, types.CodecBitpack),
		Entries:    len(seg.Data),
	}
	if entry.Bytes, err = e.write(entry, wire.EncodeBitpack(seg, wire.Options{Compress: e.cfg.Compress}), asm.Bytes()); err != nil {
		return output.SegmentEntry{}, err
	}

	e.metrics.BitpackBytes.Add(uint64(len(seg.Data)))
	logger.Info("Segment", "segment %03d bitpacked: frames=%d bytes_per_frame=%d", j.segment, seg.FrameCount, seg.BytesPerFrame)
	return entry, nil
}

// write stores the container and the assembly of an entry
func (e *Encoder) write(entry output.SegmentEntry, container, asm []byte) (uint64, error) {
	var total uint64
	for _, f := range []struct {
		name string
		data []byte
	}{
		{entry.Container, container},
		{entry.Assembly, asm},
	} {
		n, err := e.out.WriteFile(f.name, f.data)
		if err != nil {
			return total, err
		}
		total += n
	}
	e.metrics.BytesWritten.Add(total)
	return total, nil
}

// simulate runs an emitted program and counts frames that differ from want
func simulate(asm []byte, w, h int, want []*mask.PixelSet) (int, error) {
	prog, err := sim.Parse(bytes.NewReader(asm))
	if err != nil {
		return 0, err
	}
	res, err := prog.Run(w, h, sim.Options{})
	if err != nil {
		return 0, err
	}
	if len(res.Frames) != len(want) {
		return 0, fmt.Errorf("%w: captured %d frames, want %d", ErrSimulation, len(res.Frames), len(want))
	}
	differ := 0
	for i, f := range res.Frames {
		if !f.Equal(want[i]) {
			differ++
		}
	}
	return differ, nil
}

// Encode is shorthand for NewEncoder followed by Run
func Encode(ctx context.Context, cfg config.Config, m *metrics.Metrics) (*output.Manifest, error) {
	enc, err := NewEncoder(cfg, m)
	if err != nil {
		return nil, err
	}
	return enc.Run(ctx)
}
