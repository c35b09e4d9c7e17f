// Package output writes segment artifacts into a run directory and keeps the run manifest.
package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/armlite-video/framepack/pkg/types"
)

// ManifestName is the run manifest file
const ManifestName = "manifest.json"

// ContainerName is the wire container file of segment n
func ContainerName(n int, codec types.Codec) string {
	if codec == types.CodecBitpack {
		return fmt.Sprintf("segment_%03d_bitpacked.fpk", n)
	}
	return fmt.Sprintf("segment_%03d.fpk", n)
}

// AssemblyName is the backend source file of segment n
func AssemblyName(n int, codec types.Codec) string {
	if codec == types.CodecBitpack {
		return fmt.Sprintf("segment_%03d_bitpacked.asm", n)
	}
	return fmt.Sprintf("segment_%03d.asm", n)
}

// SegmentEntry describes the artifacts of one segment and codec
type SegmentEntry struct {
	Segment    int         `json:"segment"`
	Codec      types.Codec `json:"codec"`
	FirstFrame int         `json:"first_frame"`
	FrameCount int         `json:"frame_count"`
	Container  string      `json:"container,omitempty"`
	Assembly   string      `json:"assembly,omitempty"`
	Bytes      uint64      `json:"bytes"`
	// Entries is the delta table size or the packed byte count
	Entries int    `json:"entries"`
	Error   string `json:"error,omitempty"`
}

// Manifest lists every segment written in a run
type Manifest struct {
	Width        int            `json:"width"`
	Height       int            `json:"height"`
	FrameCount   int            `json:"frame_count"`
	SegmentSize  int            `json:"segment_size"`
	Segments     []SegmentEntry `json:"segments"`
	BytesWritten uint64         `json:"bytes_written"`
	StartTime    time.Time      `json:"start_time"`
	DurationMs   int64          `json:"duration_ms"`
}

// Writer stores artifacts under a base path. It is safe for concurrent use.
type Writer struct {
	mu           sync.Mutex
	basePath     string
	startTime    time.Time
	files        int
	bytesWritten uint64
	entries      []SegmentEntry
}

// NewWriter creates the base path if needed
func NewWriter(basePath string) (*Writer, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &Writer{
		basePath:  basePath,
		startTime: time.Now(),
	}, nil
}

// Path joins name onto the base path
func (w *Writer) Path(name string) string {
	return filepath.Join(w.basePath, name)
}

// WriteFile stores data under name and returns the byte count
func (w *Writer) WriteFile(name string, data []byte) (uint64, error) {
	if err := os.WriteFile(w.Path(name), data, 0644); err != nil {
		return 0, fmt.Errorf("failed to write %s: %w", name, err)
	}
	n := uint64(len(data))

	w.mu.Lock()
	w.files++
	w.bytesWritten += n
	w.mu.Unlock()
	return n, nil
}

// Record adds a segment entry to the manifest
func (w *Writer) Record(e SegmentEntry) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = append(w.entries, e)
}

// Status holds the writer's progress
type Status struct {
	Files        int    `json:"files"`
	BytesWritten uint64 `json:"bytes_written"`
	DurationMs   int64  `json:"duration_ms"`
}

// GetStatus returns the current status
func (w *Writer) GetStatus() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Status{
		Files:        w.files,
		BytesWritten: w.bytesWritten,
		DurationMs:   time.Since(w.startTime).Milliseconds(),
	}
}

// Manifest returns the run manifest, segments ordered by number then codec
func (w *Writer) Manifest(width, height, frames, segmentSize int) *Manifest {
	w.mu.Lock()
	defer w.mu.Unlock()

	entries := append([]SegmentEntry(nil), w.entries...)
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Segment != entries[j].Segment {
			return entries[i].Segment < entries[j].Segment
		}
		return entries[i].Codec < entries[j].Codec
	})
	return &Manifest{
		Width:        width,
		Height:       height,
		FrameCount:   frames,
		SegmentSize:  segmentSize,
		Segments:     entries,
		BytesWritten: w.bytesWritten,
		StartTime:    w.startTime,
		DurationMs:   time.Since(w.startTime).Milliseconds(),
	}
}

// WriteManifest stores m as manifest.json
func (w *Writer) WriteManifest(m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := os.WriteFile(w.Path(ManifestName), data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// ReadManifest loads manifest.json from dir
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &m, nil
}
