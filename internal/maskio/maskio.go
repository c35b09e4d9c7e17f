// Package maskio reads and writes per-frame mask files and their index.
package maskio

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/armlite-video/framepack/internal/mask"
)

// File naming
const (
	FramePattern = "frame_*.json"
	IndexName    = "index.json"
)

// FrameName returns the file name of the 1-based frame i
func FrameName(i int) string {
	return fmt.Sprintf("frame_%05d.json", i)
}

// Record is the on-disk mask: the RLE rows plus the on-pixel count
type Record struct {
	mask.Mask
	Black int `json:"black"`
}

// IndexEntry describes one converted frame
type IndexEntry struct {
	Src   string `json:"src"`
	Out   string `json:"out"`
	Black int    `json:"black"`
}

// Index summarises a conversion run
type Index struct {
	Count  int          `json:"count"`
	Frames []IndexEntry `json:"frames"`
}

// WriteMask stores m as frame i in dir and returns the file name
func WriteMask(dir string, i int, m *mask.Mask) (string, error) {
	name := FrameName(i)
	data, err := json.Marshal(Record{Mask: *m, Black: m.Black()})
	if err != nil {
		return "", fmt.Errorf("failed to marshal mask: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
		return "", fmt.Errorf("failed to write mask: %w", err)
	}
	return name, nil
}

// WriteIndex stores idx as index.json in dir
func WriteIndex(dir string, idx *Index) error {
	data, err := json.Marshal(idx)
	if err != nil {
		return fmt.Errorf("failed to marshal index: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, IndexName), data, 0644); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}
	return nil
}

// ReadIndex loads index.json from dir
func ReadIndex(dir string) (*Index, error) {
	data, err := os.ReadFile(filepath.Join(dir, IndexName))
	if err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("failed to parse index: %w", err)
	}
	return &idx, nil
}

// List returns the mask files in dir in name order
func List(dir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, FramePattern))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

// ReadMask parses one mask file. Read and parse failures come back as a DecodeError.
func ReadMask(path string, index int) (*mask.Mask, error) {
	name := filepath.Base(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &mask.DecodeError{File: name, Frame: index, Err: err}
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, &mask.DecodeError{File: name, Frame: index, Err: err}
	}
	return &rec.Mask, nil
}

// LoadFrame reads and validates one mask file as frame index (1-based)
func LoadFrame(path string, index int) (*mask.Frame, error) {
	m, err := ReadMask(path, index)
	if err != nil {
		return nil, err
	}
	return mask.NewFrame(index, filepath.Base(path), m)
}

// Load reads paths as consecutive frames starting at firstIndex. It stops at
// the first frame that fails to decode and requires every frame to share the
// dimensions of the first.
func Load(paths []string, firstIndex int) ([]*mask.Frame, error) {
	frames := make([]*mask.Frame, 0, len(paths))
	for k, path := range paths {
		f, err := LoadFrame(path, firstIndex+k)
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}
	if err := mask.CheckSameSize(frames); err != nil {
		return nil, err
	}
	return frames, nil
}
