package maskio

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"

	// registered raster decoders
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/armlite-video/framepack/internal/logger"
	"github.com/armlite-video/framepack/internal/mask"
)

var imageExts = map[string]bool{
	".png":  true,
	".gif":  true,
	".jpg":  true,
	".jpeg": true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
	".webp": true,
}

// ListImages returns the decodable raster files in dir in name order
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list frames: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// DecodeImage opens and decodes a raster file
func DecodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, err
	}
	return img, nil
}

// ConvertOptions controls image-to-mask conversion
type ConvertOptions struct {
	Threshold int
	// Subset keeps only the first N frames (0 = all)
	Subset int
	// ProgressEvery logs a progress line every N frames (0 disables)
	ProgressEvery int
}

// DefaultConvertOptions returns threshold 128, all frames, progress every 50
func DefaultConvertOptions() ConvertOptions {
	return ConvertOptions{
		Threshold:     mask.DefaultThreshold,
		ProgressEvery: 50,
	}
}

// Convert thresholds every image in srcDir into a mask file in dstDir and
// writes the index. Frames are numbered from 1 in name order.
func Convert(ctx context.Context, srcDir, dstDir string, opts ConvertOptions) (*Index, error) {
	paths, err := ListImages(srcDir)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no frames found in %s", srcDir)
	}
	if opts.Subset > 0 && opts.Subset < len(paths) {
		paths = paths[:opts.Subset]
	}
	if err := os.MkdirAll(dstDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create mask directory: %w", err)
	}

	idx := &Index{Count: len(paths), Frames: make([]IndexEntry, 0, len(paths))}
	for k, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		i := k + 1
		src := filepath.Base(path)

		img, err := DecodeImage(path)
		if err != nil {
			return nil, &mask.DecodeError{File: src, Frame: i, Err: err}
		}
		m, err := mask.Encode(img, opts.Threshold)
		if err != nil {
			var de *mask.DecodeError
			if errors.As(err, &de) {
				de.File, de.Frame = src, i
			}
			return nil, err
		}
		out, err := WriteMask(dstDir, i, m)
		if err != nil {
			return nil, err
		}
		idx.Frames = append(idx.Frames, IndexEntry{Src: src, Out: out, Black: m.Black()})
		logger.Progress("Masks", "Processed", i, len(paths), opts.ProgressEvery)
	}

	if err := WriteIndex(dstDir, idx); err != nil {
		return nil, err
	}
	logger.Info("Masks", "Wrote %d masks to %s", len(paths), dstDir)
	return idx, nil
}
