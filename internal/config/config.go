// Package config holds the tunables shared by the framepack and preview commands.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"

	"github.com/armlite-video/framepack/internal/align"
	"github.com/armlite-video/framepack/internal/consensus"
	"github.com/armlite-video/framepack/internal/mask"
	"github.com/armlite-video/framepack/internal/stats"
	"github.com/armlite-video/framepack/pkg/types"
)

// CodecBoth selects the delta and bitpack codecs together
const CodecBoth = "both"

// Config defines a framepack run
type Config struct {
	FramesDir string `yaml:"frames_dir"`
	MasksDir  string `yaml:"masks_dir"`
	OutDir    string `yaml:"out_dir"`

	Threshold int `yaml:"threshold"`
	Subset    int `yaml:"subset"`

	SegmentSize    int     `yaml:"segment_size"`
	BaseFrac       float64 `yaml:"base_frac"`
	MaxShift       int     `yaml:"max_shift"`
	StatsMaxShift  int     `yaml:"stats_max_shift"`
	MatchThreshold float64 `yaml:"match_threshold"`

	Codec    string `yaml:"codec"`
	Backend  string `yaml:"backend"`
	Compress bool   `yaml:"compress"`
	Simulate bool   `yaml:"simulate"`
	Workers  int    `yaml:"workers"`

	ProgressEvery int `yaml:"progress_every"`

	Preview PreviewConfig `yaml:"preview"`
}

// PreviewConfig defines the preview server
type PreviewConfig struct {
	Addr        string   `yaml:"addr"`
	SegmentsDir string   `yaml:"segments_dir"`
	FPS         int      `yaml:"fps"`
	Loop        bool     `yaml:"loop"`
	MaxClients  int      `yaml:"max_clients"`
	STUNServers []string `yaml:"stun_servers"`
}

// DefaultConfig returns the documented defaults: segments of 256 frames,
// base_frac 0.9, max shift 64 (32 for stats), match threshold 0.7, luminance threshold 128.
func DefaultConfig() Config {
	return Config{
		FramesDir:      "frames",
		MasksDir:       "masks",
		OutDir:         "segments",
		Threshold:      mask.DefaultThreshold,
		SegmentSize:    256,
		BaseFrac:       consensus.DefaultBaseFrac,
		MaxShift:       align.SegmentMaxShift,
		StatsMaxShift:  align.StatsMaxShift,
		MatchThreshold: stats.DefaultMatchThreshold,
		Codec:          string(types.CodecDelta),
		Backend:        "armlite",
		Compress:       true,
		Workers:        runtime.NumCPU(),
		ProgressEvery:  50,
		Preview: PreviewConfig{
			Addr:        ":8090",
			SegmentsDir: "segments",
			FPS:         30,
			Loop:        true,
			MaxClients:  10,
			STUNServers: []string{"stun:stun.l.google.com:19302"},
		},
	}
}

// Load overlays the YAML file at path onto the defaults. An empty path
// returns the defaults. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks ranges and enumerations
func (c Config) Validate() error {
	var errs []error
	if c.SegmentSize <= 0 {
		errs = append(errs, fmt.Errorf("segment_size must be positive, got %d", c.SegmentSize))
	}
	if c.BaseFrac < 0 || c.BaseFrac > 1 {
		errs = append(errs, fmt.Errorf("base_frac must be within [0,1], got %v", c.BaseFrac))
	}
	if c.MaxShift < 0 || c.StatsMaxShift < 0 {
		errs = append(errs, fmt.Errorf("shift bounds must not be negative"))
	}
	if c.Threshold < 0 || c.Threshold > 256 {
		errs = append(errs, fmt.Errorf("threshold must be within [0,256], got %d", c.Threshold))
	}
	if c.Subset < 0 {
		errs = append(errs, fmt.Errorf("subset must not be negative"))
	}
	if _, err := c.Codecs(); err != nil {
		errs = append(errs, err)
	}
	if c.Preview.FPS <= 0 {
		errs = append(errs, fmt.Errorf("preview.fps must be positive, got %d", c.Preview.FPS))
	}
	return errors.Join(errs...)
}

// Codecs expands the codec setting
func (c Config) Codecs() ([]types.Codec, error) {
	switch c.Codec {
	case string(types.CodecDelta):
		return []types.Codec{types.CodecDelta}, nil
	case string(types.CodecBitpack):
		return []types.Codec{types.CodecBitpack}, nil
	case CodecBoth:
		return []types.Codec{types.CodecDelta, types.CodecBitpack}, nil
	default:
		return nil, fmt.Errorf("codec must be delta, bitpack or both, got %q", c.Codec)
	}
}

// StatsOptions returns the analyzer options for this config
func (c Config) StatsOptions() stats.Options {
	return stats.Options{
		MaxShift:       c.StatsMaxShift,
		MatchThreshold: c.MatchThreshold,
		ProgressEvery:  c.ProgressEvery,
	}
}

// ConsensusOptions returns the consensus options for this config
func (c Config) ConsensusOptions() consensus.Options {
	return consensus.Options{
		MaxShift: c.MaxShift,
		BaseFrac: c.BaseFrac,
	}
}
