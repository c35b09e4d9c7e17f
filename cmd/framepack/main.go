// Command framepack converts raster frames to masks, analyzes them and
// encodes segments for the ARMLite target.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/armlite-video/framepack/internal/config"
	"github.com/armlite-video/framepack/internal/logger"
	"github.com/armlite-video/framepack/internal/metrics"
	"github.com/armlite-video/framepack/internal/pipeline"
)

const usage = `usage: framepack <command> [flags]

commands:
  masks   convert raster frames into mask files
  stats   analyze masks and write stats.json
  encode  encode masks into segments
  all     masks, stats and encode in order

run "framepack <command> -h" for flags`

// options are the flags shared by every command that do not live in the config
type options struct {
	configPath  string
	logLevel    string
	logColor    bool
	metricsAddr string
	statsOut    string
}

// bindFlags registers the config overrides on fs
func bindFlags(fs *flag.FlagSet, cfg *config.Config, opts *options) {
	fs.StringVar(&opts.configPath, "config", opts.configPath, "YAML config file")
	fs.StringVar(&opts.logLevel, "log-level", opts.logLevel, "Log level (debug, info, warn, error, silent)")
	fs.BoolVar(&opts.logColor, "log-color", opts.logColor, "Enable colored log output")
	fs.StringVar(&opts.metricsAddr, "metrics", opts.metricsAddr, "Metrics server address (empty disables)")
	fs.StringVar(&opts.statsOut, "stats-out", opts.statsOut, "Stats report path (default <masks>/stats.json)")

	fs.StringVar(&cfg.FramesDir, "frames", cfg.FramesDir, "Raster frame directory")
	fs.StringVar(&cfg.MasksDir, "masks", cfg.MasksDir, "Mask directory")
	fs.StringVar(&cfg.OutDir, "out", cfg.OutDir, "Segment output directory")
	fs.IntVar(&cfg.Threshold, "threshold", cfg.Threshold, "Luminance threshold (pixels below are black)")
	fs.IntVar(&cfg.Subset, "subset", cfg.Subset, "Convert only the first N frames (0 = all)")
	fs.IntVar(&cfg.SegmentSize, "segment-size", cfg.SegmentSize, "Frames per segment")
	fs.Float64Var(&cfg.BaseFrac, "base-frac", cfg.BaseFrac, "Fraction of frames a pixel needs to join the base")
	fs.IntVar(&cfg.MaxShift, "max-shift", cfg.MaxShift, "Maximum horizontal shift when encoding")
	fs.IntVar(&cfg.StatsMaxShift, "stats-max-shift", cfg.StatsMaxShift, "Maximum horizontal shift when analyzing")
	fs.Float64Var(&cfg.MatchThreshold, "match-threshold", cfg.MatchThreshold, "Overlap fraction that counts as a shift match")
	fs.StringVar(&cfg.Codec, "codec", cfg.Codec, "Codec (delta, bitpack, both)")
	fs.StringVar(&cfg.Backend, "backend", cfg.Backend, "Code emitter backend")
	fs.BoolVar(&cfg.Compress, "compress", cfg.Compress, "zstd-compress segment containers")
	fs.BoolVar(&cfg.Simulate, "simulate", cfg.Simulate, "Run emitted programs through the simulator")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "Concurrent segment encoders")
	fs.IntVar(&cfg.ProgressEvery, "progress-every", cfg.ProgressEvery, "Log progress every N frames (0 disables)")
}

// parseConfig parses args over the defaults to find -config, then parses
// them again over the loaded file so flags win over file values.
func parseConfig(name string, args []string) (config.Config, options, error) {
	opts := options{logLevel: "info", logColor: true}
	cfg := config.DefaultConfig()

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	bindFlags(fs, &cfg, &opts)
	if err := fs.Parse(args); err != nil {
		return cfg, opts, err
	}
	if fs.NArg() > 0 {
		return cfg, opts, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	if opts.configPath == "" {
		return cfg, opts, cfg.Validate()
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return cfg, opts, err
	}
	fs = flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	bindFlags(fs, &cfg, &opts)
	if err := fs.Parse(args); err != nil {
		return cfg, opts, err
	}
	return cfg, opts, cfg.Validate()
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	command := os.Args[1]
	if command == "-h" || command == "-help" || command == "help" {
		fmt.Println(usage)
		return
	}

	cfg, opts, err := parseConfig(command, os.Args[2:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	level, err := logger.ParseLevel(opts.logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, opts.logColor)

	m := metrics.New()
	if opts.metricsAddr != "" {
		go func() {
			logger.Info("Main", "Starting metrics server on %s", opts.metricsAddr)
			if err := m.StartServer(opts.metricsAddr); err != nil {
				logger.Error("Main", "Metrics server error: %v", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	if err := run(ctx, command, cfg, opts, m); err != nil {
		logger.Error("Main", "%s failed after %s: %v", command, time.Since(start).Round(time.Millisecond), err)
		stop()
		os.Exit(1)
	}
	logger.Info("Main", "%s finished in %s", command, time.Since(start).Round(time.Millisecond))
}

func run(ctx context.Context, command string, cfg config.Config, opts options, m *metrics.Metrics) error {
	switch command {
	case "masks":
		_, err := pipeline.Masks(ctx, cfg)
		return err
	case "stats":
		_, err := pipeline.Stats(cfg, opts.statsOut)
		return err
	case "encode":
		_, err := pipeline.Encode(ctx, cfg, m)
		return err
	case "all":
		if _, err := pipeline.Masks(ctx, cfg); err != nil {
			return err
		}
		if _, err := pipeline.Stats(cfg, opts.statsOut); err != nil {
			return err
		}
		_, err := pipeline.Encode(ctx, cfg, m)
		return err
	default:
		return fmt.Errorf("unknown command %q\n%s", command, usage)
	}
}
