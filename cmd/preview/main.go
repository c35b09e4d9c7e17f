// Command preview streams encoded segments to browsers over WebRTC.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/armlite-video/framepack/internal/config"
	"github.com/armlite-video/framepack/internal/logger"
	"github.com/armlite-video/framepack/internal/metrics"
	"github.com/armlite-video/framepack/internal/preview"
)

var (
	configPath  = flag.String("config", "", "YAML config file")
	httpAddr    = flag.String("http", "", "HTTP server address (overrides preview.addr)")
	segmentsDir = flag.String("segments", "", "Segment directory (overrides preview.segments_dir)")
	fps         = flag.Int("fps", 0, "Playback rate (overrides preview.fps)")
	noLoop      = flag.Bool("no-loop", false, "Stop after the last frame")
	maxClients  = flag.Int("max-clients", 0, "Maximum WebRTC clients (overrides preview.max_clients)")
	stunServers = flag.String("stun", "", "STUN server URLs, comma-separated (\"none\" disables)")
	logLevel    = flag.String("log-level", "info", "Log level (debug, info, warn, error, silent)")
	logColor    = flag.Bool("log-color", true, "Enable colored log output")
)

func main() {
	flag.Parse()

	level, err := logger.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, *logColor)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	pc := cfg.Preview
	if *httpAddr != "" {
		pc.Addr = *httpAddr
	}
	if *segmentsDir != "" {
		pc.SegmentsDir = *segmentsDir
	}
	if *fps > 0 {
		pc.FPS = *fps
	}
	if *noLoop {
		pc.Loop = false
	}
	if *maxClients > 0 {
		pc.MaxClients = *maxClients
	}
	switch *stunServers {
	case "":
	case "none":
		pc.STUNServers = nil
	default:
		pc.STUNServers = strings.Split(*stunServers, ",")
	}

	logger.Info("Main", "Preview server starting...")
	logger.Info("Main", "Log level: %s", level)

	srv, err := preview.NewService(pc, metrics.New())
	if err != nil {
		log.Fatalf("Failed to create preview server: %v", err)
	}

	if err := srv.Start(); err != nil {
		log.Fatalf("Failed to start preview server: %v", err)
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Main", "Shutting down...")

	if err := srv.Shutdown(); err != nil {
		logger.Error("Main", "Error during shutdown: %v", err)
	}
}
