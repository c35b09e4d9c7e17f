package preview

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/armlite-video/framepack/internal/config"
	"github.com/armlite-video/framepack/internal/logger"
	"github.com/armlite-video/framepack/internal/metrics"
)

// Signaler answers WebRTC offers
type Signaler interface {
	HandleOffer(offerJSON []byte) ([]byte, error)
	GetClientCount() int
}

// Service ties the playlist, player, WebRTC server and HTTP routes together
type Service struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	cfg        config.PreviewConfig
	metrics    *metrics.Metrics
	playlist   *Playlist
	player     *Player
	webrtc     *Server
	signaler   Signaler
	httpServer *http.Server
}

// NewService loads the segments and prepares the preview server
func NewService(cfg config.PreviewConfig, m *metrics.Metrics) (*Service, error) {
	playlist, err := LoadPlaylist(cfg.SegmentsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load segments: %w", err)
	}

	if m == nil {
		m = metrics.New()
	}

	ctx, cancel := context.WithCancel(context.Background())
	webrtcSrv := NewServer(cfg.STUNServers, cfg.MaxClients)

	mux := http.NewServeMux()
	s := &Service{
		ctx:      ctx,
		cancel:   cancel,
		cfg:      cfg,
		metrics:  m,
		playlist: playlist,
		player:   NewPlayer(playlist, webrtcSrv, m, cfg.FPS, cfg.Loop),
		webrtc:   webrtcSrv,
		signaler: webrtcSrv,
		httpServer: &http.Server{
			Addr:    cfg.Addr,
			Handler: mux,
		},
	}
	s.setupRoutes(mux)
	return s, nil
}

// Handler exposes the routes
func (s *Service) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins playback and serves HTTP
func (s *Service) Start() error {
	logger.Info("Preview", "Starting preview server on %s (%d fps, loop=%v)", s.cfg.Addr, s.cfg.FPS, s.cfg.Loop)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("Preview", "HTTP server error: %v", err)
		}
	}()

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.player.Run(s.ctx)
	}()
	go s.trackClients()

	return nil
}

// trackClients mirrors the connected client count into metrics
func (s *Service) trackClients() {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.metrics.ActiveClients.Store(uint64(s.signaler.GetClientCount()))
		}
	}
}

// setupRoutes sets up HTTP routes
func (s *Service) setupRoutes(mux *http.ServeMux) {
	corsMiddleware := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next(w, r)
		}
	}

	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/offer", corsMiddleware(s.handleOffer))
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", s.metrics.Handler())
}

func (s *Service) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	io.WriteString(w, indexHTML)
}

// handleOffer handles WebRTC offer
func (s *Service) handleOffer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	offerJSON, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}

	answerJSON, err := s.signaler.HandleOffer(offerJSON)
	if err != nil {
		logger.Warn("HTTP", "WebRTC offer error: %v", err)
		s.metrics.PreviewErrors.Add(1)
		http.Error(w, fmt.Sprintf("Failed to handle offer: %v", err), http.StatusInternalServerError)
		return
	}

	s.metrics.TotalClients.Add(1)

	w.Header().Set("Content-Type", "application/json")
	w.Write(answerJSON)
}

// handleHealth handles health check
func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":         "ok",
		"webrtc_clients": s.signaler.GetClientCount(),
		"width":          s.playlist.Width,
		"height":         s.playlist.Height,
		"segments":       s.playlist.Segments,
		"frames":         len(s.playlist.Frames),
		"position":       s.player.Position(),
		"finished":       s.player.Finished(),
	})
}

// Shutdown gracefully shuts down the server
func (s *Service) Shutdown() error {
	s.cancel()
	s.wg.Wait()

	s.webrtc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
