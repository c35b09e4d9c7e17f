package preview

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/armlite-video/framepack/internal/logger"
	"github.com/armlite-video/framepack/internal/metrics"
)

// Sink receives frame payloads
type Sink interface {
	SendFrame(payload []byte) (sent, dropped int)
}

// Player steps through a playlist at a fixed rate
type Player struct {
	playlist *Playlist
	sink     Sink
	metrics  *metrics.Metrics
	interval time.Duration
	loop     bool

	position atomic.Int64
	done     atomic.Bool
}

// NewPlayer creates a player that sends fps frames per second to sink
func NewPlayer(p *Playlist, sink Sink, m *metrics.Metrics, fps int, loop bool) *Player {
	if fps <= 0 {
		fps = 30
	}
	return &Player{
		playlist: p,
		sink:     sink,
		metrics:  m,
		interval: time.Second / time.Duration(fps),
		loop:     loop,
	}
}

// Step sends the next frame. It returns false once the playlist is exhausted
// and looping is off.
func (pl *Player) Step() bool {
	frames := pl.playlist.Frames
	if len(frames) == 0 || pl.done.Load() {
		return false
	}

	pos := int(pl.position.Load())
	if pos >= len(frames) {
		if !pl.loop {
			pl.done.Store(true)
			logger.Info("Player", "Playback finished after %d frames", len(frames))
			return false
		}
		pos = 0
		logger.Debug("Player", "Looping playlist")
	}

	sent, dropped := pl.sink.SendFrame(frames[pos].Payload)
	if pl.metrics != nil {
		pl.metrics.PreviewFramesSent.Add(uint64(sent))
		pl.metrics.PreviewFramesDropped.Add(uint64(dropped))
	}
	pl.position.Store(int64(pos + 1))
	return true
}

// Position returns the index of the next frame to send
func (pl *Player) Position() int {
	return int(pl.position.Load())
}

// Finished reports whether non-looping playback has ended
func (pl *Player) Finished() bool {
	return pl.done.Load()
}

// Run steps on every tick until ctx is cancelled or playback ends
func (pl *Player) Run(ctx context.Context) {
	ticker := time.NewTicker(pl.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !pl.Step() {
				return
			}
		}
	}
}
