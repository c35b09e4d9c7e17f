package preview

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pion/webrtc/v3"

	"github.com/armlite-video/framepack/internal/bitpack"
	"github.com/armlite-video/framepack/internal/config"
	"github.com/armlite-video/framepack/internal/consensus"
	"github.com/armlite-video/framepack/internal/delta"
	"github.com/armlite-video/framepack/internal/mask"
	"github.com/armlite-video/framepack/internal/metrics"
	"github.com/armlite-video/framepack/internal/output"
	"github.com/armlite-video/framepack/internal/wire"
	"github.com/armlite-video/framepack/pkg/types"
)

const testW, testH = 8, 2

// movingFrames returns n frames of a two-pixel block walking right along row 0
func movingFrames(n int) []*mask.PixelSet {
	frames := make([]*mask.PixelSet, n)
	for i := range frames {
		frames[i] = mask.NewPixelSet(i%6, i%6+1)
	}
	return frames
}

func writeDelta(t *testing.T, dir string, n, first int, frames []*mask.PixelSet) {
	t.Helper()
	c, err := consensus.Build(frames, testW, testH, consensus.DefaultOptions())
	if err != nil {
		t.Fatalf("consensus.Build: %v", err)
	}
	seg, err := delta.Encode(frames, c)
	if err != nil {
		t.Fatalf("delta.Encode: %v", err)
	}
	seg.FirstFrame = first
	path := filepath.Join(dir, output.ContainerName(n, types.CodecDelta))
	if err := os.WriteFile(path, wire.EncodeDelta(seg, wire.Options{Compress: true}), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func writeBitpack(t *testing.T, dir string, n, first int, frames []*mask.PixelSet) {
	t.Helper()
	seg, err := bitpack.Encode(frames, testW, testH)
	if err != nil {
		t.Fatalf("bitpack.Encode: %v", err)
	}
	seg.FirstFrame = first
	path := filepath.Join(dir, output.ContainerName(n, types.CodecBitpack))
	if err := os.WriteFile(path, wire.EncodeBitpack(seg, wire.Options{}), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestEncodeFrame_Header(t *testing.T) {
	payload := EncodeFrame(300, testW, testH, mask.NewPixelSet(0, 9))
	if len(payload) != FrameHeaderSize+2 {
		t.Fatalf("len = %d", len(payload))
	}
	if n := binary.BigEndian.Uint32(payload[0:4]); n != 300 {
		t.Fatalf("frame = %d", n)
	}
	if w, h := binary.BigEndian.Uint16(payload[4:6]), binary.BigEndian.Uint16(payload[6:8]); w != testW || h != testH {
		t.Fatalf("dims = %dx%d", w, h)
	}
	if payload[8] != 0x80 || payload[9] != 0x40 {
		t.Fatalf("bits = %08b %08b", payload[8], payload[9])
	}
}

func TestLoadPlaylist_DeltaSegments(t *testing.T) {
	dir := t.TempDir()
	frames := movingFrames(8)
	writeDelta(t, dir, 0, 1, frames[:5])
	writeDelta(t, dir, 1, 6, frames[5:])
	// bitpacked copies are ignored when delta containers exist
	writeBitpack(t, dir, 0, 1, frames[:5])

	p, err := LoadPlaylist(dir)
	if err != nil {
		t.Fatalf("LoadPlaylist: %v", err)
	}
	if p.Segments != 2 || len(p.Frames) != 8 || p.Width != testW || p.Height != testH {
		t.Fatalf("playlist = %d segments, %d frames, %dx%d", p.Segments, len(p.Frames), p.Width, p.Height)
	}
	for i, f := range p.Frames {
		if f.Number != i+1 {
			t.Fatalf("frame %d numbered %d", i, f.Number)
		}
		got := bitpack.Unpack(f.Payload[FrameHeaderSize:], testW, testH)
		if !got.Equal(frames[i]) {
			t.Fatalf("frame %d = %v, want %v", i, got.Indices(), frames[i].Indices())
		}
	}
}

func TestLoadPlaylist_BitpackOnly(t *testing.T) {
	dir := t.TempDir()
	frames := movingFrames(3)
	writeBitpack(t, dir, 0, 1, frames)

	p, err := LoadPlaylist(dir)
	if err != nil {
		t.Fatalf("LoadPlaylist: %v", err)
	}
	if len(p.Frames) != 3 {
		t.Fatalf("frames = %d", len(p.Frames))
	}
	got := bitpack.Unpack(p.Frames[2].Payload[FrameHeaderSize:], testW, testH)
	if !got.Equal(frames[2]) {
		t.Fatalf("frame 3 = %v", got.Indices())
	}
}

func TestLoadPlaylist_Errors(t *testing.T) {
	if _, err := LoadPlaylist(t.TempDir()); !errors.Is(err, types.ErrEmptyInput) {
		t.Fatalf("empty dir err = %v", err)
	}

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "segment_000.fpk"), []byte("junk"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadPlaylist(dir); err == nil {
		t.Fatalf("expected error for corrupt container")
	}
}

type recordingSink struct {
	payloads [][]byte
	drop     bool
}

func (s *recordingSink) SendFrame(payload []byte) (int, int) {
	if s.drop {
		return 0, 1
	}
	s.payloads = append(s.payloads, payload)
	return 1, 0
}

func testPlaylist(n int) *Playlist {
	p := &Playlist{Width: testW, Height: testH, Segments: 1}
	for i := 0; i < n; i++ {
		p.Frames = append(p.Frames, Frame{Number: i + 1, Payload: []byte{byte(i)}})
	}
	return p
}

func TestPlayer_StepsOnceThenFinishes(t *testing.T) {
	sink := &recordingSink{}
	m := metrics.New()
	pl := NewPlayer(testPlaylist(3), sink, m, 30, false)

	for i := 0; i < 3; i++ {
		if !pl.Step() {
			t.Fatalf("step %d returned false", i)
		}
	}
	if pl.Step() {
		t.Fatalf("step past the end returned true")
	}
	if !pl.Finished() {
		t.Fatalf("player not finished")
	}
	if len(sink.payloads) != 3 || sink.payloads[2][0] != 2 {
		t.Fatalf("payloads = %v", sink.payloads)
	}
	if got := m.PreviewFramesSent.Load(); got != 3 {
		t.Fatalf("frames sent = %d", got)
	}
}

func TestPlayer_Loops(t *testing.T) {
	sink := &recordingSink{}
	pl := NewPlayer(testPlaylist(2), sink, nil, 30, true)
	for i := 0; i < 5; i++ {
		if !pl.Step() {
			t.Fatalf("step %d returned false", i)
		}
	}
	want := []byte{0, 1, 0, 1, 0}
	for i, p := range sink.payloads {
		if p[0] != want[i] {
			t.Fatalf("payload %d = %d, want %d", i, p[0], want[i])
		}
	}
	if pl.Position() != 1 {
		t.Fatalf("position = %d", pl.Position())
	}
}

func TestPlayer_CountsDrops(t *testing.T) {
	m := metrics.New()
	pl := NewPlayer(testPlaylist(1), &recordingSink{drop: true}, m, 30, false)
	pl.Step()
	if got := m.PreviewFramesDropped.Load(); got != 1 {
		t.Fatalf("dropped = %d", got)
	}
}

type fakeSignaler struct {
	err error
}

func (f *fakeSignaler) HandleOffer(offerJSON []byte) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []byte(`{"type":"answer","sdp":"v=0"}`), nil
}

func (f *fakeSignaler) GetClientCount() int { return 2 }

func newTestService(t *testing.T) *Service {
	t.Helper()
	dir := t.TempDir()
	writeDelta(t, dir, 0, 1, movingFrames(4))

	cfg := config.DefaultConfig().Preview
	cfg.SegmentsDir = dir
	cfg.Addr = "127.0.0.1:0"
	s, err := NewService(cfg, metrics.New())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	s.signaler = &fakeSignaler{}
	return s
}

func TestService_Routes(t *testing.T) {
	s := newTestService(t)
	h := s.Handler()

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
		wantBody   string
	}{
		{"index", http.MethodGet, "/", http.StatusOK, "createDataChannel('frames'"},
		{"unknown", http.MethodGet, "/nope", http.StatusNotFound, ""},
		{"offer_get", http.MethodGet, "/offer", http.StatusMethodNotAllowed, ""},
		{"offer_preflight", http.MethodOptions, "/offer", http.StatusOK, ""},
		{"offer", http.MethodPost, "/offer", http.StatusOK, `"type":"answer"`},
		{"metrics", http.MethodGet, "/metrics", http.StatusOK, "framepack_preview_total_clients"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, strings.NewReader(`{"type":"offer","sdp":""}`))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			if tc.wantBody != "" && !strings.Contains(rec.Body.String(), tc.wantBody) {
				t.Fatalf("body missing %q: %s", tc.wantBody, rec.Body.String())
			}
		})
	}

	if got := s.metrics.TotalClients.Load(); got != 1 {
		t.Fatalf("total clients = %d", got)
	}
}

func TestService_OfferError(t *testing.T) {
	s := newTestService(t)
	s.signaler = &fakeSignaler{err: errors.New("boom")}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/offer", strings.NewReader("{}")))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := s.metrics.PreviewErrors.Load(); got != 1 {
		t.Fatalf("errors = %d", got)
	}
}

func TestService_Health(t *testing.T) {
	s := newTestService(t)
	s.player.Step()

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" || body["frames"] != float64(4) || body["position"] != float64(1) {
		t.Fatalf("health = %v", body)
	}
	if body["webrtc_clients"] != float64(2) || body["width"] != float64(testW) {
		t.Fatalf("health = %v", body)
	}
}

func TestServer_RejectsBadOffers(t *testing.T) {
	s := NewServer(nil, 1)
	if _, err := s.HandleOffer([]byte("not json")); err == nil {
		t.Fatalf("expected parse error")
	}

	full := NewServer(nil, 0)
	if _, err := full.HandleOffer([]byte(`{"type":"offer","sdp":""}`)); err == nil || !strings.Contains(err.Error(), "maximum clients") {
		t.Fatalf("err = %v, want maximum clients", err)
	}
}

func TestServer_AnswersDataChannelOffer(t *testing.T) {
	client, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("NewPeerConnection: %v", err)
	}
	defer client.Close()

	if _, err := client.CreateDataChannel(ChannelLabel, nil); err != nil {
		t.Fatalf("CreateDataChannel: %v", err)
	}
	offer, err := client.CreateOffer(nil)
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	gathered := webrtc.GatheringCompletePromise(client)
	if err := client.SetLocalDescription(offer); err != nil {
		t.Fatalf("SetLocalDescription: %v", err)
	}
	<-gathered

	offerJSON, err := json.Marshal(client.LocalDescription())
	if err != nil {
		t.Fatalf("marshal offer: %v", err)
	}

	s := NewServer(nil, 4)
	defer s.Close()
	answerJSON, err := s.HandleOffer(offerJSON)
	if err != nil {
		t.Fatalf("HandleOffer: %v", err)
	}

	var answer webrtc.SessionDescription
	if err := json.Unmarshal(answerJSON, &answer); err != nil {
		t.Fatalf("unmarshal answer: %v", err)
	}
	if answer.Type != webrtc.SDPTypeAnswer {
		t.Fatalf("answer type = %s", answer.Type)
	}
	if err := client.SetRemoteDescription(answer); err != nil {
		t.Fatalf("SetRemoteDescription: %v", err)
	}
	if s.GetClientCount() != 1 {
		t.Fatalf("clients = %d", s.GetClientCount())
	}

	// frames queue even before the channel opens
	if sent, dropped := s.SendFrame([]byte{1}); sent+dropped != 1 {
		t.Fatalf("sent=%d dropped=%d", sent, dropped)
	}

	s.Close()
	if s.GetClientCount() != 0 {
		t.Fatalf("clients after close = %d", s.GetClientCount())
	}
}
