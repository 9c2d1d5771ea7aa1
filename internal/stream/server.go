package stream

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/steadyscript/steadyscript/internal/metrics"
	"github.com/steadyscript/steadyscript/internal/store"
	"github.com/steadyscript/steadyscript/pkg/types"
)

// Server wires the HTTP/websocket surface of C6 onto a shared frame
// broadcaster, duplex hub, session store, and metrics registry. It does
// not own internal/session.Controller or internal/detect.Detector
// directly — those are single-pipeline-task-owned (spec §5) — instead it
// forwards commands onto Hub.Commands() for the pipeline to apply.
type Server struct {
	hub    *Hub
	frames *frameBroadcaster
	store  *store.Store
	mx     *metrics.Metrics

	latest atomic.Pointer[types.MetricsSnapshot]
}

// NewServer creates a Server. store may be nil only in tests that don't
// exercise /api/sessions. wsHeartbeatInterval configures the duplex
// channel's ping cadence (config.WsHeartbeatInterval); a non-positive
// value falls back to the hub's default.
func NewServer(st *store.Store, mx *metrics.Metrics, wsHeartbeatInterval time.Duration) *Server {
	return &Server{
		hub:    NewHub(mx, wsHeartbeatInterval),
		frames: newFrameBroadcaster(),
		store:  st,
		mx:     mx,
	}
}

// Commands returns the channel of inbound duplex/REST commands for the
// pipeline task to drain once per tick.
func (s *Server) Commands() <-chan Command { return s.hub.commands }

// Mux builds the HTTP handler for every C6 route.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/video_feed", s.handleVideoFeed)
	mux.HandleFunc("/ws/game2", s.hub.Handler)
	mux.HandleFunc("/tracking_data", s.handleTrackingData)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/session/start", s.handleSessionStart)
	mux.HandleFunc("/session/stop", s.handleSessionStop)
	mux.HandleFunc("/hsv", s.handleHsv)
	return mux
}

// Publish pushes one pipeline tick's rendered frame and metrics snapshot
// to every subscriber: MJPEG subscribers get the raw bytes, duplex
// clients get a base64 "frame" message plus a "metrics" message.
func (s *Server) Publish(jpegFrame []byte, snap types.MetricsSnapshot) {
	s.frames.publish(jpegFrame)
	s.latest.Store(&snap)

	if s.mx != nil {
		s.mx.StreamFramesSent.Add(1)
	}

	b64 := base64.StdEncoding.EncodeToString(jpegFrame)
	s.hub.BroadcastFrame(b64)
	s.hub.BroadcastControl("metrics", snap)
}

// PublishSessionComplete notifies every duplex client that a session
// finished, with its finalized record.
func (s *Server) PublishSessionComplete(rec types.SessionRecord) {
	s.hub.BroadcastControl("session_complete", rec)
}

func (s *Server) handleVideoFeed(w http.ResponseWriter, r *http.Request) {
	id, ch := s.frames.subscribe()
	defer s.frames.unsubscribe(id)
	serveMJPEG(w, ch)
}

func (s *Server) handleTrackingData(w http.ResponseWriter, r *http.Request) {
	snap := s.latest.Load()
	if snap == nil {
		writeJSON(w, types.MetricsSnapshot{SessionState: types.StateIdle})
		return
	}
	writeJSON(w, *snap)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "session history unavailable", http.StatusServiceUnavailable)
		return
	}
	limit := 20
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}
	writeJSON(w, s.store.List(limit))
}

func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	s.enqueueCommand("session_start", nil)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	s.enqueueCommand("session_stop", nil)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleHsv(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body HsvUpdateData
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "malformed hsv body", http.StatusBadRequest)
		return
	}
	raw, _ := json.Marshal(body)
	s.enqueueCommand("hsv_update", raw)
	w.WriteHeader(http.StatusAccepted)
}

// enqueueCommand pushes a server-originated (non-websocket) command onto
// the same queue the pipeline drains; client is nil so Command.Reject is
// a no-op for these REST-triggered commands.
func (s *Server) enqueueCommand(cmdType string, data json.RawMessage) {
	select {
	case s.hub.commands <- Command{Type: cmdType, Data: data}:
	default:
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
