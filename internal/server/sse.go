package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jasonwang82/opencowork-sub001/internal/event"
	"github.com/jasonwang82/opencowork-sub001/internal/logging"
)

// SSEHeartbeatInterval is the interval for SSE heartbeats.
const SSEHeartbeatInterval = 30 * time.Second

// wireEvent is the on-the-wire event shape.
type wireEvent struct {
	Type event.Type `json:"type"`
	Data any        `json:"data"`
}

// sseWriter wraps http.ResponseWriter for SSE.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
}

// newSSEWriter creates a new SSE writer.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	rc := http.NewResponseController(w)

	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	return &sseWriter{w: w, flusher: flusher, rc: rc}, nil
}

// writeEvent writes an SSE event and flushes it to the client.
func (s *sseWriter) writeEvent(data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(s.w, "event: message\ndata: %s\n\n", jsonData)
	if err != nil {
		return err
	}

	if flushErr := s.rc.Flush(); flushErr != nil {
		s.flusher.Flush()
	}

	return nil
}

// writeHeartbeat writes an SSE heartbeat comment.
func (s *sseWriter) writeHeartbeat() {
	fmt.Fprintf(s.w, ": heartbeat\n\n")
	s.flusher.Flush()
}

// sseWindow adapts one SSE connection to the manager's Window contract.
// Events are queued on a small buffer; the handler goroutine drains it.
type sseWindow struct {
	id        string
	events    chan event.Event
	destroyed atomic.Bool
}

func newSSEWindow(id string) *sseWindow {
	if id == "" {
		id = ulid.Make().String()
	}
	return &sseWindow{
		id:     id,
		events: make(chan event.Event, 32),
	}
}

func (w *sseWindow) ID() string {
	return w.id
}

func (w *sseWindow) Destroyed() bool {
	return w.destroyed.Load()
}

// Send queues an event for delivery. Sends to a closed or saturated window
// are dropped; stream delivery is best-effort once the client is gone.
func (w *sseWindow) Send(ev event.Event) error {
	if w.destroyed.Load() {
		return errors.New("window destroyed")
	}
	select {
	case w.events <- ev:
		return nil
	default:
		logging.Warn().
			Str("windowID", w.id).
			Str("eventType", string(ev.Type)).
			Msg("SSE event dropped: channel full")
		return nil
	}
}

func (w *sseWindow) destroy() {
	w.destroyed.Store(true)
}

// windowEvents handles GET /event. Each connection registers as a window,
// optionally bound to a session, and receives its routed events until
// disconnect. Closing the connection never destroys the session's worker.
func (s *Server) windowEvents(w http.ResponseWriter, r *http.Request) {
	windowID := r.URL.Query().Get("windowID")
	sessionID := r.URL.Query().Get("sessionID")

	win := newSSEWindow(windowID)
	s.mgr.RegisterWindow(win, sessionID)
	defer func() {
		win.destroy()
		// Removes only this connection's registration; a reconnect under
		// the same window ID keeps its fresh entry.
		s.mgr.UnregisterWindow(win)
	}()

	s.serveSSE(w, r, win)
}

// floatingBallEvents handles GET /event/ball, the session-independent
// notification surface.
func (s *Server) floatingBallEvents(w http.ResponseWriter, r *http.Request) {
	win := newSSEWindow("floating-ball")
	s.mgr.SetFloatingBall(win)
	defer func() {
		win.destroy()
		s.mgr.ClearFloatingBall(win)
	}()

	s.serveSSE(w, r, win)
}

func (s *Server) serveSSE(w http.ResponseWriter, r *http.Request, win *sseWindow) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	// Flush headers before waiting so the client sees the stream open.
	w.WriteHeader(http.StatusOK)
	sse.flusher.Flush()

	if err := sse.writeEvent(wireEvent{Type: "server.connected", Data: map[string]any{"windowID": win.ID()}}); err != nil {
		return
	}

	ticker := time.NewTicker(SSEHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-win.events:
			if err := sse.writeEvent(wireEvent{Type: ev.Type, Data: ev.Data}); err != nil {
				return
			}
		case <-ticker.C:
			sse.writeHeartbeat()
		}
	}
}
