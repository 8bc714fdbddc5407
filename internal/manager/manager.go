// Package manager owns the window, session, and worker registries. It is
// the single place that maps attached windows to sessions, creates and
// destroys per-session workers, and routes bus events to the windows that
// should see them.
package manager

import (
	"context"
	"sync"
	"time"

	"github.com/jasonwang82/opencowork-sub001/internal/config"
	"github.com/jasonwang82/opencowork-sub001/internal/event"
	"github.com/jasonwang82/opencowork-sub001/internal/logging"
	"github.com/jasonwang82/opencowork-sub001/internal/permission"
	"github.com/jasonwang82/opencowork-sub001/internal/session"
	"github.com/jasonwang82/opencowork-sub001/internal/worker"
	"github.com/jasonwang82/opencowork-sub001/pkg/types"
)

// Window is an attached client surface that can receive events. SSE
// connections implement it; the floating ball is a window with no session.
type Window interface {
	ID() string
	Send(event event.Event) error
	Destroyed() bool
}

type windowEntry struct {
	win       Window
	sessionID string
}

// Manager coordinates windows and workers. Windows and workers have
// independent lifetimes: closing a window never destroys its session's
// worker, and destroying a worker never detaches a window.
type Manager struct {
	cfg      *config.Store
	sessions *session.Store
	gate     *permission.Manager
	prompter *permission.Prompter
	bus      *event.Bus

	mu      sync.RWMutex
	windows map[string]*windowEntry
	workers map[string]*worker.Worker
	ball    Window

	unsubscribe func()

	// newBackend is swappable in tests.
	newBackend func(ctx context.Context, cfg *types.Config) (worker.Backend, error)
}

// New creates a manager and attaches it to the bus. Call Close to detach.
func New(cfg *config.Store, sessions *session.Store, gate *permission.Manager, prompter *permission.Prompter, bus *event.Bus) *Manager {
	m := &Manager{
		cfg:        cfg,
		sessions:   sessions,
		gate:       gate,
		prompter:   prompter,
		bus:        bus,
		windows:    make(map[string]*windowEntry),
		workers:    make(map[string]*worker.Worker),
		newBackend: worker.NewBackend,
	}
	m.unsubscribe = bus.SubscribeAll(m.route)
	return m
}

// SetBackendFactory overrides how worker backends are built. Used by tests
// and embedders that bring their own execution mode.
func (m *Manager) SetBackendFactory(fn func(ctx context.Context, cfg *types.Config) (worker.Backend, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.newBackend = fn
}

// RegisterWindow attaches a window, optionally bound to a session. A window
// re-registering under the same ID replaces the previous entry.
func (m *Manager) RegisterWindow(win Window, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.windows[win.ID()] = &windowEntry{win: win, sessionID: sessionID}
}

// UnregisterWindow detaches a window. The session's worker, if any, keeps
// running so an in-flight turn survives a window reload. The entry is removed
// only while it still holds this window, so a reconnect that re-registered
// the same ID is not clobbered by the old connection's teardown.
func (m *Manager) UnregisterWindow(win Window) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.windows[win.ID()]; ok && entry.win == win {
		delete(m.windows, win.ID())
	}
}

// UpdateWindowSession rebinds a window to a different session. Registering
// an unknown window ID is a no-op.
func (m *Manager) UpdateWindowSession(windowID, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.windows[windowID]; ok {
		entry.sessionID = sessionID
	}
}

// SetFloatingBall attaches the session-independent surface. It receives
// every delivered and broadcast event. Pass nil to detach.
func (m *Manager) SetFloatingBall(win Window) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ball = win
}

// ClearFloatingBall detaches the floating ball only while win is still the
// attached surface, so a reconnected ball survives the old connection's
// teardown.
func (m *Manager) ClearFloatingBall(win Window) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ball == win {
		m.ball = nil
	}
}

// WindowForSession returns the first live window bound to sessionID, or nil.
func (m *Manager) WindowForSession(sessionID string) Window {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, entry := range m.windows {
		if entry.sessionID == sessionID && !entry.win.Destroyed() {
			return entry.win
		}
	}
	return nil
}

// Bindings returns a snapshot of every live window binding, keyed by window
// ID. Windows with no session map to the empty string.
func (m *Manager) Bindings() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.windows))
	for id, entry := range m.windows {
		if !entry.win.Destroyed() {
			out[id] = entry.sessionID
		}
	}
	return out
}

// SessionWindows returns all live windows bound to sessionID.
func (m *Manager) SessionWindows(sessionID string) []Window {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Window
	for _, entry := range m.windows {
		if entry.sessionID == sessionID && !entry.win.Destroyed() {
			out = append(out, entry.win)
		}
	}
	return out
}

// GetOrCreate returns the session's worker, creating it on first use.
// Repeated calls for the same session return the same instance. The new
// worker is seeded with the session's persisted history and a snapshot of
// the current settings.
func (m *Manager) GetOrCreate(ctx context.Context, sessionID string) (*worker.Worker, error) {
	m.mu.RLock()
	w, ok := m.workers[sessionID]
	m.mu.RUnlock()
	if ok {
		return w, nil
	}

	sess, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.workers[sessionID]; ok {
		return w, nil
	}

	cfg := m.cfg.Get()
	backend, err := m.newBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}

	w = worker.New(worker.Deps{
		SessionID: sessionID,
		Directory: sess.Directory,
		Model:     cfg.Model,
		Backend:   backend,
		Gate:      m.gate,
		Prompter:  m.prompter,
		Blacklist: func() []string { return m.cfg.Get().Blacklist },
		Sink:      m.bus.PublishSync,
	})
	w.LoadHistory(append(sess.ChatMessages, sess.WorkMessages...))

	m.workers[sessionID] = w
	logging.Info().Str("sessionID", sessionID).Msg("worker created")
	return w, nil
}

// Get returns the session's worker if one exists.
func (m *Manager) Get(sessionID string) (*worker.Worker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.workers[sessionID]
	return w, ok
}

// Destroy tears down the session's worker. Windows bound to the session
// stay attached; a later GetOrCreate builds a fresh instance.
func (m *Manager) Destroy(sessionID string) {
	m.mu.Lock()
	w, ok := m.workers[sessionID]
	delete(m.workers, sessionID)
	m.mu.Unlock()

	if !ok {
		return
	}
	if err := w.Destroy(); err != nil {
		logging.Warn().Str("sessionID", sessionID).Err(err).Msg("worker teardown failed")
	}
}

// DestroyAll tears down every worker. Used when settings change invalidates
// the backends and at shutdown.
func (m *Manager) DestroyAll() {
	m.mu.Lock()
	workers := m.workers
	m.workers = make(map[string]*worker.Worker)
	m.mu.Unlock()

	for sessionID, w := range workers {
		if err := w.Destroy(); err != nil {
			logging.Warn().Str("sessionID", sessionID).Err(err).Msg("worker teardown failed")
		}
	}
}

// Deliver sends an event to every live window bound to sessionID plus the
// floating ball. Destroyed or missing windows are dropped silently.
func (m *Manager) Deliver(sessionID string, ev event.Event) {
	for _, win := range m.SessionWindows(sessionID) {
		m.send(win, ev)
	}
	m.mu.RLock()
	ball := m.ball
	m.mu.RUnlock()
	if ball != nil {
		m.send(ball, ev)
	}
}

// Broadcast sends an event to every live window and the floating ball.
func (m *Manager) Broadcast(ev event.Event) {
	m.mu.RLock()
	targets := make([]Window, 0, len(m.windows)+1)
	for _, entry := range m.windows {
		targets = append(targets, entry.win)
	}
	if m.ball != nil {
		targets = append(targets, m.ball)
	}
	m.mu.RUnlock()

	for _, win := range targets {
		m.send(win, ev)
	}
}

func (m *Manager) send(win Window, ev event.Event) {
	if win.Destroyed() {
		return
	}
	if err := win.Send(ev); err != nil {
		logging.Debug().Str("windowID", win.ID()).Err(err).Msg("window send failed")
	}
}

// route fans a bus event out to windows. Session-scoped payloads reach only
// the session's windows; everything else is broadcast. Both sides of a turn
// are persisted here: the user message on turn.started, synchronously before
// the turn can stream, and the assistant message on turn.completed.
func (m *Manager) route(ev event.Event) {
	switch data := ev.Data.(type) {
	case event.TurnStartedData:
		m.persistMessage(data.SessionID, types.Message{
			ID:      data.MessageID,
			Role:    "user",
			Content: data.Content,
			Mode:    data.Mode,
		})
	case event.TurnCompletedData:
		m.persistMessage(data.SessionID, types.Message{
			ID:      data.MessageID,
			Role:    "assistant",
			Content: data.Content,
			Mode:    data.Mode,
		})
	}

	if sessionID, ok := sessionScope(ev); ok && sessionID != "" {
		m.Deliver(sessionID, ev)
		return
	}
	m.Broadcast(ev)
}

// persistMessage writes one turn message into the session's history so a
// recreated worker resumes from it.
func (m *Manager) persistMessage(sessionID string, msg types.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := m.sessions.AppendMessage(ctx, sessionID, msg); err != nil {
		logging.Warn().Str("sessionID", sessionID).Str("role", msg.Role).Err(err).Msg("persist message failed")
		return
	}

	m.bus.Publish(event.Event{
		Type: event.HistoryUpdated,
		Data: event.HistoryUpdatedData{SessionID: sessionID, Mode: msg.Mode},
	})
}

func sessionScope(ev event.Event) (string, bool) {
	switch data := ev.Data.(type) {
	case event.PartUpdatedData:
		return data.SessionID, true
	case event.TurnStartedData:
		return data.SessionID, true
	case event.TurnCompletedData:
		return data.SessionID, true
	case event.TurnErrorData:
		return data.SessionID, true
	case event.HistoryUpdatedData:
		return data.SessionID, true
	case event.PermissionRequiredData:
		return data.SessionID, true
	case event.PermissionResolvedData:
		return data.SessionID, true
	default:
		return "", false
	}
}

// Close detaches from the bus and destroys every worker.
func (m *Manager) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
	m.DestroyAll()
}
