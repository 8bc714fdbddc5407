package manager

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jasonwang82/opencowork-sub001/internal/config"
	"github.com/jasonwang82/opencowork-sub001/internal/event"
	"github.com/jasonwang82/opencowork-sub001/internal/permission"
	"github.com/jasonwang82/opencowork-sub001/internal/session"
	"github.com/jasonwang82/opencowork-sub001/internal/storage"
	"github.com/jasonwang82/opencowork-sub001/internal/worker"
	"github.com/jasonwang82/opencowork-sub001/pkg/types"
)

type fakeWindow struct {
	id        string
	destroyed atomic.Bool

	mu     sync.Mutex
	events []event.Event
}

func (w *fakeWindow) ID() string      { return w.id }
func (w *fakeWindow) Destroyed() bool { return w.destroyed.Load() }

func (w *fakeWindow) Send(ev event.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, ev)
	return nil
}

func (w *fakeWindow) received() []event.Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]event.Event(nil), w.events...)
}

type fakeBackend struct {
	tokens []string
}

func (f *fakeBackend) Mode() types.IntegrationMode { return types.IntegrationAPI }

func (f *fakeBackend) StartTurn(ctx context.Context, req worker.TurnRequest) (worker.Stream, error) {
	return &fakeStream{ctx: ctx, tokens: f.tokens}, nil
}

func (f *fakeBackend) Close() error { return nil }

type fakeStream struct {
	ctx    context.Context
	tokens []string
	pos    int
}

func (f *fakeStream) Recv() (worker.Chunk, error) {
	if err := f.ctx.Err(); err != nil {
		return worker.Chunk{}, err
	}
	if f.pos >= len(f.tokens) {
		return worker.Chunk{}, io.EOF
	}
	chunk := worker.Chunk{Delta: f.tokens[f.pos]}
	f.pos++
	return chunk, nil
}

func (f *fakeStream) Close() {}

type fixture struct {
	mgr      *Manager
	sessions *session.Store
	bus      *event.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	store := storage.New(t.TempDir())
	cfgStore, err := config.NewStore(ctx, store, "")
	require.NoError(t, err)
	sessions := session.NewStore(store)

	bus := event.NewBus()
	t.Cleanup(func() { bus.Close() })

	gate := permission.NewManager(cfgStore)
	prompter := permission.NewPrompter(bus)

	mgr := New(cfgStore, sessions, gate, prompter, bus)
	t.Cleanup(mgr.Close)

	mgr.newBackend = func(ctx context.Context, cfg *types.Config) (worker.Backend, error) {
		return &fakeBackend{tokens: []string{"tok1", "tok2"}}, nil
	}

	return &fixture{mgr: mgr, sessions: sessions, bus: bus}
}

func (f *fixture) createSession(t *testing.T) *types.Session {
	t.Helper()
	sess, err := f.sessions.Create(context.Background(), "/work", "")
	require.NoError(t, err)
	return sess
}

func TestManager_GetOrCreateIsIdempotent(t *testing.T) {
	f := newFixture(t)
	sess := f.createSession(t)

	w1, err := f.mgr.GetOrCreate(context.Background(), sess.ID)
	require.NoError(t, err)
	w2, err := f.mgr.GetOrCreate(context.Background(), sess.ID)
	require.NoError(t, err)

	assert.Same(t, w1, w2)
}

func TestManager_GetOrCreateUnknownSession(t *testing.T) {
	f := newFixture(t)

	_, err := f.mgr.GetOrCreate(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestManager_DestroyYieldsFreshInstance(t *testing.T) {
	f := newFixture(t)
	sess := f.createSession(t)
	ctx := context.Background()

	w1, err := f.mgr.GetOrCreate(ctx, sess.ID)
	require.NoError(t, err)
	w1.LoadHistory([]types.Message{{ID: "m1", Role: "user", Content: "x", Mode: types.ModeChat}})

	f.mgr.Destroy(sess.ID)

	_, ok := f.mgr.Get(sess.ID)
	assert.False(t, ok)

	w2, err := f.mgr.GetOrCreate(ctx, sess.ID)
	require.NoError(t, err)
	assert.NotSame(t, w1, w2)
	assert.Empty(t, w2.History())
}

func TestManager_DestroyUnknownIsNoop(t *testing.T) {
	f := newFixture(t)
	f.mgr.Destroy("missing")
}

func TestManager_WorkerSeededFromPersistedHistory(t *testing.T) {
	f := newFixture(t)
	sess := f.createSession(t)
	ctx := context.Background()

	_, err := f.sessions.AppendMessage(ctx, sess.ID, types.Message{
		Role: "user", Content: "earlier", Mode: types.ModeChat,
	})
	require.NoError(t, err)

	w, err := f.mgr.GetOrCreate(ctx, sess.ID)
	require.NoError(t, err)

	history := w.History()
	require.Len(t, history, 1)
	assert.Equal(t, "earlier", history[0].Content)
}

func TestManager_UnregisterWindowKeepsWorker(t *testing.T) {
	f := newFixture(t)
	sess := f.createSession(t)
	ctx := context.Background()

	win := &fakeWindow{id: "win-1"}
	f.mgr.RegisterWindow(win, sess.ID)

	w1, err := f.mgr.GetOrCreate(ctx, sess.ID)
	require.NoError(t, err)

	f.mgr.UnregisterWindow(win)
	assert.Nil(t, f.mgr.WindowForSession(sess.ID))

	// The session can be resumed later with its worker intact.
	w2, ok := f.mgr.Get(sess.ID)
	assert.True(t, ok)
	assert.Same(t, w1, w2)
}

func TestManager_UnregisterWindowIgnoresStaleHandle(t *testing.T) {
	f := newFixture(t)
	sess := f.createSession(t)

	old := &fakeWindow{id: "win-1"}
	f.mgr.RegisterWindow(old, sess.ID)

	// A reconnect re-registers under the same ID before the old
	// connection's teardown runs.
	fresh := &fakeWindow{id: "win-1"}
	f.mgr.RegisterWindow(fresh, sess.ID)

	f.mgr.UnregisterWindow(old)
	assert.Equal(t, fresh, f.mgr.WindowForSession(sess.ID))

	f.mgr.UnregisterWindow(fresh)
	assert.Nil(t, f.mgr.WindowForSession(sess.ID))
}

func TestManager_ClearFloatingBallIgnoresStaleHandle(t *testing.T) {
	f := newFixture(t)

	old := &fakeWindow{id: "ball"}
	f.mgr.SetFloatingBall(old)

	fresh := &fakeWindow{id: "ball"}
	f.mgr.SetFloatingBall(fresh)

	f.mgr.ClearFloatingBall(old)
	f.mgr.Broadcast(event.Event{Type: event.IdentityChanged, Data: event.IdentityChangedData{}})
	assert.Len(t, fresh.received(), 1)

	f.mgr.ClearFloatingBall(fresh)
	f.mgr.Broadcast(event.Event{Type: event.IdentityChanged, Data: event.IdentityChangedData{}})
	assert.Len(t, fresh.received(), 1)
}

func TestManager_Bindings(t *testing.T) {
	f := newFixture(t)
	sess := f.createSession(t)

	bound := &fakeWindow{id: "win-1"}
	floating := &fakeWindow{id: "win-2"}
	gone := &fakeWindow{id: "win-3"}
	f.mgr.RegisterWindow(bound, sess.ID)
	f.mgr.RegisterWindow(floating, "")
	f.mgr.RegisterWindow(gone, sess.ID)
	gone.destroyed.Store(true)

	bindings := f.mgr.Bindings()
	assert.Equal(t, map[string]string{
		"win-1": sess.ID,
		"win-2": "",
	}, bindings)
}

func TestManager_UpdateWindowSession(t *testing.T) {
	f := newFixture(t)
	a := f.createSession(t)
	b := f.createSession(t)

	win := &fakeWindow{id: "win-1"}
	f.mgr.RegisterWindow(win, a.ID)
	assert.Equal(t, win, f.mgr.WindowForSession(a.ID))

	f.mgr.UpdateWindowSession("win-1", b.ID)
	assert.Nil(t, f.mgr.WindowForSession(a.ID))
	assert.Equal(t, win, f.mgr.WindowForSession(b.ID))

	// Unknown window IDs are ignored.
	f.mgr.UpdateWindowSession("missing", a.ID)
}

func TestManager_DeliverRouting(t *testing.T) {
	f := newFixture(t)
	a := f.createSession(t)
	b := f.createSession(t)

	winA := &fakeWindow{id: "win-a"}
	winB := &fakeWindow{id: "win-b"}
	ball := &fakeWindow{id: "ball"}
	f.mgr.RegisterWindow(winA, a.ID)
	f.mgr.RegisterWindow(winB, b.ID)
	f.mgr.SetFloatingBall(ball)

	f.mgr.Deliver(a.ID, event.Event{
		Type: event.TurnError,
		Data: event.TurnErrorData{SessionID: a.ID, Message: "boom"},
	})

	assert.Len(t, winA.received(), 1)
	assert.Empty(t, winB.received())
	// The floating ball sees everything.
	assert.Len(t, ball.received(), 1)
}

func TestManager_DeliverSkipsDestroyedWindow(t *testing.T) {
	f := newFixture(t)
	a := f.createSession(t)

	win := &fakeWindow{id: "win-a"}
	f.mgr.RegisterWindow(win, a.ID)
	win.destroyed.Store(true)

	// Delivery to a destroyed window is silently dropped.
	f.mgr.Deliver(a.ID, event.Event{
		Type: event.TurnError,
		Data: event.TurnErrorData{SessionID: a.ID},
	})
	assert.Empty(t, win.received())
}

func TestManager_BroadcastReachesAllWindows(t *testing.T) {
	f := newFixture(t)
	a := f.createSession(t)

	winA := &fakeWindow{id: "win-a"}
	winB := &fakeWindow{id: "win-b"}
	f.mgr.RegisterWindow(winA, a.ID)
	f.mgr.RegisterWindow(winB, "")

	f.mgr.Broadcast(event.Event{
		Type: event.IdentityChanged,
		Data: event.IdentityChangedData{User: &types.UserInfo{UserID: "u1"}},
	})

	assert.Len(t, winA.received(), 1)
	assert.Len(t, winB.received(), 1)
}

func TestManager_GlobalEventsBroadcastViaBus(t *testing.T) {
	f := newFixture(t)
	a := f.createSession(t)

	winA := &fakeWindow{id: "win-a"}
	f.mgr.RegisterWindow(winA, a.ID)

	f.bus.PublishSync(event.Event{
		Type: event.IdentityChanged,
		Data: event.IdentityChangedData{User: nil},
	})

	assert.Len(t, winA.received(), 1)
	assert.Equal(t, event.IdentityChanged, winA.received()[0].Type)
}

func waitForTerminal(t *testing.T, win *fakeWindow) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, ev := range win.received() {
			if ev.Type == event.TurnCompleted || ev.Type == event.TurnError {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
}

func TestManager_ConcurrentSessionsStayIsolated(t *testing.T) {
	f := newFixture(t)
	a := f.createSession(t)
	b := f.createSession(t)
	ctx := context.Background()

	winA := &fakeWindow{id: "win-a"}
	winB := &fakeWindow{id: "win-b"}
	f.mgr.RegisterWindow(winA, a.ID)
	f.mgr.RegisterWindow(winB, b.ID)

	workerA, err := f.mgr.GetOrCreate(ctx, a.ID)
	require.NoError(t, err)
	workerB, err := f.mgr.GetOrCreate(ctx, b.ID)
	require.NoError(t, err)

	require.NoError(t, workerA.Submit("go", types.ModeChat))
	require.NoError(t, workerB.Submit("go", types.ModeChat))

	waitForTerminal(t, winA)
	waitForTerminal(t, winB)

	checkWindow := func(win *fakeWindow, sessionID string) {
		var deltas []string
		for _, ev := range win.received() {
			switch data := ev.Data.(type) {
			case event.PartUpdatedData:
				// No token from another session may appear here.
				assert.Equal(t, sessionID, data.SessionID)
				deltas = append(deltas, data.Delta)
			case event.TurnCompletedData:
				assert.Equal(t, sessionID, data.SessionID)
			}
		}
		// Tokens arrive in production order.
		assert.Equal(t, []string{"tok1", "tok2"}, deltas)
	}
	checkWindow(winA, a.ID)
	checkWindow(winB, b.ID)
}

func TestManager_TurnPersistsOrderedHistory(t *testing.T) {
	f := newFixture(t)
	sess := f.createSession(t)
	ctx := context.Background()

	win := &fakeWindow{id: "win-1"}
	f.mgr.RegisterWindow(win, sess.ID)

	w, err := f.mgr.GetOrCreate(ctx, sess.ID)
	require.NoError(t, err)
	require.NoError(t, w.Submit("go", types.ModeChat))
	waitForTerminal(t, win)

	// The user message lands before any assistant output, even with a
	// backend that finishes instantly.
	stored, err := f.sessions.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, stored.ChatMessages, 2)
	assert.Equal(t, "user", stored.ChatMessages[0].Role)
	assert.Equal(t, "go", stored.ChatMessages[0].Content)
	assert.Equal(t, "assistant", stored.ChatMessages[1].Role)
	assert.Equal(t, "tok1tok2", stored.ChatMessages[1].Content)
}

func TestManager_ConsecutiveTurnsKeepEveryMessage(t *testing.T) {
	f := newFixture(t)
	sess := f.createSession(t)
	ctx := context.Background()

	win := &fakeWindow{id: "win-1"}
	f.mgr.RegisterWindow(win, sess.ID)

	w, err := f.mgr.GetOrCreate(ctx, sess.ID)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.Eventually(t, func() bool {
			return w.Submit("again", types.ModeChat) == nil
		}, 5*time.Second, 10*time.Millisecond)
	}
	require.Eventually(t, func() bool {
		stored, err := f.sessions.Get(ctx, sess.ID)
		return err == nil && len(stored.ChatMessages) == 6
	}, 5*time.Second, 10*time.Millisecond)

	stored, err := f.sessions.Get(ctx, sess.ID)
	require.NoError(t, err)
	for i, msg := range stored.ChatMessages {
		want := "user"
		if i%2 == 1 {
			want = "assistant"
		}
		assert.Equal(t, want, msg.Role, "message %d", i)
	}
}

func TestManager_DestroyAll(t *testing.T) {
	f := newFixture(t)
	a := f.createSession(t)
	b := f.createSession(t)
	ctx := context.Background()

	_, err := f.mgr.GetOrCreate(ctx, a.ID)
	require.NoError(t, err)
	_, err = f.mgr.GetOrCreate(ctx, b.ID)
	require.NoError(t, err)

	f.mgr.DestroyAll()

	_, okA := f.mgr.Get(a.ID)
	_, okB := f.mgr.Get(b.ID)
	assert.False(t, okA)
	assert.False(t, okB)
}
