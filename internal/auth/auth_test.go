package auth

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jasonwang82/opencowork-sub001/internal/config"
	"github.com/jasonwang82/opencowork-sub001/internal/event"
	"github.com/jasonwang82/opencowork-sub001/internal/storage"
	"github.com/jasonwang82/opencowork-sub001/pkg/types"
)

// fakeAuthenticator scripts the handoff. begins counts BeginLogin calls so
// tests can assert no second browser flow starts.
type fakeAuthenticator struct {
	begins   atomic.Int32
	beginErr error
	user     *types.UserInfo
	waitErr  error
	block    bool
}

func (f *fakeAuthenticator) BeginLogin(ctx context.Context, environment string) (*Handoff, error) {
	f.begins.Add(1)
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	return &Handoff{
		AuthURL: "https://auth.example.com/handoff",
		Wait: func(ctx context.Context) (*types.UserInfo, error) {
			if f.block {
				<-ctx.Done()
				return nil, ctx.Err()
			}
			if f.waitErr != nil {
				return nil, f.waitErr
			}
			return f.user, nil
		},
	}, nil
}

type fixture struct {
	orch *Orchestrator
	cfg  *config.Store
	bus  *event.Bus
}

func newFixture(t *testing.T, backend Authenticator) *fixture {
	t.Helper()

	cfgStore, err := config.NewStore(context.Background(), storage.New(t.TempDir()), "")
	require.NoError(t, err)

	bus := event.NewBus()
	t.Cleanup(func() { bus.Close() })

	orch := New(cfgStore, bus, backend)
	orch.openBrowser = func(url string) error { return nil }

	return &fixture{
		orch: orch,
		cfg:  cfgStore,
		bus:  bus,
	}
}

func (f *fixture) collect(types ...event.Type) chan event.Event {
	ch := make(chan event.Event, 8)
	for _, typ := range types {
		f.bus.Subscribe(typ, func(e event.Event) {
			ch <- e
		})
	}
	return ch
}

func waitEvent(t *testing.T, ch chan event.Event) event.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("event not published")
		return event.Event{}
	}
}

func TestOrchestrator_LoginSuccess(t *testing.T) {
	backend := &fakeAuthenticator{user: &types.UserInfo{
		UserID: "u1", UserName: "Ann", Token: "tok-1",
	}}
	f := newFixture(t, backend)

	identity := f.collect(event.IdentityChanged)
	waiting := f.collect(event.LoginWaiting)

	require.NoError(t, f.orch.Login(context.Background()))

	w := waitEvent(t, waiting)
	assert.Equal(t, "https://auth.example.com/handoff", w.Data.(event.LoginWaitingData).AuthURL)

	e := waitEvent(t, identity)
	assert.Equal(t, "u1", e.Data.(event.IdentityChangedData).User.UserID)

	// The identity is persisted whole.
	user := f.cfg.User()
	require.NotNil(t, user)
	assert.Equal(t, "Ann", user.UserName)
	assert.Equal(t, "tok-1", user.Token)

	assert.Eventually(t, func() bool {
		return f.orch.State() == StateIdle
	}, 2*time.Second, 10*time.Millisecond)
}

func TestOrchestrator_SecondLoginRejectedWhileWaiting(t *testing.T) {
	backend := &fakeAuthenticator{block: true}
	f := newFixture(t, backend)
	f.orch.SetTimeout(10 * time.Second)

	require.NoError(t, f.orch.Login(context.Background()))
	assert.Equal(t, StateWaiting, f.orch.State())

	// The second call fails fast and starts no second handoff.
	err := f.orch.Login(context.Background())
	assert.ErrorIs(t, err, ErrLoginInFlight)
	assert.Equal(t, int32(1), backend.begins.Load())
}

func TestOrchestrator_TimeoutFailsAndPermitsRetry(t *testing.T) {
	backend := &fakeAuthenticator{block: true}
	f := newFixture(t, backend)
	f.orch.SetTimeout(50 * time.Millisecond)

	failed := f.collect(event.LoginFailed)

	require.NoError(t, f.orch.Login(context.Background()))

	e := waitEvent(t, failed)
	assert.Equal(t, "login timed out", e.Data.(event.LoginFailedData).Reason)

	// The in-flight flag is reset so a retry can proceed.
	backend.block = false
	backend.user = &types.UserInfo{UserID: "u2"}
	identity := f.collect(event.IdentityChanged)

	require.NoError(t, f.orch.Login(context.Background()))
	waitEvent(t, identity)
	assert.Equal(t, "u2", f.cfg.User().UserID)
}

func TestOrchestrator_RemoteRejectionKeepsStoredIdentity(t *testing.T) {
	backend := &fakeAuthenticator{waitErr: errors.New("access denied")}
	f := newFixture(t, backend)

	previous := &types.UserInfo{UserID: "existing"}
	require.NoError(t, f.cfg.SetUser(context.Background(), previous))

	failed := f.collect(event.LoginFailed)

	require.NoError(t, f.orch.Login(context.Background()))

	e := waitEvent(t, failed)
	assert.Equal(t, "access denied", e.Data.(event.LoginFailedData).Reason)

	// A failed attempt never touches the previous identity.
	assert.Equal(t, "existing", f.cfg.User().UserID)
}

func TestOrchestrator_BeginLoginFailure(t *testing.T) {
	backend := &fakeAuthenticator{beginErr: errors.New("endpoint unreachable")}
	f := newFixture(t, backend)

	failed := f.collect(event.LoginFailed)

	err := f.orch.Login(context.Background())
	require.Error(t, err)
	waitEvent(t, failed)

	// The flag is cleared so the user can try again.
	backend.beginErr = nil
	backend.user = &types.UserInfo{UserID: "u1"}
	require.NoError(t, f.orch.Login(context.Background()))
}

func TestOrchestrator_Logout(t *testing.T) {
	f := newFixture(t, &fakeAuthenticator{})
	ctx := context.Background()

	require.NoError(t, f.cfg.SetUser(ctx, &types.UserInfo{UserID: "u1"}))

	identity := f.collect(event.IdentityChanged)
	require.NoError(t, f.orch.Logout(ctx))

	e := waitEvent(t, identity)
	assert.Nil(t, e.Data.(event.IdentityChangedData).User)
	assert.Nil(t, f.cfg.User())
}
