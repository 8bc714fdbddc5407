// Package auth runs the process-wide browser-handoff login flow. It owns
// the single login state machine; identity persistence lives in the config
// store and progress is broadcast to windows through the event bus.
package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jasonwang82/opencowork-sub001/internal/config"
	"github.com/jasonwang82/opencowork-sub001/internal/event"
	"github.com/jasonwang82/opencowork-sub001/internal/logging"
	"github.com/jasonwang82/opencowork-sub001/pkg/types"
)

// ErrLoginInFlight is returned when a login is attempted while another is
// still waiting on the browser. Calls are rejected, never queued.
var ErrLoginInFlight = errors.New("login already in progress")

// DefaultTimeout bounds how long the flow waits for the browser handoff.
const DefaultTimeout = 5 * time.Minute

// State is a phase of the login flow.
type State string

const (
	StateIdle     State = "idle"
	StateLocating State = "locating"
	StatePending  State = "pending"
	StateWaiting  State = "waiting"
)

// Handoff is an in-progress browser login. AuthURL is opened in the user's
// browser; Wait blocks until the remote side confirms or ctx expires.
type Handoff struct {
	AuthURL string
	Wait    func(ctx context.Context) (*types.UserInfo, error)
}

// Authenticator starts a login against a named environment.
type Authenticator interface {
	BeginLogin(ctx context.Context, environment string) (*Handoff, error)
}

// Orchestrator drives the login state machine. Exactly one instance exists
// per process and at most one login may be in flight at a time.
type Orchestrator struct {
	cfg     *config.Store
	bus     *event.Bus
	backend Authenticator
	timeout time.Duration

	inFlight atomic.Bool

	mu    sync.Mutex
	state State

	// openBrowser is swappable in tests.
	openBrowser func(url string) error
}

// New creates an orchestrator with the default timeout.
func New(cfg *config.Store, bus *event.Bus, backend Authenticator) *Orchestrator {
	return &Orchestrator{
		cfg:         cfg,
		bus:         bus,
		backend:     backend,
		timeout:     DefaultTimeout,
		state:       StateIdle,
		openBrowser: openBrowser,
	}
}

// SetTimeout overrides the browser-handoff deadline.
func (o *Orchestrator) SetTimeout(d time.Duration) {
	o.timeout = d
}

// State returns the current flow phase.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Login starts the browser handoff. It returns once the browser has been
// opened; completion is delivered through identity.changed or login.failed
// events. A second call while one is in flight fails immediately with
// ErrLoginInFlight and opens no browser.
func (o *Orchestrator) Login(ctx context.Context) error {
	if !o.inFlight.CompareAndSwap(false, true) {
		return ErrLoginInFlight
	}

	o.setState(StateLocating)
	o.bus.Publish(event.Event{Type: event.LoginPending, Data: nil})

	// A missing helper tool is non-fatal: the remote call may still work.
	if path, ok := locateAuthTool(); ok {
		logging.Debug().Str("path", path).Msg("auth tool located")
	} else {
		logging.Warn().Msg("auth tool not found, continuing")
	}

	o.setState(StatePending)
	environment := o.cfg.Get().AuthEnvironment
	handoff, err := o.backend.BeginLogin(ctx, environment)
	if err != nil {
		o.fail("login request failed: " + err.Error())
		return err
	}

	if err := o.openBrowser(handoff.AuthURL); err != nil {
		logging.Warn().Err(err).Msg("browser open failed, user must open the URL manually")
	}

	o.setState(StateWaiting)
	o.bus.Publish(event.Event{
		Type: event.LoginWaiting,
		Data: event.LoginWaitingData{AuthURL: handoff.AuthURL},
	})

	go o.await(handoff)
	return nil
}

func (o *Orchestrator) await(handoff *Handoff) {
	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()

	user, err := handoff.Wait(ctx)
	if err != nil {
		reason := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "login timed out"
		}
		o.fail(reason)
		return
	}

	// The stored identity is overwritten whole, never field by field, and
	// only on success.
	persistCtx, persistCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer persistCancel()
	if err := o.cfg.SetUser(persistCtx, user); err != nil {
		o.fail("persisting identity failed: " + err.Error())
		return
	}

	o.setState(StateIdle)
	o.inFlight.Store(false)
	logging.Info().Str("userID", user.UserID).Msg("login succeeded")
	o.bus.Publish(event.Event{
		Type: event.IdentityChanged,
		Data: event.IdentityChangedData{User: user},
	})
}

// fail resets the in-flight flag and tells windows to leave their waiting
// state. A previously stored identity is left untouched.
func (o *Orchestrator) fail(reason string) {
	o.setState(StateIdle)
	o.inFlight.Store(false)
	logging.Warn().Str("reason", reason).Msg("login failed")
	o.bus.Publish(event.Event{
		Type: event.LoginFailed,
		Data: event.LoginFailedData{Reason: reason},
	})
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// Logout clears the stored identity and broadcasts a nil identity. It does
// not touch an in-flight login.
func (o *Orchestrator) Logout(ctx context.Context) error {
	if err := o.cfg.SetUser(ctx, nil); err != nil {
		return err
	}
	o.bus.Publish(event.Event{
		Type: event.IdentityChanged,
		Data: event.IdentityChangedData{User: nil},
	})
	return nil
}
