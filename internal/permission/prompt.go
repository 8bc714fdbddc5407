package permission

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/jasonwang82/opencowork-sub001/internal/event"
)

// RejectedError is returned when the user denies a permission prompt.
type RejectedError struct {
	SessionID string
	Tool      string
	Path      string
}

func (e *RejectedError) Error() string {
	return "permission rejected: " + e.Tool
}

// IsRejected checks whether err is a permission rejection.
func IsRejected(err error) bool {
	_, ok := err.(*RejectedError)
	return ok
}

// Request describes a pending permission prompt.
type Request struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID"`
	Tool      string `json:"tool"`
	Path      string `json:"path,omitempty"`
	Title     string `json:"title"`
}

// Prompter blocks gated tool calls until the user resolves a prompt. Each
// pending request is a buffered channel keyed by request ID; the dispatch
// layer resolves it through Respond.
type Prompter struct {
	bus *event.Bus

	mu      sync.Mutex
	pending map[string]chan bool
}

// NewPrompter creates a prompter publishing on bus.
func NewPrompter(bus *event.Bus) *Prompter {
	return &Prompter{
		bus:     bus,
		pending: make(map[string]chan bool),
	}
}

// Ask publishes a permission.required event and blocks until the user
// responds or ctx is cancelled. Returns nil on approval, *RejectedError on
// denial.
func (p *Prompter) Ask(ctx context.Context, req Request) error {
	if req.ID == "" {
		req.ID = ulid.Make().String()
	}

	ch := make(chan bool, 1)
	p.mu.Lock()
	p.pending[req.ID] = ch
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.pending, req.ID)
		p.mu.Unlock()
	}()

	p.bus.Publish(event.Event{
		Type: event.PermissionRequired,
		Data: event.PermissionRequiredData{
			ID:        req.ID,
			SessionID: req.SessionID,
			Tool:      req.Tool,
			Path:      req.Path,
			Title:     req.Title,
		},
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case approved := <-ch:
		if !approved {
			return &RejectedError{
				SessionID: req.SessionID,
				Tool:      req.Tool,
				Path:      req.Path,
			}
		}
		return nil
	}
}

// Respond resolves a pending prompt. Responding to an unknown or already
// resolved ID is a no-op; the resolution event is published either way so
// stale prompt UIs can clear themselves.
func (p *Prompter) Respond(requestID string, approved bool) {
	p.mu.Lock()
	ch, ok := p.pending[requestID]
	p.mu.Unlock()

	if ok {
		// The buffer holds one response; a duplicate must not block the
		// dispatch goroutine.
		select {
		case ch <- approved:
		default:
		}
	}

	p.bus.Publish(event.Event{
		Type: event.PermissionResolved,
		Data: event.PermissionResolvedData{
			ID:       requestID,
			Approved: approved,
		},
	})
}

// PendingCount returns how many prompts are awaiting a response.
func (p *Prompter) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}
