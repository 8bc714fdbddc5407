package worker

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jasonwang82/opencowork-sub001/internal/event"
	"github.com/jasonwang82/opencowork-sub001/internal/logging"
	"github.com/jasonwang82/opencowork-sub001/internal/permission"
	"github.com/jasonwang82/opencowork-sub001/pkg/types"
)

// ErrBusy is returned by Submit while a turn is already in flight. Callers
// must wait for the current turn to finish or abort it first.
var ErrBusy = errors.New("worker is processing")

// State is the worker lifecycle state.
type State string

const (
	StateIdle       State = "idle"
	StateProcessing State = "processing"
)

// Sink receives the worker's stream events in production order. The owning
// manager supplies one per worker, routing to the session's window.
type Sink func(event.Event)

// Deps are the collaborators a worker needs.
type Deps struct {
	SessionID string
	Directory string
	Model     string
	Backend   Backend
	Gate      *permission.Manager
	Prompter  *permission.Prompter
	Blacklist func() []string
	Sink      Sink
}

// Worker performs one session's AI turns. Exactly one worker exists per
// live session; it is created lazily and destroyed on session deletion,
// settings change, or shutdown.
type Worker struct {
	sessionID string
	directory string
	model     string
	backend   Backend
	gate      *permission.Manager
	prompter  *permission.Prompter
	blacklist func() []string
	sink      Sink

	mu      sync.Mutex
	state   State
	cancel  context.CancelFunc
	history []types.Message
}

// New creates an idle worker.
func New(deps Deps) *Worker {
	return &Worker{
		sessionID: deps.SessionID,
		directory: deps.Directory,
		model:     deps.Model,
		backend:   deps.Backend,
		gate:      deps.Gate,
		prompter:  deps.Prompter,
		blacklist: deps.Blacklist,
		sink:      deps.Sink,
		state:     StateIdle,
	}
}

// SessionID returns the owning session's ID.
func (w *Worker) SessionID() string {
	return w.sessionID
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Submit starts one assistant turn for the given user input. The turn runs
// asynchronously; tokens, completion, and errors are delivered through the
// sink. Submitting while a turn is in flight returns ErrBusy.
func (w *Worker) Submit(content string, mode types.MessageMode) error {
	w.mu.Lock()
	if w.state == StateProcessing {
		w.mu.Unlock()
		return ErrBusy
	}

	userMsg := types.Message{
		ID:        ulid.Make().String(),
		Role:      "user",
		Content:   content,
		Mode:      mode,
		CreatedAt: time.Now().UnixMilli(),
	}
	w.history = append(w.history, userMsg)
	messages := w.historyForModeLocked(mode)

	// The turn context is independent of the caller's request context:
	// submission is fire-and-forget and the turn outlives the request.
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.state = StateProcessing
	w.mu.Unlock()

	// The sink sees the user message before the turn goroutine can produce
	// any assistant output, so the persisted history stays ordered.
	w.sink(event.Event{
		Type: event.TurnStarted,
		Data: event.TurnStartedData{
			SessionID: w.sessionID,
			MessageID: userMsg.ID,
			Mode:      mode,
			Content:   content,
		},
	})

	go w.runTurn(ctx, messages, mode)
	return nil
}

func (w *Worker) runTurn(ctx context.Context, messages []types.Message, mode types.MessageMode) {
	defer func() {
		w.mu.Lock()
		w.state = StateIdle
		w.cancel = nil
		w.mu.Unlock()
	}()

	messageID := ulid.Make().String()

	stream, err := w.backend.StartTurn(ctx, TurnRequest{
		Messages:  messages,
		Model:     w.model,
		Directory: w.directory,
	})
	if err != nil {
		w.emitError(ctx, err)
		return
	}
	defer stream.Close()

	var content string
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			w.emitError(ctx, err)
			return
		}

		content += chunk.Delta
		w.sink(event.Event{
			Type: event.PartUpdated,
			Data: event.PartUpdatedData{
				SessionID: w.sessionID,
				MessageID: messageID,
				Delta:     chunk.Delta,
				Content:   content,
			},
		})
	}

	w.mu.Lock()
	w.history = append(w.history, types.Message{
		ID:        messageID,
		Role:      "assistant",
		Content:   content,
		Mode:      mode,
		CreatedAt: time.Now().UnixMilli(),
	})
	w.mu.Unlock()

	w.sink(event.Event{
		Type: event.TurnCompleted,
		Data: event.TurnCompletedData{
			SessionID: w.sessionID,
			MessageID: messageID,
			Mode:      mode,
			Content:   content,
		},
	})
}

func (w *Worker) emitError(ctx context.Context, err error) {
	aborted := ctx.Err() != nil
	if !aborted {
		logging.Error().
			Str("sessionID", w.sessionID).
			Err(err).
			Msg("turn failed")
	}
	w.sink(event.Event{
		Type: event.TurnError,
		Data: event.TurnErrorData{
			SessionID: w.sessionID,
			Message:   err.Error(),
			Aborted:   aborted,
		},
	})
}

// Abort cancels the in-flight turn, if any. Aborting an idle worker is a
// no-op. The turn's child process or network stream is torn down through
// context cancellation.
func (w *Worker) Abort() {
	w.mu.Lock()
	cancel := w.cancel
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Destroy aborts any in-flight turn and releases backend resources.
func (w *Worker) Destroy() error {
	w.Abort()
	return w.backend.Close()
}

// History returns a copy of the in-memory conversation context.
func (w *Worker) History() []types.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]types.Message(nil), w.history...)
}

// LoadHistory replaces the in-memory conversation context. Used when a
// session is resumed so the worker starts from the persisted history.
func (w *Worker) LoadHistory(messages []types.Message) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.history = append([]types.Message(nil), messages...)
}

// ClearHistory drops the in-memory conversation context.
func (w *Worker) ClearHistory() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.history = nil
}

// HandleConfirm resolves a pending permission prompt raised by this
// worker's gated tool calls.
func (w *Worker) HandleConfirm(requestID string, approved bool) {
	w.prompter.Respond(requestID, approved)
}

// AuthorizeTool gates a filesystem- or process-affecting tool call. An
// existing grant passes immediately; otherwise the user is prompted and the
// call blocks until resolution or ctx cancellation.
func (w *Worker) AuthorizeTool(ctx context.Context, tool, path string) error {
	if w.gate.Has(tool, path) {
		return nil
	}
	return w.prompter.Ask(ctx, permission.Request{
		SessionID: w.sessionID,
		Tool:      tool,
		Path:      path,
		Title:     tool + " " + path,
	})
}

// AuthorizeCommand rejects a candidate command containing any blacklisted
// substring.
func (w *Worker) AuthorizeCommand(command string) error {
	return permission.CheckCommand(command, w.blacklist())
}

func (w *Worker) historyForModeLocked(mode types.MessageMode) []types.Message {
	var out []types.Message
	for _, msg := range w.history {
		if msg.Mode == mode {
			out = append(out, msg)
		}
	}
	return out
}
