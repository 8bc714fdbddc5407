// Package worker implements the per-session agent worker. A worker wraps
// exactly one backing execution mode behind a uniform start/stream/abort
// contract and owns that session's in-memory conversation context.
package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/jasonwang82/opencowork-sub001/pkg/types"
)

// ErrMissingCredentials indicates the active mode needs a credential that
// is not configured.
var ErrMissingCredentials = errors.New("missing credentials for integration mode")

// TurnRequest describes one assistant turn.
type TurnRequest struct {
	// Messages is the conversation context, oldest first. The final entry
	// is the user input for this turn.
	Messages []types.Message

	// Model is the model identifier to run the turn with.
	Model string

	// Directory is the session's working directory.
	Directory string
}

// Chunk is one unit of streamed output.
type Chunk struct {
	// Delta is the newly produced text since the previous chunk.
	Delta string
}

// Stream yields chunks for one in-flight turn. Recv returns io.EOF when the
// turn is complete.
type Stream interface {
	Recv() (Chunk, error)
	Close()
}

// Backend is one backing execution mode. Implementations must be safe to
// abort via context cancellation and must not leave child processes or open
// network streams behind after Close.
type Backend interface {
	// Mode identifies the integration mode this backend implements.
	Mode() types.IntegrationMode

	// StartTurn begins asynchronous production of a token stream.
	StartTurn(ctx context.Context, req TurnRequest) (Stream, error)

	// Close releases any resources held across turns.
	Close() error
}

// NewBackend constructs the backend for the configured integration mode.
func NewBackend(ctx context.Context, cfg *types.Config) (Backend, error) {
	switch cfg.Mode {
	case types.IntegrationAPI, "":
		return newEinoBackend(ctx, cfg)
	case types.IntegrationSDK:
		return newSDKBackend(cfg)
	case types.IntegrationCLI:
		return newCLIBackend(cfg)
	default:
		return nil, fmt.Errorf("unknown integration mode: %s", cfg.Mode)
	}
}
