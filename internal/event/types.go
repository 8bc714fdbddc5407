package event

import "github.com/jasonwang82/opencowork-sub001/pkg/types"

// SessionData carries a full session record for lifecycle events.
type SessionData struct {
	Info *types.Session `json:"info"`
}

// PartUpdatedData is the payload for streaming token events. Delta holds the
// newly produced text; Content the accumulated assistant output so far.
type PartUpdatedData struct {
	SessionID string `json:"sessionID"`
	MessageID string `json:"messageID"`
	Delta     string `json:"delta,omitempty"`
	Content   string `json:"content"`
}

// HistoryUpdatedData signals that a session's persisted history changed.
type HistoryUpdatedData struct {
	SessionID string            `json:"sessionID"`
	Mode      types.MessageMode `json:"mode"`
	Message   *types.Message    `json:"message,omitempty"`
}

// TurnStartedData marks the acceptance of a user message. It is published
// synchronously before the turn's first token so the user message is durable
// ahead of any assistant output.
type TurnStartedData struct {
	SessionID string            `json:"sessionID"`
	MessageID string            `json:"messageID"`
	Mode      types.MessageMode `json:"mode"`
	Content   string            `json:"content"`
}

// TurnCompletedData marks the end of a successful turn.
type TurnCompletedData struct {
	SessionID string            `json:"sessionID"`
	MessageID string            `json:"messageID"`
	Mode      types.MessageMode `json:"mode"`
	Content   string            `json:"content"`
}

// TurnErrorData carries a turn failure scoped to one session.
type TurnErrorData struct {
	SessionID string `json:"sessionID"`
	Message   string `json:"message"`
	Aborted   bool   `json:"aborted,omitempty"`
}

// PermissionRequiredData asks the user to approve a gated tool call.
type PermissionRequiredData struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID"`
	Tool      string `json:"tool"`
	Path      string `json:"path,omitempty"`
	Title     string `json:"title"`
}

// PermissionResolvedData reports the outcome of a permission prompt.
type PermissionResolvedData struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID"`
	Approved  bool   `json:"approved"`
}

// IdentityChangedData broadcasts the authenticated identity to every window.
// User is nil after logout.
type IdentityChangedData struct {
	User *types.UserInfo `json:"user"`
}

// LoginWaitingData tells windows a browser handoff is in progress.
type LoginWaitingData struct {
	AuthURL string `json:"authUrl"`
}

// LoginFailedData tells windows the login attempt ended without an identity.
type LoginFailedData struct {
	Reason string `json:"reason"`
}
