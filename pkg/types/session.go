// Package types contains the shared data model for the cowork backend.
package types

// MessageMode selects which of a session's two histories a message belongs to.
type MessageMode string

const (
	ModeChat MessageMode = "chat"
	ModeWork MessageMode = "work"
)

// Message is a single conversation entry in one of a session's histories.
type Message struct {
	ID        string      `json:"id"`
	Role      string      `json:"role"` // "user" | "assistant" | "error"
	Content   string      `json:"content"`
	Mode      MessageMode `json:"mode"`
	CreatedAt int64       `json:"createdAt"` // unix millis
}

// Session is a persisted unit of conversational state. Each session carries
// its own working directory and two independent message histories, one per
// message mode.
type Session struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Directory    string    `json:"directory,omitempty"`
	ChatMessages []Message `json:"chatMessages"`
	WorkMessages []Message `json:"workMessages"`
	CreatedAt    int64     `json:"createdAt"` // unix millis
}

// History returns the message slice for the given mode.
func (s *Session) History(mode MessageMode) []Message {
	if mode == ModeWork {
		return s.WorkMessages
	}
	return s.ChatMessages
}

// AppendMessage appends a message to the history selected by its mode.
func (s *Session) AppendMessage(msg Message) {
	if msg.Mode == ModeWork {
		s.WorkMessages = append(s.WorkMessages, msg)
		return
	}
	s.ChatMessages = append(s.ChatMessages, msg)
}
