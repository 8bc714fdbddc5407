// Package session provides the persisted session registry.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jasonwang82/opencowork-sub001/internal/storage"
	"github.com/jasonwang82/opencowork-sub001/pkg/types"
)

// currentKey is the storage key of the single current-session pointer.
var currentKey = []string{"state", "current-session"}

// currentRecord is the persisted shape of the current-session pointer.
type currentRecord struct {
	SessionID string `json:"sessionID"`
}

// Store is the persisted registry of session records plus the single
// current-session pointer. At most one session is current at any time; the
// pointer may also be empty.
type Store struct {
	storage *storage.Storage

	// mu serializes record updates. The storage file lock covers a single
	// write; a Get, mutate, Put sequence needs mutual exclusion here or
	// concurrent updates lose messages.
	mu sync.Mutex
}

// NewStore creates a session store over the given record storage.
func NewStore(store *storage.Storage) *Store {
	return &Store{storage: store}
}

// Create creates and persists a new session.
func (s *Store) Create(ctx context.Context, directory, title string) (*types.Session, error) {
	if title == "" {
		title = "New Session"
	}

	sess := &types.Session{
		ID:        ulid.Make().String(),
		Title:     title,
		Directory: directory,
		CreatedAt: time.Now().UnixMilli(),
	}

	if err := s.storage.Put(ctx, []string{"sessions", sess.ID}, sess); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return sess, nil
}

// Get retrieves a session by ID.
func (s *Store) Get(ctx context.Context, sessionID string) (*types.Session, error) {
	var sess types.Session
	if err := s.storage.Get(ctx, []string{"sessions", sessionID}, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// Rename updates a session's title.
func (s *Store) Rename(ctx context.Context, sessionID, title string) (*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	sess.Title = title
	if err := s.storage.Put(ctx, []string{"sessions", sess.ID}, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Delete removes a session. If the deleted session was current, the pointer
// is cleared so the one-current invariant holds.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if err := s.storage.Delete(ctx, []string{"sessions", sessionID}); err != nil {
		return err
	}

	if current, _ := s.Current(ctx); current == sessionID {
		return s.ClearCurrent(ctx)
	}
	return nil
}

// List returns every persisted session.
func (s *Store) List(ctx context.Context) ([]*types.Session, error) {
	var sessions []*types.Session
	err := s.storage.Scan(ctx, []string{"sessions"}, func(key string, data json.RawMessage) error {
		var sess types.Session
		if err := json.Unmarshal(data, &sess); err != nil {
			return err
		}
		sessions = append(sessions, &sess)
		return nil
	})
	return sessions, err
}

// Clear deletes every session and the current pointer.
func (s *Store) Clear(ctx context.Context) error {
	sessions, err := s.List(ctx)
	if err != nil {
		return err
	}
	for _, sess := range sessions {
		if err := s.storage.Delete(ctx, []string{"sessions", sess.ID}); err != nil {
			return err
		}
	}
	return s.ClearCurrent(ctx)
}

// AppendMessage appends a message to the session history selected by the
// message's mode and persists the record.
func (s *Store) AppendMessage(ctx context.Context, sessionID string, msg types.Message) (*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.CreatedAt == 0 {
		msg.CreatedAt = time.Now().UnixMilli()
	}
	sess.AppendMessage(msg)

	if err := s.storage.Put(ctx, []string{"sessions", sess.ID}, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Current returns the current session ID, or "" when none is set.
func (s *Store) Current(ctx context.Context) (string, error) {
	var rec currentRecord
	if err := s.storage.Get(ctx, currentKey, &rec); err != nil {
		if err == storage.ErrNotFound {
			return "", nil
		}
		return "", err
	}
	return rec.SessionID, nil
}

// SetCurrent marks a session as current. The session must exist.
func (s *Store) SetCurrent(ctx context.Context, sessionID string) error {
	if !s.storage.Exists(ctx, []string{"sessions", sessionID}) {
		return storage.ErrNotFound
	}
	return s.storage.Put(ctx, currentKey, currentRecord{SessionID: sessionID})
}

// ClearCurrent removes the current-session pointer.
func (s *Store) ClearCurrent(ctx context.Context) error {
	return s.storage.Delete(ctx, currentKey)
}
