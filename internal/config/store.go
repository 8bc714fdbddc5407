package config

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/tidwall/jsonc"

	"github.com/jasonwang82/opencowork-sub001/internal/storage"
	"github.com/jasonwang82/opencowork-sub001/pkg/types"
)

// storage key for the single persisted configuration record.
var configKey = []string{"config", "app"}

// DefaultBlacklist are the command substrings rejected out of the box. The
// check is a plain substring match, not a shell-aware parse.
var DefaultBlacklist = []string{
	"rm -rf",
	"mkfs",
	"dd if=",
	":(){",
	"> /dev/sd",
	"shutdown",
	"reboot",
}

// Store is the persisted key/value configuration store. All reads come from
// an in-memory copy; every mutation persists before returning so no caller
// observes a half-written record.
type Store struct {
	store *storage.Storage

	// mu guards current. The record is replaced wholesale, never mutated
	// in place, so readers holding a clone see a consistent snapshot.
	mu      sync.RWMutex
	current *types.Config
}

// NewStore loads (or initializes) the configuration record. An optional
// cowork.jsonc override file is merged on top of persisted state, letting
// users pre-seed credentials or mode without touching the data directory.
func NewStore(ctx context.Context, store *storage.Storage, overridePath string) (*Store, error) {
	cfg := &types.Config{}
	if err := store.Get(ctx, configKey, cfg); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		cfg = &types.Config{
			Mode:      types.IntegrationAPI,
			Blacklist: append([]string(nil), DefaultBlacklist...),
		}
	}
	if len(cfg.Blacklist) == 0 {
		cfg.Blacklist = append([]string(nil), DefaultBlacklist...)
	}

	if overridePath != "" {
		applyOverrides(cfg, overridePath)
	}

	s := &Store{store: store, current: cfg}
	if err := s.persist(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// applyOverrides merges a JSONC override file into cfg. Missing or
// malformed files are ignored.
func applyOverrides(cfg *types.Config, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}

	var override types.Config
	if err := json.Unmarshal(jsonc.ToJSON(data), &override); err != nil {
		return
	}

	if override.APIKey != "" {
		cfg.APIKey = override.APIKey
	}
	if override.Mode != "" {
		cfg.Mode = override.Mode
	}
	if override.Model != "" {
		cfg.Model = override.Model
	}
	if override.AuthEnvironment != "" {
		cfg.AuthEnvironment = override.AuthEnvironment
	}
}

// Get returns a deep copy of the current configuration.
func (s *Store) Get() *types.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// Update applies fn to a copy of the configuration, persists the result,
// and swaps it in atomically.
func (s *Store) Update(ctx context.Context, fn func(cfg *types.Config)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current.Clone()
	fn(next)

	if err := s.store.Put(ctx, configKey, next); err != nil {
		return err
	}
	s.current = next
	return nil
}

func (s *Store) persist(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store.Put(ctx, configKey, s.current)
}

// User returns the logged-in identity, nil when logged out.
func (s *Store) User() *types.UserInfo {
	return s.Get().User
}

// SetUser overwrites the stored identity wholesale. Called only on a
// successful authentication or on logout (with nil).
func (s *Store) SetUser(ctx context.Context, user *types.UserInfo) error {
	return s.Update(ctx, func(cfg *types.Config) {
		cfg.User = user
	})
}

// AddPermission records a tool grant. Duplicate (tool, pattern) pairs are
// collapsed.
func (s *Store) AddPermission(ctx context.Context, tool, pathPattern string) error {
	return s.Update(ctx, func(cfg *types.Config) {
		for _, p := range cfg.Permissions {
			if p.Tool == tool && p.PathPattern == pathPattern {
				return
			}
		}
		cfg.Permissions = append(cfg.Permissions, types.ToolPermission{
			Tool:        tool,
			PathPattern: pathPattern,
			GrantedAt:   time.Now().UnixMilli(),
		})
	})
}

// RemovePermission revokes a tool grant.
func (s *Store) RemovePermission(ctx context.Context, tool, pathPattern string) error {
	return s.Update(ctx, func(cfg *types.Config) {
		out := cfg.Permissions[:0]
		for _, p := range cfg.Permissions {
			if p.Tool != tool || p.PathPattern != pathPattern {
				out = append(out, p)
			}
		}
		cfg.Permissions = out
	})
}

// ClearPermissions revokes every tool grant.
func (s *Store) ClearPermissions(ctx context.Context) error {
	return s.Update(ctx, func(cfg *types.Config) {
		cfg.Permissions = nil
	})
}

// AddAuthorizedFolder approves a working directory.
func (s *Store) AddAuthorizedFolder(ctx context.Context, folder string) error {
	return s.Update(ctx, func(cfg *types.Config) {
		for _, f := range cfg.AuthorizedFolders {
			if f == folder {
				return
			}
		}
		cfg.AuthorizedFolders = append(cfg.AuthorizedFolders, folder)
	})
}

// AddBlacklistEntry appends a command substring to the blacklist.
func (s *Store) AddBlacklistEntry(ctx context.Context, entry string) error {
	return s.Update(ctx, func(cfg *types.Config) {
		for _, e := range cfg.Blacklist {
			if e == entry {
				return
			}
		}
		cfg.Blacklist = append(cfg.Blacklist, entry)
	})
}

// RemoveBlacklistEntry removes a command substring from the blacklist.
func (s *Store) RemoveBlacklistEntry(ctx context.Context, entry string) error {
	return s.Update(ctx, func(cfg *types.Config) {
		out := cfg.Blacklist[:0]
		for _, e := range cfg.Blacklist {
			if e != entry {
				out = append(out, e)
			}
		}
		cfg.Blacklist = out
	})
}

// ResetBlacklist restores the default blacklist.
func (s *Store) ResetBlacklist(ctx context.Context) error {
	return s.Update(ctx, func(cfg *types.Config) {
		cfg.Blacklist = append([]string(nil), DefaultBlacklist...)
	})
}
