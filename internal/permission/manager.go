// Package permission provides the permission gate in front of filesystem-
// and process-affecting tool calls.
package permission

import (
	"strings"
	"sync"

	"github.com/jasonwang82/opencowork-sub001/pkg/types"
)

// ConfigSource is the slice of the configuration store the manager reads.
type ConfigSource interface {
	Get() *types.Config
}

// Manager caches authorized folders and tool grants in memory. The cache is
// explicitly re-synced from the configuration store: call SyncFromConfig
// after every mutation of the underlying lists, or readers will act on stale
// state.
type Manager struct {
	source ConfigSource

	mu      sync.RWMutex
	folders []string
	grants  []types.ToolPermission
}

// NewManager creates a manager and performs the initial sync.
func NewManager(source ConfigSource) *Manager {
	m := &Manager{source: source}
	m.SyncFromConfig()
	return m
}

// SyncFromConfig reloads the folder and grant lists. The lists are replaced
// wholesale under the write lock so no reader observes a partial update.
func (m *Manager) SyncFromConfig() {
	cfg := m.source.Get()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.folders = cfg.AuthorizedFolders
	m.grants = cfg.Permissions
}

// Has reports whether a grant covers the tool and path. A grant with
// pattern "*" covers every path for its tool; otherwise the pattern must be
// a string prefix of path. When path is empty only a "*" grant matches.
//
// Prefix matching can over-grant on sibling paths sharing a prefix
// ("/home/user" matches "/home/username"); this mirrors the historical
// behavior and is kept deliberately.
func (m *Manager) Has(tool, path string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, g := range m.grants {
		if g.Tool != tool {
			continue
		}
		if g.PathPattern == "*" {
			return true
		}
		if path != "" && strings.HasPrefix(path, g.PathPattern) {
			return true
		}
	}
	return false
}

// FolderAuthorized reports whether dir falls under an authorized folder.
func (m *Manager) FolderAuthorized(dir string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, f := range m.folders {
		if strings.HasPrefix(dir, f) {
			return true
		}
	}
	return false
}

// Grants returns a snapshot of the cached tool grants.
func (m *Manager) Grants() []types.ToolPermission {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]types.ToolPermission(nil), m.grants...)
}
