package permission

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jasonwang82/opencowork-sub001/pkg/types"
)

type fakeSource struct {
	cfg *types.Config
}

func (f *fakeSource) Get() *types.Config {
	return f.cfg
}

func TestManager_HasPrefixGrant(t *testing.T) {
	source := &fakeSource{cfg: &types.Config{
		Permissions: []types.ToolPermission{
			{Tool: "write_file", PathPattern: "/a/b"},
		},
	}}
	m := NewManager(source)

	assert.True(t, m.Has("write_file", "/a/b"))
	assert.True(t, m.Has("write_file", "/a/b/c"))
	assert.False(t, m.Has("write_file", "/x/y"))
	assert.False(t, m.Has("read_file", "/a/b/c"))
}

func TestManager_HasWildcardGrant(t *testing.T) {
	source := &fakeSource{cfg: &types.Config{
		Permissions: []types.ToolPermission{
			{Tool: "run_command", PathPattern: "*"},
		},
	}}
	m := NewManager(source)

	assert.True(t, m.Has("run_command", "/anywhere/at/all"))
	assert.True(t, m.Has("run_command", ""))
	assert.False(t, m.Has("write_file", "/anywhere"))
}

func TestManager_EmptyPathNeedsWildcard(t *testing.T) {
	source := &fakeSource{cfg: &types.Config{
		Permissions: []types.ToolPermission{
			{Tool: "write_file", PathPattern: "/a"},
		},
	}}
	m := NewManager(source)

	// A prefix grant cannot cover a call that names no path.
	assert.False(t, m.Has("write_file", ""))
}

func TestManager_NoGrants(t *testing.T) {
	m := NewManager(&fakeSource{cfg: &types.Config{}})

	assert.False(t, m.Has("write_file", "/a/b"))
}

func TestManager_SyncFromConfig(t *testing.T) {
	source := &fakeSource{cfg: &types.Config{}}
	m := NewManager(source)

	assert.False(t, m.Has("write_file", "/a/b"))

	// Mutate the source, then resync. The cache only updates on sync.
	source.cfg = &types.Config{
		Permissions: []types.ToolPermission{
			{Tool: "write_file", PathPattern: "/a"},
		},
	}
	assert.False(t, m.Has("write_file", "/a/b"))

	m.SyncFromConfig()
	assert.True(t, m.Has("write_file", "/a/b"))
}

func TestManager_FolderAuthorized(t *testing.T) {
	source := &fakeSource{cfg: &types.Config{
		AuthorizedFolders: []string{"/home/user/projects"},
	}}
	m := NewManager(source)

	assert.True(t, m.FolderAuthorized("/home/user/projects/app"))
	assert.False(t, m.FolderAuthorized("/tmp"))
}

func TestManager_GrantsSnapshot(t *testing.T) {
	source := &fakeSource{cfg: &types.Config{
		Permissions: []types.ToolPermission{
			{Tool: "write_file", PathPattern: "/a"},
		},
	}}
	m := NewManager(source)

	grants := m.Grants()
	assert.Len(t, grants, 1)

	// Mutating the snapshot must not affect the cache.
	grants[0].Tool = "mutated"
	assert.True(t, m.Has("write_file", "/a/b"))
}
