package types

// IntegrationMode selects which backing execution path a session's worker
// uses for AI turns.
type IntegrationMode string

const (
	IntegrationAPI IntegrationMode = "api" // direct API call
	IntegrationCLI IntegrationMode = "cli" // external CLI tool spawn
	IntegrationSDK IntegrationMode = "sdk" // SDK client call
)

// ToolPermission grants a named tool access to a path pattern. A pattern of
// "*" grants the tool universally. Uniqueness is by (Tool, PathPattern).
type ToolPermission struct {
	Tool        string `json:"tool"`
	PathPattern string `json:"pathPattern"`
	GrantedAt   int64  `json:"grantedAt"` // unix millis
}

// UserInfo is the single global authenticated identity. It is overwritten
// only on a successful authentication, never partially.
type UserInfo struct {
	UserID       string `json:"userId"`
	UserName     string `json:"userName"`
	UserNickname string `json:"userNickname"`
	Token        string `json:"token"`
	EnterpriseID string `json:"enterpriseId,omitempty"`
	Enterprise   string `json:"enterprise,omitempty"`
}

// Config is the persisted application configuration record.
type Config struct {
	// APIKey is the credential used by api/sdk mode workers and injected
	// into cli mode child processes through a scoped environment.
	APIKey string `json:"apiKey,omitempty"`

	// Mode is the active integration mode for newly created workers.
	Mode IntegrationMode `json:"mode,omitempty"`

	// Model is the model identifier passed to every backend.
	Model string `json:"model,omitempty"`

	// AuthEnvironment names the remote endpoint variant used for the
	// login handoff.
	AuthEnvironment string `json:"authEnvironment,omitempty"`

	// AuthorizedFolders are working directories the user has approved.
	AuthorizedFolders []string `json:"authorizedFolders,omitempty"`

	// Permissions are the granted tool permissions.
	Permissions []ToolPermission `json:"permissions,omitempty"`

	// Blacklist holds command substrings that are always rejected.
	Blacklist []string `json:"blacklist,omitempty"`

	// User is the logged-in identity, nil when logged out.
	User *UserInfo `json:"user,omitempty"`

	// SetupComplete records that first-run setup has finished.
	SetupComplete bool `json:"setupComplete,omitempty"`
}

// Clone returns a deep copy of the config so callers can mutate freely.
func (c *Config) Clone() *Config {
	out := *c
	out.AuthorizedFolders = append([]string(nil), c.AuthorizedFolders...)
	out.Permissions = append([]ToolPermission(nil), c.Permissions...)
	out.Blacklist = append([]string(nil), c.Blacklist...)
	if c.User != nil {
		u := *c.User
		out.User = &u
	}
	return &out
}
