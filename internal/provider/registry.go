package provider

import "fmt"

// Config describes how to launch one provider and what it is expected to
// support before a real handshake confirms it.
type Config struct {
	ID             string
	Name           string
	Command        string
	Args           []string
	RequiredEnv    []string
	DefaultModes   []Mode
	DefaultModeID  string
}

// DefaultConfigs returns the daemon's built-in provider table: claude,
// codex, and opencode, each naming its launch command, required
// environment variables, and default available modes. Registry.Set can
// override or add entries; the daemon's config loading does not supply any.
func DefaultConfigs() []Config {
	return []Config{
		{
			ID:          "claude",
			Name:        "Claude Code",
			Command:     "claude-code-acp",
			RequiredEnv: []string{"ANTHROPIC_API_KEY"},
			DefaultModes: []Mode{
				{ID: "read-only", Name: "Read only"},
				{ID: "auto", Name: "Auto"},
				{ID: "full-access", Name: "Full access"},
			},
			DefaultModeID: "auto",
		},
		{
			ID:          "codex",
			Name:        "Codex",
			Command:     "codex-acp",
			RequiredEnv: []string{"OPENAI_API_KEY"},
			DefaultModes: []Mode{
				{ID: "read-only", Name: "Read only"},
				{ID: "auto", Name: "Auto"},
				{ID: "full-access", Name: "Full access"},
			},
			DefaultModeID: "auto",
		},
		{
			ID:          "opencode",
			Name:        "OpenCode",
			Command:     "opencode-acp",
			RequiredEnv: nil,
			DefaultModes: []Mode{
				{ID: "auto", Name: "Auto"},
				{ID: "full-access", Name: "Full access"},
			},
			DefaultModeID: "auto",
		},
	}
}

// Registry looks up provider configs by id, seeded from DefaultConfigs
// and mutable via Set.
type Registry struct {
	configs map[string]Config
}

// NewRegistry builds a Registry seeded with the built-in provider table.
func NewRegistry() *Registry {
	r := &Registry{configs: make(map[string]Config)}
	for _, c := range DefaultConfigs() {
		r.configs[c.ID] = c
	}
	return r
}

// Set adds or overrides a provider config.
func (r *Registry) Set(c Config) {
	r.configs[c.ID] = c
}

// Get returns the config for a provider id, or an error if unknown.
func (r *Registry) Get(id string) (Config, error) {
	c, ok := r.configs[id]
	if !ok {
		return Config{}, fmt.Errorf("unknown provider %q", id)
	}
	return c, nil
}

// List returns every configured provider.
func (r *Registry) List() []Config {
	out := make([]Config, 0, len(r.configs))
	for _, c := range r.configs {
		out = append(out, c)
	}
	return out
}
