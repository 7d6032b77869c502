package provider

import "testing"

func TestNewRegistrySeedsBuiltins(t *testing.T) {
	r := NewRegistry()

	for _, id := range []string{"claude", "codex", "opencode"} {
		if _, err := r.Get(id); err != nil {
			t.Fatalf("expected built-in provider %q, got error: %v", id, err)
		}
	}
}

func TestRegistryGetUnknownErrors(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Get("does-not-exist"); err == nil {
		t.Fatal("expected error for unknown provider id")
	}
}

func TestRegistrySetOverridesBuiltin(t *testing.T) {
	r := NewRegistry()
	r.Set(Config{ID: "claude", Name: "Claude (custom)", Command: "/opt/claude-acp"})

	cfg, err := r.Get("claude")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if cfg.Command != "/opt/claude-acp" {
		t.Fatalf("override did not take effect: %+v", cfg)
	}
}

func TestRegistryListCoversAllConfigs(t *testing.T) {
	r := NewRegistry()
	r.Set(Config{ID: "local-test", Name: "Local test provider"})

	list := r.List()
	if len(list) != len(DefaultConfigs())+1 {
		t.Fatalf("expected %d configs, got %d", len(DefaultConfigs())+1, len(list))
	}
}
