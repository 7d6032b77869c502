package persistence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileYieldsEmptySnapshot(t *testing.T) {
	dir := t.TempDir()
	store, err := NewRegistryStore(filepath.Join(dir, "agents.json"))
	if err != nil {
		t.Fatalf("NewRegistryStore: %v", err)
	}

	snap, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(snap.Agents) != 0 {
		t.Fatalf("expected empty snapshot, got %d agents", len(snap.Agents))
	}
}

func TestUpsertThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agents.json")
	store, err := NewRegistryStore(path)
	if err != nil {
		t.Fatalf("NewRegistryStore: %v", err)
	}

	record := AgentRecord{
		ID:             "agent-1",
		Provider:       "claude",
		Cwd:            "/work/repo",
		Title:          "fix flaky test",
		ModeID:         "auto",
		LastActivityAt: time.Now().UTC().Truncate(time.Second),
		Persistence:    json.RawMessage(`{"sessionId":"s1"}`),
	}

	if err := store.Upsert(record); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	snap, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(snap.Agents) != 1 {
		t.Fatalf("expected 1 agent, got %d", len(snap.Agents))
	}
	if snap.Agents[0].ID != record.ID || snap.Agents[0].Title != record.Title {
		t.Fatalf("round-tripped record mismatch: %+v", snap.Agents[0])
	}

	// A second upsert with the same id replaces, not appends.
	record.Title = "fix flaky test (continued)"
	if err := store.Upsert(record); err != nil {
		t.Fatalf("Upsert (replace): %v", err)
	}
	snap, err = store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(snap.Agents) != 1 {
		t.Fatalf("expected upsert to replace, got %d agents", len(snap.Agents))
	}
	if snap.Agents[0].Title != record.Title {
		t.Fatalf("replace did not update title: got %q", snap.Agents[0].Title)
	}
}

func TestDeleteRemovesRecord(t *testing.T) {
	dir := t.TempDir()
	store, err := NewRegistryStore(filepath.Join(dir, "agents.json"))
	if err != nil {
		t.Fatalf("NewRegistryStore: %v", err)
	}

	_ = store.Upsert(AgentRecord{ID: "a1", Provider: "claude", Cwd: "/w"})
	_ = store.Upsert(AgentRecord{ID: "a2", Provider: "codex", Cwd: "/w"})

	if err := store.Delete("a1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	snap, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(snap.Agents) != 1 || snap.Agents[0].ID != "a2" {
		t.Fatalf("expected only a2 to remain, got %+v", snap.Agents)
	}
}

func TestSaveLeavesNoTempFilesBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agents.json")
	store, err := NewRegistryStore(path)
	if err != nil {
		t.Fatalf("NewRegistryStore: %v", err)
	}

	if err := store.Save(&Snapshot{Agents: []AgentRecord{{ID: "a1", Provider: "claude", Cwd: "/w"}}}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if e.Name() != "agents.json" {
			t.Fatalf("unexpected leftover file: %s", e.Name())
		}
	}
}

func TestProviderDirIsCreated(t *testing.T) {
	dir := t.TempDir()
	providerDir, err := ProviderDir(dir, "agent-1")
	if err != nil {
		t.Fatalf("ProviderDir: %v", err)
	}
	info, err := os.Stat(providerDir)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if !info.IsDir() {
		t.Fatalf("expected a directory at %s", providerDir)
	}
}
