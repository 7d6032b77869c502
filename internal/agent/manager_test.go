package agent

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/paseo-dev/paseod/internal/events/bus"
	"github.com/paseo-dev/paseod/internal/paseolog"
	"github.com/paseo-dev/paseod/internal/persistence"
	"github.com/paseo-dev/paseod/internal/provider"
)

func newTestManager(t *testing.T) (*Manager, *recordingSink, *persistence.RegistryStore) {
	t.Helper()
	log, err := paseolog.New(paseolog.Config{Level: "error", Format: "console"})
	if err != nil {
		t.Fatalf("paseolog.New: %v", err)
	}
	store, err := persistence.NewRegistryStore(filepath.Join(t.TempDir(), "agents.json"))
	if err != nil {
		t.Fatalf("NewRegistryStore: %v", err)
	}
	eventBus := bus.NewMemoryEventBus(log)
	t.Cleanup(eventBus.Close)

	sink := &recordingSink{}
	dial := func(ctx context.Context, providerID, cwd string) (provider.AgentClient, error) {
		return provider.NewFakeClient(provider.Mode{ID: "auto", Name: "Auto"}), nil
	}
	m := NewManager(provider.NewRegistry(), store, eventBus, sink, dial, t.TempDir(), log)
	return m, sink, store
}

func TestManagerCreateValidatesProvider(t *testing.T) {
	m, _, _ := newTestManager(t)
	_, err := m.Create(context.Background(), CreateConfig{Provider: "does-not-exist", Cwd: "/work"})
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestManagerCreateRequiresCwd(t *testing.T) {
	m, _, _ := newTestManager(t)
	_, err := m.Create(context.Background(), CreateConfig{Provider: "claude", Cwd: ""})
	if err == nil {
		t.Fatal("expected error for empty cwd")
	}
}

func TestManagerCreateStartsAgentAndPersists(t *testing.T) {
	m, sink, store := newTestManager(t)
	inst, err := m.Create(context.Background(), CreateConfig{Provider: "claude", Cwd: "/work", Title: "fix bug"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if inst.Snapshot().Status != StatusIdle {
		t.Fatalf("expected idle after successful create, got %s", inst.Snapshot().Status)
	}

	got, ok := m.Get(inst.Snapshot().ID)
	if !ok || got != inst {
		t.Fatal("expected Get to return the created instance")
	}

	sink.mu.Lock()
	updates := len(sink.updates)
	sink.mu.Unlock()
	if updates == 0 {
		t.Fatal("expected sink to observe at least one agent update")
	}

	// Persistence only happens on turn_completed, so the registry is still
	// empty right after create.
	snap, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(snap.Agents) != 0 {
		t.Fatalf("expected no persisted records before any turn completes, got %d", len(snap.Agents))
	}
}

func TestManagerPersistsAfterTurnCompleted(t *testing.T) {
	m, _, store := newTestManager(t)

	var fc *provider.FakeClient
	m.dial = func(ctx context.Context, providerID, cwd string) (provider.AgentClient, error) {
		fc = provider.NewFakeClient(provider.Mode{ID: "auto", Name: "Auto"})
		fc.Script = []provider.TurnEvent{{Type: provider.EventTurnEnd, Success: true}}
		return fc, nil
	}

	inst, err := m.Create(context.Background(), CreateConfig{Provider: "claude", Cwd: "/work"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	inst.Submit(provider.TurnInput{Text: "hello"}, false)
	waitForStatus(t, inst, StatusIdle, time.Second)

	// Give the manager's Sink hook a moment to run since OnStream fires
	// from the instance's actor goroutine.
	snap, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(snap.Agents) == 0 {
		// Persistence is asynchronous relative to waitForStatus; poll briefly.
		for i := 0; i < 200 && len(snap.Agents) == 0; i++ {
			snap, err = store.Load()
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
		}
	}
	if len(snap.Agents) != 1 || snap.Agents[0].ID != inst.Snapshot().ID {
		t.Fatalf("expected the agent to be persisted after turn_completed, got %+v", snap.Agents)
	}
}

func TestManagerDeleteRemovesFromTrackingAndRegistry(t *testing.T) {
	m, _, store := newTestManager(t)
	inst, err := m.Create(context.Background(), CreateConfig{Provider: "claude", Cwd: "/work"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	_ = store.Upsert(persistence.AgentRecord{ID: inst.Snapshot().ID, Provider: "claude", Cwd: "/work"})

	if err := m.Delete(context.Background(), inst.Snapshot().ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, ok := m.Get(inst.Snapshot().ID); ok {
		t.Fatal("expected agent to be untracked after delete")
	}

	snap, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(snap.Agents) != 0 {
		t.Fatalf("expected registry record removed, got %+v", snap.Agents)
	}
}

func TestManagerDeleteUnknownAgentErrors(t *testing.T) {
	m, _, _ := newTestManager(t)
	if err := m.Delete(context.Background(), "does-not-exist"); err == nil {
		t.Fatal("expected error deleting an unknown agent")
	}
}

func TestManagerListReturnsAllTrackedAgents(t *testing.T) {
	m, _, _ := newTestManager(t)
	if _, err := m.Create(context.Background(), CreateConfig{Provider: "claude", Cwd: "/work/a"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := m.Create(context.Background(), CreateConfig{Provider: "claude", Cwd: "/work/b"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(m.List()) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(m.List()))
	}
}
