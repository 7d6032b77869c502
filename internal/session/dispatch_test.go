package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/paseo-dev/paseod/internal/agent"
	"github.com/paseo-dev/paseod/internal/events/bus"
	"github.com/paseo-dev/paseod/internal/persistence"
	"github.com/paseo-dev/paseod/internal/provider"
)

// newTestDispatcherManager wires a Hub and Manager the way cmd/paseod does:
// a nil-manager Hub, then a Manager constructed with the Hub as its Sink,
// then SetManager, so OnStream events actually reach subscribed connections.
func newTestDispatcherManager(t *testing.T) (*Hub, *agent.Manager) {
	t.Helper()
	log := testLogger(t)
	store, err := persistence.NewRegistryStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewRegistryStore: %v", err)
	}

	hub := NewHub(nil, log)
	dial := func(ctx context.Context, providerID, cwd string) (provider.AgentClient, error) {
		fc := provider.NewFakeClient(provider.Mode{ID: "auto", Name: "Auto"})
		fc.Script = []provider.TurnEvent{{Type: provider.EventTurnEnd, Success: true}}
		return fc, nil
	}
	manager := agent.NewManager(provider.NewRegistry(), store, bus.NewMemoryEventBus(log), hub, dial, t.TempDir(), log)
	hub.SetManager(manager)
	return hub, manager
}

func TestSendAgentMessageCorrelatesStatusWithMessageID(t *testing.T) {
	hub, manager := newTestDispatcherManager(t)
	dispatcher := NewDispatcher(hub, manager)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	inst, err := manager.Create(ctx, agent.CreateConfig{Provider: "claude", Cwd: "/work"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	agentID := inst.Snapshot().ID

	conn, clientConn := dialConnection(t, hub, ctx)
	time.Sleep(20 * time.Millisecond)
	hub.Subscribe(conn, agentID)
	_ = readFrame(t, clientConn) // session_state
	_ = readFrame(t, clientConn) // agent_stream_snapshot

	raw, err := json.Marshal(SendAgentMessage{AgentID: agentID, Text: "hi", MessageID: "req-42"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	dispatcher.handleSendAgentMessage(conn, raw)

	var sawTurnCompletedWithRequestID, sawStatusOK bool
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !(sawTurnCompletedWithRequestID && sawStatusOK) {
		frame := readFrame(t, clientConn)
		switch frame["type"] {
		case TypeAgentStream:
			event, _ := frame["event"].(map[string]interface{})
			if event != nil && event["type"] == "turn_completed" && event["requestId"] == "req-42" {
				sawTurnCompletedWithRequestID = true
			}
		case TypeStatus:
			if frame["requestId"] == "req-42" && frame["status"] == "ok" {
				sawStatusOK = true
			}
		}
	}

	if !sawTurnCompletedWithRequestID {
		t.Fatal("expected a turn_completed agent_stream event stamped with the submitted requestId")
	}
	if !sawStatusOK {
		t.Fatal("expected a direct status{requestId} reply once the turn the message started resolved")
	}
}
