package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/paseo-dev/paseod/internal/paseolog"
	"github.com/paseo-dev/paseod/internal/provider"
)

type recordingSink struct {
	mu          sync.Mutex
	updates     []Snapshot
	streams     []StreamEvent
	permReqs    []PermissionRequest
	permResolved []string
}

func (s *recordingSink) OnAgentUpdate(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, snap)
}

func (s *recordingSink) OnStream(agentID string, ev StreamEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams = append(s.streams, ev)
}

func (s *recordingSink) OnPermissionRequest(agentID string, req PermissionRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.permReqs = append(s.permReqs, req)
}

func (s *recordingSink) OnPermissionResolved(agentID, requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.permResolved = append(s.permResolved, requestID)
}

func (s *recordingSink) streamKinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	kinds := make([]string, len(s.streams))
	for i, ev := range s.streams {
		kinds[i] = ev.Kind
	}
	return kinds
}

func waitForStatus(t *testing.T, inst *Instance, want Status, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if inst.Snapshot().Status == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("status never reached %s, stuck at %s", want, inst.Snapshot().Status)
}

func newTestInstance(t *testing.T, client provider.AgentClient) (*Instance, *recordingSink, context.CancelFunc) {
	t.Helper()
	log, err := paseolog.New(paseolog.Config{Level: "error", Format: "console"})
	if err != nil {
		t.Fatalf("paseolog.New: %v", err)
	}
	sink := &recordingSink{}
	inst := NewInstance("agent-1", "fake", "/work", client, sink, log)
	ctx, cancel := context.WithCancel(context.Background())
	go inst.Run(ctx)
	return inst, sink, cancel
}

func TestHandshakeTransitionsToIdle(t *testing.T) {
	fc := provider.NewFakeClient(provider.Mode{ID: "auto", Name: "Auto"})
	inst, _, cancel := newTestInstance(t, fc)
	defer cancel()

	if err := inst.Handshake(context.Background(), nil, ""); err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	if inst.Snapshot().Status != StatusIdle {
		t.Fatalf("expected idle after handshake, got %s", inst.Snapshot().Status)
	}
}

func TestHandshakeFailureEntersError(t *testing.T) {
	fc := provider.NewFakeClient()
	fc.HandshakeErr = context.DeadlineExceeded
	inst, _, cancel := newTestInstance(t, fc)
	defer cancel()

	if err := inst.Handshake(context.Background(), nil, ""); err == nil {
		t.Fatal("expected handshake error")
	}
	if inst.Snapshot().Status != StatusError {
		t.Fatalf("expected error status, got %s", inst.Snapshot().Status)
	}
}

func TestSubmitRunsTurnToCompletion(t *testing.T) {
	fc := provider.NewFakeClient(provider.Mode{ID: "auto", Name: "Auto"})
	fc.Script = []provider.TurnEvent{
		{Type: provider.EventAssistantChunk, Text: "hi there"},
		{Type: provider.EventTurnEnd, Success: true},
	}
	inst, sink, cancel := newTestInstance(t, fc)
	defer cancel()

	if err := inst.Handshake(context.Background(), nil, "auto"); err != nil {
		t.Fatalf("Handshake: %v", err)
	}

	inst.Submit(provider.TurnInput{Text: "do the thing"}, false)
	waitForStatus(t, inst, StatusIdle, time.Second)

	if inst.Timeline().Len() == 0 {
		t.Fatal("expected timeline entries after a turn")
	}
	kinds := sink.streamKinds()
	foundCompleted := false
	for _, k := range kinds {
		if k == "turn_completed" {
			foundCompleted = true
		}
	}
	if !foundCompleted {
		t.Fatalf("expected a turn_completed stream event, got %v", kinds)
	}
}

func TestSubmitRequestIDCarriesThroughToTerminalEvents(t *testing.T) {
	fc := provider.NewFakeClient(provider.Mode{ID: "auto", Name: "Auto"})
	fc.Script = []provider.TurnEvent{{Type: provider.EventTurnEnd, Success: true}}
	inst, sink, cancel := newTestInstance(t, fc)
	defer cancel()
	_ = inst.Handshake(context.Background(), nil, "auto")

	inst.Submit(provider.TurnInput{Text: "do the thing", RequestID: "req-1"}, false)
	waitForStatus(t, inst, StatusIdle, time.Second)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	var sawStarted, sawCompleted bool
	for _, ev := range sink.streams {
		switch ev.Kind {
		case "turn_started":
			sawStarted = ev.RequestID == "req-1"
		case "turn_completed":
			sawCompleted = ev.RequestID == "req-1"
		}
	}
	if !sawStarted {
		t.Fatal("expected turn_started to carry the submitted requestId")
	}
	if !sawCompleted {
		t.Fatal("expected turn_completed to carry the submitted requestId")
	}
}

func TestQueuedInputStartsAfterCurrentTurn(t *testing.T) {
	fc := provider.NewFakeClient(provider.Mode{ID: "auto", Name: "Auto"})
	fc.Script = []provider.TurnEvent{{Type: provider.EventTurnEnd, Success: true}}
	inst, _, cancel := newTestInstance(t, fc)
	defer cancel()

	_ = inst.Handshake(context.Background(), nil, "auto")

	inst.Submit(provider.TurnInput{Text: "first"}, false)
	inst.Submit(provider.TurnInput{Text: "second"}, false)

	waitForStatus(t, inst, StatusIdle, time.Second)
	time.Sleep(20 * time.Millisecond) // let the second turn's completion settle

	inputs := fc.SubmittedInputs()
	if len(inputs) != 2 {
		t.Fatalf("expected both inputs to run as separate turns, got %d", len(inputs))
	}
	if inputs[0].Text != "first" || inputs[1].Text != "second" {
		t.Fatalf("unexpected order: %+v", inputs)
	}
}

func TestPermissionProbeWaitsForResponse(t *testing.T) {
	fc := provider.NewFakeClient(provider.Mode{ID: "auto", Name: "Auto"})
	fc.Script = []provider.TurnEvent{
		{Type: provider.EventPermissionProbe, PermissionID: "p1", PermissionKind: "write"},
		{Type: provider.EventTurnEnd, Success: true},
	}
	inst, sink, cancel := newTestInstance(t, fc)
	defer cancel()

	_ = inst.Handshake(context.Background(), nil, "auto")
	inst.Submit(provider.TurnInput{Text: "write a file"}, false)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		sink.mu.Lock()
		n := len(sink.permReqs)
		sink.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	sink.mu.Lock()
	n := len(sink.permReqs)
	sink.mu.Unlock()
	if n != 1 {
		t.Fatalf("expected one permission request, got %d", n)
	}

	inst.RespondPermission("p1", provider.PermissionDecision{Behavior: "allow", OptionID: "allow_once"})
	waitForStatus(t, inst, StatusIdle, time.Second)

	sink.mu.Lock()
	resolved := append([]string(nil), sink.permResolved...)
	sink.mu.Unlock()
	if len(resolved) != 1 || resolved[0] != "p1" {
		t.Fatalf("expected p1 resolved, got %v", resolved)
	}
}

func TestRespondPermissionUnknownIDIsNoop(t *testing.T) {
	fc := provider.NewFakeClient(provider.Mode{ID: "auto", Name: "Auto"})
	inst, sink, cancel := newTestInstance(t, fc)
	defer cancel()
	_ = inst.Handshake(context.Background(), nil, "auto")

	inst.RespondPermission("does-not-exist", provider.PermissionDecision{Behavior: "allow"})
	time.Sleep(10 * time.Millisecond)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.permResolved) != 0 {
		t.Fatalf("expected no resolution for an unknown permission id, got %v", sink.permResolved)
	}
}

func TestSetModeRejectsUnknownMode(t *testing.T) {
	fc := provider.NewFakeClient(provider.Mode{ID: "auto", Name: "Auto"})
	inst, _, cancel := newTestInstance(t, fc)
	defer cancel()
	_ = inst.Handshake(context.Background(), nil, "auto")

	if err := inst.SetMode("does-not-exist"); err == nil {
		t.Fatal("expected UnsupportedMode error")
	}
}

func TestShutdownStopsTheActor(t *testing.T) {
	fc := provider.NewFakeClient(provider.Mode{ID: "auto", Name: "Auto"})
	inst, _, cancel := newTestInstance(t, fc)
	defer cancel()
	_ = inst.Handshake(context.Background(), nil, "auto")

	inst.Shutdown()

	if !fc.ShutDown {
		t.Fatal("expected provider Shutdown to have been called")
	}
}
