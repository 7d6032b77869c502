package provider

import (
	"context"
	"encoding/json"
	"sync"
)

// FakeClient is an in-memory AgentClient double used to drive Agent
// instance tests without a real provider subprocess. Tests script its
// behavior by pushing TurnEvents onto Script before calling SubmitTurn.
type FakeClient struct {
	mu sync.Mutex

	HandshakeResult *HandshakeResult
	HandshakeErr    error

	// Script is copied onto the returned event channel verbatim, in order,
	// each time SubmitTurn is called; the channel is closed once drained.
	Script []TurnEvent

	Cancelled   bool
	ShutDown    bool
	Permissions []struct {
		ID       string
		Decision PermissionDecision
	}
	ExportedPersistence json.RawMessage

	submittedInputs []TurnInput
}

// NewFakeClient returns a FakeClient that succeeds handshake with the
// given modes by default.
func NewFakeClient(modes ...Mode) *FakeClient {
	return &FakeClient{
		HandshakeResult: &HandshakeResult{
			Capabilities: []string{"tools"},
			Modes:        modes,
		},
	}
}

func (f *FakeClient) Handshake(ctx context.Context, cwd string, resumeHandle json.RawMessage, modeID string) (*HandshakeResult, error) {
	if f.HandshakeErr != nil {
		return nil, f.HandshakeErr
	}
	return f.HandshakeResult, nil
}

func (f *FakeClient) SubmitTurn(ctx context.Context, input TurnInput) (<-chan TurnEvent, error) {
	f.mu.Lock()
	f.submittedInputs = append(f.submittedInputs, input)
	script := f.Script
	f.mu.Unlock()

	ch := make(chan TurnEvent, len(script))
	for _, ev := range script {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (f *FakeClient) RespondPermission(ctx context.Context, permissionID string, decision PermissionDecision) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Permissions = append(f.Permissions, struct {
		ID       string
		Decision PermissionDecision
	}{permissionID, decision})
	return nil
}

func (f *FakeClient) Cancel(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Cancelled = true
	return nil
}

func (f *FakeClient) Shutdown(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ShutDown = true
	return nil
}

func (f *FakeClient) ExportPersistence(ctx context.Context) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ExportedPersistence != nil {
		return f.ExportedPersistence, nil
	}
	return json.RawMessage(`{}`), nil
}

// SubmittedInputs returns every TurnInput passed to SubmitTurn so far.
func (f *FakeClient) SubmittedInputs() []TurnInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]TurnInput(nil), f.submittedInputs...)
}

var _ AgentClient = (*FakeClient)(nil)
