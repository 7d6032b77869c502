// Package provider defines the capability set every backing LLM provider
// (Claude, Codex, OpenCode, ...) must implement, and the tagged event
// vocabulary an Agent instance translates into timeline entries. The core
// never imports a provider-specific package directly; it only ever holds
// an AgentClient.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
)

// Mode names one permission posture a provider offers (read-only, auto,
// full-access, ...).
type Mode struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// HandshakeResult is returned by a successful AgentClient.Handshake.
type HandshakeResult struct {
	Capabilities []string
	Modes        []Mode
	Persistence  json.RawMessage
}

// TurnInput is what the Agent instance hands the provider to start a turn.
// RequestID carries the wire messageId the turn was submitted with, if any,
// so the response can be correlated back to the request that produced it.
type TurnInput struct {
	Text      string
	Images    [][]byte
	RequestID string
}

// Event type tags produced on a submitTurn event stream.
const (
	EventAssistantChunk     = "assistantChunk"
	EventAssistantMessage   = "assistantMessage"
	EventAssistantReasoning = "assistantReasoning"
	EventToolCall           = "toolCall"
	EventToolResult         = "toolResult"
	EventPermissionProbe    = "permissionProbe"
	EventUsage              = "usage"
	EventTurnEnd            = "turnEnd"
	EventError              = "error"
)

// TurnEvent is one item on the async stream submitTurn returns. Exactly one
// field group is populated, selected by Type.
type TurnEvent struct {
	Type string

	// EventAssistantChunk / EventAssistantMessage / EventAssistantReasoning
	Text string

	// EventToolCall / EventToolResult
	ToolCallID string
	ToolName   string
	ToolInput  json.RawMessage
	ToolOutput json.RawMessage
	ToolStatus string

	// EventPermissionProbe
	PermissionID    string
	PermissionKind  string
	PermissionTitle string
	PermissionInput json.RawMessage
	Options         []PermissionOption

	// EventUsage
	InputTokens  int
	OutputTokens int

	// EventTurnEnd
	Success bool

	// EventError
	Err error
}

// PermissionOption is one choice offered for a pending permission probe.
type PermissionOption struct {
	ID   string
	Name string
	Kind string // allow_once, allow_always, reject_once, reject_always
}

// PermissionDecision answers a pending permission probe.
type PermissionDecision struct {
	Behavior string // allow, deny, cancelled
	OptionID string
	Message  string
}

// AgentClient is the capability set the Agent instance consumes regardless
// of which provider backs it.
type AgentClient interface {
	// Handshake starts (or resumes, if resumeHandle is non-nil) a provider
	// session bound to cwd, in the given mode.
	Handshake(ctx context.Context, cwd string, resumeHandle json.RawMessage, modeID string) (*HandshakeResult, error)

	// SubmitTurn forwards input to the provider and returns a channel of
	// events for the turn. The channel is closed after an EventTurnEnd or
	// EventError event, or when ctx is cancelled.
	SubmitTurn(ctx context.Context, input TurnInput) (<-chan TurnEvent, error)

	// RespondPermission resolves a pending permission probe.
	RespondPermission(ctx context.Context, permissionID string, decision PermissionDecision) error

	// Cancel asks the provider to abort the in-flight turn.
	Cancel(ctx context.Context) error

	// Shutdown terminates the provider session and releases resources.
	Shutdown(ctx context.Context) error

	// ExportPersistence returns an opaque blob sufficient to resume this
	// session via a later Handshake's resumeHandle.
	ExportPersistence(ctx context.Context) (json.RawMessage, error)
}

// ErrNotHandshaken reports an operation attempted before Handshake completed
// successfully. None of the clients in this package returns it.
var ErrNotHandshaken = fmt.Errorf("provider: handshake has not completed")
