// Package session implements the wire protocol hub that maps WebSocket
// connections onto Agent Manager operations and fans out every agent
// event to subscribed connections.
package session

import (
	"encoding/json"

	"github.com/paseo-dev/paseod/internal/agent"
)

// Inbound message types, carried in the "message" field of the
// {"type":"session","message":<M>} envelope.
const (
	TypeSubscribeAgents       = "subscribe_agents_request"
	TypeUnsubscribeAgents     = "unsubscribe_agents_request"
	TypeCreateAgent           = "create_agent_request"
	TypeResumeAgent           = "resume_agent_request"
	TypeInitializeAgent       = "initialize_agent_request"
	TypeRefreshAgent          = "refresh_agent_request"
	TypeSendAgentMessage      = "send_agent_message"
	TypeCancelAgent           = "cancel_agent_request"
	TypeDeleteAgent           = "delete_agent_request"
	TypeSetAgentMode          = "set_agent_mode"
	TypeAgentPermissionResp   = "agent_permission_response"
	TypeGitRepoInfo           = "git_repo_info_request"
	TypeGitDiff               = "git_diff_request"
	TypeFileExplorer          = "file_explorer_request"
	TypeFetchAgentTimeline    = "fetch_agent_timeline_request"
)

// Outbound message types.
const (
	TypeSessionState           = "session_state"
	TypeAgentUpdate            = "agent_update"
	TypeAgentDeleted           = "agent_deleted"
	TypeAgentStream            = "agent_stream"
	TypeAgentStreamSnapshot    = "agent_stream_snapshot"
	TypeAgentPermissionRequest = "agent_permission_request"
	TypeAgentPermissionResolved = "agent_permission_resolved"
	TypeStatus                 = "status"
	TypeGitDiffResponse        = "git_diff_response"
	TypeGitRepoInfoResponse    = "git_repo_info_response"
	TypeFileExplorerResponse   = "file_explorer_response"
	TypeFetchTimelineResponse  = "fetch_agent_timeline_response"
)

// envelope is the outer inbound frame shape.
type envelope struct {
	Type    string          `json:"type"`
	Message json.RawMessage `json:"message"`
}

// typeTag peeks at an inner message's discriminator before deciding which
// concrete payload struct to unmarshal into, same peek-then-decode idiom
// as a flat action-dispatch protocol but with the tag nested one level
// deeper inside the envelope.
type typeTag struct {
	Type string `json:"type"`
}

// ParseInbound decodes a raw client frame into its type tag and the raw
// inner message, ready for type-specific unmarshaling by the dispatcher.
func ParseInbound(data []byte) (string, json.RawMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, err
	}
	var tag typeTag
	if err := json.Unmarshal(env.Message, &tag); err != nil {
		return "", nil, err
	}
	return tag.Type, env.Message, nil
}

// --- Inbound payloads ---

type SubscribeAgentsRequest struct {
	SubscriptionID string `json:"subscriptionId"`
	AgentID        string `json:"agentId,omitempty"`
}

type UnsubscribeAgentsRequest struct {
	SubscriptionID string `json:"subscriptionId"`
}

type CreateAgentRequest struct {
	Config    agent.CreateConfig `json:"config"`
	Git       *GitOptions        `json:"git,omitempty"`
	RequestID string             `json:"requestId,omitempty"`
}

type GitOptions struct {
	CreateWorktree bool   `json:"createWorktree,omitempty"`
	SetupScript    string `json:"setupScript,omitempty"`
}

// ResumeAgentRequest targets an agent already known to the registry (one
// seen in a prior session_state/agent_update, loaded idle at daemon boot)
// and forces its provider re-handshake using the registry's stored opaque
// handle; AgentID is the resolved identity for that handle.
type ResumeAgentRequest struct {
	AgentID   string              `json:"agentId"`
	Overrides *agent.CreateConfig `json:"overrides,omitempty"`
	RequestID string              `json:"requestId,omitempty"`
}

type InitializeAgentRequest struct {
	AgentID   string `json:"agentId"`
	RequestID string `json:"requestId,omitempty"`
}

type RefreshAgentRequest struct {
	AgentID   string `json:"agentId"`
	RequestID string `json:"requestId,omitempty"`
}

type SendAgentMessage struct {
	AgentID   string   `json:"agentId"`
	Text      string   `json:"text"`
	MessageID string   `json:"messageId"`
	Images    []string `json:"images,omitempty"`
	Replace   bool      `json:"replace,omitempty"`
}

type CancelAgentRequest struct {
	AgentID string `json:"agentId"`
}

type DeleteAgentRequest struct {
	AgentID string `json:"agentId"`
}

type SetAgentMode struct {
	AgentID string `json:"agentId"`
	ModeID  string `json:"modeId"`
}

type PermissionResponsePayload struct {
	Behavior string `json:"behavior"` // allow, deny, cancelled
	Message  string `json:"message,omitempty"`
}

type AgentPermissionResponse struct {
	AgentID   string                    `json:"agentId"`
	RequestID string                    `json:"requestId"`
	Response  PermissionResponsePayload `json:"response"`
}

type GitRepoInfoRequest struct {
	Cwd       string `json:"cwd"`
	RequestID string `json:"requestId"`
}

type GitDiffRequest struct {
	AgentID   string `json:"agentId"`
	RequestID string `json:"requestId,omitempty"`
}

type FileExplorerRequest struct {
	AgentID string `json:"agentId"`
	Path    string `json:"path"`
	Mode    string `json:"mode"` // list, file
}

type FetchAgentTimelineRequest struct {
	AgentID   string `json:"agentId"`
	Direction string `json:"direction"`
	Limit     int    `json:"limit"`
	Cursor    string `json:"cursor,omitempty"`
	RequestID string `json:"requestId"`
}

// --- Outbound payloads ---

type SessionState struct {
	Type     string           `json:"type"`
	Agents   []agent.Snapshot `json:"agents"`
	Commands []string         `json:"commands,omitempty"`
}

func NewSessionState(agents []agent.Snapshot) *SessionState {
	return &SessionState{Type: TypeSessionState, Agents: agents}
}

type AgentUpdate struct {
	Type  string         `json:"type"`
	Kind  string         `json:"kind"` // upsert, delete
	Agent agent.Snapshot `json:"agent"`
}

func NewAgentUpdate(kind string, snap agent.Snapshot) *AgentUpdate {
	return &AgentUpdate{Type: TypeAgentUpdate, Kind: kind, Agent: snap}
}

type AgentDeleted struct {
	Type    string `json:"type"`
	AgentID string `json:"agentId"`
}

func NewAgentDeleted(agentID string) *AgentDeleted {
	return &AgentDeleted{Type: TypeAgentDeleted, AgentID: agentID}
}

// StreamEventPayload is the wire shape of one agent_stream event, adapting
// agent.StreamEvent's Go-internal shape to the spec's timeline entry
// serialization.
type StreamEventPayload struct {
	Kind      string       `json:"type"`
	Entry     *agent.Entry `json:"entry,omitempty"`
	TurnID    string       `json:"turnId,omitempty"`
	RequestID string       `json:"requestId,omitempty"`
	Usage     *agent.Usage `json:"usage,omitempty"`
	Error     string       `json:"error,omitempty"`
}

type AgentStream struct {
	Type      string             `json:"type"`
	AgentID   string             `json:"agentId"`
	Event     StreamEventPayload `json:"event"`
	Timestamp string             `json:"timestamp"`
}

type AgentStreamSnapshot struct {
	Type    string               `json:"type"`
	AgentID string               `json:"agentId"`
	Events  []StreamEventPayload `json:"events"`
}

type AgentPermissionRequestMsg struct {
	Type    string                 `json:"type"`
	AgentID string                 `json:"agentId"`
	Request agent.PermissionRequest `json:"request"`
}

func NewAgentPermissionRequest(agentID string, req agent.PermissionRequest) *AgentPermissionRequestMsg {
	return &AgentPermissionRequestMsg{Type: TypeAgentPermissionRequest, AgentID: agentID, Request: req}
}

type AgentPermissionResolvedMsg struct {
	Type      string `json:"type"`
	AgentID   string `json:"agentId"`
	RequestID string `json:"requestId"`
}

func NewAgentPermissionResolved(agentID, requestID string) *AgentPermissionResolvedMsg {
	return &AgentPermissionResolvedMsg{Type: TypeAgentPermissionResolved, AgentID: agentID, RequestID: requestID}
}

// StatusMsg is the terminal correlator for request/reply exchanges.
type StatusMsg struct {
	Type      string `json:"type"`
	Status    string `json:"status"` // ok, error
	RequestID string `json:"requestId,omitempty"`
	AgentID   string `json:"agentId,omitempty"`
	Error     *WireError `json:"error,omitempty"`
}

type WireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewStatusOK(requestID, agentID string) *StatusMsg {
	return &StatusMsg{Type: TypeStatus, Status: "ok", RequestID: requestID, AgentID: agentID}
}

func NewStatusError(requestID, agentID, code, message string) *StatusMsg {
	return &StatusMsg{Type: TypeStatus, Status: "error", RequestID: requestID, AgentID: agentID, Error: &WireError{Code: code, Message: message}}
}

type ServiceUnavailableResponse struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`
	Error     WireError `json:"error"`
}

func newServiceUnavailable(responseType, requestID, service string) *ServiceUnavailableResponse {
	return &ServiceUnavailableResponse{
		Type:      responseType,
		RequestID: requestID,
		Error:     WireError{Code: "SERVICE_UNAVAILABLE", Message: service + " is unavailable"},
	}
}

// translateStreamEvent adapts the agent package's internal StreamEvent into
// the wire payload shape.
func translateStreamEvent(ev agent.StreamEvent) StreamEventPayload {
	return StreamEventPayload{
		Kind:      ev.Kind,
		Entry:     ev.Entry,
		TurnID:    ev.TurnID,
		RequestID: ev.RequestID,
		Usage:     ev.Usage,
		Error:     ev.Err,
	}
}
