package session

import (
	"context"
	"encoding/json"

	"github.com/paseo-dev/paseod/internal/agent"
	"github.com/paseo-dev/paseod/internal/apperr"
	"github.com/paseo-dev/paseod/internal/provider"
)

// Dispatcher routes a parsed inbound frame to the Agent Manager, the same
// switch-then-decode-then-call idiom as a flat action-dispatch handler but
// keyed on the inner message's "type" rather than a flat "action" string.
type Dispatcher struct {
	hub     *Hub
	manager *agent.Manager
}

// NewDispatcher builds a Dispatcher bound to hub/manager.
func NewDispatcher(hub *Hub, manager *agent.Manager) *Dispatcher {
	return &Dispatcher{hub: hub, manager: manager}
}

// Dispatch decodes one raw client frame and routes it. It never panics on
// malformed input: a decode failure yields a status{error: MalformedMessage}
// reply instead.
func (d *Dispatcher) Dispatch(ctx context.Context, conn *Connection, data []byte) {
	msgType, raw, err := ParseInbound(data)
	if err != nil {
		conn.send(NewStatusError("", "", apperr.CodeMalformedMessage, err.Error()))
		return
	}

	switch msgType {
	case TypeSubscribeAgents:
		d.handleSubscribe(conn, raw)
	case TypeUnsubscribeAgents:
		d.handleUnsubscribe(conn, raw)
	case TypeCreateAgent:
		d.handleCreateAgent(ctx, conn, raw)
	case TypeResumeAgent:
		d.handleResumeAgent(ctx, conn, raw)
	case TypeInitializeAgent:
		d.handleInitializeAgent(ctx, conn, raw)
	case TypeRefreshAgent:
		d.handleRefreshAgent(ctx, conn, raw)
	case TypeSendAgentMessage:
		d.handleSendAgentMessage(conn, raw)
	case TypeCancelAgent:
		d.handleCancelAgent(conn, raw)
	case TypeDeleteAgent:
		d.handleDeleteAgent(ctx, conn, raw)
	case TypeSetAgentMode:
		d.handleSetAgentMode(conn, raw)
	case TypeAgentPermissionResp:
		d.handlePermissionResponse(conn, raw)
	case TypeGitRepoInfo:
		d.handleServiceUnavailable(conn, raw, TypeGitRepoInfoResponse, "git worktree helper")
	case TypeGitDiff:
		d.handleServiceUnavailable(conn, raw, TypeGitDiffResponse, "git worktree helper")
	case TypeFileExplorer:
		d.handleServiceUnavailable(conn, raw, TypeFileExplorerResponse, "file explorer walker")
	case TypeFetchAgentTimeline:
		d.handleFetchTimeline(conn, raw)
	default:
		conn.send(NewStatusError("", "", apperr.CodeMalformedMessage, "unrecognized message type: "+msgType))
	}
}

func (d *Dispatcher) handleSubscribe(conn *Connection, raw json.RawMessage) {
	var req SubscribeAgentsRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		conn.send(NewStatusError("", "", apperr.CodeMalformedMessage, err.Error()))
		return
	}
	d.hub.Subscribe(conn, req.AgentID)
}

func (d *Dispatcher) handleUnsubscribe(conn *Connection, raw json.RawMessage) {
	var req UnsubscribeAgentsRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		conn.send(NewStatusError("", "", apperr.CodeMalformedMessage, err.Error()))
		return
	}
	d.hub.Unsubscribe(conn, "")
}

func (d *Dispatcher) handleCreateAgent(ctx context.Context, conn *Connection, raw json.RawMessage) {
	var req CreateAgentRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		conn.send(NewStatusError(req.RequestID, "", apperr.CodeMalformedMessage, err.Error()))
		return
	}

	inst, err := d.manager.Create(ctx, req.Config)
	if err != nil {
		conn.send(NewStatusError(req.RequestID, "", apperr.Code(err), err.Error()))
		return
	}
	conn.send(NewStatusOK(req.RequestID, inst.Snapshot().ID))
}

func (d *Dispatcher) handleResumeAgent(ctx context.Context, conn *Connection, raw json.RawMessage) {
	var req ResumeAgentRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		conn.send(NewStatusError(req.RequestID, "", apperr.CodeMalformedMessage, err.Error()))
		return
	}

	if err := d.manager.Initialize(ctx, req.AgentID); err != nil {
		conn.send(NewStatusError(req.RequestID, req.AgentID, apperr.Code(err), err.Error()))
		return
	}
	conn.send(NewStatusOK(req.RequestID, req.AgentID))
}

func (d *Dispatcher) handleInitializeAgent(ctx context.Context, conn *Connection, raw json.RawMessage) {
	var req InitializeAgentRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		conn.send(NewStatusError(req.RequestID, "", apperr.CodeMalformedMessage, err.Error()))
		return
	}
	if err := d.manager.Initialize(ctx, req.AgentID); err != nil {
		conn.send(NewStatusError(req.RequestID, req.AgentID, apperr.Code(err), err.Error()))
		return
	}
	conn.send(NewStatusOK(req.RequestID, req.AgentID))
}

func (d *Dispatcher) handleRefreshAgent(ctx context.Context, conn *Connection, raw json.RawMessage) {
	var req RefreshAgentRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		conn.send(NewStatusError(req.RequestID, "", apperr.CodeMalformedMessage, err.Error()))
		return
	}
	if err := d.manager.Initialize(ctx, req.AgentID); err != nil {
		conn.send(NewStatusError(req.RequestID, req.AgentID, apperr.Code(err), err.Error()))
		return
	}
	conn.send(NewStatusOK(req.RequestID, req.AgentID))
}

func (d *Dispatcher) handleSendAgentMessage(conn *Connection, raw json.RawMessage) {
	var req SendAgentMessage
	if err := json.Unmarshal(raw, &req); err != nil {
		conn.send(NewStatusError("", "", apperr.CodeMalformedMessage, err.Error()))
		return
	}
	inst, ok := d.manager.Get(req.AgentID)
	if !ok {
		conn.send(NewStatusError("", req.AgentID, apperr.CodeUnknownAgent, "agent not found"))
		return
	}

	var images [][]byte
	for _, img := range req.Images {
		images = append(images, []byte(img))
	}
	if req.MessageID != "" {
		conn.addPendingRequest(req.MessageID, req.AgentID)
	}
	inst.Submit(provider.TurnInput{Text: req.Text, Images: images, RequestID: req.MessageID}, req.Replace)
}

func (d *Dispatcher) handleCancelAgent(conn *Connection, raw json.RawMessage) {
	var req CancelAgentRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		conn.send(NewStatusError("", "", apperr.CodeMalformedMessage, err.Error()))
		return
	}
	inst, ok := d.manager.Get(req.AgentID)
	if !ok {
		conn.send(NewStatusError("", req.AgentID, apperr.CodeUnknownAgent, "agent not found"))
		return
	}
	inst.Cancel()
}

func (d *Dispatcher) handleDeleteAgent(ctx context.Context, conn *Connection, raw json.RawMessage) {
	var req DeleteAgentRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		conn.send(NewStatusError("", "", apperr.CodeMalformedMessage, err.Error()))
		return
	}
	if err := d.manager.Delete(ctx, req.AgentID); err != nil {
		conn.send(NewStatusError("", req.AgentID, apperr.Code(err), err.Error()))
		return
	}
	d.hub.broadcast <- outboundFrame{agentID: req.AgentID, payload: NewAgentDeleted(req.AgentID)}
}

func (d *Dispatcher) handleSetAgentMode(conn *Connection, raw json.RawMessage) {
	var req SetAgentMode
	if err := json.Unmarshal(raw, &req); err != nil {
		conn.send(NewStatusError("", "", apperr.CodeMalformedMessage, err.Error()))
		return
	}
	inst, ok := d.manager.Get(req.AgentID)
	if !ok {
		conn.send(NewStatusError("", req.AgentID, apperr.CodeUnknownAgent, "agent not found"))
		return
	}
	if err := inst.SetMode(req.ModeID); err != nil {
		conn.send(NewStatusError("", req.AgentID, apperr.Code(err), err.Error()))
	}
}

func (d *Dispatcher) handlePermissionResponse(conn *Connection, raw json.RawMessage) {
	var req AgentPermissionResponse
	if err := json.Unmarshal(raw, &req); err != nil {
		conn.send(NewStatusError("", "", apperr.CodeMalformedMessage, err.Error()))
		return
	}
	inst, ok := d.manager.Get(req.AgentID)
	if !ok {
		conn.send(NewStatusError("", req.AgentID, apperr.CodeUnknownAgent, "agent not found"))
		return
	}
	inst.RespondPermission(req.RequestID, provider.PermissionDecision{
		Behavior: req.Response.Behavior,
		Message:  req.Response.Message,
	})
}

func (d *Dispatcher) handleFetchTimeline(conn *Connection, raw json.RawMessage) {
	var req FetchAgentTimelineRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		conn.send(NewStatusError(req.RequestID, "", apperr.CodeMalformedMessage, err.Error()))
		return
	}
	inst, ok := d.manager.Get(req.AgentID)
	if !ok {
		conn.send(NewStatusError(req.RequestID, req.AgentID, apperr.CodeUnknownAgent, "agent not found"))
		return
	}

	entries := inst.Timeline().Entries(0)
	if req.Limit > 0 && req.Limit < len(entries) {
		entries = entries[len(entries)-req.Limit:]
	}
	events := make([]StreamEventPayload, 0, len(entries))
	for _, e := range entries {
		entry := e
		events = append(events, StreamEventPayload{Kind: "timeline", Entry: &entry})
	}
	conn.send(&AgentStreamSnapshot{Type: TypeFetchTimelineResponse, AgentID: req.AgentID, Events: events})
}

// handleServiceUnavailable answers any of the git/file-explorer stub
// requests with the matching response message (responseType) carrying a
// SERVICE_UNAVAILABLE error, per SPEC_FULL.md §6: these
// collaborators are external and out of scope, but the wire shape stays
// recognized so a full-protocol client library need not special-case
// this daemon.
func (d *Dispatcher) handleServiceUnavailable(conn *Connection, raw json.RawMessage, responseType, service string) {
	var tag struct {
		RequestID string `json:"requestId"`
	}
	_ = json.Unmarshal(raw, &tag)
	conn.send(newServiceUnavailable(responseType, tag.RequestID, service))
}
