package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/paseo-dev/paseod/internal/paseolog"
	"github.com/paseo-dev/paseod/pkg/acp/jsonrpc"
	"go.uber.org/zap"
)

// ACPAdapter implements AgentClient for any provider speaking the
// JSON-RPC-based Agent Client Protocol over its subprocess's stdin/stdout
// (the reference Claude/Gemini-style providers).
type ACPAdapter struct {
	client *jsonrpc.Client
	logger *paseolog.Logger

	mu          sync.Mutex
	sessionID   string
	events      chan TurnEvent
	permissions map[string]chan PermissionDecision
}

// NewACPAdapter wraps a subprocess's stdin/stdout pipes in a JSON-RPC
// client and starts its read loop. Handshake must still be called before
// submitting turns.
func NewACPAdapter(ctx context.Context, stdin io.Writer, stdout io.Reader, log *paseolog.Logger) *ACPAdapter {
	a := &ACPAdapter{
		logger:      log.WithFields(zap.String("component", "acp-adapter")),
		permissions: make(map[string]chan PermissionDecision),
	}
	a.client = jsonrpc.NewClient(stdin, stdout, log)
	a.client.SetNotificationHandler(a.handleNotification)
	a.client.SetRequestHandler(a.handleRequest)
	a.client.Start(ctx)
	return a
}

// Handshake performs the ACP initialize + session/new (or session/load)
// exchange.
func (a *ACPAdapter) Handshake(ctx context.Context, cwd string, resumeHandle json.RawMessage, modeID string) (*HandshakeResult, error) {
	initResp, err := a.client.Call(ctx, jsonrpc.MethodInitialize, jsonrpc.InitializeParams{
		ProtocolVersion: 1,
		ClientInfo:      jsonrpc.ClientInfo{Name: "paseod", Version: "0.1.0"},
		Capabilities:    jsonrpc.ClientCapabilities{Streaming: true},
	})
	if err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}
	if initResp.Error != nil {
		return nil, fmt.Errorf("initialize: %s (code %d)", initResp.Error.Message, initResp.Error.Code)
	}

	var initResult jsonrpc.InitializeResult
	if err := json.Unmarshal(initResp.Result, &initResult); err != nil {
		return nil, fmt.Errorf("parse initialize result: %w", err)
	}

	if len(resumeHandle) > 0 {
		var loadParams jsonrpc.SessionLoadParams
		if err := json.Unmarshal(resumeHandle, &loadParams); err != nil {
			return nil, fmt.Errorf("parse resume handle: %w", err)
		}
		resp, err := a.client.Call(ctx, jsonrpc.MethodSessionLoad, loadParams)
		if err != nil {
			return nil, fmt.Errorf("session/load: %w", err)
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("session/load: %s", resp.Error.Message)
		}
		var loadResult jsonrpc.SessionLoadResult
		if err := json.Unmarshal(resp.Result, &loadResult); err != nil {
			return nil, fmt.Errorf("parse session/load result: %w", err)
		}
		a.mu.Lock()
		a.sessionID = loadResult.SessionID
		a.mu.Unlock()
	} else {
		resp, err := a.client.Call(ctx, jsonrpc.MethodSessionNew, jsonrpc.SessionNewParams{Cwd: cwd, ModeID: modeID})
		if err != nil {
			return nil, fmt.Errorf("session/new: %w", err)
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("session/new: %s", resp.Error.Message)
		}
		var newResult jsonrpc.SessionNewResult
		if err := json.Unmarshal(resp.Result, &newResult); err != nil {
			return nil, fmt.Errorf("parse session/new result: %w", err)
		}
		a.mu.Lock()
		a.sessionID = newResult.SessionID
		a.mu.Unlock()
	}

	modes := make([]Mode, 0, len(initResult.Modes))
	for _, m := range initResult.Modes {
		modes = append(modes, Mode{ID: m.ID, Name: m.Name})
	}

	return &HandshakeResult{
		Capabilities: capabilityList(initResult.Capabilities),
		Modes:        modes,
	}, nil
}

func capabilityList(c jsonrpc.ServerCapabilities) []string {
	if c.ToolsProvider {
		return []string{"tools"}
	}
	return nil
}

// SubmitTurn sends session/prompt and returns a channel fed by subsequent
// session/update notifications until the turn ends.
func (a *ACPAdapter) SubmitTurn(ctx context.Context, input TurnInput) (<-chan TurnEvent, error) {
	a.mu.Lock()
	sessionID := a.sessionID
	events := make(chan TurnEvent, 16)
	a.events = events
	a.mu.Unlock()

	blocks := []jsonrpc.ContentBlock{{Type: "text", Text: input.Text}}

	resp, err := a.client.Call(ctx, jsonrpc.MethodSessionPrompt, jsonrpc.SessionPromptParams{
		SessionID: sessionID,
		Prompt:    blocks,
	})
	if err != nil {
		close(events)
		return nil, fmt.Errorf("session/prompt: %w", err)
	}
	if resp.Error != nil {
		close(events)
		return nil, fmt.Errorf("session/prompt: %s", resp.Error.Message)
	}

	return events, nil
}

// RespondPermission resolves the pending session/request_permission call
// identified by permissionID.
func (a *ACPAdapter) RespondPermission(ctx context.Context, permissionID string, decision PermissionDecision) error {
	a.mu.Lock()
	ch, ok := a.permissions[permissionID]
	delete(a.permissions, permissionID)
	a.mu.Unlock()

	if !ok {
		a.logger.Warn("respond to unknown or already-resolved permission", zap.String("permission_id", permissionID))
		return nil
	}

	select {
	case ch <- decision:
	default:
	}
	return nil
}

// Cancel sends session/cancel as a notification.
func (a *ACPAdapter) Cancel(ctx context.Context) error {
	return a.client.Notify(jsonrpc.MethodSessionCancel, jsonrpc.SessionCancelParams{Reason: "client requested cancel"})
}

// Shutdown stops the underlying JSON-RPC client; the caller is responsible
// for terminating the subprocess itself.
func (a *ACPAdapter) Shutdown(ctx context.Context) error {
	a.client.Stop()
	return nil
}

// ExportPersistence wraps the session id recorded at Handshake as a
// resumable handle understood by a future Handshake call; it makes no call
// to the provider.
func (a *ACPAdapter) ExportPersistence(ctx context.Context) (json.RawMessage, error) {
	a.mu.Lock()
	sessionID := a.sessionID
	a.mu.Unlock()

	return json.Marshal(jsonrpc.SessionLoadParams{SessionID: sessionID})
}

func (a *ACPAdapter) handleNotification(method string, params json.RawMessage) {
	if method != jsonrpc.NotificationSessionUpdate {
		a.logger.Warn("unknown notification method", zap.String("method", method))
		return
	}

	var update jsonrpc.SessionUpdate
	if err := json.Unmarshal(params, &update); err != nil {
		a.logger.Error("parse session/update", zap.Error(err))
		return
	}

	a.mu.Lock()
	events := a.events
	a.mu.Unlock()
	if events == nil {
		return
	}

	ev, terminal := translateUpdate(update)
	events <- ev
	if terminal {
		close(events)
		a.mu.Lock()
		if a.events == events {
			a.events = nil
		}
		a.mu.Unlock()
	}
}

func translateUpdate(update jsonrpc.SessionUpdate) (TurnEvent, bool) {
	switch update.Type {
	case "content":
		var c jsonrpc.SessionUpdateContent
		_ = json.Unmarshal(update.Data, &c)
		return TurnEvent{Type: EventAssistantChunk, Text: c.Text}, false
	case "reasoning":
		var r jsonrpc.SessionUpdateReasoning
		_ = json.Unmarshal(update.Data, &r)
		return TurnEvent{Type: EventAssistantReasoning, Text: r.Text}, false
	case "toolCall":
		var t jsonrpc.SessionUpdateToolCall
		_ = json.Unmarshal(update.Data, &t)
		eventType := EventToolCall
		if t.Status == "complete" || t.Status == "error" {
			eventType = EventToolResult
		}
		return TurnEvent{
			Type:       eventType,
			ToolCallID: t.CallID,
			ToolName:   t.ToolName,
			ToolInput:  t.Args,
			ToolOutput: t.Result,
			ToolStatus: t.Status,
		}, false
	case "usage":
		var u jsonrpc.SessionUpdateUsage
		_ = json.Unmarshal(update.Data, &u)
		return TurnEvent{Type: EventUsage, InputTokens: u.InputTokens, OutputTokens: u.OutputTokens}, false
	case "complete":
		var c jsonrpc.SessionUpdateComplete
		_ = json.Unmarshal(update.Data, &c)
		return TurnEvent{Type: EventTurnEnd, Success: c.Success}, true
	case "error":
		var e jsonrpc.SessionUpdateError
		_ = json.Unmarshal(update.Data, &e)
		return TurnEvent{Type: EventError, Err: fmt.Errorf("%s", e.Message)}, true
	default:
		return TurnEvent{Type: EventAssistantMessage}, false
	}
}

// handleRequest answers provider-initiated JSON-RPC requests, namely
// session/request_permission.
func (a *ACPAdapter) handleRequest(id interface{}, method string, params json.RawMessage) {
	if method != jsonrpc.MethodRequestPermission {
		a.client.SendResponse(id, nil, &jsonrpc.Error{Code: jsonrpc.MethodNotFound, Message: "method not found"})
		return
	}

	var reqParams jsonrpc.RequestPermissionParams
	if err := json.Unmarshal(params, &reqParams); err != nil {
		a.client.SendResponse(id, nil, &jsonrpc.Error{Code: jsonrpc.InvalidParams, Message: "bad params"})
		return
	}

	options := make([]PermissionOption, 0, len(reqParams.Options))
	for _, o := range reqParams.Options {
		options = append(options, PermissionOption{ID: o.OptionID, Name: o.Name, Kind: o.Kind})
	}

	permissionID := reqParams.ToolCall.ToolCallID
	decisionCh := make(chan PermissionDecision, 1)
	a.mu.Lock()
	a.permissions[permissionID] = decisionCh
	events := a.events
	a.mu.Unlock()

	if events != nil {
		events <- TurnEvent{
			Type:            EventPermissionProbe,
			PermissionID:    permissionID,
			PermissionKind:  reqParams.Kind,
			PermissionTitle: reqParams.ToolCall.Title,
			Options:         options,
		}
	}

	decision := <-decisionCh

	outcome := jsonrpc.PermissionOutcome{Outcome: "selected", OptionID: decision.OptionID}
	if decision.Behavior == "cancelled" {
		outcome = jsonrpc.PermissionOutcome{Outcome: "cancelled"}
	}

	a.client.SendResponse(id, jsonrpc.RequestPermissionResult{Outcome: outcome}, nil)
}
