package agent

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paseo-dev/paseod/internal/apperr"
	"github.com/paseo-dev/paseod/internal/paseolog"
	"github.com/paseo-dev/paseod/internal/provider"
	"go.uber.org/zap"
)

// cancelGrace is how long a cooperative cancel is given before the core
// gives up waiting on the provider and forcibly ends the turn.
const cancelGrace = 5 * time.Second

// StreamEvent is one agent_stream payload; Kind says which fields are set.
// Entry carries the timeline entry appended for the event, TurnID names the
// turn on turn events, Usage is set on turn_completed and Err on error.
type StreamEvent struct {
	Kind   string // timeline, turn_started, turn_completed, permission_resolved, error
	Entry  *Entry
	TurnID string
	// RequestID is the wire messageId the triggering send_agent_message
	// carried, set on turn_started/turn_completed/error so the originating
	// connection can correlate a terminal event with its request.
	RequestID string
	Usage     *Usage
	Err       string
}

// Sink receives everything an Instance produces, for the session hub to
// fan out to subscribed connections. Implementations must not block for
// long, since they are called from the instance's single actor goroutine.
type Sink interface {
	OnAgentUpdate(snapshot Snapshot)
	OnStream(agentID string, event StreamEvent)
	OnPermissionRequest(agentID string, req PermissionRequest)
	OnPermissionResolved(agentID string, requestID string)
}

// Instance is one agent's actor: a single goroutine reading a mailbox of
// commands and provider events serially, so every mutation of timeline,
// queue, status, and pending permissions is single-writer by construction.
type Instance struct {
	id       string
	provider string
	cwd      string
	client   provider.AgentClient
	sink     Sink
	logger   *paseolog.Logger

	timeline *Timeline
	queue    *InputQueue

	mailbox chan instanceMsg
	done    chan struct{}

	mu             sync.RWMutex
	status         Status
	title          string
	currentModeID  string
	availableModes []provider.Mode
	capabilities   []string
	lastActivityAt time.Time
	lastError      string
	lastUsage      *Usage
	hasPersistence bool
	resumeHandle   json.RawMessage

	currentTurnID    string
	currentRequestID string
	pendingPerms     map[string]PermissionRequest
	cancelRequested  bool
}

// NewInstance constructs an agent actor. Run must be called to start its
// goroutine before any command is sent.
func NewInstance(id, providerID, cwd string, client provider.AgentClient, sink Sink, log *paseolog.Logger) *Instance {
	return &Instance{
		id:             id,
		provider:       providerID,
		cwd:            cwd,
		client:         client,
		sink:           sink,
		logger:         log.WithAgentID(id),
		timeline:       NewTimeline(),
		queue:          NewInputQueue(),
		mailbox:        make(chan instanceMsg, 64),
		done:           make(chan struct{}),
		status:         StatusCreating,
		lastActivityAt: time.Now().UTC(),
		pendingPerms:   make(map[string]PermissionRequest),
	}
}

// instanceMsg is the mailbox's sum type.
type instanceMsg interface{ isInstanceMsg() }

type msgSubmit struct {
	input   provider.TurnInput
	replace bool
}
type msgCancel struct{}
type msgRespondPermission struct {
	id       string
	decision provider.PermissionDecision
}
type msgSetMode struct{ modeID string }
type msgShutdown struct{ ack chan struct{} }
type msgProviderEvent struct{ event provider.TurnEvent }
type msgProviderStreamClosed struct{}

func (msgSubmit) isInstanceMsg()              {}
func (msgCancel) isInstanceMsg()              {}
func (msgRespondPermission) isInstanceMsg()   {}
func (msgSetMode) isInstanceMsg()             {}
func (msgShutdown) isInstanceMsg()            {}
func (msgProviderEvent) isInstanceMsg()       {}
func (msgProviderStreamClosed) isInstanceMsg() {}

// Run is the actor loop; callers should start it in its own goroutine.
func (inst *Instance) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-inst.done:
			return
		case m := <-inst.mailbox:
			inst.handle(ctx, m)
		}
	}
}

// Handshake performs the initial provider handshake and transitions the
// agent from creating to idle (or error on failure). Manager.Create and
// Manager.Resume call it right after starting Run; Manager.Initialize calls
// it again to re-handshake an agent that is already tracked.
func (inst *Instance) Handshake(ctx context.Context, resumeHandle json.RawMessage, modeID string) error {
	result, err := inst.client.Handshake(ctx, inst.cwd, resumeHandle, modeID)
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if err != nil {
		inst.status = StatusError
		inst.lastError = err.Error()
		return err
	}
	inst.status = StatusIdle
	inst.capabilities = result.Capabilities
	inst.availableModes = result.Modes
	inst.currentModeID = modeID
	if inst.currentModeID == "" && len(result.Modes) > 0 {
		inst.currentModeID = result.Modes[0].ID
	}
	inst.hasPersistence = len(resumeHandle) > 0
	return nil
}

// Submit enqueues a send_agent_message. If replace is true and a turn is
// running, any already-queued input is discarded first (explicit
// replace-on-send-now); otherwise input is appended to the queue.
func (inst *Instance) Submit(input provider.TurnInput, replace bool) {
	inst.mailbox <- msgSubmit{input: input, replace: replace}
}

// Cancel asks the running turn to stop cooperatively.
func (inst *Instance) Cancel() {
	inst.mailbox <- msgCancel{}
}

// RespondPermission resolves a pending permission gate.
func (inst *Instance) RespondPermission(permissionID string, decision provider.PermissionDecision) {
	inst.mailbox <- msgRespondPermission{id: permissionID, decision: decision}
}

// SetMode changes the permission posture; fails with UnsupportedMode if
// modeID is not in the current availableModes.
func (inst *Instance) SetMode(modeID string) error {
	inst.mu.RLock()
	ok := false
	for _, m := range inst.availableModes {
		if m.ID == modeID {
			ok = true
			break
		}
	}
	inst.mu.RUnlock()
	if !ok {
		return apperr.UnsupportedMode(modeID)
	}
	inst.mailbox <- msgSetMode{modeID: modeID}
	return nil
}

// Shutdown terminates the provider session and stops the actor loop,
// blocking until the actor has processed the shutdown.
func (inst *Instance) Shutdown() {
	ack := make(chan struct{})
	inst.mailbox <- msgShutdown{ack: ack}
	<-ack
}

// Snapshot returns the agent's current externally visible state.
func (inst *Instance) Snapshot() Snapshot {
	inst.mu.RLock()
	defer inst.mu.RUnlock()
	return Snapshot{
		ID:             inst.id,
		Provider:       inst.provider,
		Cwd:            inst.cwd,
		Status:         inst.status,
		Title:          inst.title,
		CurrentModeID:  inst.currentModeID,
		AvailableModes: append([]provider.Mode(nil), inst.availableModes...),
		Capabilities:   append([]string(nil), inst.capabilities...),
		LastActivityAt: inst.lastActivityAt,
		LastError:      inst.lastError,
		LastUsage:      inst.lastUsage,
		HasPersistence: inst.hasPersistence,
	}
}

// Timeline exposes the agent's append-only log for read access (e.g. a
// stream snapshot on subscribe).
func (inst *Instance) Timeline() *Timeline { return inst.timeline }

// ExportPersistence asks the provider for a resumable handle, for the
// registry snapshot written after each completed turn.
func (inst *Instance) ExportPersistence(ctx context.Context) (json.RawMessage, error) {
	return inst.client.ExportPersistence(ctx)
}

func (inst *Instance) handle(ctx context.Context, m instanceMsg) {
	switch msg := m.(type) {
	case msgSubmit:
		inst.handleSubmit(ctx, msg)
	case msgCancel:
		inst.handleCancel(ctx)
	case msgRespondPermission:
		inst.handleRespondPermission(ctx, msg)
	case msgSetMode:
		inst.mu.Lock()
		inst.currentModeID = msg.modeID
		inst.mu.Unlock()
		inst.publishUpdate()
	case msgShutdown:
		inst.mu.Lock()
		status := inst.status
		inst.mu.Unlock()
		if inst.client != nil {
			if status == StatusRunning || status == StatusCancelling {
				_ = inst.client.Cancel(ctx)
			}
			_ = inst.client.Shutdown(ctx)
		}
		close(inst.done)
		close(msg.ack)
	case msgProviderEvent:
		inst.handleProviderEvent(ctx, msg.event)
	case msgProviderStreamClosed:
		inst.finishTurn(ctx, false, "")
	}
}

func (inst *Instance) handleSubmit(ctx context.Context, msg msgSubmit) {
	inst.mu.RLock()
	status := inst.status
	inst.mu.RUnlock()

	if status == StatusIdle {
		inst.startTurn(ctx, msg.input)
		return
	}

	if msg.replace {
		inst.queue.Replace(msg.input)
	} else {
		inst.queue.Push(msg.input)
	}
}

func (inst *Instance) startTurn(ctx context.Context, input provider.TurnInput) {
	turnID := uuid.New().String()

	inst.mu.Lock()
	inst.status = StatusRunning
	inst.currentTurnID = turnID
	inst.currentRequestID = input.RequestID
	inst.lastActivityAt = time.Now().UTC()
	inst.mu.Unlock()

	entry := inst.timeline.Append(Entry{Kind: EntryUserMessage, Text: input.Text})
	inst.sink.OnStream(inst.id, StreamEvent{Kind: "timeline", Entry: &entry})

	startedEntry := inst.timeline.Append(Entry{Kind: EntryTurnStarted, TurnID: turnID})
	inst.sink.OnStream(inst.id, StreamEvent{Kind: "turn_started", Entry: &startedEntry, TurnID: turnID, RequestID: input.RequestID})
	inst.publishUpdate()

	events, err := inst.client.SubmitTurn(ctx, input)
	if err != nil {
		inst.logger.WithError(err).Error("submit turn failed")
		inst.finishTurn(ctx, true, err.Error())
		return
	}

	go func() {
		for ev := range events {
			select {
			case inst.mailbox <- msgProviderEvent{event: ev}:
			case <-ctx.Done():
				return
			}
		}
		select {
		case inst.mailbox <- msgProviderStreamClosed{}:
		case <-ctx.Done():
		}
	}()
}

func (inst *Instance) handleProviderEvent(ctx context.Context, ev provider.TurnEvent) {
	inst.mu.Lock()
	inst.lastActivityAt = time.Now().UTC()
	inst.mu.Unlock()

	switch ev.Type {
	case provider.EventAssistantChunk, provider.EventAssistantMessage:
		entry := inst.timeline.Append(Entry{Kind: EntryAssistantMessage, Text: ev.Text})
		inst.sink.OnStream(inst.id, StreamEvent{Kind: "timeline", Entry: &entry})
	case provider.EventAssistantReasoning:
		entry := inst.timeline.Append(Entry{Kind: EntryAssistantReasoning, Text: ev.Text})
		inst.sink.OnStream(inst.id, StreamEvent{Kind: "timeline", Entry: &entry})
	case provider.EventToolCall:
		entry := inst.timeline.Append(Entry{
			Kind:   EntryToolCall,
			CallID: ev.ToolCallID,
			Name:   ev.ToolName,
			Status: ToolCallStatus(ev.ToolStatus),
			Input:  ev.ToolInput,
		})
		inst.sink.OnStream(inst.id, StreamEvent{Kind: "timeline", Entry: &entry})
	case provider.EventToolResult:
		status := ToolCallStatus(ev.ToolStatus)
		if status == "" {
			status = ToolCallComplete
		}
		if updated, ok := inst.timeline.UpdateToolCall(ev.ToolCallID, status, ev.ToolOutput); ok {
			inst.sink.OnStream(inst.id, StreamEvent{Kind: "timeline", Entry: &updated})
		}
	case provider.EventPermissionProbe:
		inst.handlePermissionProbe(ev)
	case provider.EventUsage:
		inst.mu.Lock()
		inst.lastUsage = &Usage{InputTokens: ev.InputTokens, OutputTokens: ev.OutputTokens}
		inst.mu.Unlock()
	case provider.EventTurnEnd:
		inst.finishTurn(ctx, !ev.Success, "")
	case provider.EventError:
		msg := ""
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		inst.finishTurn(ctx, true, msg)
	}
}

func (inst *Instance) handlePermissionProbe(ev provider.TurnEvent) {
	req := PermissionRequest{
		ID:        ev.PermissionID,
		Kind:      ev.PermissionKind,
		Input:     ev.PermissionInput,
		Title:     ev.PermissionTitle,
		Options:   ev.Options,
		CreatedAt: time.Now().UTC(),
	}

	inst.mu.Lock()
	inst.pendingPerms[req.ID] = req
	inst.mu.Unlock()

	entry := inst.timeline.Append(Entry{
		Kind:           EntryPermissionRequest,
		PermissionID:   req.ID,
		PermissionKind: req.Kind,
		Text:           req.Title,
	})
	inst.sink.OnStream(inst.id, StreamEvent{Kind: "timeline", Entry: &entry})
	inst.sink.OnPermissionRequest(inst.id, req)
}

func (inst *Instance) handleRespondPermission(ctx context.Context, msg msgRespondPermission) {
	inst.mu.Lock()
	_, pending := inst.pendingPerms[msg.id]
	if pending {
		delete(inst.pendingPerms, msg.id)
	}
	inst.mu.Unlock()

	if !pending {
		inst.logger.Warn("permission response for unknown or already-resolved request",
			zap.String("permission_id", msg.id))
		return
	}

	if err := inst.client.RespondPermission(ctx, msg.id, msg.decision); err != nil {
		inst.logger.WithError(err).Warn("provider rejected permission response")
	}

	entry := inst.timeline.Append(Entry{
		Kind:         EntryPermissionResolved,
		PermissionID: msg.id,
		Behavior:     msg.decision.Behavior,
		Message:      msg.decision.Message,
	})
	inst.sink.OnStream(inst.id, StreamEvent{Kind: "permission_resolved", Entry: &entry})
	inst.sink.OnPermissionResolved(inst.id, msg.id)
}

func (inst *Instance) handleCancel(ctx context.Context) {
	inst.mu.RLock()
	status := inst.status
	inst.mu.RUnlock()

	if status != StatusRunning {
		return
	}

	inst.mu.Lock()
	inst.status = StatusCancelling
	inst.cancelRequested = true
	inst.mu.Unlock()
	inst.publishUpdate()

	if err := inst.client.Cancel(ctx); err != nil {
		inst.logger.WithError(err).Warn("provider cancel failed")
	}

	turnID := inst.currentTurnID
	go func() {
		timer := time.NewTimer(cancelGrace)
		defer timer.Stop()
		select {
		case <-timer.C:
			select {
			case inst.mailbox <- msgProviderStreamClosed{}:
			case <-ctx.Done():
			}
		case <-inst.done:
		}
		_ = turnID
	}()
}

// finishTurn records turn_completed (or a trailing error entry), clears
// the cancelling flag, and either starts the next queued input or settles
// into idle.
func (inst *Instance) finishTurn(ctx context.Context, failed bool, errMsg string) {
	inst.mu.Lock()
	if inst.currentTurnID == "" {
		// Already finished (e.g. a cancel grace timeout racing the
		// provider's own stream-closed signal). Idempotent no-op.
		inst.mu.Unlock()
		return
	}
	turnID := inst.currentTurnID
	requestID := inst.currentRequestID
	wasCancelling := inst.cancelRequested
	inst.cancelRequested = false
	inst.currentTurnID = ""
	inst.currentRequestID = ""

	var usageCopy *Usage
	if inst.lastUsage != nil {
		u := *inst.lastUsage
		usageCopy = &u
	}

	if failed && errMsg != "" {
		inst.lastError = errMsg
	}
	inst.lastActivityAt = time.Now().UTC()
	inst.mu.Unlock()

	if errMsg != "" {
		errEntry := inst.timeline.Append(Entry{Kind: EntryError, Message: errMsg, TurnID: turnID})
		inst.sink.OnStream(inst.id, StreamEvent{Kind: "error", Entry: &errEntry, TurnID: turnID, RequestID: requestID, Err: errMsg})
	}

	completedEntry := inst.timeline.Append(Entry{Kind: EntryTurnCompleted, TurnID: turnID, Usage: usageCopy})
	inst.sink.OnStream(inst.id, StreamEvent{Kind: "turn_completed", Entry: &completedEntry, TurnID: turnID, RequestID: requestID, Usage: usageCopy})

	inst.resolveOutstandingPermissions(wasCancelling)

	inst.mu.Lock()
	inst.status = StatusIdle
	inst.mu.Unlock()
	inst.publishUpdate()

	if next, ok := inst.queue.Pop(); ok {
		inst.startTurn(ctx, next.Input)
	}
}

// resolveOutstandingPermissions auto-resolves any permission still pending
// when a turn ends, matching the spec's requirement that every
// permission_request is eventually followed by exactly one
// permission_resolved.
func (inst *Instance) resolveOutstandingPermissions(cancelled bool) {
	inst.mu.Lock()
	pending := inst.pendingPerms
	inst.pendingPerms = make(map[string]PermissionRequest)
	inst.mu.Unlock()

	behavior := "deny"
	if cancelled {
		behavior = "cancelled"
	}

	for id := range pending {
		entry := inst.timeline.Append(Entry{
			Kind:         EntryPermissionResolved,
			PermissionID: id,
			Behavior:     behavior,
		})
		inst.sink.OnStream(inst.id, StreamEvent{Kind: "permission_resolved", Entry: &entry})
		inst.sink.OnPermissionResolved(inst.id, id)
	}
}

func (inst *Instance) publishUpdate() {
	inst.sink.OnAgentUpdate(inst.Snapshot())
}
