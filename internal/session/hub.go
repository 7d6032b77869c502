package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/paseo-dev/paseod/internal/agent"
	"github.com/paseo-dev/paseod/internal/apperr"
	"github.com/paseo-dev/paseod/internal/paseolog"
	"go.uber.org/zap"
)

// agentWildcard is the subscription key used for a connection that wants
// every agent's events rather than one narrowed to a single agentId.
const agentWildcard = "*"

// Hub maps the wire protocol onto Agent Manager operations and fans out
// every agent.Sink event to subscribed connections. Generalizes the
// teacher's gateway/websocket Hub/Client pair (register/unregister/
// broadcast channels, one Run loop) from task-id subscriptions to
// agent-id subscriptions, and adds the snapshot-on-subscribe contract
// SPEC_FULL.md §4.3 requires.
type Hub struct {
	manager *agent.Manager

	clients          map[string]*Connection
	agentSubscribers map[string]map[string]*Connection // agentId (or "*") -> connId -> conn

	register   chan *Connection
	unregister chan *Connection
	broadcast  chan outboundFrame

	mu     sync.RWMutex
	logger *paseolog.Logger
}

type outboundFrame struct {
	agentID string // "" means not agent-scoped, deliver to every connection
	payload interface{}
}

// NewHub builds a Hub bound to manager; manager's Sink must be set to this
// Hub (or a wrapper forwarding into it) for events to reach connections.
func NewHub(manager *agent.Manager, log *paseolog.Logger) *Hub {
	return &Hub{
		manager:          manager,
		clients:          make(map[string]*Connection),
		agentSubscribers: make(map[string]map[string]*Connection),
		register:         make(chan *Connection),
		unregister:       make(chan *Connection),
		broadcast:        make(chan outboundFrame, 256),
		logger:           log.WithFields(zap.String("component", "session-hub")),
	}
}

// Run is the hub's single mutation goroutine.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("session hub started")
	defer h.logger.Info("session hub stopped")

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn.id] = conn
			h.mu.Unlock()
		case conn := <-h.unregister:
			h.removeConnection(conn)
		case frame := <-h.broadcast:
			h.deliver(frame)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, conn := range h.clients {
		conn.closeSend()
	}
	h.clients = make(map[string]*Connection)
	h.agentSubscribers = make(map[string]map[string]*Connection)
}

func (h *Hub) removeConnection(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[conn.id]; !ok {
		return
	}
	delete(h.clients, conn.id)
	conn.closeSend()
	for agentID := range conn.subscriptions {
		if subs, ok := h.agentSubscribers[agentID]; ok {
			delete(subs, conn.id)
			if len(subs) == 0 {
				delete(h.agentSubscribers, agentID)
			}
		}
	}
}

func (h *Hub) deliver(frame outboundFrame) {
	data, err := json.Marshal(frame.payload)
	if err != nil {
		h.logger.Error("failed to marshal outbound frame", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if frame.agentID == "" {
		for _, conn := range h.clients {
			conn.enqueue(data)
		}
		return
	}

	delivered := make(map[string]bool)
	for _, conn := range h.agentSubscribers[frame.agentID] {
		conn.enqueue(data)
		delivered[conn.id] = true
	}
	for _, conn := range h.agentSubscribers[agentWildcard] {
		if !delivered[conn.id] {
			conn.enqueue(data)
		}
	}
}

// SetManager binds the hub to manager. Manager and Hub have a circular
// construction dependency (the Manager needs the Hub as its Sink; the Hub
// needs the Manager to answer Subscribe's session_state/snapshot replay), so
// callers build the Hub with a nil manager, construct the Manager with the
// Hub as its Sink, then call SetManager before starting Hub.Run.
func (h *Hub) SetManager(manager *agent.Manager) {
	h.manager = manager
}

// Register adds a connection to the hub.
func (h *Hub) Register(conn *Connection) { h.register <- conn }

// Unregister removes a connection from the hub.
func (h *Hub) Unregister(conn *Connection) { h.unregister <- conn }

// Subscribe narrows conn's subscription to agentID, or to every agent if
// agentID is empty, sending session_state then a per-agent
// agent_stream_snapshot so the client's timeline cursor catches up, per
// SPEC_FULL.md §4.3's ordering guarantee. Registration and the replay sends
// happen under one held write lock so deliver (which only takes the RLock
// once it has a frame to hand out) cannot interleave an agent_stream between
// them — otherwise a concurrently delivered event for this agent could
// reach the connection ahead of the session_state/snapshot it must follow.
func (h *Hub) Subscribe(conn *Connection, agentID string) {
	key := agentID
	if key == "" {
		key = agentWildcard
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.agentSubscribers[key]; !ok {
		h.agentSubscribers[key] = make(map[string]*Connection)
	}
	h.agentSubscribers[key][conn.id] = conn
	conn.subscriptions[key] = true

	agents := h.manager.List()
	conn.send(NewSessionState(agents))

	for _, snap := range agents {
		if agentID != "" && snap.ID != agentID {
			continue
		}
		inst, ok := h.manager.Get(snap.ID)
		if !ok {
			continue
		}
		entries := inst.Timeline().Entries(0)
		events := make([]StreamEventPayload, 0, len(entries))
		for _, e := range entries {
			entry := e
			events = append(events, StreamEventPayload{Kind: "timeline", Entry: &entry})
		}
		conn.send(&AgentStreamSnapshot{Type: TypeAgentStreamSnapshot, AgentID: snap.ID, Events: events})
	}
}

// Unsubscribe removes conn's subscription to agentID ("" for wildcard).
func (h *Hub) Unsubscribe(conn *Connection, agentID string) {
	key := agentID
	if key == "" {
		key = agentWildcard
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(conn.subscriptions, key)
	if subs, ok := h.agentSubscribers[key]; ok {
		delete(subs, conn.id)
		if len(subs) == 0 {
			delete(h.agentSubscribers, key)
		}
	}
}

// --- agent.Sink implementation: the Manager is constructed with the hub
// (or a wrapper) as its downstream sink. ---

func (h *Hub) OnAgentUpdate(snap agent.Snapshot) {
	h.broadcast <- outboundFrame{agentID: snap.ID, payload: NewAgentUpdate("upsert", snap)}
}

func (h *Hub) OnStream(agentID string, ev agent.StreamEvent) {
	frame := &AgentStream{
		Type:      TypeAgentStream,
		AgentID:   agentID,
		Event:     translateStreamEvent(ev),
		Timestamp: nowRFC3339(),
	}
	h.broadcast <- outboundFrame{agentID: agentID, payload: frame}

	if ev.RequestID == "" {
		return
	}
	switch ev.Kind {
	case "turn_completed":
		h.resolvePendingRequest(agentID, ev.RequestID, "")
	case "error":
		h.resolvePendingRequest(agentID, ev.RequestID, ev.Err)
	}
}

// resolvePendingRequest answers the pending send_agent_message slot a
// connection opened for requestID with a terminal status, per
// SPEC_FULL.md §4.3's per-request response correlation. Only the
// connection(s) that actually registered requestID (via
// Connection.addPendingRequest) receive the direct status; every
// subscriber still gets the turn_completed/error event through the normal
// agent_stream fan-out.
func (h *Hub) resolvePendingRequest(agentID, requestID, errMsg string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	notify := func(conn *Connection) {
		if !conn.resolvePendingRequest(requestID) {
			return
		}
		if errMsg == "" {
			conn.send(NewStatusOK(requestID, agentID))
		} else {
			conn.send(NewStatusError(requestID, agentID, apperr.CodeProviderFatal, errMsg))
		}
	}
	for _, conn := range h.clients {
		notify(conn)
	}
}

func (h *Hub) OnPermissionRequest(agentID string, req agent.PermissionRequest) {
	h.broadcast <- outboundFrame{agentID: agentID, payload: NewAgentPermissionRequest(agentID, req)}
}

func (h *Hub) OnPermissionResolved(agentID string, requestID string) {
	h.broadcast <- outboundFrame{agentID: agentID, payload: NewAgentPermissionResolved(agentID, requestID)}
}

var _ agent.Sink = (*Hub)(nil)

// nowRFC3339 isolates the one Date-ish call the hub needs, so tests stay
// deterministic about everything except literal timestamp strings.
func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
