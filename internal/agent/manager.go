package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paseo-dev/paseod/internal/apperr"
	"github.com/paseo-dev/paseod/internal/events"
	"github.com/paseo-dev/paseod/internal/events/bus"
	"github.com/paseo-dev/paseod/internal/paseolog"
	"github.com/paseo-dev/paseod/internal/persistence"
	"github.com/paseo-dev/paseod/internal/provider"
	"go.uber.org/zap"
)

// ClientFactory dials a fresh AgentClient for the given provider id,
// bound to cwd. In production this spawns the provider's subprocess and
// wraps its stdio pipes in a provider.ACPAdapter; tests supply one that
// returns a provider.FakeClient.
type ClientFactory func(ctx context.Context, providerID, cwd string) (provider.AgentClient, error)

// Manager owns every live Agent instance: creation, lookup, deletion, and
// the registry snapshot written after each completed turn. Grounded on
// the teacher's lifecycle.Manager (instance map + byTask-style lookup,
// single background cleanup-free here since there is no container to
// reap), generalized from container lifecycles to provider-subprocess
// actor lifecycles.
type Manager struct {
	mu        sync.RWMutex
	instances map[string]*Instance

	providers *provider.Registry
	store     *persistence.RegistryStore
	bus       bus.EventBus
	sink      Sink
	dial      ClientFactory
	paseoHome string
	logger    *paseolog.Logger
}

// NewManager builds a Manager. sink receives every stream/update event for
// fan-out to session connections; the Manager itself additionally persists
// the registry snapshot and republishes onto eventBus.
func NewManager(providers *provider.Registry, store *persistence.RegistryStore, eventBus bus.EventBus, sink Sink, dial ClientFactory, paseoHome string, log *paseolog.Logger) *Manager {
	return &Manager{
		instances: make(map[string]*Instance),
		providers: providers,
		store:     store,
		bus:       eventBus,
		sink:      sink,
		dial:      dial,
		paseoHome: paseoHome,
		logger:    log.WithFields(zap.String("component", "agent-manager")),
	}
}

// Create validates cfg, dials a fresh provider client, and starts a new
// Agent actor in the creating state, handshaking before returning.
func (m *Manager) Create(ctx context.Context, cfg CreateConfig) (*Instance, error) {
	if cfg.Cwd == "" {
		return nil, apperr.InvalidCwd(cfg.Cwd)
	}
	if _, err := m.providers.Get(cfg.Provider); err != nil {
		return nil, apperr.MalformedMessage(fmt.Sprintf("unknown provider %q", cfg.Provider))
	}

	id := uuid.New().String()
	client, err := m.dial(ctx, cfg.Provider, cfg.Cwd)
	if err != nil {
		return nil, apperr.ProviderFatal("failed to start provider", err)
	}

	inst := NewInstance(id, cfg.Provider, cfg.Cwd, client, m, m.logger)

	m.mu.Lock()
	m.instances[id] = inst
	m.mu.Unlock()

	go inst.Run(ctx)

	if err := inst.Handshake(ctx, nil, cfg.ModeID); err != nil {
		m.publish(ctx, events.AgentCreated, inst.Snapshot())
		return inst, apperr.ProviderFatal("handshake failed", err)
	}

	inst.mu.Lock()
	inst.title = cfg.Title
	inst.mu.Unlock()

	m.publish(ctx, events.AgentCreated, inst.Snapshot())
	m.sink.OnAgentUpdate(inst.Snapshot())
	return inst, nil
}

// Resume rehydrates an agent from its registry record: it dials a fresh
// provider client, starts the actor, and handshakes right away, replaying
// the record's persistence handle.
func (m *Manager) Resume(ctx context.Context, record persistence.AgentRecord) (*Instance, error) {
	m.mu.RLock()
	_, exists := m.instances[record.ID]
	m.mu.RUnlock()
	if exists {
		return nil, apperr.Internal("agent already resumed", nil)
	}

	client, err := m.dial(ctx, record.Provider, record.Cwd)
	if err != nil {
		return nil, apperr.ProviderFatal("failed to start provider", err)
	}

	inst := NewInstance(record.ID, record.Provider, record.Cwd, client, m, m.logger)
	inst.mu.Lock()
	inst.title = record.Title
	inst.currentModeID = record.ModeID
	inst.status = StatusIdle
	inst.hasPersistence = len(record.Persistence) > 0
	inst.mu.Unlock()

	m.mu.Lock()
	m.instances[record.ID] = inst
	m.mu.Unlock()

	go inst.Run(ctx)

	if err := inst.Handshake(ctx, record.Persistence, record.ModeID); err != nil {
		return inst, apperr.ProviderFatal("resume handshake failed", err)
	}

	m.sink.OnAgentUpdate(inst.Snapshot())
	return inst, nil
}

// Initialize forces a provider re-handshake for an agent already tracked:
// either one left in the error state by a prior handshake failure, or one
// loaded idle from the registry at boot (resume_agent_request, or a first
// send_agent_message per SPEC_FULL.md §4.5), in which case its stored
// opaque persistence handle is replayed.
func (m *Manager) Initialize(ctx context.Context, agentID string) error {
	inst, ok := m.Get(agentID)
	if !ok {
		return apperr.UnknownAgent(agentID)
	}

	inst.mu.Lock()
	handle := inst.resumeHandle
	modeID := inst.currentModeID
	needsDial := inst.client == nil
	inst.mu.Unlock()

	if needsDial {
		client, err := m.dial(ctx, inst.provider, inst.cwd)
		if err != nil {
			return apperr.ProviderFatal("failed to start provider", err)
		}
		inst.mu.Lock()
		inst.client = client
		inst.mu.Unlock()
	}

	return inst.Handshake(ctx, handle, modeID)
}

// Delete cancels any live turn, shuts the provider down, and removes the
// agent from tracking and persistence.
func (m *Manager) Delete(ctx context.Context, agentID string) error {
	m.mu.Lock()
	inst, exists := m.instances[agentID]
	if exists {
		delete(m.instances, agentID)
	}
	m.mu.Unlock()

	if !exists {
		return apperr.UnknownAgent(agentID)
	}

	inst.Cancel()
	inst.Shutdown()

	if err := m.store.Delete(agentID); err != nil {
		m.logger.WithError(err).Warn("failed to delete registry record", zap.String("agent_id", agentID))
	}

	m.publish(ctx, events.AgentDeleted, inst.Snapshot())
	return nil
}

// Get returns a tracked agent by id.
func (m *Manager) Get(agentID string) (*Instance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[agentID]
	return inst, ok
}

// List returns every tracked agent's current snapshot.
func (m *Manager) List() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Snapshot, 0, len(m.instances))
	for _, inst := range m.instances {
		out = append(out, inst.Snapshot())
	}
	return out
}

// LoadFromRegistry places every record from the registry snapshot into
// the idle state without starting a provider handshake, per SPEC_FULL.md
// §4.5: boot does not eagerly reconnect to providers.
func (m *Manager) LoadFromRegistry(ctx context.Context) error {
	snap, err := m.store.Load()
	if err != nil {
		return fmt.Errorf("load registry: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, record := range snap.Agents {
		inst := &Instance{
			id:             record.ID,
			provider:       record.Provider,
			cwd:            record.Cwd,
			title:          record.Title,
			currentModeID:  record.ModeID,
			status:         StatusIdle,
			lastActivityAt: record.LastActivityAt,
			hasPersistence: len(record.Persistence) > 0,
			resumeHandle:   record.Persistence,
			timeline:       NewTimeline(),
			queue:          NewInputQueue(),
			mailbox:        make(chan instanceMsg, 64),
			done:           make(chan struct{}),
			sink:           m,
			logger:         m.logger.WithAgentID(record.ID),
			pendingPerms:   make(map[string]PermissionRequest),
		}
		m.instances[record.ID] = inst
		go inst.Run(ctx)
	}
	return nil
}

// persistenceRecord builds the registry entry for inst as of now,
// exporting the provider's resume handle.
func (m *Manager) persistenceRecord(ctx context.Context, inst *Instance) persistence.AgentRecord {
	snap := inst.Snapshot()
	var blob json.RawMessage
	if inst.client != nil {
		if b, err := inst.ExportPersistence(ctx); err == nil {
			blob = b
		} else {
			m.logger.WithError(err).Warn("failed to export provider persistence", zap.String("agent_id", snap.ID))
		}
	}
	return persistence.AgentRecord{
		ID:             snap.ID,
		Provider:       snap.Provider,
		Cwd:            snap.Cwd,
		Title:          snap.Title,
		ModeID:         snap.CurrentModeID,
		LastActivityAt: snap.LastActivityAt,
		Persistence:    blob,
	}
}

// busActive reports whether m.bus is worth publishing to. The Session hub
// always receives agent/permission events directly through the Sink
// interface, so publishing onto the default in-process MemoryEventBus has
// no subscriber and is pure overhead; only a NATSEventBus mirrors these
// events to other processes, so that is the only backend worth the
// Publish call.
func (m *Manager) busActive() bool {
	if m.bus == nil {
		return false
	}
	_, isNATS := m.bus.(*bus.NATSEventBus)
	return isNATS
}

func (m *Manager) publish(ctx context.Context, eventType string, snap Snapshot) {
	if !m.busActive() {
		return
	}
	ev := bus.NewEvent(eventType, "agent-manager", map[string]interface{}{"agent": snap})
	if err := m.bus.Publish(ctx, events.BuildAgentSubject(snap.ID), ev); err != nil {
		m.logger.WithError(err).Warn("failed to publish agent event", zap.String("event_type", eventType))
	}
}

// --- Sink implementation: Manager sits between each Instance and the
// session hub, adding persistence-on-turn-completed and event-bus fan-out.

func (m *Manager) OnAgentUpdate(snap Snapshot) {
	m.sink.OnAgentUpdate(snap)
	m.publish(context.Background(), events.AgentUpdated, snap)
}

func (m *Manager) OnStream(agentID string, ev StreamEvent) {
	m.sink.OnStream(agentID, ev)

	if ev.Kind == "turn_completed" {
		m.mu.RLock()
		inst, ok := m.instances[agentID]
		m.mu.RUnlock()
		if ok {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			record := m.persistenceRecord(ctx, inst)
			cancel()
			if err := m.store.Upsert(record); err != nil {
				m.logger.WithError(err).Warn("failed to persist registry record", zap.String("agent_id", agentID))
			}
		}
	}
}

func (m *Manager) OnPermissionRequest(agentID string, req PermissionRequest) {
	m.sink.OnPermissionRequest(agentID, req)
	if !m.busActive() {
		return
	}
	ev := bus.NewEvent(events.PermissionRequested, "agent-manager", map[string]interface{}{"agentId": agentID, "request": req})
	_ = m.bus.Publish(context.Background(), events.BuildAgentSubject(agentID), ev)
}

func (m *Manager) OnPermissionResolved(agentID string, requestID string) {
	m.sink.OnPermissionResolved(agentID, requestID)
	if !m.busActive() {
		return
	}
	ev := bus.NewEvent(events.PermissionResolved, "agent-manager", map[string]interface{}{"agentId": agentID, "requestId": requestID})
	_ = m.bus.Publish(context.Background(), events.BuildAgentSubject(agentID), ev)
}

var _ Sink = (*Manager)(nil)
