// Package events defines the subjects of the Agent Manager's lifecycle
// event bus. The Session hub does not read that bus; it receives agent
// events through agent.Sink.
package events

// Agent lifecycle event types.
const (
	AgentCreated = "agent.created"
	AgentUpdated = "agent.updated"
	AgentDeleted = "agent.deleted"
)

// Turn lifecycle event types.
const (
	TurnStarted   = "turn.started"
	TurnCompleted = "turn.completed"
)

// Permission event types.
const (
	PermissionRequested = "permission.requested"
	PermissionResolved  = "permission.resolved"
)

// TimelineAppended names a per-timeline-entry subject. The Manager does not
// publish it; the hub receives timeline entries as agent_stream events
// through agent.Sink.
const TimelineAppended = "agent.timeline_appended"

// BuildAgentSubject scopes a lifecycle subject to one agent, for an
// optional NATS backend where subject-based routing is useful.
func BuildAgentSubject(agentID string) string {
	return "agent." + agentID
}

// BuildAgentWildcardSubject returns the wildcard subscription covering
// every agent's subjects.
func BuildAgentWildcardSubject() string {
	return "agent.>"
}
