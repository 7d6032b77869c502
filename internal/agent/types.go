// Package agent implements the per-agent state machine: a serial executor
// owning a timeline log, a pending input queue, the current turn (if any),
// and the set of permissions it has yet to resolve.
package agent

import (
	"encoding/json"
	"time"

	"github.com/paseo-dev/paseod/internal/provider"
)

// Status is the agent's lifecycle state.
type Status string

const (
	StatusCreating   Status = "creating"
	StatusIdle       Status = "idle"
	StatusRunning    Status = "running"
	StatusCancelling Status = "cancelling"
	StatusError      Status = "error"
)

// Usage reports token counts for the most recently completed turn.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// Snapshot is the externally visible, JSON-serializable state of an Agent
// at a point in time; this is what agent_update and session_state carry.
type Snapshot struct {
	ID             string          `json:"id"`
	Provider       string          `json:"provider"`
	Cwd            string          `json:"cwd"`
	Status         Status          `json:"status"`
	Title          string          `json:"title,omitempty"`
	CurrentModeID  string          `json:"currentModeId,omitempty"`
	AvailableModes []provider.Mode `json:"availableModes,omitempty"`
	Capabilities   []string        `json:"capabilities,omitempty"`
	LastActivityAt time.Time       `json:"lastActivityAt"`
	LastError      string          `json:"lastError,omitempty"`
	LastUsage      *Usage          `json:"lastUsage,omitempty"`
	HasPersistence bool            `json:"hasPersistence"`
}

// CreateConfig is what a create_agent_request carries.
type CreateConfig struct {
	Provider       string `json:"provider"`
	Cwd            string `json:"cwd"`
	ModeID         string `json:"modeId,omitempty"`
	Title          string `json:"title,omitempty"`
	CreateWorktree bool   `json:"createWorktree,omitempty"`
}

// ResumeHandle is the opaque blob a prior ExportPersistence produced,
// carried in a registry record.
type ResumeHandle = json.RawMessage
