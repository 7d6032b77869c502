package agent

import (
	"encoding/json"
	"time"

	"github.com/paseo-dev/paseod/internal/provider"
)

// PermissionRequest is a pending gate on the current turn, created from a
// provider's permissionProbe event and resolved by exactly one
// agent_permission_response or by turn cancellation.
type PermissionRequest struct {
	ID        string                      `json:"id"`
	Kind      string                      `json:"kind"` // tool, write, command
	Input     json.RawMessage             `json:"input,omitempty"`
	Title     string                      `json:"title,omitempty"`
	Options   []provider.PermissionOption `json:"options,omitempty"`
	CreatedAt time.Time                   `json:"createdAt"`
}
