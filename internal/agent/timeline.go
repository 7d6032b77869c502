package agent

import (
	"encoding/json"
	"sync"
	"time"
)

// EntryKind tags a TimelineEntry's variant.
type EntryKind string

const (
	EntryUserMessage       EntryKind = "user_message"
	EntryAssistantMessage  EntryKind = "assistant_message"
	EntryToolCall          EntryKind = "tool_call"
	EntryAssistantReasoning EntryKind = "assistant_reasoning"
	EntryPermissionRequest EntryKind = "permission_request"
	EntryPermissionResolved EntryKind = "permission_resolved"
	EntryTurnStarted       EntryKind = "turn_started"
	EntryTurnCompleted     EntryKind = "turn_completed"
	EntryError             EntryKind = "error"
)

// ToolCallStatus is the lifecycle state of a tool_call entry.
type ToolCallStatus string

const (
	ToolCallPending  ToolCallStatus = "pending"
	ToolCallRunning  ToolCallStatus = "running"
	ToolCallComplete ToolCallStatus = "complete"
	ToolCallError    ToolCallStatus = "error"
)

// Entry is one append-only timeline item. Exactly one payload field group
// is populated, selected by Kind. tool_call is the sole entry ever
// mutated in place (its Status/Output, matched by CallID) after append.
type Entry struct {
	Seq       uint64          `json:"seq"`
	Timestamp time.Time       `json:"timestamp"`
	Kind      EntryKind       `json:"type"`
	Text      string          `json:"text,omitempty"`

	CallID string         `json:"callId,omitempty"`
	Name   string         `json:"name,omitempty"`
	Status ToolCallStatus `json:"status,omitempty"`
	Input  json.RawMessage `json:"input,omitempty"`
	Output json.RawMessage `json:"output,omitempty"`

	PermissionID    string `json:"permissionId,omitempty"`
	PermissionKind  string `json:"permissionKind,omitempty"`
	Behavior        string `json:"behavior,omitempty"`
	Message         string `json:"message,omitempty"`

	TurnID string `json:"turnId,omitempty"`
	Usage  *Usage `json:"usage,omitempty"`
}

// Timeline is the append-only, monotonically sequenced log owned by
// exactly one Agent. Callers must already hold the owning Agent's serial
// executor lock; Timeline itself only guards its own slice/index.
type Timeline struct {
	mu      sync.RWMutex
	entries []Entry
	nextSeq uint64
}

// NewTimeline returns an empty timeline.
func NewTimeline() *Timeline {
	return &Timeline{nextSeq: 1}
}

// Append assigns the next sequence number and timestamp (if zero) and
// appends entry, returning the stored copy.
func (t *Timeline) Append(entry Entry) Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry.Seq = t.nextSeq
	t.nextSeq++
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	t.entries = append(t.entries, entry)
	return entry
}

// UpdateToolCall finds the most recent tool_call entry with the given
// callID and updates its status/output in place, returning the updated
// copy and whether one was found.
func (t *Timeline) UpdateToolCall(callID string, status ToolCallStatus, output json.RawMessage) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := len(t.entries) - 1; i >= 0; i-- {
		if t.entries[i].Kind == EntryToolCall && t.entries[i].CallID == callID {
			t.entries[i].Status = status
			if output != nil {
				t.entries[i].Output = output
			}
			return t.entries[i], true
		}
	}
	return Entry{}, false
}

// Entries returns every entry with Seq strictly greater than afterSeq, in
// order; afterSeq=0 returns the full timeline.
func (t *Timeline) Entries(afterSeq uint64) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if afterSeq == 0 {
		out := make([]Entry, len(t.entries))
		copy(out, t.entries)
		return out
	}

	out := make([]Entry, 0)
	for _, e := range t.entries {
		if e.Seq > afterSeq {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of entries recorded so far.
func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
