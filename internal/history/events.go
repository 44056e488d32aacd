package history

import "github.com/thebtf/searchlog/pkg/models"

// EventType names a change to a user's history.
type EventType string

const (
	EventRecorded EventType = "recorded"
	EventEvicted  EventType = "evicted"
	EventDeleted  EventType = "deleted"
	EventCleared  EventType = "cleared"
)

// ChangeEvent is published to listeners after a mutation commits.
type ChangeEvent struct {
	Entry  *models.HistoryEntry `json:"entry,omitempty"`
	Type   EventType            `json:"type"`
	UserID string               `json:"user_id"`
	IDs    []int64              `json:"ids,omitempty"`
	At     int64                `json:"at_epoch"`
}

// Listener receives change events. It runs on the writer's goroutine and
// must not block.
type Listener func(ChangeEvent)
