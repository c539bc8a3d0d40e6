package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PendingAction is a unit of deferred remote work recorded while offline.
type PendingAction struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Key       string          `json:"key"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
	Attempts  int             `json:"attempts"`
}

// NewPendingAction builds an action stamped with a fresh ID and the current time.
func NewPendingAction(actionType, key string, payload json.RawMessage) PendingAction {
	if actionType == "" {
		actionType = ActionUpdate
	}
	return PendingAction{
		ID:        uuid.NewString(),
		Type:      actionType,
		Key:       key,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	}
}

// CreatedAt returns the enqueue time.
func (a PendingAction) CreatedAt() time.Time {
	return time.UnixMilli(a.Timestamp)
}

// DeadLetter records an action that left the queue without reaching the remote.
type DeadLetter struct {
	ID        int64         `json:"id"`
	Action    PendingAction `json:"action"`
	Reason    string        `json:"reason"`
	DroppedAt time.Time     `json:"dropped_at"`
}
