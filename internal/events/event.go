// Package events fans scheduler activity out to websocket subscribers.
package events

import (
	"encoding/json"
	"time"
)

type Type string

const (
	TypeScheduled Type = "scheduled"
	TypeResumed   Type = "resumed"
	TypeProgress  Type = "progress"
	TypeCompleted Type = "completed"
	TypeFailed    Type = "failed"
	TypeCancelled Type = "cancelled"
	TypePaused    Type = "paused"
)

// Event is one message on the wire.
type Event struct {
	Type      Type    `json:"type"`
	Group     string  `json:"group,omitempty"`
	ID        string  `json:"id,omitempty"`
	Progress  float64 `json:"progress,omitempty"`
	Bytes     int64   `json:"bytes,omitempty"`
	Location  string  `json:"location,omitempty"`
	Error     string  `json:"error,omitempty"`
	Timestamp int64   `json:"timestamp"`
}

func New(typ Type, group, id string) Event {
	return Event{
		Type:      typ,
		Group:     group,
		ID:        id,
		Timestamp: time.Now().UnixMilli(),
	}
}

func (e Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}
