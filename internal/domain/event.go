package domain

import (
	"encoding/json"
	"time"
)

// Direction tells whether an event went to the agent or came from it.
type Direction string

const (
	DirectionInbound  Direction = "inbound"  // console -> agent command
	DirectionOutbound Direction = "outbound" // agent -> consoles envelope
)

// Event is one recorded command or envelope. Screenshot payloads are redacted
// before an event is built.
type Event struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	TaskID    string          `json:"task_id,omitempty"`
	Direction Direction       `json:"direction"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}
