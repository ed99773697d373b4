// Package agent connects the gateway to the browsing agent that executes research tasks.
package agent

import (
	"time"

	"github.com/ashureev/researchdeck/internal/protocol"
)

// Task is one operator command handed to the agent.
type Task struct {
	Content   string `json:"content"`
	SessionID string `json:"session_id,omitempty"`
}

// Kind classifies the task content.
func (t Task) Kind() protocol.CommandKind {
	return protocol.Command{Content: t.Content}.Kind()
}

// Config holds agent configuration.
type Config struct {
	// TaskTimeout bounds one task end to end.
	TaskTimeout time.Duration
	// TypingSpeed paces streamed words from scripted responses.
	TypingSpeed time.Duration
	// ThinkPause is waited before a scripted response starts.
	ThinkPause time.Duration
}

// DefaultConfig returns default agent configuration.
func DefaultConfig() Config {
	return Config{
		TaskTimeout: 300 * time.Second,
		TypingSpeed: 40 * time.Millisecond,
		ThinkPause:  500 * time.Millisecond,
	}
}
