package session

import (
	"fmt"
	"time"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is one entry of the transcript.
type ChatMessage struct {
	Role      Role
	Content   string
	Timestamp time.Time
	Streaming bool
}

// Transcript assembles chat messages, growing at most one assistant message
// in place while a stream is open. The zero value is an idle, empty transcript.
type Transcript struct {
	messages  []ChatMessage
	open      int
	streaming bool
	loading   bool
}

// StreamStart opens a new, empty assistant message. A start that arrives while a
// stream is already open completes the previous message first, so at most one
// message is ever in progress.
func (t *Transcript) StreamStart(now time.Time) {
	if t.streaming {
		t.messages[t.open].Streaming = false
	}
	t.messages = append(t.messages, ChatMessage{
		Role:      RoleAssistant,
		Timestamp: now,
		Streaming: true,
	})
	t.open = len(t.messages) - 1
	t.streaming = true
	t.loading = false
}

// StreamChunk appends text to the open message.
func (t *Transcript) StreamChunk(text string) error {
	if !t.streaming {
		return fmt.Errorf("%w: chunk with no open message", ErrStreamingProtocolViolation)
	}
	t.messages[t.open].Content += text
	return nil
}

// StreamEnd completes the open message.
func (t *Transcript) StreamEnd() error {
	if !t.streaming {
		return fmt.Errorf("%w: end with no open message", ErrStreamingProtocolViolation)
	}
	t.messages[t.open].Streaming = false
	t.streaming = false
	return nil
}

// AppendAgentMessage appends a complete assistant message. It is refused while a
// stream is open.
func (t *Transcript) AppendAgentMessage(content string, now time.Time) error {
	if t.streaming {
		return fmt.Errorf("%w: whole message during open stream", ErrStreamingProtocolViolation)
	}
	t.messages = append(t.messages, ChatMessage{Role: RoleAssistant, Content: content, Timestamp: now})
	t.loading = false
	return nil
}

// AppendUser records operator input and raises the loading indicator.
func (t *Transcript) AppendUser(content string, now time.Time) {
	t.messages = append(t.messages, ChatMessage{Role: RoleUser, Content: content, Timestamp: now})
	t.loading = true
}

// SetLoading raises or clears the pending-response indicator.
func (t *Transcript) SetLoading(loading bool) {
	t.loading = loading
}

// Streaming reports whether an assistant message is in progress.
func (t *Transcript) Streaming() bool {
	return t.streaming
}

// Loading reports whether a response is pending.
func (t *Transcript) Loading() bool {
	return t.loading
}

// Len returns the number of messages.
func (t *Transcript) Len() int {
	return len(t.messages)
}

// Messages returns a copy of the transcript.
func (t *Transcript) Messages() []ChatMessage {
	out := make([]ChatMessage, len(t.messages))
	copy(out, t.messages)
	return out
}
