package session

import "time"

// AgentAction is one discrete tool invocation reported by the agent.
type AgentAction struct {
	Action    string
	Details   string
	Timestamp time.Time
}

// ActionLog is an append-only list of agent actions.
type ActionLog struct {
	entries []AgentAction
}

// Append adds an entry.
func (l *ActionLog) Append(action, details string, now time.Time) {
	l.entries = append(l.entries, AgentAction{Action: action, Details: details, Timestamp: now})
}

// Len returns the number of entries.
func (l *ActionLog) Len() int {
	return len(l.entries)
}

// Entries returns a copy of the log.
func (l *ActionLog) Entries() []AgentAction {
	out := make([]AgentAction, len(l.entries))
	copy(out, l.entries)
	return out
}
