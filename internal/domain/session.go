// Package domain contains the records the gateway persists about console sessions.
package domain

import (
	"time"
)

// Transport names how a console reached the gateway.
type Transport string

const (
	TransportWebSocket Transport = "websocket"
	TransportHTTP      Transport = "http"
)

// ConsoleSession is one console connection as seen by the gateway.
type ConsoleSession struct {
	SessionID      string     `json:"session_id"`
	RemoteAddr     string     `json:"remote_addr"`
	Transport      Transport  `json:"transport"`
	ConnectedAt    time.Time  `json:"connected_at"`
	LastSeenAt     time.Time  `json:"last_seen_at"`
	DisconnectedAt *time.Time `json:"disconnected_at,omitempty"`
	CommandCount   int        `json:"command_count"`
}

// Active returns true while the session has not disconnected.
func (s *ConsoleSession) Active() bool {
	return s.DisconnectedAt == nil
}

// Idle returns how long the session has been quiet at now.
func (s *ConsoleSession) Idle(now time.Time) time.Duration {
	if d := now.Sub(s.LastSeenAt); d > 0 {
		return d
	}
	return 0
}
