package session

import "errors"

var (
	// ErrUnknownMessageType is returned for frames whose type no slice handles.
	ErrUnknownMessageType = errors.New("unknown message type")

	// ErrStreamingProtocolViolation is returned for a chunk or end with no open
	// message, or a whole message that arrives mid-stream.
	ErrStreamingProtocolViolation = errors.New("streaming protocol violation")

	// ErrSelectionCapacityExceeded is returned when a selection would exceed MaxSelections.
	ErrSelectionCapacityExceeded = errors.New("selection capacity exceeded")

	// ErrEmptySelectionSubmit is returned when submitting with nothing selected.
	ErrEmptySelectionSubmit = errors.New("no questions selected")

	// ErrUnknownQuestion is returned when toggling an id absent from the current data.
	ErrUnknownQuestion = errors.New("unknown question")

	// ErrUnknownSource is returned for a source id absent from the current data.
	ErrUnknownSource = errors.New("unknown source")

	// ErrSessionClosed is returned by operations on a closed session.
	ErrSessionClosed = errors.New("session closed")
)
