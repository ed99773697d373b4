package agent

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// The agent RPC carries the gateway's JSON envelopes as-is, so both ends share
// the wire types in internal/protocol instead of generated messages.
const (
	codecName   = "json"
	serviceName = "researchdeck.agent.v1.AgentService"
	runMethod   = "/" + serviceName + "/Run"
)

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json codec marshal: %w", err)
	}
	return data, nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("json codec unmarshal: %w", err)
	}
	return nil
}

func (jsonCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

var runStreamDesc = grpc.StreamDesc{
	StreamName:    "Run",
	ServerStreams: true,
}

// RunRequest is the request message of AgentService/Run.
type RunRequest struct {
	Content   string `json:"content"`
	SessionID string `json:"session_id,omitempty"`
}
