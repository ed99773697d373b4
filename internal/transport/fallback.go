package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ashureev/researchdeck/internal/protocol"
)

const maxErrorBody = 4 << 10

func encodeCommand(cmd protocol.Command) ([]byte, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("encode command: %w", err)
	}
	return data, nil
}

// exchange posts cmd to the gateway and delivers the envelopes equivalent to its
// response through OnMessage.
func (c *Channel) exchange(ctx context.Context, cmd protocol.Command) error {
	body, err := encodeCommand(cmd)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.postURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build fallback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.opts.SessionID != "" {
		req.Header.Set(protocol.SessionHeader, c.opts.SessionID)
	}

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("fallback request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.opts.ReadLimit))
	if err != nil {
		return fmt.Errorf("read fallback response: %w", err)
	}

	var out protocol.MessageResponse
	if jsonErr := json.Unmarshal(data, &out); jsonErr != nil || out.Status == "" {
		if len(data) > maxErrorBody {
			data = data[:maxErrorBody]
		}
		return fmt.Errorf("fallback response: status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}
	if out.UISelectionData != nil {
		out.UISelectionData.Normalize()
	}

	c.logger.Debug("Fallback exchange", "status", resp.StatusCode, "kind", cmd.Kind())
	for _, env := range out.Envelopes() {
		raw, err := protocol.Encode(env)
		if err != nil {
			return err
		}
		c.deliver(raw)
	}
	return nil
}
