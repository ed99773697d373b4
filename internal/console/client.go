package console

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/researchdeck/internal/protocol"
)

// Client queries the gateway's read-only endpoints.
type Client struct {
	base string
	http *http.Client
}

// NewClient returns a client for the gateway at baseURL.
func NewClient(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), http: hc}
}

// Status fetches GET /api/status.
func (c *Client) Status(ctx context.Context) (protocol.StatusResponse, error) {
	var out protocol.StatusResponse
	err := c.getJSON(ctx, "/api/status", &out)
	return out, err
}

// Files fetches GET /api/files.
func (c *Client) Files(ctx context.Context) ([]protocol.DownloadableFile, error) {
	var out protocol.FileListing
	if err := c.getJSON(ctx, "/api/files", &out); err != nil {
		return nil, err
	}
	return out.Files, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("GET %s: %s: %s", path, resp.Status, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// PrintFiles writes a listing as aligned rows.
func PrintFiles(w io.Writer, list []protocol.DownloadableFile) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No exported files.")
		return
	}
	for _, f := range list {
		fmt.Fprintf(w, "%-40s %10d  %s  %s\n", f.Filename, f.Size, f.Created.Format(time.RFC3339), f.DisplayName)
	}
}
