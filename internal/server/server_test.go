package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/researchdeck/internal/agent"
	"github.com/ashureev/researchdeck/internal/domain"
	"github.com/ashureev/researchdeck/internal/files"
	"github.com/ashureev/researchdeck/internal/protocol"
	"github.com/ashureev/researchdeck/internal/store"
)

const testScript = `
routes:
  - kind: chat
    steps:
      - envelope:
          type: browser_state
          url: https://pew.org
          title: Pew
          base64_image: aW1n
      - stream: "Hello operator"
`

type fixture struct {
	srv  *Server
	ts   *httptest.Server
	repo *store.SQLiteStore
	dir  string
}

func newFixture(t *testing.T, withAgent bool) *fixture {
	t.Helper()
	return newScriptedFixture(t, withAgent, testScript, 5*time.Second)
}

func newScriptedFixture(t *testing.T, withAgent bool, scriptYAML string, timeout time.Duration) *fixture {
	t.Helper()
	dir := t.TempDir()

	repo, err := store.NewSQLite(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	exports, err := files.NewExports(filepath.Join(dir, "exports"))
	if err != nil {
		t.Fatalf("NewExports failed: %v", err)
	}

	var svc *agent.Service
	if withAgent {
		script, err := agent.ParseScript([]byte(scriptYAML))
		if err != nil {
			t.Fatalf("ParseScript failed: %v", err)
		}
		cfg := agent.Config{TaskTimeout: timeout}
		svc = agent.NewService(agent.NewScriptProcessor(script, cfg, nil), cfg, nil)
	}

	srv := New(Options{
		Service:        svc,
		Repo:           repo,
		Exports:        exports,
		AllowedOrigins: []string{"*"},
		IsDev:          true,
	})
	srv.Start()
	ts := httptest.NewServer(srv.Routes())

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		ts.Close()
		_ = repo.Close()
	})
	return &fixture{srv: srv, ts: ts, repo: repo, dir: filepath.Join(dir, "exports")}
}

func postMessage(t *testing.T, url, content string) (*http.Response, protocol.MessageResponse) {
	t.Helper()
	body, _ := json.Marshal(protocol.Command{Content: content})
	req, _ := http.NewRequest(http.MethodPost, url+"/api/message", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(protocol.SessionHeader, "http-session")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /api/message failed: %v", err)
	}
	defer resp.Body.Close()

	var out protocol.MessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, out
}

func TestStatus(t *testing.T) {
	f := newFixture(t, true)

	resp, err := http.Get(f.ts.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status failed: %v", err)
	}
	defer resp.Body.Close()

	var status protocol.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Status != "online" || !status.AgentInitialized {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestMessageFoldsTaskIntoResponse(t *testing.T) {
	f := newFixture(t, true)

	resp, out := postMessage(t, f.ts.URL, "Go to pew.org")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if out.Status != protocol.StatusSuccess || out.Response != "Hello operator" {
		t.Fatalf("unexpected response: %+v", out)
	}
	if out.ImageURL != "https://pew.org" || out.Base64Image != "aW1n" {
		t.Fatalf("expected last frame in response, got %+v", out)
	}
	if resp.Header.Get(protocol.SessionHeader) != "http-session" {
		t.Fatal("expected session header echoed")
	}

	sess, err := f.repo.GetSession(context.Background(), "http-session")
	if err != nil || sess == nil {
		t.Fatalf("expected recorded session, got %v, %v", sess, err)
	}
	if sess.Transport != domain.TransportHTTP || sess.CommandCount != 1 {
		t.Fatalf("unexpected session record: %+v", sess)
	}
}

func TestMessageReturnsPartialResponseOnTimeout(t *testing.T) {
	const slowScript = `
routes:
  - kind: chat
    steps:
      - stream: "Found two polls"
      - delay: 5s
      - stream: "never sent"
`
	f := newScriptedFixture(t, true, slowScript, 200*time.Millisecond)

	resp, out := postMessage(t, f.ts.URL, "Find polls")
	if resp.StatusCode != http.StatusOK || out.Status != protocol.StatusSuccess {
		t.Fatalf("expected partial success, got %d %+v", resp.StatusCode, out)
	}
	if out.Response != agent.PartialResponsePrefix+"Found two polls" {
		t.Fatalf("unexpected partial response: %q", out.Response)
	}
}

func TestMessageRejectsBlankContent(t *testing.T) {
	f := newFixture(t, true)

	resp, out := postMessage(t, f.ts.URL, "   ")
	if resp.StatusCode != http.StatusBadRequest || out.Status != protocol.StatusError {
		t.Fatalf("expected 400 error, got %d %+v", resp.StatusCode, out)
	}
}

func TestMessageWithoutAgent(t *testing.T) {
	f := newFixture(t, false)

	resp, out := postMessage(t, f.ts.URL, "hello")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	if out.Status != protocol.StatusError || out.Response != "Agent not initialized" {
		t.Fatalf("unexpected body: %+v", out)
	}
}

func dial(t *testing.T, ctx context.Context, baseURL, sessionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws?session_id=" + sessionID
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.SetReadLimit(1 << 20)
	t.Cleanup(func() { _ = conn.CloseNow() })

	env := readEnvelope(t, ctx, conn)
	if env.Type != protocol.TypeConnect || env.Status != protocol.StatusSuccess {
		t.Fatalf("expected connect frame, got %+v", env)
	}
	return conn
}

func readEnvelope(t *testing.T, ctx context.Context, conn *websocket.Conn) protocol.Envelope {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	env, err := protocol.Decode(data)
	if err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return env
}

// readUntil collects envelope types up to and including want.
func readUntil(t *testing.T, ctx context.Context, conn *websocket.Conn, want string) []protocol.Envelope {
	t.Helper()
	var out []protocol.Envelope
	for {
		env := readEnvelope(t, ctx, conn)
		out = append(out, env)
		if env.Type == want {
			return out
		}
	}
}

func TestWebSocketBroadcastsToEverySocket(t *testing.T) {
	f := newFixture(t, true)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a := dial(t, ctx, f.ts.URL, "tab-a")
	b := dial(t, ctx, f.ts.URL, "tab-b")

	if err := a.Write(ctx, websocket.MessageText, []byte(`{"content":"Go to pew.org"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	for name, conn := range map[string]*websocket.Conn{"a": a, "b": b} {
		envs := readUntil(t, ctx, conn, protocol.TypeStreamEnd)
		if envs[0].Type != protocol.TypeAgentAction || envs[0].Details != "Starting to process: Go to pew.org" {
			t.Fatalf("socket %s: expected processing action first, got %+v", name, envs[0])
		}
		if envs[1].Type != protocol.TypeBrowserState {
			t.Fatalf("socket %s: expected browser state, got %s", name, envs[1].Type)
		}
		var text strings.Builder
		for _, env := range envs {
			if env.Type == protocol.TypeStreamChunk {
				text.WriteString(env.Content)
			}
		}
		if text.String() != "Hello operator" {
			t.Fatalf("socket %s: unexpected streamed text %q", name, text.String())
		}
	}

	sess, err := f.repo.GetSession(context.Background(), "tab-a")
	if err != nil || sess == nil || sess.Transport != domain.TransportWebSocket {
		t.Fatalf("expected websocket session record, got %+v, %v", sess, err)
	}
}

func TestWebSocketIgnoresFramesWithoutContent(t *testing.T) {
	f := newFixture(t, true)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(t, ctx, f.ts.URL, "tab-a")
	for _, frame := range []string{`not json`, `{"type":"ping"}`, `{"content":"  "}`, `{"content":"hi"}`} {
		if err := conn.Write(ctx, websocket.MessageText, []byte(frame)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	env := readEnvelope(t, ctx, conn)
	if env.Type != protocol.TypeAgentAction || env.Details != "Starting to process: hi" {
		t.Fatalf("expected only the content frame to start a task, got %+v", env)
	}
}

func TestUnregisterOnDisconnect(t *testing.T) {
	f := newFixture(t, true)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(t, ctx, f.ts.URL, "tab-a")
	if n := f.srv.Hub().Len(); n != 1 {
		t.Fatalf("expected 1 socket, got %d", n)
	}
	_ = conn.Close(websocket.StatusNormalClosure, "bye")

	deadline := time.Now().Add(2 * time.Second)
	for f.srv.Hub().Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("socket was not unregistered")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestFiles(t *testing.T) {
	f := newFixture(t, true)
	if err := os.WriteFile(filepath.Join(f.dir, "questions.csv"), []byte("a,b\n"), 0644); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(f.ts.URL + "/api/files")
	if err != nil {
		t.Fatalf("GET /api/files failed: %v", err)
	}
	var listing protocol.FileListing
	_ = json.NewDecoder(resp.Body).Decode(&listing)
	resp.Body.Close()
	if len(listing.Files) != 1 || listing.Files[0].Filename != "questions.csv" {
		t.Fatalf("unexpected listing: %+v", listing)
	}

	resp, err = http.Get(f.ts.URL + "/api/files/questions.csv")
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(resp.Header.Get("Content-Disposition"), "questions.csv") {
		t.Fatalf("unexpected download response %d %v", resp.StatusCode, resp.Header)
	}

	for path, want := range map[string]int{
		"/api/files/.env":        http.StatusBadRequest,
		"/api/files/missing.csv": http.StatusNotFound,
	} {
		resp, err := http.Get(f.ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s failed: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Errorf("GET %s: expected %d, got %d", path, want, resp.StatusCode)
		}
	}
}

func TestSessionEvents(t *testing.T) {
	f := newFixture(t, true)
	_, _ = postMessage(t, f.ts.URL, "Go to pew.org")

	resp, err := http.Get(f.ts.URL + "/api/sessions/http-session/events")
	if err != nil {
		t.Fatalf("GET events failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	resp404, err := http.Get(f.ts.URL + "/api/sessions/nobody/events")
	if err != nil {
		t.Fatalf("GET events failed: %v", err)
	}
	resp404.Body.Close()
	if resp404.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown session, got %d", resp404.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, true)
	_, _ = postMessage(t, f.ts.URL, "Go to pew.org")

	resp, err := http.Get(f.ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	if !strings.Contains(buf.String(), `researchdeck_tasks_total{outcome="success",transport="http"} 1`) {
		t.Fatalf("expected task counter in metrics output:\n%s", buf.String())
	}
}

func TestSubmitWhenQueueFull(t *testing.T) {
	srv := New(Options{QueueSize: 1})

	first := newJob(context.Background(), agent.Task{Content: "a"}, domain.TransportWebSocket)
	if err := srv.submit(first); err != nil {
		t.Fatalf("first submit failed: %v", err)
	}
	second := newJob(context.Background(), agent.Task{Content: "b"}, domain.TransportWebSocket)
	if err := srv.submit(second); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}

	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	<-first.done
	if !errors.Is(first.err, ErrStopped) {
		t.Fatalf("expected queued task to fail with ErrStopped, got %v", first.err)
	}
	if err := srv.submit(second); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped after shutdown, got %v", err)
	}
}
