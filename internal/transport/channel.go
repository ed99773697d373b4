// Package transport connects the operator console to the gateway over a WebSocket,
// falling back to single HTTP exchanges when the socket is not open.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/coder/websocket"

	"github.com/ashureev/researchdeck/internal/protocol"
)

// ErrChannelClosed is returned by Send when the socket is not open and no fallback
// is available.
var ErrChannelClosed = errors.New("channel closed")

// DefaultReadLimit bounds one inbound frame. Slideshow frames carry every screenshot
// of a task, so the library's 32 KiB default is far too small.
const DefaultReadLimit int64 = 32 << 20

// State is the channel lifecycle.
type State string

const (
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosed     State = "closed"
)

// Options configures a Channel.
type Options struct {
	// BaseURL is the gateway's HTTP root, for example http://localhost:8000.
	BaseURL   string
	SessionID string

	// Fallback enables POST /api/message when the socket is not open.
	Fallback   bool
	HTTPClient *http.Client
	ReadLimit  int64
	Logger     *slog.Logger

	// OnMessage receives every inbound frame in arrival order. Frames synthesized
	// from fallback responses arrive through the same callback.
	OnMessage func(raw []byte)
	// OnState is called once when the socket opens and once when it closes
	// for any reason other than Close.
	OnState func(state State, err error)
}

// Channel is one connection lifetime. It never reconnects on its own; after the
// socket closes a new Channel is needed.
type Channel struct {
	opts    Options
	wsURL   string
	postURL string
	logger  *slog.Logger

	mu       sync.Mutex
	state    State
	conn     *websocket.Conn
	cancel   context.CancelFunc
	done     chan struct{}
	detached bool

	writeMu   sync.Mutex
	deliverMu sync.Mutex
}

// New validates the options and returns an unconnected channel.
func New(opts Options) (*Channel, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	switch base.Scheme {
	case "http", "https":
	default:
		return nil, fmt.Errorf("base url must be http or https, got %q", opts.BaseURL)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = DefaultReadLimit
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ws := *base
	ws.Scheme = "ws"
	if base.Scheme == "https" {
		ws.Scheme = "wss"
	}
	ws.Path += "/ws"
	if opts.SessionID != "" {
		ws.RawQuery = url.Values{"session_id": {opts.SessionID}}.Encode()
	}

	return &Channel{
		opts:    opts,
		wsURL:   ws.String(),
		postURL: base.String() + "/api/message",
		logger:  logger.With("component", "transport"),
		state:   StateConnecting,
	}, nil
}

// Connect dials the socket and starts the read loop. A failed dial moves the
// channel to closed.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.detached || c.state != StateConnecting || c.conn != nil {
		c.mu.Unlock()
		return fmt.Errorf("connect: channel is %s", c.state)
	}
	c.mu.Unlock()

	header := http.Header{}
	if c.opts.SessionID != "" {
		header.Set(protocol.SessionHeader, c.opts.SessionID)
	}
	conn, _, err := websocket.Dial(ctx, c.wsURL, &websocket.DialOptions{
		HTTPClient: c.opts.HTTPClient,
		HTTPHeader: header,
	})
	if err != nil {
		c.transition(StateClosed, err)
		return fmt.Errorf("websocket dial: %w", err)
	}
	conn.SetReadLimit(c.opts.ReadLimit)

	readCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	if c.detached {
		c.mu.Unlock()
		cancel()
		_ = conn.Close(websocket.StatusNormalClosure, "channel closed")
		return ErrChannelClosed
	}
	c.conn = conn
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	c.logger.Info("WebSocket connected", "url", c.wsURL)
	c.transition(StateOpen, nil)
	go c.readLoop(readCtx, conn, c.done)
	return nil
}

// transition moves to state and notifies. Each state is reported at most once and
// nothing is reported after Close.
func (c *Channel) transition(to State, cause error) {
	c.mu.Lock()
	if c.detached || c.state == to || c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = to
	c.mu.Unlock()

	if c.opts.OnState != nil {
		c.opts.OnState(to, cause)
	}
}

func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				if websocket.CloseStatus(err) != -1 {
					c.logger.Info("WebSocket closed by server", "status", websocket.CloseStatus(err))
				} else {
					c.logger.Warn("WebSocket read error", "error", err)
				}
			}
			c.transition(StateClosed, err)
			return
		}
		c.deliver(data)
	}
}

func (c *Channel) deliver(raw []byte) {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.mu.Lock()
	detached := c.detached
	c.mu.Unlock()
	if detached || c.opts.OnMessage == nil {
		return
	}
	c.opts.OnMessage(raw)
}

// State returns the current lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Send writes cmd to the socket, or performs one HTTP exchange when the socket is
// not open and fallback is enabled.
func (c *Channel) Send(ctx context.Context, cmd protocol.Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	detached, state, conn := c.detached, c.state, c.conn
	c.mu.Unlock()
	if detached {
		return ErrChannelClosed
	}

	if state == StateOpen && conn != nil {
		err := c.write(ctx, conn, cmd)
		if err == nil {
			return nil
		}
		c.logger.Warn("WebSocket write failed", "error", err)
		c.transition(StateClosed, err)
		if !c.opts.Fallback {
			return fmt.Errorf("%w: %w", ErrChannelClosed, err)
		}
	}

	if !c.opts.Fallback {
		return ErrChannelClosed
	}
	return c.exchange(ctx, cmd)
}

func (c *Channel) write(ctx context.Context, conn *websocket.Conn, cmd protocol.Command) error {
	data, err := encodeCommand(cmd)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.Write(ctx, websocket.MessageText, data)
}

// Close detaches every callback and closes the socket. It is idempotent and must
// not be called from OnMessage or OnState.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.detached {
		c.mu.Unlock()
		return nil
	}
	c.detached = true
	c.state = StateClosed
	conn, cancel, done := c.conn, c.cancel, c.done
	c.mu.Unlock()

	if conn != nil {
		err := conn.Close(websocket.StatusNormalClosure, "console closed")
		cancel()
		<-done
		if err != nil && websocket.CloseStatus(err) == -1 {
			c.logger.Debug("WebSocket close", "error", err)
		}
	}

	// Wait out a delivery that started before detaching.
	c.deliverMu.Lock()
	c.deliverMu.Unlock() //nolint:staticcheck // barrier
	return nil
}
