// Package session holds the operator console's state machine: one Session owns the
// chat transcript, the action log, the browser view, the slideshow and the question
// selection workflow, and changes them only in reaction to inbound envelopes or
// operator commands.
package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/researchdeck/internal/protocol"
)

// ConnectionState is the lifecycle of the transport behind a session.
type ConnectionState string

const (
	StateConnecting ConnectionState = "connecting"
	StateOpen       ConnectionState = "open"
	StateClosed     ConnectionState = "closed"
)

// Slice identifies which parts of the session an update touched.
type Slice uint16

const (
	SliceConnection Slice = 1 << iota
	SliceTranscript
	SliceActions
	SliceBrowser
	SliceSlideshow
	SliceSelection
	SliceNotice
)

// Has reports whether s includes every slice in other.
func (s Slice) Has(other Slice) bool { return s&other == other }

// Notice is a user-visible warning produced by a recoverable failure.
type Notice struct {
	Level   slog.Level
	Message string
	Err     error
}

// Update is delivered to OnUpdate after a state transition.
type Update struct {
	Slices  Slice
	Notices []Notice
}

// Observer receives one call per dispatched envelope.
type Observer interface {
	ObserveDispatch(msgType string, outcome string)
}

// Dispatch outcomes reported to the Observer.
const (
	OutcomeHandled   = "handled"
	OutcomeUnknown   = "unknown"
	OutcomeViolation = "violation"
	OutcomeInvalid   = "invalid"
	OutcomeClosed    = "closed"
)

// Options configures a Session.
type Options struct {
	Logger           *slog.Logger
	Scheduler        Scheduler
	AutoplayInterval time.Duration
	Observer         Observer
	// OnUpdate is called after every transition, outside the session lock.
	OnUpdate func(Update)
	Clock    func() time.Time
}

// Session is one logical connection lifetime. All methods are safe for concurrent
// use; transitions are serialized by an internal mutex.
type Session struct {
	mu sync.Mutex

	logger   *slog.Logger
	observer Observer
	onUpdate func(Update)
	now      func() time.Time

	conn       ConnectionState
	transcript Transcript
	actions    ActionLog
	browser    BrowserView
	slideshow  *Slideshow
	selection  Selection
	closed     bool

	pending Update
}

// New creates a session in the connecting state.
func New(opts Options) *Session {
	s := &Session{
		logger:   opts.Logger,
		observer: opts.Observer,
		onUpdate: opts.OnUpdate,
		now:      opts.Clock,
		conn:     StateConnecting,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.slideshow = NewSlideshow(opts.Scheduler, opts.AutoplayInterval, s.guardTick)
	return s
}

// guardTick runs an autoplay tick under the session lock and drops it once the
// session is closed.
func (s *Session) guardTick(fn func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	before := s.slideshow.Cursor()
	fn()
	if s.slideshow.Cursor() != before {
		s.mark(SliceSlideshow)
	}
	s.unlockAndEmit()
}

func (s *Session) mark(slices Slice) {
	s.pending.Slices |= slices
}

func (s *Session) notice(level slog.Level, msg string, err error) {
	s.pending.Slices |= SliceNotice
	s.pending.Notices = append(s.pending.Notices, Notice{Level: level, Message: msg, Err: err})
}

// unlockAndEmit releases the lock and then hands the accumulated update to OnUpdate.
func (s *Session) unlockAndEmit() {
	upd := s.pending
	s.pending = Update{}
	closed := s.closed
	s.mu.Unlock()
	if closed || s.onUpdate == nil || upd.Slices == 0 {
		return
	}
	s.onUpdate(upd)
}

// SetConnection records a transport state change.
func (s *Session) SetConnection(state ConnectionState) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.setConnection(state)
	s.unlockAndEmit()
}

func (s *Session) setConnection(state ConnectionState) {
	if s.conn == state {
		return
	}
	s.conn = state
	s.mark(SliceConnection)
	if state == StateClosed {
		s.transcript.SetLoading(false)
		s.notice(slog.LevelError, "connection lost; reconnect to start a new session", nil)
	}
}

// Connection returns the current connection state.
func (s *Session) Connection() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// CloseBrowser hides the browser view and discards the slideshow.
func (s *Session) CloseBrowser() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.browser.Close()
	s.slideshow.Teardown()
	s.mark(SliceBrowser | SliceSlideshow)
	s.unlockAndEmit()
}

// Close detaches the session. Autoplay is cancelled and no further updates fire.
// Close is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.slideshow.Teardown()
	s.pending = Update{}
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// SlideshowView is a point-in-time copy of the slideshow slice.
type SlideshowView struct {
	Active     bool
	Playing    bool
	Cursor     int
	TotalCount int
	NewCount   int
	Topic      string
	Frames     []protocol.ScreenshotFrame
}

// SelectionView is a point-in-time copy of the selection slice.
type SelectionView struct {
	Visible  bool
	Mode     SelectionMode
	Data     *protocol.SelectionData
	Selected []string
	Max      int
}

// View is a point-in-time copy of the whole session for rendering.
type View struct {
	Connection  ConnectionState
	Messages    []ChatMessage
	Streaming   bool
	Loading     bool
	Actions     []AgentAction
	BrowserOpen bool
	Frame       *protocol.ScreenshotFrame
	Slideshow   SlideshowView
	Selection   SelectionView
}

// Snapshot copies the current state.
func (s *Session) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		Connection:  s.conn,
		Messages:    s.transcript.Messages(),
		Streaming:   s.transcript.Streaming(),
		Loading:     s.transcript.Loading(),
		Actions:     s.actions.Entries(),
		BrowserOpen: s.browser.Open(),
		Slideshow: SlideshowView{
			Active:     s.slideshow.Active(),
			Playing:    s.slideshow.Playing(),
			Cursor:     s.slideshow.Cursor(),
			TotalCount: s.slideshow.TotalCount(),
			NewCount:   s.slideshow.NewCount(),
			Topic:      s.slideshow.Topic(),
			Frames:     s.slideshow.Frames(),
		},
		Selection: SelectionView{
			Visible:  s.selection.Visible(),
			Mode:     s.selection.Mode(),
			Data:     s.selection.Data(),
			Selected: s.selection.Selected(),
			Max:      MaxSelections,
		},
	}
	if frame, ok := s.browser.Frame(); ok {
		v.Frame = &frame
	}
	return v
}
