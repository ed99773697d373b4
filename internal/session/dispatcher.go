package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashureev/researchdeck/internal/protocol"
)

// Sender delivers one outbound command. transport.Channel implements it.
type Sender interface {
	Send(ctx context.Context, cmd protocol.Command) error
}

// Dispatcher turns operator actions into session transitions and outbound commands.
type Dispatcher struct {
	session *Session
	sender  Sender
}

// NewDispatcher binds a session to a sender.
func NewDispatcher(s *Session, sender Sender) *Dispatcher {
	return &Dispatcher{session: s, sender: sender}
}

// Session returns the session the dispatcher drives.
func (d *Dispatcher) Session() *Session { return d.session }

// SendChat records free text in the transcript and sends it.
func (d *Dispatcher) SendChat(ctx context.Context, text string) error {
	cmd := protocol.ChatCommand(strings.TrimSpace(text))
	if err := cmd.Validate(); err != nil {
		return err
	}
	s := d.session
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.transcript.AppendUser(cmd.Content, s.now())
	s.mark(SliceTranscript)
	// A chat line starts a new task; the previous task's slideshow goes with it.
	if s.slideshow.Active() {
		s.slideshow.Teardown()
		s.mark(SliceSlideshow)
	}
	s.unlockAndEmit()

	return d.send(ctx, cmd, nil)
}

// Navigate asks the agent to open a URL.
func (d *Dispatcher) Navigate(ctx context.Context, url string) error {
	url = strings.TrimSpace(url)
	if url == "" {
		return protocol.ErrEmptyCommand
	}
	return d.SendChat(ctx, "Go to "+url)
}

// Extract asks the agent to extract content for a goal from the current page.
func (d *Dispatcher) Extract(ctx context.Context, goal string) error {
	goal = strings.TrimSpace(goal)
	if goal == "" {
		return protocol.ErrEmptyCommand
	}
	return d.SendChat(ctx, "Extract from the current page: "+goal)
}

// Continue resumes the agent without a selection and hides the panel.
func (d *Dispatcher) Continue(ctx context.Context) error {
	return d.transition(ctx, func(sel *Selection) (protocol.Command, error) {
		sel.Reset()
		return protocol.ContinueCommand(), nil
	})
}

// Rebrowse asks the agent for more sources. The panel stays open and current picks
// survive as long as they exist in the data that comes back.
func (d *Dispatcher) Rebrowse(ctx context.Context) error {
	return d.transition(ctx, func(sel *Selection) (protocol.Command, error) {
		sel.Rebrowse()
		return protocol.RebrowseCommand(), nil
	})
}

// SubmitSelection sends the selected question ids and hides the panel. The ids are
// read and cleared under one lock so a concurrent prune cannot leak stale ids.
func (d *Dispatcher) SubmitSelection(ctx context.Context) error {
	s := d.session
	return d.transition(ctx, func(sel *Selection) (protocol.Command, error) {
		ids, err := sel.Pending()
		if err != nil {
			s.notice(slog.LevelWarn, "select at least one question before submitting", err)
			return protocol.Command{}, err
		}
		cmd, err := protocol.SelectionCommand(ids)
		if err != nil {
			return protocol.Command{}, err
		}
		sel.Reset()
		return cmd, nil
	})
}

// transition applies a selection change, sends the command apply built from it and
// restores the previous selection if the send fails and nothing else changed it
// meanwhile. The change is committed first because a fallback transport can deliver
// the response before Send returns.
func (d *Dispatcher) transition(ctx context.Context, apply func(*Selection) (protocol.Command, error)) error {
	s := d.session
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	prev := s.selection.clone()
	cmd, err := apply(&s.selection)
	if err != nil {
		s.unlockAndEmit()
		return err
	}
	version := s.selection.version
	s.transcript.SetLoading(true)
	s.mark(SliceSelection | SliceTranscript)
	s.unlockAndEmit()

	return d.send(ctx, cmd, func() {
		if s.selection.version == version {
			s.selection = prev
			s.selection.version = version + 1
			s.mark(SliceSelection)
		}
	})
}

// send delivers cmd; on failure it clears the loading indicator, runs rollback under
// the session lock and raises a notice.
func (d *Dispatcher) send(ctx context.Context, cmd protocol.Command, rollback func()) error {
	err := d.sender.Send(ctx, cmd)
	if err == nil {
		return nil
	}
	s := d.session
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("send %s command: %w", cmd.Kind(), err)
	}
	if rollback != nil {
		rollback()
	}
	s.transcript.SetLoading(false)
	s.mark(SliceTranscript)
	s.notice(slog.LevelError, "command not delivered", err)
	s.unlockAndEmit()
	return fmt.Errorf("send %s command: %w", cmd.Kind(), err)
}

// Toggle flips one question in the selection.
func (d *Dispatcher) Toggle(id string) (bool, error) {
	s := d.session
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false, ErrSessionClosed
	}
	selected, err := s.selection.Toggle(id)
	d.selectionResult(err)
	s.unlockAndEmit()
	return selected, err
}

// SelectAllFromSource selects as many of a source's questions as fit.
func (d *Dispatcher) SelectAllFromSource(sourceID string) (int, error) {
	s := d.session
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrSessionClosed
	}
	n, err := s.selection.SelectAllFromSource(sourceID)
	d.selectionResult(err)
	s.unlockAndEmit()
	return n, err
}

// DeselectAllFromSource clears a source's questions from the selection.
func (d *Dispatcher) DeselectAllFromSource(sourceID string) (int, error) {
	s := d.session
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrSessionClosed
	}
	n, err := s.selection.DeselectAllFromSource(sourceID)
	d.selectionResult(err)
	s.unlockAndEmit()
	return n, err
}

// selectionResult must be called with the session lock held.
func (d *Dispatcher) selectionResult(err error) {
	s := d.session
	if err != nil {
		s.notice(slog.LevelWarn, err.Error(), err)
		return
	}
	s.mark(SliceSelection)
}

// Next advances the slideshow.
func (d *Dispatcher) Next() int {
	return d.slideshow(func(ss *Slideshow) int { return ss.Next() })
}

// Previous moves the slideshow back.
func (d *Dispatcher) Previous() int {
	return d.slideshow(func(ss *Slideshow) int { return ss.Previous() })
}

// GoTo jumps the slideshow to index, clamped into range.
func (d *Dispatcher) GoTo(index int) int {
	return d.slideshow(func(ss *Slideshow) int { return ss.GoTo(index) })
}

// Play starts slideshow autoplay.
func (d *Dispatcher) Play() bool {
	var started bool
	d.slideshow(func(ss *Slideshow) int {
		started = ss.Play()
		return ss.Cursor()
	})
	return started
}

// Pause stops slideshow autoplay.
func (d *Dispatcher) Pause() {
	d.slideshow(func(ss *Slideshow) int {
		ss.Pause()
		return ss.Cursor()
	})
}

// CloseBrowser hides the browser view and discards the slideshow.
func (d *Dispatcher) CloseBrowser() {
	d.session.CloseBrowser()
}

func (d *Dispatcher) slideshow(fn func(*Slideshow) int) int {
	s := d.session
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0
	}
	cursor := fn(s.slideshow)
	s.mark(SliceSlideshow)
	s.unlockAndEmit()
	return cursor
}
