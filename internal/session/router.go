package session

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/ashureev/researchdeck/internal/protocol"
)

// Dispatch decodes one raw frame and routes it. Errors are informational: the
// session stays usable whatever Dispatch returns.
func (s *Session) Dispatch(raw []byte) error {
	env, err := protocol.Decode(raw)
	if err != nil {
		s.observe("", OutcomeInvalid)
		s.logger.Warn("dropping undecodable frame", "error", err, "bytes", len(raw))
		return err
	}
	return s.DispatchEnvelope(env)
}

// DispatchEnvelope routes an already decoded envelope. The handler for its type
// runs first; then any extra payload the envelope carries (a browser frame, nested
// slideshow data, selection data) is applied to its own slice.
func (s *Session) DispatchEnvelope(env protocol.Envelope) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.observe(env.Type, OutcomeClosed)
		return ErrSessionClosed
	}
	err := s.route(env)
	s.unlockAndEmit()

	switch {
	case err == nil:
		s.observe(env.Type, OutcomeHandled)
	case errors.Is(err, ErrUnknownMessageType):
		s.observe(env.Type, OutcomeUnknown)
		s.logger.Warn("dropping unknown message type", "type", env.Type)
	case errors.Is(err, ErrStreamingProtocolViolation):
		s.observe(env.Type, OutcomeViolation)
		s.logger.Warn("dropping out-of-sequence message", "type", env.Type, "error", err)
	}
	return err
}

func (s *Session) observe(msgType, outcome string) {
	if s.observer != nil {
		s.observer.ObserveDispatch(msgType, outcome)
	}
}

func (s *Session) route(env protocol.Envelope) error {
	now := s.now()
	var err error

	switch env.Type {
	case protocol.TypeConnect:
		s.setConnection(StateOpen)

	case protocol.TypeAgentMessage, protocol.TypeAgentResponse:
		if err = s.transcript.AppendAgentMessage(env.Text(), now); err == nil {
			s.mark(SliceTranscript)
		} else {
			s.notice(slog.LevelWarn, "assistant message dropped while a reply was still streaming", err)
		}

	case protocol.TypeStreamStart:
		s.transcript.StreamStart(now)
		s.mark(SliceTranscript)

	case protocol.TypeStreamChunk:
		if err = s.transcript.StreamChunk(env.Content); err == nil {
			s.mark(SliceTranscript)
		}

	case protocol.TypeStreamEnd:
		if err = s.transcript.StreamEnd(); err == nil {
			s.mark(SliceTranscript)
		}

	case protocol.TypeAgentAction:
		s.actions.Append(env.Action, env.Details, now)
		s.mark(SliceActions)

	case protocol.TypeBrowserState:
		if env.Base64Image == "" {
			s.logger.Debug("browser_state without image", "url", env.URL)
		}

	case protocol.TypeSlideshowData:
		s.applySlideshow(env.Slideshow())

	case protocol.TypeError:
		msg := env.Text()
		s.actions.Append("Error", msg, now)
		s.transcript.SetLoading(false)
		s.mark(SliceActions | SliceTranscript)
		s.notice(slog.LevelError, msg, nil)

	default:
		return fmt.Errorf("%w: %q", ErrUnknownMessageType, env.Type)
	}

	s.fanOut(env)
	return err
}

// fanOut applies payload that belongs to slices other than the one the type names.
func (s *Session) fanOut(env protocol.Envelope) {
	if frame, ok := env.Frame(); ok {
		s.browser.Show(frame)
		s.mark(SliceBrowser)
	}
	if env.SlideshowData != nil {
		s.applySlideshow(*env.SlideshowData)
	}

	data := env.UISelectionData
	if data == nil && env.SlideshowData != nil {
		data = env.SlideshowData.UISelectionData
	}
	switch {
	case data != nil:
		s.selection.Open(data)
		s.mark(SliceSelection)
	case env.SignalsSelection():
		s.logger.Debug("selection signalled without data", "type", env.Type)
	}
}

func (s *Session) applySlideshow(sd protocol.SlideshowData) {
	if sd.IsUpdate {
		s.slideshow.Merge(sd.Screenshots, sd.ResearchTopic)
	} else {
		s.slideshow.Initialize(sd.Screenshots, sd.ResearchTopic)
	}
	if sd.TotalCount != 0 && sd.TotalCount != s.slideshow.TotalCount() {
		s.logger.Debug("slideshow total_count disagrees with frames",
			"reported", sd.TotalCount, "held", s.slideshow.TotalCount())
	}
	s.browser.Reveal()
	s.mark(SliceSlideshow | SliceBrowser)
}
