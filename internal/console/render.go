package console

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"

	"github.com/ashureev/researchdeck/internal/session"
)

// StylePlain disables markdown rendering.
const StylePlain = "plain"

// messageProgress tracks how much of one transcript entry reached the terminal.
type messageProgress struct {
	printed  int
	streamed bool
	done     bool
}

// Renderer writes session changes to a terminal incrementally. Streamed text is
// written as it arrives; whole assistant messages go through glamour.
type Renderer struct {
	mu  sync.Mutex
	out io.Writer
	md  *glamour.TermRenderer

	conn        session.ConnectionState
	messages    []messageProgress
	actions     int
	frameKey    string
	browserOpen bool
	slideKey    string
	panelOpen   bool
}

// NewRenderer creates a renderer. style is "plain", "auto", or a glamour
// standard style name such as "dark" or "notty".
func NewRenderer(out io.Writer, style string, width int) (*Renderer, error) {
	r := &Renderer{out: out}
	if style == StylePlain {
		return r, nil
	}
	if width <= 0 {
		width = 80
	}
	opts := []glamour.TermRendererOption{glamour.WithWordWrap(width)}
	if style == "" || style == "auto" {
		opts = append(opts, glamour.WithAutoStyle())
	} else {
		opts = append(opts, glamour.WithStandardStyle(style))
	}
	md, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return nil, fmt.Errorf("create markdown renderer: %w", err)
	}
	r.md = md
	return r, nil
}

func (r *Renderer) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(r.out, format, args...)
}

// Render writes whatever changed in v. upd carries the notices and the slices the
// transition touched.
func (r *Renderer) Render(v session.View, upd session.Update) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v.Connection != r.conn {
		r.conn = v.Connection
		r.printf("[connection] %s\n", v.Connection)
	}
	for _, a := range v.Actions[min(r.actions, len(v.Actions)):] {
		if a.Details != "" {
			r.printf("  * %s: %s\n", a.Action, a.Details)
		} else {
			r.printf("  * %s\n", a.Action)
		}
	}
	r.actions = len(v.Actions)

	r.renderTranscript(v.Messages)
	r.renderBrowser(v)
	r.renderSlideshow(v.Slideshow)
	if upd.Slices.Has(session.SliceSelection) || v.Selection.Visible != r.panelOpen {
		r.renderSelection(v.Selection)
	}

	for _, n := range upd.Notices {
		if n.Err != nil && n.Err.Error() != n.Message {
			r.printf("! %s: %v\n", n.Message, n.Err)
		} else {
			r.printf("! %s\n", n.Message)
		}
	}
}

func (r *Renderer) renderTranscript(msgs []session.ChatMessage) {
	for len(r.messages) < len(msgs) {
		r.messages = append(r.messages, messageProgress{})
	}
	for i, m := range msgs {
		p := &r.messages[i]
		if p.done {
			continue
		}
		if m.Role == session.RoleUser {
			r.printf("> %s\n", m.Content)
			p.printed, p.done = len(m.Content), true
			continue
		}

		if m.Streaming || p.streamed {
			if p.printed < len(m.Content) {
				r.printf("%s", m.Content[p.printed:])
				p.printed = len(m.Content)
			}
			p.streamed = true
			if !m.Streaming {
				r.printf("\n")
				p.done = true
			}
			continue
		}

		r.printf("%s\n", r.markdown(m.Content))
		p.printed, p.done = len(m.Content), true
	}
}

func (r *Renderer) markdown(text string) string {
	if r.md == nil {
		return text
	}
	out, err := r.md.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(out, "\n")
}

func (r *Renderer) renderBrowser(v session.View) {
	if !v.BrowserOpen {
		if r.browserOpen {
			r.printf("[browser] closed\n")
		}
		r.browserOpen, r.frameKey = false, ""
		return
	}
	r.browserOpen = true
	if v.Frame == nil || v.Slideshow.Active {
		return
	}
	key := v.Frame.URL + "\x00" + v.Frame.Title
	if key == r.frameKey {
		return
	}
	r.frameKey = key
	r.printf("[browser] %s\n", describeFrame(v.Frame.Title, v.Frame.URL, len(v.Frame.Screenshot)))
}

func (r *Renderer) renderSlideshow(s session.SlideshowView) {
	if !s.Active || s.TotalCount == 0 || s.Cursor >= len(s.Frames) {
		r.slideKey = ""
		return
	}
	state := "paused"
	if s.Playing {
		state = "playing"
	}
	key := fmt.Sprintf("%d/%d/%s", s.Cursor, s.TotalCount, state)
	if key == r.slideKey {
		return
	}
	r.slideKey = key

	frame := s.Frames[s.Cursor]
	topic := s.Topic
	if topic == "" {
		topic = "research"
	}
	extra := ""
	if s.NewCount > 0 {
		extra = fmt.Sprintf(", %d new", s.NewCount)
	}
	r.printf("[slideshow] %s: slide %d/%d (%s%s) %s\n", topic, s.Cursor+1, s.TotalCount, state, extra,
		describeFrame(frame.Title, frame.URL, len(frame.Screenshot)))
}

func describeFrame(title, url string, size int) string {
	if title == "" {
		title = "(untitled)"
	}
	return fmt.Sprintf("%s <%s> [%d bytes]", title, url, size)
}

func (r *Renderer) renderSelection(sel session.SelectionView) {
	if !sel.Visible {
		if r.panelOpen {
			r.printf("[selection] closed\n")
		}
		r.panelOpen = false
		return
	}
	r.panelOpen = true

	selected := make(map[string]bool, len(sel.Selected))
	for _, id := range sel.Selected {
		selected[id] = true
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[selection] %s: %d/%d selected\n", sel.Mode, len(sel.Selected), sel.Max)
	if sel.Data != nil {
		n := 0
		for si, src := range sel.Data.Sources {
			fmt.Fprintf(&b, "  source %d: %s (%d questions)\n", si+1, src.Domain, src.QuestionCount)
			for _, q := range src.Questions {
				n++
				mark := " "
				if selected[q.ID] {
					mark = "x"
				}
				fmt.Fprintf(&b, "    [%s] %d. %s\n", mark, n, q.Question)
			}
		}
	}
	b.WriteString("  /toggle <n>, /all <source>, /none <source>, /submit, /continue, /rebrowse\n")
	r.printf("%s", b.String())
}
