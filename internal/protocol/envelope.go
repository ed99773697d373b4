// Package protocol defines the wire format shared by the gateway and the operator console.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Inbound message types (gateway -> console).
const (
	TypeConnect       = "connect"
	TypeAgentMessage  = "agent_message"
	TypeStreamStart   = "agent_message_stream_start"
	TypeStreamChunk   = "agent_message_stream_chunk"
	TypeStreamEnd     = "agent_message_stream_end"
	TypeAgentAction   = "agent_action"
	TypeBrowserState  = "browser_state"
	TypeSlideshowData = "slideshow_data"
	TypeAgentResponse = "agent_response"
	TypeError         = "error"
)

// SelectionSentinel is the marker some producers embed in message text when
// selection data is attached.
const SelectionSentinel = "[QUESTION_SELECTION]"

// SessionHeader carries the console's session id on HTTP and upgrade requests.
const SessionHeader = "X-Research-Session-ID"

var errMissingType = errors.New("missing type field")

// Envelope is one inbound frame. Producers attach whatever payload they have ready,
// so every field other than Type is optional and several may be set at once.
type Envelope struct {
	Type   string `json:"type"`
	Status string `json:"status,omitempty"`

	// Chat payload.
	Content  string `json:"content,omitempty"`
	Response string `json:"response,omitempty"`
	Message  string `json:"message,omitempty"`

	// Action log payload.
	Action  string `json:"action,omitempty"`
	Details string `json:"details,omitempty"`

	// Browser frame payload. agent_message uses image_url/image_title,
	// browser_state uses url/title.
	Base64Image string `json:"base64_image,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	ImageTitle  string `json:"image_title,omitempty"`
	URL         string `json:"url,omitempty"`
	Title       string `json:"title,omitempty"`

	// Slideshow payload, flattened on slideshow_data frames.
	Screenshots         []ScreenshotFrame `json:"screenshots,omitempty"`
	TotalCount          int               `json:"total_count,omitempty"`
	ResearchTopic       string            `json:"research_topic,omitempty"`
	IsUpdate            bool              `json:"is_update,omitempty"`
	NewScreenshotsAdded int               `json:"new_screenshots_added,omitempty"`

	// Slideshow payload nested inside another message.
	SlideshowData *SlideshowData `json:"slideshow_data,omitempty"`

	UISelectionData       *SelectionData `json:"ui_selection_data,omitempty"`
	ShowQuestionSelection bool           `json:"show_question_selection,omitempty"`
}

// Decode parses one raw frame. A frame without a type is rejected.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, errMissingType
	}
	if env.UISelectionData != nil {
		env.UISelectionData.Normalize()
	}
	if env.SlideshowData != nil && env.SlideshowData.UISelectionData != nil {
		env.SlideshowData.UISelectionData.Normalize()
	}
	return env, nil
}

// Encode serializes an envelope for the wire.
func Encode(env Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// Frame returns the browser frame carried by the envelope, if any.
func (e Envelope) Frame() (ScreenshotFrame, bool) {
	if e.Base64Image == "" {
		return ScreenshotFrame{}, false
	}
	frame := ScreenshotFrame{Screenshot: e.Base64Image, URL: e.URL, Title: e.Title}
	if e.Type != TypeBrowserState {
		if e.ImageURL != "" {
			frame.URL = e.ImageURL
		}
		if e.ImageTitle != "" {
			frame.Title = e.ImageTitle
		}
	}
	return frame, true
}

// Slideshow returns the flattened slideshow payload of a slideshow_data frame.
func (e Envelope) Slideshow() SlideshowData {
	return SlideshowData{
		Screenshots:         e.Screenshots,
		TotalCount:          e.TotalCount,
		ResearchTopic:       e.ResearchTopic,
		IsUpdate:            e.IsUpdate,
		NewScreenshotsAdded: e.NewScreenshotsAdded,
		UISelectionData:     e.UISelectionData,
	}
}

// Text returns the chat text of the envelope regardless of which field carried it.
func (e Envelope) Text() string {
	switch {
	case e.Content != "":
		return e.Content
	case e.Response != "":
		return e.Response
	default:
		return e.Message
	}
}

// SignalsSelection reports whether the envelope announces question selection by
// any of the producer's signals: attached data, the boolean flag, or the text sentinel.
func (e Envelope) SignalsSelection() bool {
	return e.UISelectionData != nil || e.ShowQuestionSelection || strings.Contains(e.Content, SelectionSentinel)
}

// Redacted returns a copy with screenshot payloads replaced by a length marker,
// suitable for logs and recordings.
func (e Envelope) Redacted() Envelope {
	out := e
	out.Base64Image = redact(e.Base64Image)
	if len(e.Screenshots) > 0 {
		out.Screenshots = redactFrames(e.Screenshots)
	}
	if e.SlideshowData != nil {
		sd := *e.SlideshowData
		sd.Screenshots = redactFrames(sd.Screenshots)
		out.SlideshowData = &sd
	}
	return out
}

func redactFrames(frames []ScreenshotFrame) []ScreenshotFrame {
	out := make([]ScreenshotFrame, len(frames))
	for i, f := range frames {
		f.Screenshot = redact(f.Screenshot)
		out[i] = f
	}
	return out
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return fmt.Sprintf("<%d bytes>", len(s))
}
