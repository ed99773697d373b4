package protocol

import "strings"

// Response statuses returned by the HTTP fallback endpoint.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// MessageResponse is the body returned by POST /api/message. It carries the same
// optional payload the socket would have delivered so the console can route it
// without knowing which transport produced it.
type MessageResponse struct {
	Response              string         `json:"response"`
	Status                string         `json:"status"`
	Base64Image           string         `json:"base64_image,omitempty"`
	ImageURL              string         `json:"image_url,omitempty"`
	ImageTitle            string         `json:"image_title,omitempty"`
	UISelectionData       *SelectionData `json:"ui_selection_data,omitempty"`
	ShowQuestionSelection bool           `json:"show_question_selection,omitempty"`
	SlideshowData         *SlideshowData `json:"slideshow_data,omitempty"`
}

// Envelopes synthesizes the socket frames equivalent to this response.
func (r MessageResponse) Envelopes() []Envelope {
	if r.Status == StatusError {
		return []Envelope{{Type: TypeError, Message: r.Response}}
	}
	return []Envelope{{
		Type:                  TypeAgentMessage,
		Content:               r.Response,
		Base64Image:           r.Base64Image,
		ImageURL:              r.ImageURL,
		ImageTitle:            r.ImageTitle,
		UISelectionData:       r.UISelectionData,
		ShowQuestionSelection: r.ShowQuestionSelection,
		SlideshowData:         r.SlideshowData,
	}}
}

// ResponseBuilder folds a task's envelope stream into a single MessageResponse.
type ResponseBuilder struct {
	resp      MessageResponse
	stream    strings.Builder
	streaming bool
	failed    bool
}

// Add folds one envelope into the response.
func (b *ResponseBuilder) Add(env Envelope) {
	switch env.Type {
	case TypeAgentMessage, TypeAgentResponse:
		b.resp.Response = env.Text()
	case TypeStreamStart:
		b.stream.Reset()
		b.streaming = true
	case TypeStreamChunk:
		if b.streaming {
			b.stream.WriteString(env.Content)
		}
	case TypeStreamEnd:
		if b.streaming {
			b.resp.Response = b.stream.String()
			b.streaming = false
		}
	case TypeSlideshowData:
		b.mergeSlideshow(env.Slideshow())
	case TypeError:
		b.failed = true
		b.resp.Response = env.Text()
	}

	if frame, ok := env.Frame(); ok {
		b.resp.Base64Image = frame.Screenshot
		b.resp.ImageURL = frame.URL
		b.resp.ImageTitle = frame.Title
	}
	if env.SlideshowData != nil {
		b.mergeSlideshow(*env.SlideshowData)
	}
	if env.UISelectionData != nil {
		b.resp.UISelectionData = env.UISelectionData
	}
	if env.SignalsSelection() {
		b.resp.ShowQuestionSelection = true
	}
}

func (b *ResponseBuilder) mergeSlideshow(sd SlideshowData) {
	// The first fold keeps the update flag: an update from this task still has to
	// merge into the slideshow the console already holds.
	if b.resp.SlideshowData == nil || !sd.IsUpdate {
		frames := append([]ScreenshotFrame(nil), sd.Screenshots...)
		b.resp.SlideshowData = &SlideshowData{
			Screenshots:         frames,
			TotalCount:          len(frames),
			ResearchTopic:       sd.ResearchTopic,
			IsUpdate:            sd.IsUpdate,
			NewScreenshotsAdded: sd.NewScreenshotsAdded,
		}
	} else {
		cur := b.resp.SlideshowData
		if len(sd.Screenshots) > len(cur.Screenshots) {
			cur.Screenshots = append(cur.Screenshots, sd.Screenshots[len(cur.Screenshots):]...)
		}
		cur.TotalCount = len(cur.Screenshots)
		cur.NewScreenshotsAdded += sd.NewScreenshotsAdded
		if sd.ResearchTopic != "" {
			cur.ResearchTopic = sd.ResearchTopic
		}
	}
	if sd.UISelectionData != nil {
		b.resp.UISelectionData = sd.UISelectionData
	}
}

// Build returns the folded response.
func (b *ResponseBuilder) Build() MessageResponse {
	out := b.resp
	if b.streaming {
		// Stream never closed; return what arrived.
		out.Response = b.stream.String()
	}
	out.Status = StatusSuccess
	if b.failed {
		out.Status = StatusError
	}
	return out
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Status           string `json:"status"`
	AgentInitialized bool   `json:"agent_initialized"`
}

// FileListing is the body of GET /api/files.
type FileListing struct {
	Files []DownloadableFile `json:"files"`
}
