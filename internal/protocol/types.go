package protocol

import (
	"time"

	"github.com/google/uuid"
)

// ScreenshotFrame is one captured browser screenshot with its source page.
type ScreenshotFrame struct {
	URL        string `json:"url"`
	Screenshot string `json:"screenshot"`
	Title      string `json:"title"`
}

// SlideshowData is the accumulated set of frames for one research task.
type SlideshowData struct {
	Screenshots         []ScreenshotFrame `json:"screenshots"`
	TotalCount          int               `json:"total_count"`
	ResearchTopic       string            `json:"research_topic"`
	IsUpdate            bool              `json:"is_update,omitempty"`
	NewScreenshotsAdded int               `json:"new_screenshots_added,omitempty"`
	UISelectionData     *SelectionData    `json:"ui_selection_data,omitempty"`
}

// CandidateQuestion is an extracted survey question offered for selection.
type CandidateQuestion struct {
	ID               string `json:"id"`
	Index            int    `json:"index"`
	Question         string `json:"question"`
	SourceURL        string `json:"source_url"`
	ExtractionMethod string `json:"extraction_method"`
}

// SourceGroup clusters candidate questions by the page they came from.
type SourceGroup struct {
	ID            string              `json:"id"`
	Domain        string              `json:"domain"`
	FullURL       string              `json:"full_url"`
	QuestionCount int                 `json:"question_count"`
	Questions     []CandidateQuestion `json:"questions"`
}

// SelectionData is the payload that opens the question selection panel.
type SelectionData struct {
	Sources        []SourceGroup `json:"sources"`
	TotalQuestions int           `json:"total_questions"`
	ResearchTopic  string        `json:"research_topic,omitempty"`
}

// Normalize fills missing ids and recomputes the counters so that
// QuestionCount == len(Questions) for every source.
func (d *SelectionData) Normalize() {
	total := 0
	for i := range d.Sources {
		src := &d.Sources[i]
		if src.ID == "" {
			src.ID = uuid.NewString()
		}
		for j := range src.Questions {
			q := &src.Questions[j]
			if q.ID == "" {
				q.ID = uuid.NewString()
			}
			if q.SourceURL == "" {
				q.SourceURL = src.FullURL
			}
		}
		src.QuestionCount = len(src.Questions)
		total += src.QuestionCount
	}
	d.TotalQuestions = total
}

// Source returns the group with the given id.
func (d *SelectionData) Source(id string) (SourceGroup, bool) {
	if d == nil {
		return SourceGroup{}, false
	}
	for _, src := range d.Sources {
		if src.ID == id {
			return src, true
		}
	}
	return SourceGroup{}, false
}

// HasQuestion reports whether a question id exists in any source.
func (d *SelectionData) HasQuestion(id string) bool {
	if d == nil {
		return false
	}
	for _, src := range d.Sources {
		for _, q := range src.Questions {
			if q.ID == id {
				return true
			}
		}
	}
	return false
}

// DownloadableFile is read-only metadata about an exported file.
type DownloadableFile struct {
	Filename    string    `json:"filename"`
	Filepath    string    `json:"filepath"`
	Type        string    `json:"type"`
	Size        int64     `json:"size"`
	Created     time.Time `json:"created"`
	DisplayName string    `json:"display_name"`
}
