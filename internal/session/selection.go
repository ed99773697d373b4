package session

import (
	"fmt"

	"github.com/ashureev/researchdeck/internal/protocol"
)

// MaxSelections caps how many questions may be selected at once.
const MaxSelections = 30

// SelectionMode tells the panel why it is showing.
type SelectionMode string

const (
	ModeInitial  SelectionMode = "initial"
	ModeRebrowse SelectionMode = "rebrowse"
)

// Selection is the bounded multi-select workflow over extracted questions.
// Selected ids always refer to questions present in the current data.
type Selection struct {
	data     *protocol.SelectionData
	selected []string
	visible  bool
	mode     SelectionMode
	awaiting bool
	version  uint64
}

// Open shows the panel with new data. Data that answers a rebrowse request opens in
// rebrowse mode; checked ids that no longer exist are dropped.
func (s *Selection) Open(data *protocol.SelectionData) {
	if data == nil {
		return
	}
	switch {
	case s.awaiting:
		s.mode = ModeRebrowse
		s.awaiting = false
	case !s.visible:
		s.mode = ModeInitial
	}
	s.data = data
	s.visible = true
	s.prune()
	s.version++
}

func (s *Selection) prune() {
	kept := s.selected[:0]
	for _, id := range s.selected {
		if s.data.HasQuestion(id) {
			kept = append(kept, id)
		}
	}
	s.selected = kept
}

func (s *Selection) indexOf(id string) int {
	for i, v := range s.selected {
		if v == id {
			return i
		}
	}
	return -1
}

// Toggle flips one question. It reports whether the question is selected afterwards.
func (s *Selection) Toggle(id string) (bool, error) {
	if i := s.indexOf(id); i >= 0 {
		s.selected = append(s.selected[:i], s.selected[i+1:]...)
		s.version++
		return false, nil
	}
	if !s.data.HasQuestion(id) {
		return false, fmt.Errorf("%w: %s", ErrUnknownQuestion, id)
	}
	if len(s.selected) >= MaxSelections {
		return false, fmt.Errorf("%w: limit is %d", ErrSelectionCapacityExceeded, MaxSelections)
	}
	s.selected = append(s.selected, id)
	s.version++
	return true, nil
}

// SelectAllFromSource adds the source's questions in order until the cap is reached.
// It fails only when the cap prevented every addition.
func (s *Selection) SelectAllFromSource(sourceID string) (int, error) {
	src, ok := s.data.Source(sourceID)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownSource, sourceID)
	}
	added, capped := 0, false
	for _, q := range src.Questions {
		if s.indexOf(q.ID) >= 0 {
			continue
		}
		if len(s.selected) >= MaxSelections {
			capped = true
			break
		}
		s.selected = append(s.selected, q.ID)
		added++
	}
	if added > 0 {
		s.version++
	}
	if added == 0 && capped {
		return 0, fmt.Errorf("%w: limit is %d", ErrSelectionCapacityExceeded, MaxSelections)
	}
	return added, nil
}

// DeselectAllFromSource removes every question of the source.
func (s *Selection) DeselectAllFromSource(sourceID string) (int, error) {
	src, ok := s.data.Source(sourceID)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownSource, sourceID)
	}
	removed := 0
	for _, q := range src.Questions {
		if i := s.indexOf(q.ID); i >= 0 {
			s.selected = append(s.selected[:i], s.selected[i+1:]...)
			removed++
		}
	}
	if removed > 0 {
		s.version++
	}
	return removed, nil
}

// Pending returns the ids a submit would send.
func (s *Selection) Pending() ([]string, error) {
	if len(s.selected) == 0 {
		return nil, ErrEmptySelectionSubmit
	}
	return s.Selected(), nil
}

// Reset hides the panel and clears all selection state.
func (s *Selection) Reset() {
	version := s.version
	*s = Selection{version: version + 1}
}

// Rebrowse switches to rebrowse mode and keeps the panel open so the next data
// can be reviewed alongside the current picks.
func (s *Selection) Rebrowse() {
	s.mode = ModeRebrowse
	s.awaiting = true
	s.version++
}

func (s *Selection) clone() Selection {
	out := *s
	out.selected = append([]string(nil), s.selected...)
	return out
}

// Visible reports whether the panel is shown.
func (s *Selection) Visible() bool { return s.visible }

// Mode returns the panel mode.
func (s *Selection) Mode() SelectionMode { return s.mode }

// Data returns the current selection data.
func (s *Selection) Data() *protocol.SelectionData { return s.data }

// Count returns the number of selected questions.
func (s *Selection) Count() int { return len(s.selected) }

// IsSelected reports whether id is selected.
func (s *Selection) IsSelected(id string) bool { return s.indexOf(id) >= 0 }

// Selected returns the selected ids in the order they were picked.
func (s *Selection) Selected() []string {
	return append([]string(nil), s.selected...)
}
