package protocol

import (
	"strings"
	"testing"
)

func TestDecodeRejectsMissingType(t *testing.T) {
	if _, err := Decode([]byte(`{"content":"hi"}`)); err == nil {
		t.Fatal("expected error for frame without type")
	}
	if _, err := Decode([]byte(`not json`)); err == nil {
		t.Fatal("expected error for malformed frame")
	}
}

func TestDecodeNormalizesSelectionData(t *testing.T) {
	raw := `{"type":"agent_message","content":"pick","ui_selection_data":{"sources":[
		{"id":"s1","domain":"pew.org","full_url":"https://pew.org/a","question_count":9,
		 "questions":[{"id":"q1","question":"A?"},{"question":"B?"}]}]}}`

	env, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	src, ok := env.UISelectionData.Source("s1")
	if !ok {
		t.Fatal("expected source s1")
	}
	if src.QuestionCount != 2 {
		t.Fatalf("expected question_count 2, got %d", src.QuestionCount)
	}
	if src.Questions[1].ID == "" {
		t.Fatal("expected generated id for question without one")
	}
	if src.Questions[0].SourceURL != "https://pew.org/a" {
		t.Fatalf("expected source url fallback, got %q", src.Questions[0].SourceURL)
	}
	if env.UISelectionData.TotalQuestions != 2 {
		t.Fatalf("expected total 2, got %d", env.UISelectionData.TotalQuestions)
	}
}

func TestFramePrefersImageFieldsOnAgentMessage(t *testing.T) {
	env := Envelope{Type: TypeAgentMessage, Base64Image: "abc", ImageURL: "https://x", ImageTitle: "X"}
	frame, ok := env.Frame()
	if !ok || frame.URL != "https://x" || frame.Title != "X" {
		t.Fatalf("unexpected frame: %+v ok=%v", frame, ok)
	}

	state := Envelope{Type: TypeBrowserState, Base64Image: "abc", URL: "https://y", Title: "Y", ImageURL: "ignored"}
	frame, _ = state.Frame()
	if frame.URL != "https://y" {
		t.Fatalf("browser_state should use url field, got %q", frame.URL)
	}

	if _, ok := (Envelope{Type: TypeAgentMessage}).Frame(); ok {
		t.Fatal("expected no frame without image")
	}
}

func TestSignalsSelection(t *testing.T) {
	cases := []struct {
		name string
		env  Envelope
		want bool
	}{
		{"data", Envelope{UISelectionData: &SelectionData{}}, true},
		{"flag", Envelope{ShowQuestionSelection: true}, true},
		{"sentinel", Envelope{Content: "done " + SelectionSentinel}, true},
		{"none", Envelope{Content: "plain"}, false},
	}
	for _, tc := range cases {
		if got := tc.env.SignalsSelection(); got != tc.want {
			t.Errorf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}
}

func TestRedactedStripsScreenshots(t *testing.T) {
	env := Envelope{
		Type:          TypeSlideshowData,
		Base64Image:   strings.Repeat("a", 10),
		Screenshots:   []ScreenshotFrame{{URL: "u", Screenshot: "xyz"}},
		SlideshowData: &SlideshowData{Screenshots: []ScreenshotFrame{{Screenshot: "1234"}}},
	}
	red := env.Redacted()
	if red.Base64Image != "<10 bytes>" {
		t.Fatalf("unexpected redaction: %q", red.Base64Image)
	}
	if red.Screenshots[0].Screenshot != "<3 bytes>" || red.Screenshots[0].URL != "u" {
		t.Fatalf("unexpected frame redaction: %+v", red.Screenshots[0])
	}
	if red.SlideshowData.Screenshots[0].Screenshot != "<4 bytes>" {
		t.Fatalf("unexpected nested redaction: %+v", red.SlideshowData.Screenshots[0])
	}
	if env.Screenshots[0].Screenshot != "xyz" {
		t.Fatal("redaction must not mutate the original")
	}
}

func TestCommandKind(t *testing.T) {
	sel, err := SelectionCommand([]string{"q1", "q2"})
	if err != nil {
		t.Fatalf("SelectionCommand failed: %v", err)
	}
	cases := map[string]CommandKind{
		"Continue":           KindContinue,
		" Rebrowse ":         KindRebrowse,
		sel.Content:          KindSelection,
		"Go to pew.org":      KindChat,
		`{"unrelated": true}`: KindChat,
	}
	for content, want := range cases {
		if got := (Command{Content: content}).Kind(); got != want {
			t.Errorf("Kind(%q) = %s, want %s", content, got, want)
		}
	}

	sub, ok := sel.Selection()
	if !ok || len(sub.SelectedQuestions) != 2 || sub.SelectedQuestions[1] != "q2" {
		t.Fatalf("unexpected selection decode: %+v ok=%v", sub, ok)
	}
}

func TestSelectionCommandRejectsEmpty(t *testing.T) {
	if _, err := SelectionCommand(nil); err == nil {
		t.Fatal("expected error for empty selection")
	}
	if err := (Command{Content: "  "}).Validate(); err == nil {
		t.Fatal("expected blank command to be invalid")
	}
}

func TestResponseBuilderFoldsStream(t *testing.T) {
	var b ResponseBuilder
	b.Add(Envelope{Type: TypeAgentAction, Action: "Processing"})
	b.Add(Envelope{Type: TypeStreamStart})
	b.Add(Envelope{Type: TypeStreamChunk, Content: "Hel"})
	b.Add(Envelope{Type: TypeStreamChunk, Content: "lo"})
	b.Add(Envelope{Type: TypeStreamEnd})
	b.Add(Envelope{Type: TypeBrowserState, Base64Image: "img", URL: "https://a"})
	b.Add(Envelope{Type: TypeSlideshowData, Screenshots: []ScreenshotFrame{{URL: "1"}, {URL: "2"}}, ResearchTopic: "t"})
	b.Add(Envelope{Type: TypeSlideshowData, IsUpdate: true, Screenshots: []ScreenshotFrame{{URL: "1"}, {URL: "2"}, {URL: "3"}}})

	resp := b.Build()
	if resp.Response != "Hello" {
		t.Fatalf("expected streamed text, got %q", resp.Response)
	}
	if resp.Status != StatusSuccess {
		t.Fatalf("expected success, got %s", resp.Status)
	}
	if resp.ImageURL != "https://a" || resp.Base64Image != "img" {
		t.Fatalf("unexpected frame: %+v", resp)
	}
	if resp.SlideshowData == nil || resp.SlideshowData.TotalCount != 3 || resp.SlideshowData.ResearchTopic != "t" {
		t.Fatalf("unexpected slideshow: %+v", resp.SlideshowData)
	}

	envs := resp.Envelopes()
	if len(envs) != 1 || envs[0].Type != TypeAgentMessage || envs[0].Content != "Hello" {
		t.Fatalf("unexpected synthesized envelopes: %+v", envs)
	}
}

func TestResponseBuilderError(t *testing.T) {
	var b ResponseBuilder
	b.Add(Envelope{Type: TypeError, Message: "timed out"})
	resp := b.Build()
	if resp.Status != StatusError || resp.Response != "timed out" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	envs := resp.Envelopes()
	if envs[0].Type != TypeError || envs[0].Text() != "timed out" {
		t.Fatalf("unexpected envelopes: %+v", envs)
	}
}

func TestResponseBuilderKeepsSlideshowUpdate(t *testing.T) {
	var b ResponseBuilder
	b.Add(Envelope{Type: TypeSlideshowData, IsUpdate: true, NewScreenshotsAdded: 1,
		Screenshots: []ScreenshotFrame{{URL: "1"}, {URL: "2"}, {URL: "3"}, {URL: "4"}}})
	b.Add(Envelope{Type: TypeSlideshowData, IsUpdate: true, NewScreenshotsAdded: 1,
		Screenshots: []ScreenshotFrame{{URL: "1"}, {URL: "2"}, {URL: "3"}, {URL: "4"}, {URL: "5"}}})

	sd := b.Build().SlideshowData
	if sd == nil || !sd.IsUpdate {
		t.Fatalf("expected an update to stay an update, got %+v", sd)
	}
	if sd.TotalCount != 5 || sd.NewScreenshotsAdded != 2 {
		t.Fatalf("unexpected fold: total=%d new=%d", sd.TotalCount, sd.NewScreenshotsAdded)
	}

	var fresh ResponseBuilder
	fresh.Add(Envelope{Type: TypeSlideshowData, Screenshots: []ScreenshotFrame{{URL: "1"}}})
	if fresh.Build().SlideshowData.IsUpdate {
		t.Fatal("initial slideshow must not be marked as an update")
	}
}
