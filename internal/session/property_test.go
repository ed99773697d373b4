package session

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"pgregory.net/rapid"
)

func TestPropertyStreamConcatenation(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var tr Transcript
		chunks := rapid.SliceOf(rapid.String()).Draw(t, "chunks")

		tr.StreamStart(time.Time{})
		for _, c := range chunks {
			if err := tr.StreamChunk(c); err != nil {
				t.Fatalf("chunk: %v", err)
			}
		}
		if err := tr.StreamEnd(); err != nil {
			t.Fatalf("end: %v", err)
		}

		msgs := tr.Messages()
		if len(msgs) != 1 {
			t.Fatalf("expected one message, got %d", len(msgs))
		}
		if want := strings.Join(chunks, ""); msgs[0].Content != want {
			t.Fatalf("got %q want %q", msgs[0].Content, want)
		}
	})
}

func TestPropertyIdleChunkIsNoop(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var tr Transcript
		for _, m := range rapid.SliceOf(rapid.String()).Draw(t, "messages") {
			_ = tr.AppendAgentMessage(m, time.Time{})
		}
		before := tr.Messages()

		_ = tr.StreamChunk(rapid.String().Draw(t, "late"))

		after := tr.Messages()
		if len(after) != len(before) {
			t.Fatalf("length changed %d -> %d", len(before), len(after))
		}
		for i := range before {
			if before[i] != after[i] {
				t.Fatalf("message %d changed", i)
			}
		}
	})
}

func TestPropertyMergePrefixSuperset(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ss := NewSlideshow(&fakeScheduler{}, 0, nil)
		base := rapid.IntRange(0, 10).Draw(t, "base")
		ss.Initialize(frames(base), "")
		ss.GoTo(rapid.IntRange(0, 10).Draw(t, "cursor"))

		steps := rapid.SliceOfN(rapid.IntRange(0, 5), 1, 5).Draw(t, "growth")
		n := base
		for _, g := range steps {
			n += g
			ss.Merge(frames(n), "")
			// Re-sending the same prefix must not duplicate.
			ss.Merge(frames(n), "")
		}

		got := ss.Frames()
		if ss.TotalCount() != len(got) || len(got) != n {
			t.Fatalf("total %d, frames %d, want %d", ss.TotalCount(), len(got), n)
		}
		seen := map[string]bool{}
		for _, f := range got {
			if seen[f.URL] {
				t.Fatalf("duplicate frame %s", f.URL)
			}
			seen[f.URL] = true
		}
	})
}

func TestPropertySelectionCardinality(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		sizes := rapid.SliceOfN(rapid.IntRange(0, 20), 1, 5).Draw(t, "sizes")
		var sel Selection
		sel.Open(selectionData(sizes...))

		ops := rapid.IntRange(0, 60).Draw(t, "ops")
		for i := 0; i < ops; i++ {
			src := rapid.IntRange(0, len(sizes)-1).Draw(t, "source")
			switch rapid.IntRange(0, 2).Draw(t, "op") {
			case 0:
				if sizes[src] == 0 {
					continue
				}
				q := rapid.IntRange(0, sizes[src]-1).Draw(t, "question")
				_, _ = sel.Toggle(fmt.Sprintf("s%d-q%d", src, q))
			case 1:
				_, _ = sel.SelectAllFromSource(fmt.Sprintf("s%d", src))
			case 2:
				_, _ = sel.DeselectAllFromSource(fmt.Sprintf("s%d", src))
			}
			if sel.Count() > MaxSelections {
				t.Fatalf("selection grew to %d", sel.Count())
			}
		}
	})
}

func TestPropertyDeselectSelectRestoresSource(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		target := rapid.IntRange(1, 10).Draw(t, "target")
		others := rapid.SliceOfN(rapid.IntRange(0, 5), 0, 4).Draw(t, "others")
		sizes := append([]int{target}, others...)

		var sel Selection
		sel.Open(selectionData(sizes...))

		_, _ = sel.DeselectAllFromSource("s0")
		for i := rapid.IntRange(0, 20).Draw(t, "ops"); i > 0 && len(others) > 0; i-- {
			src := rapid.IntRange(1, len(others)).Draw(t, "other")
			if rapid.Bool().Draw(t, "select") {
				_, _ = sel.SelectAllFromSource(fmt.Sprintf("s%d", src))
			} else {
				_, _ = sel.DeselectAllFromSource(fmt.Sprintf("s%d", src))
			}
		}
		if _, err := sel.SelectAllFromSource("s0"); err != nil {
			t.Fatalf("select all: %v", err)
		}

		for q := 0; q < target; q++ {
			if !sel.IsSelected(fmt.Sprintf("s0-q%d", q)) {
				t.Fatalf("question s0-q%d missing after restore", q)
			}
		}
	})
}

func TestPropertyAutoplaySingleTimer(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		sched := &fakeScheduler{}
		ss := NewSlideshow(sched, 0, nil)
		ss.Initialize(frames(3), "")

		for _, play := range rapid.SliceOf(rapid.Bool()).Draw(t, "toggles") {
			if play {
				ss.Play()
			} else {
				ss.Pause()
			}
			if n := sched.active(); n > 1 {
				t.Fatalf("%d active timers", n)
			}
		}
	})
}
