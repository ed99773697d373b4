package files

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name string, mod time.Time) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("q1,q2\n"), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	if err := os.Chtimes(path, mod, mod); err != nil {
		t.Fatalf("chtimes %s: %v", name, err)
	}
}

func TestListNewestFirst(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	writeFile(t, dir, "older_export.csv", now.Add(-time.Hour))
	writeFile(t, dir, "survey_questions-2024.json", now)
	writeFile(t, dir, ".hidden", now)
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0755); err != nil {
		t.Fatal(err)
	}

	exp, err := NewExports(dir)
	if err != nil {
		t.Fatalf("NewExports failed: %v", err)
	}
	list, err := exp.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 files, got %d", len(list))
	}
	first := list[0]
	if first.Filename != "survey_questions-2024.json" || first.Type != "json" || first.Size != 6 {
		t.Fatalf("unexpected first file: %+v", first)
	}
	if first.DisplayName != "Survey Questions 2024" {
		t.Fatalf("unexpected display name %q", first.DisplayName)
	}
}

func TestOpenRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	exp, _ := NewExports(filepath.Join(dir, "exports"))
	writeFile(t, dir, "secret.txt", time.Now())

	for _, name := range []string{"", "../secret.txt", "..", ".env", `a\b`} {
		if _, _, err := exp.Open(name); !errors.Is(err, ErrInvalidName) {
			t.Errorf("Open(%q): expected ErrInvalidName, got %v", name, err)
		}
	}
	if _, _, err := exp.Open("missing.csv"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestOpenReturnsMetadata(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "report.csv", time.Now())
	exp, _ := NewExports(dir)

	f, meta, err := exp.Open("report.csv")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer f.Close()
	if meta.Type != "csv" || meta.Filepath != filepath.Join(dir, "report.csv") {
		t.Fatalf("unexpected metadata: %+v", meta)
	}
}
