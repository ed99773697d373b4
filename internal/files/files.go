// Package files exposes the agent's export directory as read-only
// DownloadableFile metadata.
package files

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ashureev/researchdeck/internal/protocol"
)

// ErrInvalidName is returned for names that are empty, hidden, or escape the directory.
var ErrInvalidName = errors.New("invalid file name")

// ErrNotFound is returned when a named export does not exist.
var ErrNotFound = errors.New("file not found")

// Exports lists and opens files in one directory. Subdirectories are ignored.
type Exports struct {
	dir string
}

// NewExports creates the directory when missing.
func NewExports(dir string) (*Exports, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create exports directory: %w", err)
	}
	return &Exports{dir: dir}, nil
}

// Dir returns the export directory.
func (e *Exports) Dir() string { return e.dir }

// List returns every regular, non-hidden file, newest first.
func (e *Exports) List() ([]protocol.DownloadableFile, error) {
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		return nil, fmt.Errorf("read exports directory: %w", err)
	}

	out := make([]protocol.DownloadableFile, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, describe(e.dir, info))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Created.Equal(out[j].Created) {
			return out[i].Filename < out[j].Filename
		}
		return out[i].Created.After(out[j].Created)
	})
	return out, nil
}

// Open returns the named export and its metadata. The caller closes the file.
func (e *Exports) Open(name string) (*os.File, protocol.DownloadableFile, error) {
	if name == "" || strings.HasPrefix(name, ".") || name != filepath.Base(name) || strings.ContainsAny(name, `/\`) {
		return nil, protocol.DownloadableFile{}, ErrInvalidName
	}
	path := filepath.Join(e.dir, name)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, protocol.DownloadableFile{}, ErrNotFound
		}
		return nil, protocol.DownloadableFile{}, fmt.Errorf("open export: %w", err)
	}
	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		_ = f.Close()
		return nil, protocol.DownloadableFile{}, ErrNotFound
	}
	return f, describe(e.dir, info), nil
}

func describe(dir string, info fs.FileInfo) protocol.DownloadableFile {
	name := info.Name()
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	if ext == "" {
		ext = "file"
	}
	return protocol.DownloadableFile{
		Filename:    name,
		Filepath:    filepath.Join(dir, name),
		Type:        ext,
		Size:        info.Size(),
		Created:     info.ModTime(),
		DisplayName: displayName(name),
	}
}

// displayName turns "survey_questions-2024.csv" into "Survey Questions 2024".
func displayName(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	words := strings.FieldsFunc(base, func(r rune) bool { return r == '_' || r == '-' || r == ' ' })
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	if len(words) == 0 {
		return name
	}
	return strings.Join(words, " ")
}
