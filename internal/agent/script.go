package agent

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ashureev/researchdeck/internal/protocol"
)

//go:embed default_script.yaml
var defaultScript []byte

// Script is a set of canned responses keyed by command kind. Steps use the wire
// field names of the envelope they produce.
type Script struct {
	Routes []Route `yaml:"routes"`
}

// Route answers tasks whose kind and content match.
type Route struct {
	// Kind restricts the route to one command kind; empty matches any.
	Kind protocol.CommandKind `yaml:"kind"`
	// Contains restricts the route to content holding this substring.
	Contains string `yaml:"contains"`
	Steps    []Step `yaml:"steps"`
}

// Step is one scripted emission. Exactly one of Stream, Delay or an envelope
// (a map with a "type" key) is expected.
type Step struct {
	// Stream expands into a start, one chunk per word and an end.
	Stream string `yaml:"stream"`
	// Delay pauses the script.
	Delay time.Duration `yaml:"delay"`
	// Envelope is emitted as-is after template expansion.
	Envelope map[string]any `yaml:"envelope"`
}

// ParseScript decodes a YAML script.
func ParseScript(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	if len(s.Routes) == 0 {
		return nil, fmt.Errorf("parse script: no routes")
	}
	for i, r := range s.Routes {
		for j, step := range r.Steps {
			if step.Envelope != nil {
				if _, ok := step.Envelope["type"]; !ok {
					return nil, fmt.Errorf("parse script: route %d step %d: envelope without type", i, j)
				}
			}
		}
	}
	return &s, nil
}

// LoadScript reads a script file, or the built-in script when path is empty.
func LoadScript(path string) (*Script, error) {
	if path == "" {
		return ParseScript(defaultScript)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return ParseScript(data)
}

func (s *Script) route(task Task) (Route, bool) {
	kind := task.Kind()
	for _, r := range s.Routes {
		if r.Kind != "" && r.Kind != kind {
			continue
		}
		if r.Contains != "" && !strings.Contains(strings.ToLower(task.Content), strings.ToLower(r.Contains)) {
			continue
		}
		return r, true
	}
	return Route{}, false
}

// ScriptProcessor replays a Script. It stands in for the browsing agent in
// development and tests.
type ScriptProcessor struct {
	script *Script
	cfg    Config
	logger *slog.Logger
}

// NewScriptProcessor creates a processor for script.
func NewScriptProcessor(script *Script, cfg Config, logger *slog.Logger) *ScriptProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &ScriptProcessor{script: script, cfg: cfg, logger: logger}
}

// Ready always succeeds.
func (p *ScriptProcessor) Ready(context.Context) error { return nil }

// Close is a no-op.
func (p *ScriptProcessor) Close() {}

// Run replays the first route matching task.
func (p *ScriptProcessor) Run(ctx context.Context, task Task) iter.Seq2[*protocol.Envelope, error] {
	return func(yield func(*protocol.Envelope, error) bool) {
		r, ok := p.script.route(task)
		if !ok {
			yield(&protocol.Envelope{Type: protocol.TypeAgentMessage, Content: "I don't know how to handle that yet."}, nil)
			return
		}
		p.logger.Debug("Replaying script route", "kind", r.Kind, "contains", r.Contains, "steps", len(r.Steps))

		vars := templateVars(task)
		if err := p.pause(ctx, p.cfg.ThinkPause); err != nil {
			yield(nil, err)
			return
		}
		for i, step := range r.Steps {
			switch {
			case step.Delay > 0:
				if err := p.pause(ctx, step.Delay); err != nil {
					yield(nil, err)
					return
				}
			case step.Stream != "":
				if !p.stream(ctx, expand(step.Stream, vars), yield) {
					return
				}
			case step.Envelope != nil:
				env, err := buildEnvelope(step.Envelope, vars)
				if err != nil {
					yield(nil, fmt.Errorf("step %d: %w", i, err))
					return
				}
				if !yield(env, nil) {
					return
				}
			}
		}
	}
}

func (p *ScriptProcessor) stream(ctx context.Context, text string, yield func(*protocol.Envelope, error) bool) bool {
	if !yield(&protocol.Envelope{Type: protocol.TypeStreamStart}, nil) {
		return false
	}
	words := strings.SplitAfter(text, " ")
	for _, w := range words {
		if w == "" {
			continue
		}
		if err := p.pause(ctx, p.cfg.TypingSpeed); err != nil {
			yield(nil, err)
			return false
		}
		if !yield(&protocol.Envelope{Type: protocol.TypeStreamChunk, Content: w}, nil) {
			return false
		}
	}
	return yield(&protocol.Envelope{Type: protocol.TypeStreamEnd}, nil)
}

func (p *ScriptProcessor) pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func templateVars(task Task) map[string]string {
	vars := map[string]string{
		"content":        task.Content,
		"selected_count": "0",
	}
	if sub, ok := (protocol.Command{Content: task.Content}).Selection(); ok {
		vars["selected_count"] = fmt.Sprint(len(sub.SelectedQuestions))
	}
	return vars
}

func expand(s string, vars map[string]string) string {
	for k, v := range vars {
		s = strings.ReplaceAll(s, "{{"+k+"}}", v)
	}
	return s
}

// buildEnvelope expands templates in every string of the step and decodes it
// through the wire codec.
func buildEnvelope(step map[string]any, vars map[string]string) (*protocol.Envelope, error) {
	raw, err := json.Marshal(expandValue(step, vars))
	if err != nil {
		return nil, fmt.Errorf("encode step: %w", err)
	}
	env, err := protocol.Decode(raw)
	if err != nil {
		return nil, err
	}
	return &env, nil
}

func expandValue(v any, vars map[string]string) any {
	switch t := v.(type) {
	case string:
		return expand(t, vars)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = expandValue(val, vars)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = expandValue(val, vars)
		}
		return out
	default:
		return v
	}
}
