package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Literal commands understood by the agent.
const (
	CommandContinue = "Continue"
	CommandRebrowse = "Rebrowse"
)

// CommandKind classifies outbound command content.
type CommandKind string

const (
	KindChat      CommandKind = "chat"
	KindContinue  CommandKind = "continue"
	KindRebrowse  CommandKind = "rebrowse"
	KindSelection CommandKind = "selection"
)

// ErrEmptyCommand is returned when a command has no content.
var ErrEmptyCommand = errors.New("command content is empty")

// Command is the only outbound frame shape: {"content": "..."}.
type Command struct {
	Content string `json:"content"`
}

// SelectionSubmission is JSON-encoded into Command.Content when submitting questions.
type SelectionSubmission struct {
	SelectedQuestions []string `json:"selected_questions"`
}

// ChatCommand wraps free text.
func ChatCommand(text string) Command {
	return Command{Content: text}
}

// ContinueCommand resumes the agent without a selection.
func ContinueCommand() Command {
	return Command{Content: CommandContinue}
}

// RebrowseCommand asks the agent to find more sources.
func RebrowseCommand() Command {
	return Command{Content: CommandRebrowse}
}

// SelectionCommand encodes the selected question ids into a command.
func SelectionCommand(ids []string) (Command, error) {
	if len(ids) == 0 {
		return Command{}, ErrEmptyCommand
	}
	data, err := json.Marshal(SelectionSubmission{SelectedQuestions: ids})
	if err != nil {
		return Command{}, fmt.Errorf("encode selection: %w", err)
	}
	return Command{Content: string(data)}, nil
}

// Validate rejects blank commands.
func (c Command) Validate() error {
	if strings.TrimSpace(c.Content) == "" {
		return ErrEmptyCommand
	}
	return nil
}

// Kind classifies the command content.
func (c Command) Kind() CommandKind {
	trimmed := strings.TrimSpace(c.Content)
	switch trimmed {
	case CommandContinue:
		return KindContinue
	case CommandRebrowse:
		return KindRebrowse
	}
	if _, ok := c.Selection(); ok {
		return KindSelection
	}
	return KindChat
}

// Selection decodes a selection submission carried in the content.
func (c Command) Selection() (SelectionSubmission, bool) {
	trimmed := strings.TrimSpace(c.Content)
	if !strings.HasPrefix(trimmed, "{") {
		return SelectionSubmission{}, false
	}
	var sub SelectionSubmission
	if err := json.Unmarshal([]byte(trimmed), &sub); err != nil || sub.SelectedQuestions == nil {
		return SelectionSubmission{}, false
	}
	return sub, true
}
