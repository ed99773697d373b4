// Package console is a line-oriented operator console: it renders session state
// to a terminal and turns typed lines into dispatcher calls.
package console

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ashureev/researchdeck/internal/protocol"
	"github.com/ashureev/researchdeck/internal/session"
)

// ErrQuit is returned by Execute for /quit.
var ErrQuit = errors.New("quit")

// ErrUnknownCommand is returned for an unrecognized slash command.
var ErrUnknownCommand = errors.New("unknown command")

// Op names one console action.
type Op string

const (
	OpChat     Op = "chat"
	OpContinue Op = "continue"
	OpRebrowse Op = "rebrowse"
	OpToggle   Op = "toggle"
	OpAll      Op = "all"
	OpNone     Op = "none"
	OpSubmit   Op = "submit"
	OpNext     Op = "next"
	OpPrev     Op = "prev"
	OpGoTo     Op = "goto"
	OpPlay     Op = "play"
	OpPause    Op = "pause"
	OpClose    Op = "close"
	OpGo       Op = "go"
	OpExtract  Op = "extract"
	OpHelp     Op = "help"
	OpQuit     Op = "quit"
)

// argRequired lists the ops that take exactly one argument string.
var argRequired = map[Op]bool{
	OpToggle: true, OpAll: true, OpNone: true, OpGoTo: true, OpGo: true, OpExtract: true,
}

var aliases = map[string]Op{
	"continue": OpContinue, "rebrowse": OpRebrowse, "toggle": OpToggle, "t": OpToggle,
	"all": OpAll, "none": OpNone, "submit": OpSubmit, "next": OpNext, "n": OpNext,
	"prev": OpPrev, "p": OpPrev, "goto": OpGoTo, "play": OpPlay, "pause": OpPause,
	"close": OpClose, "go": OpGo, "extract": OpExtract, "help": OpHelp, "?": OpHelp,
	"quit": OpQuit, "exit": OpQuit, "q": OpQuit,
}

// Command is one parsed input line.
type Command struct {
	Op  Op
	Arg string
}

// Parse turns a line into a Command. Lines not starting with "/" are chat; a
// doubled slash escapes a chat line that starts with "/".
func Parse(line string) (Command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Command{}, protocol.ErrEmptyCommand
	}
	if !strings.HasPrefix(line, "/") || strings.HasPrefix(line, "//") {
		if strings.HasPrefix(line, "//") {
			line = line[1:]
		}
		return Command{Op: OpChat, Arg: line}, nil
	}

	name, arg, _ := strings.Cut(line[1:], " ")
	op, ok := aliases[strings.ToLower(name)]
	if !ok {
		return Command{}, fmt.Errorf("%w: /%s", ErrUnknownCommand, name)
	}
	arg = strings.TrimSpace(arg)
	if argRequired[op] && arg == "" {
		return Command{}, fmt.Errorf("/%s needs an argument", name)
	}
	return Command{Op: op, Arg: arg}, nil
}

// Execute runs cmd against d. Selection and navigation failures are reported by
// the session as notices; the returned error is for the caller's log.
func Execute(ctx context.Context, d *session.Dispatcher, cmd Command) error {
	switch cmd.Op {
	case OpChat:
		return d.SendChat(ctx, cmd.Arg)
	case OpContinue:
		return d.Continue(ctx)
	case OpRebrowse:
		return d.Rebrowse(ctx)
	case OpSubmit:
		return d.SubmitSelection(ctx)
	case OpGo:
		return d.Navigate(ctx, cmd.Arg)
	case OpExtract:
		return d.Extract(ctx, cmd.Arg)
	case OpToggle:
		id := ResolveQuestion(d.Session().Snapshot().Selection.Data, cmd.Arg)
		_, err := d.Toggle(id)
		return err
	case OpAll:
		id := ResolveSource(d.Session().Snapshot().Selection.Data, cmd.Arg)
		_, err := d.SelectAllFromSource(id)
		return err
	case OpNone:
		id := ResolveSource(d.Session().Snapshot().Selection.Data, cmd.Arg)
		_, err := d.DeselectAllFromSource(id)
		return err
	case OpNext:
		d.Next()
	case OpPrev:
		d.Previous()
	case OpGoTo:
		n, err := strconv.Atoi(cmd.Arg)
		if err != nil || n < 1 {
			return fmt.Errorf("/goto needs a slide number, got %q", cmd.Arg)
		}
		d.GoTo(n - 1)
	case OpPlay:
		d.Play()
	case OpPause:
		d.Pause()
	case OpClose:
		d.CloseBrowser()
	case OpQuit:
		return ErrQuit
	case OpHelp:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Op)
	}
	return nil
}

// ResolveQuestion maps a 1-based question number, counted across sources in
// display order, to its id. Anything else is returned unchanged.
func ResolveQuestion(data *protocol.SelectionData, arg string) string {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || data == nil {
		return arg
	}
	for _, src := range data.Sources {
		if n <= len(src.Questions) {
			return src.Questions[n-1].ID
		}
		n -= len(src.Questions)
	}
	return arg
}

// ResolveSource maps a 1-based source number to its id. Anything else is
// returned unchanged.
func ResolveSource(data *protocol.SelectionData, arg string) string {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || data == nil || n > len(data.Sources) {
		return arg
	}
	return data.Sources[n-1].ID
}

// Help lists the slash commands.
const Help = `Commands:
  <text>            chat with the agent (start with // to send a leading slash)
  /go <url>         ask the agent to open a page
  /extract <goal>   ask the agent to extract from the current page
  /continue         resume without a selection
  /rebrowse         look for more sources
  /toggle <n|id>    toggle a question (numbers as listed)
  /all <n|id>       select every question of a source
  /none <n|id>      deselect every question of a source
  /submit           send the selected questions
  /next /prev       step through the slideshow
  /goto <n>         jump to slide n
  /play /pause      slideshow autoplay
  /close            hide the browser view
  /help             show this help
  /quit             leave the console`
