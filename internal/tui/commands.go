// Package tui is the terminal interface: a Bubble Tea program for
// interactive terminals and a line REPL for everything else. Both share the
// command set defined here.
package tui

import (
	"context"
	"fmt"
	"strings"

	"document-qa/internal/models"
	"document-qa/internal/session"
)

// Port is the terminal-facing subset of the session.
type Port interface {
	ProcessDocument(ctx context.Context, path string) (string, error)
	Ask(ctx context.Context, question string) (models.AnswerResult, error)
	SaveStore(name string) (string, error)
	LoadStore(ctx context.Context, name string) (string, error)
	ListStores() ([]string, error)
	Status() session.Status
}

type Action int

const (
	ActionNone Action = iota
	ActionAsk
	ActionOpen
	ActionSave
	ActionLoad
	ActionStores
	ActionHelp
	ActionQuit
	ActionUnknown
)

// Command is one parsed input line.
type Command struct {
	Action Action
	Arg    string
}

const helpText = `Commands:
  :open <path>   process a document
  :save [name]   save the vector store (default "default")
  :load [name]   load a saved vector store
  :stores        list saved stores
  :help          show this help
  :quit          exit
Anything else is a question about the current document.`

// ParseCommand interprets line. While no document is ready, a bare line is
// taken as the path of the document to open.
func ParseCommand(line string, ready bool) Command {
	line = strings.TrimSpace(line)
	if line == "" {
		return Command{Action: ActionNone}
	}
	switch strings.ToLower(line) {
	case "quit", "exit":
		return Command{Action: ActionQuit}
	}

	if !strings.HasPrefix(line, ":") {
		if !ready {
			return Command{Action: ActionOpen, Arg: unquote(line)}
		}
		return Command{Action: ActionAsk, Arg: line}
	}

	word, arg, _ := strings.Cut(line[1:], " ")
	arg = unquote(strings.TrimSpace(arg))
	switch strings.ToLower(word) {
	case "open", "o":
		if arg == "" {
			return Command{Action: ActionHelp}
		}
		return Command{Action: ActionOpen, Arg: arg}
	case "save":
		return Command{Action: ActionSave, Arg: arg}
	case "load":
		return Command{Action: ActionLoad, Arg: arg}
	case "stores", "ls":
		return Command{Action: ActionStores}
	case "help", "h", "?":
		return Command{Action: ActionHelp}
	case "quit", "q", "exit":
		return Command{Action: ActionQuit}
	default:
		return Command{Action: ActionUnknown, Arg: word}
	}
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

// Reply is the outcome of one command. Err keeps its kind until rendering.
type Reply struct {
	Text    string
	Sources []models.Citation
	Err     error
	Quit    bool
}

// Execute runs cmd against port.
func Execute(ctx context.Context, port Port, cmd Command) Reply {
	switch cmd.Action {
	case ActionNone:
		return Reply{}
	case ActionQuit:
		return Reply{Quit: true}
	case ActionHelp:
		return Reply{Text: helpText}
	case ActionUnknown:
		return Reply{Text: fmt.Sprintf("Unknown command :%s\n\n%s", cmd.Arg, helpText)}
	case ActionOpen:
		status, err := port.ProcessDocument(ctx, cmd.Arg)
		return Reply{Text: status, Err: err}
	case ActionAsk:
		res, err := port.Ask(ctx, cmd.Arg)
		return Reply{Text: res.Answer, Sources: res.Sources, Err: err}
	case ActionSave:
		dir, err := port.SaveStore(cmd.Arg)
		if err != nil {
			return Reply{Err: err}
		}
		return Reply{Text: "Vector store saved to " + dir}
	case ActionLoad:
		msg, err := port.LoadStore(ctx, cmd.Arg)
		return Reply{Text: msg, Err: err}
	case ActionStores:
		names, err := port.ListStores()
		if err != nil {
			return Reply{Err: err}
		}
		if len(names) == 0 {
			return Reply{Text: "No saved stores"}
		}
		return Reply{Text: "Saved stores: " + strings.Join(names, ", ")}
	default:
		return Reply{Err: fmt.Errorf("unhandled action %d", cmd.Action)}
	}
}

// errorText flattens err for display, naming its kind.
func errorText(err error) string {
	return fmt.Sprintf("Error [%s]: %v", models.ErrorKind(err), err)
}

// formatSources renders citations one per line.
func formatSources(sources []models.Citation) string {
	var b strings.Builder
	for i, s := range sources {
		fmt.Fprintf(&b, "[%d] %s, page %v\n    %s\n", i+1, s.Source, s.Page, s.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}

// prompt is the input hint for the current state.
func prompt(st session.Status) string {
	if !st.Ready {
		return "Document path"
	}
	return "Question about " + st.Document
}
