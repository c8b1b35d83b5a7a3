package tui

import (
	"context"
	"errors"
	"strings"

	"document-qa/internal/session"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// replyMsg carries the result of a command run off the UI loop.
type replyMsg struct {
	reply Reply
}

// Model is the Bubble Tea model of the interactive terminal interface.
type Model struct {
	ctx  context.Context
	port Port

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	transcript []string
	status     string
	busy       bool
	ready      bool
}

func New(ctx context.Context, port Port) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = prompt(port.Status())
	ti.Focus()
	ti.CharLimit = 0

	sp := spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(busyStyle))

	return Model{
		ctx:      ctx,
		port:     port,
		input:    ti,
		viewport: viewport.New(0, 0),
		spinner:  sp,
		status:   "Enter the path of a document to process. Type :help for commands.",
	}
}

// Run starts the interactive program and blocks until the user quits or ctx
// is cancelled.
func Run(ctx context.Context, port Port) error {
	_, err := tea.NewProgram(New(ctx, port), tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, th := transcriptStyle.GetFrameSize()
		_, ih := inputStyle.GetFrameSize()
		// header, status line and the input row
		vh := msg.Height - 3 - th - ih
		m.viewport.Width = max(20, msg.Width-2)
		m.viewport.Height = max(3, vh)
		m.input.Width = max(10, msg.Width-6)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD:
			return m, tea.Quit
		case tea.KeyPgUp:
			m.viewport.HalfViewUp()
			return m, nil
		case tea.KeyPgDown:
			m.viewport.HalfViewDown()
			return m, nil
		case tea.KeyEnter:
			if m.busy {
				return m, nil
			}
			line := m.input.Value()
			cmd := ParseCommand(line, m.port.Status().Ready)
			switch cmd.Action {
			case ActionNone:
				return m, nil
			case ActionQuit:
				return m, tea.Quit
			}
			m.input.Reset()
			m.transcript = append(m.transcript, userStyle.Render("> "+strings.TrimSpace(line)))
			m.busy = true
			m.status = working(cmd)
			m.refresh()
			return m, tea.Batch(m.spinner.Tick, m.run(cmd))
		}

	case replyMsg:
		m.busy = false
		m.transcript = append(m.transcript, renderReply(msg.reply))
		st := m.port.Status()
		m.input.Placeholder = prompt(st)
		m.status = statusLine(st)
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := headerStyle.Render("Document Q&A")
	status := statusStyle.Render(m.status)
	if m.busy {
		status = m.spinner.View() + " " + status
	}
	return header + "\n" +
		transcriptStyle.Render(m.viewport.View()) + "\n" +
		inputStyle.Render(m.input.View()) + "\n" +
		status
}

// run executes cmd outside the UI loop.
func (m Model) run(cmd Command) tea.Cmd {
	ctx, port := m.ctx, m.port
	return func() tea.Msg {
		return replyMsg{reply: Execute(ctx, port, cmd)}
	}
}

func (m *Model) refresh() {
	if len(m.transcript) == 0 {
		m.viewport.SetContent(helpText)
		return
	}
	m.viewport.SetContent(lipgloss.NewStyle().Width(m.viewport.Width).Render(strings.Join(m.transcript, "\n\n")))
	m.viewport.GotoBottom()
}

func working(cmd Command) string {
	switch cmd.Action {
	case ActionOpen:
		return "Processing " + cmd.Arg + "..."
	case ActionAsk:
		return "Thinking..."
	case ActionLoad:
		return "Loading store..."
	case ActionSave:
		return "Saving store..."
	default:
		return "Working..."
	}
}

func statusLine(st session.Status) string {
	if !st.Ready {
		return "No document. Enter a path or :load a store."
	}
	return "Ready: " + st.Document + "  (PgUp/PgDn scroll, Ctrl+C quit)"
}

func renderReply(r Reply) string {
	if r.Err != nil {
		return errorStyle.Render(errorText(r.Err))
	}
	out := answerStyle.Render(r.Text)
	if len(r.Sources) > 0 {
		out += "\n\n" + sourceStyle.Render("Sources:\n"+formatSources(r.Sources))
	}
	return out
}

var (
	headerStyle     = lipgloss.NewStyle().Bold(true)
	transcriptStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	statusStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	busyStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	userStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	answerStyle     = lipgloss.NewStyle()
	sourceStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)
