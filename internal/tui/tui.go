package tui

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/sokinpui/patchdispatch/internal/app"
	"github.com/sokinpui/patchdispatch/model"
)

// --- Styles ---
var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("78"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("197"))
	pathStyle    = lipgloss.NewStyle()
	faintStyle   = lipgloss.NewStyle().Faint(true)
)

// Action is the work shown behind the spinner.
type Action func() (model.Summary, error)

// --- Messages ---
type summaryMsg struct {
	model.Summary
}

type errorMsg struct {
	summary model.Summary
	err     error
}

// --- Model ---
type Model struct {
	action  Action
	label   string
	spinner spinner.Model
	state   state
	summary model.Summary
	err     error
}

type state int

const (
	stateProcessing state = iota
	stateSummary
	stateError
)

func New(label string, action Action) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	return Model{
		action:  action,
		label:   label,
		spinner: s,
		state:   stateProcessing,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.run)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case summaryMsg:
		m.state = stateSummary
		m.summary = msg.Summary
		return m, tea.Quit

	case errorMsg:
		m.state = stateError
		m.summary = msg.summary
		m.err = msg.err
		return m, tea.Quit

	default:
		var cmd tea.Cmd
		if m.state == stateProcessing {
			m.spinner, cmd = m.spinner.Update(msg)
		}
		return m, cmd
	}
	return m, nil
}

func (m Model) View() string {
	switch m.state {
	case stateProcessing:
		return fmt.Sprintf("%s %s...", m.spinner.View(), m.label)
	case stateError:
		return m.renderSummary() + errorStyle.Render("Error: "+m.err.Error()) + "\n"
	case stateSummary:
		return m.renderSummary()
	default:
		return ""
	}
}

func section(b *strings.Builder, style lipgloss.Style, title string, files []string) bool {
	if len(files) == 0 {
		return false
	}
	b.WriteString(style.Render(title))
	b.WriteString("\n")
	for _, f := range files {
		b.WriteString(fmt.Sprintf("  %s\n", pathStyle.Render(f)))
	}
	return true
}

func (m *Model) renderSummary() string {
	var b strings.Builder

	if m.summary.Message != "" {
		b.WriteString(headerStyle.Render(m.summary.Message))
		b.WriteString("\n\n")
	}

	hasContent := false
	hasContent = section(&b, successStyle, "Created:", m.summary.Created) || hasContent
	hasContent = section(&b, successStyle, "Modified:", m.summary.Modified) || hasContent
	hasContent = section(&b, successStyle, "Deleted:", m.summary.Deleted) || hasContent
	hasContent = section(&b, faintStyle, "Already absent:", m.summary.Unchanged) || hasContent
	hasContent = section(&b, successStyle, "Reverted:", m.summary.Reverted) || hasContent
	hasContent = section(&b, warningStyle, "Skipped:", m.summary.Skipped) || hasContent
	hasContent = section(&b, errorStyle, "Failed:", m.summary.Failed) || hasContent

	if !hasContent && m.summary.Message == "" && m.state != stateError {
		b.WriteString(faintStyle.Render("Nothing to do."))
		b.WriteString("\n")
	}

	return b.String()
}

func (m Model) run() tea.Msg {
	summary, err := m.action()
	if err != nil {
		return errorMsg{summary: summary, err: err}
	}
	return summaryMsg{Summary: summary}
}

// Run shows a spinner while action runs, then renders its summary. The
// action's result is returned unchanged.
func Run(label string, action Action, opts ...tea.ProgramOption) (model.Summary, error) {
	opts = append([]tea.ProgramOption{tea.WithOutput(os.Stderr)}, opts...)
	final, err := tea.NewProgram(New(label, action), opts...).Run()
	if err != nil {
		return model.Summary{}, fmt.Errorf("tui: %w", err)
	}
	m := final.(Model)

	var detailed *app.DetailedError
	if errors.As(m.err, &detailed) {
		// The TUI has exited, so the stack trace can go to stderr.
		fmt.Fprintf(os.Stderr, "\n--- Stack Trace ---\n%s\n", detailed.Stack)
	}
	if m.state == stateProcessing {
		return model.Summary{}, errors.New("interrupted")
	}
	return m.summary, m.err
}
