package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/supportchat/pkg/session"
)

// settledMsg carries the state after a submission completed.
type settledMsg struct {
	state session.State
}

type copiedMsg struct {
	err error
}

// Model is the chat widget. It renders the controller's state and forwards
// input edits and submissions to it.
type Model struct {
	ctx        context.Context
	controller *session.Controller
	logger     zerolog.Logger

	input   textinput.Model
	spinner spinner.Model
	state   session.State

	markdownStyle string
	copyFn        func(string) error
	status        string
	width         int
}

type Option func(*Model)

// WithMarkdownStyle sets the glamour style used for replies. An empty style
// prints replies verbatim.
func WithMarkdownStyle(style string) Option {
	return func(m *Model) {
		m.markdownStyle = style
	}
}

func WithClipboard(fn func(string) error) Option {
	return func(m *Model) {
		m.copyFn = fn
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(m *Model) {
		m.logger = logger
	}
}

func NewModel(ctx context.Context, controller *session.Controller, options ...Option) Model {
	ti := textinput.New()
	ti.Placeholder = placeholder
	ti.Prompt = "> "
	ti.Width = 60
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Line
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("63")).Bold(true)

	m := Model{
		ctx:           ctx,
		controller:    controller,
		logger:        log.Logger,
		input:         ti,
		spinner:       sp,
		state:         controller.State(),
		markdownStyle: "dark",
		copyFn:        clipboard.WriteAll,
		width:         80,
	}
	for _, opt := range options {
		opt(&m)
	}
	m.input.SetValue(m.state.InputText)
	return m
}

func waitForSettled(ch <-chan session.State) tea.Cmd {
	return func() tea.Msg {
		st, ok := <-ch
		if !ok {
			return nil
		}
		return settledMsg{state: st}
	}
}

func (m Model) copyReply(text string) tea.Cmd {
	fn := m.copyFn
	return func() tea.Msg {
		return copiedMsg{err: fn(text)}
	}
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// State returns the last state the model rendered.
func (m Model) State() session.State {
	return m.state
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch ev := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = ev.Width
		if ev.Width > 10 {
			m.input.Width = ev.Width - 10
		}
		return m, nil

	case tea.KeyMsg:
		switch ev.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			return m.submit()
		case tea.KeyCtrlY:
			if m.state.LastResponse == nil || m.copyFn == nil {
				return m, nil
			}
			return m, m.copyReply(m.state.LastResponse.Response)
		}
		if m.state.IsSubmitting {
			// the input is disabled while a submission is in flight
			return m, nil
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		m.controller.UpdateInput(m.input.Value())
		m.state = m.controller.State()
		m.status = ""
		return m, cmd

	case settledMsg:
		m.state = ev.state
		m.input.SetValue(m.state.InputText)
		m.input.CursorEnd()
		m.input.Focus()
		return m, nil

	case copiedMsg:
		if ev.err != nil {
			m.logger.Warn().Err(ev.err).Msg("failed to copy reply")
			m.status = "Could not copy reply"
		} else {
			m.status = "Reply copied to clipboard"
		}
		return m, nil

	case spinner.TickMsg:
		if !m.state.IsSubmitting {
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

func (m Model) submit() (tea.Model, tea.Cmd) {
	if m.state.IsSubmitting {
		return m, nil
	}
	m.controller.UpdateInput(m.input.Value())
	ch, err := m.controller.SubmitAsync(m.ctx)
	if err != nil {
		// refusals are silent
		m.logger.Debug().Err(err).Msg("submission refused")
		m.state = m.controller.State()
		return m, nil
	}
	m.state = m.controller.State()
	m.status = ""
	m.input.Blur()
	return m, tea.Batch(m.spinner.Tick, waitForSettled(ch))
}

func (m Model) View() string {
	var b strings.Builder
	wrap := lipgloss.NewStyle().Width(m.width)

	b.WriteString(headerStyle.Render(Title))
	b.WriteString("\n")
	b.WriteString(wrap.Render(subtitleStyle.Render(Subtitle)))
	b.WriteString("\n\n")

	b.WriteString(m.input.View())
	b.WriteString("  ")
	switch {
	case m.state.IsSubmitting:
		b.WriteString(busyStyle.Render(m.spinner.View() + " Sending…"))
	case m.state.CanSubmit():
		b.WriteString(buttonStyle.Render("Send"))
	default:
		b.WriteString(busyStyle.Render("Send"))
	}
	b.WriteString("\n\n")

	if m.state.LastError != nil {
		b.WriteString(errorStyle.Render(m.state.LastError.Message))
		b.WriteString("\n\n")
	}

	if r := m.state.LastResponse; r != nil {
		body := botStyle.Render(BotName) + "\n" + RenderMarkdown(r.Response, m.markdownStyle)
		if r.Route != "" {
			meta := "route: " + r.Route
			if r.Confidence != nil {
				meta += fmt.Sprintf(" (%.2f)", *r.Confidence)
			}
			body += "\n" + metaStyle.Render(meta)
		}
		b.WriteString(responseBox.Render(body))
		b.WriteString("\n\n")
	}

	if m.status != "" {
		b.WriteString(metaStyle.Render(m.status))
		b.WriteString("\n")
	}
	b.WriteString(helpStyle.Render("enter: send • ctrl+y: copy reply • esc: quit"))
	b.WriteString("\n")
	return b.String()
}
