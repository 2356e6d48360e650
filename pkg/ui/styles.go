package ui

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

const (
	Title    = "Bloom Supplements Customer Support"
	Subtitle = "Chat to BloomBot: ask questions about refunds, returns or what to do if you didn't like your order."
	BotName  = "BloomBot:"

	placeholder = "How can we help you?"
)

var (
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	subtitleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("246"))
	buttonStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("238")).Padding(0, 1)
	busyStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("246")).Background(lipgloss.Color("240")).Padding(0, 1)
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	botStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("118"))
	metaStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("246"))
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	responseBox   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1)
)

// DetectMarkdownStyle picks the glamour style matching the terminal background.
func DetectMarkdownStyle() string {
	if !termenv.HasDarkBackground() {
		return "light"
	}
	return "dark"
}

// RenderMarkdown renders an assistant reply, falling back to the raw text
// when glamour cannot render it.
func RenderMarkdown(text, style string) string {
	if style == "" {
		return text
	}
	out, err := glamour.Render(text, style)
	if err != nil {
		return text
	}
	return strings.Trim(out, "\n")
}
