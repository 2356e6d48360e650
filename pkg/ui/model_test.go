package ui

import (
	"context"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/supportchat/pkg/chatapi"
	"github.com/go-go-golems/supportchat/pkg/session"
)

func newTestModel(t *testing.T, sender session.Sender, opts ...Option) Model {
	t.Helper()
	c := session.NewController(sender, session.WithLogger(zerolog.Nop()))
	opts = append([]Option{WithMarkdownStyle(""), WithLogger(zerolog.Nop())}, opts...)
	return NewModel(context.Background(), c, opts...)
}

func typeText(t *testing.T, m Model, text string) Model {
	t.Helper()
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(text)})
	return next.(Model)
}

func press(t *testing.T, m Model, k tea.KeyType) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(tea.KeyMsg{Type: k})
	return next.(Model), cmd
}

// collect runs cmd, flattening batches, and returns the messages produced.
func collect(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		var out []tea.Msg
		for _, c := range batch {
			out = append(out, collect(c)...)
		}
		return out
	}
	return []tea.Msg{msg}
}

func settle(t *testing.T, m Model, cmd tea.Cmd) Model {
	t.Helper()
	for _, msg := range collect(cmd) {
		if s, ok := msg.(settledMsg); ok {
			next, _ := m.Update(s)
			return next.(Model)
		}
	}
	t.Fatal("no settled message produced")
	return m
}

func reply(text string) session.SenderFunc {
	return func(ctx context.Context, req chatapi.ChatRequest) chatapi.Result {
		return chatapi.Result{Response: &chatapi.ChatResponse{Response: text, Route: "REFUND"}}
	}
}

func TestModel_InitialView(t *testing.T) {
	m := newTestModel(t, reply("x"))
	view := m.View()
	require.Contains(t, view, Title)
	require.Contains(t, view, "Send")
	require.NotContains(t, view, BotName)
}

func TestModel_TypingUpdatesController(t *testing.T) {
	m := newTestModel(t, reply("x"))
	m = typeText(t, m, "hello")
	require.Equal(t, "hello", m.State().InputText)
	require.True(t, m.State().CanSubmit())
}

func TestModel_SubmitSuccess(t *testing.T) {
	m := newTestModel(t, reply("Refunds take 5-7 days."))
	m = typeText(t, m, "Where is my refund?")

	m, cmd := press(t, m, tea.KeyEnter)
	require.NotNil(t, cmd)
	require.True(t, m.State().IsSubmitting)
	require.Contains(t, m.View(), "Sending…")

	m = settle(t, m, cmd)
	st := m.State()
	require.False(t, st.IsSubmitting)
	require.Equal(t, "", st.InputText)
	view := m.View()
	require.Contains(t, view, BotName)
	require.Contains(t, view, "Refunds take 5-7 days.")
	require.Contains(t, view, "route: REFUND")
	require.NotContains(t, view, "Sending…")
}

func TestModel_LongInputIsSentWhole(t *testing.T) {
	var got string
	echo := session.SenderFunc(func(ctx context.Context, req chatapi.ChatRequest) chatapi.Result {
		got = req.Message
		return chatapi.Result{Response: &chatapi.ChatResponse{Response: "ok"}}
	})
	m := newTestModel(t, echo)
	long := strings.Repeat("my order arrived broken ", 200)
	m = typeText(t, m, long)
	require.Equal(t, long, m.State().InputText)

	m, cmd := press(t, m, tea.KeyEnter)
	settle(t, m, cmd)
	require.Equal(t, strings.TrimSpace(long), got)
}

func TestModel_SubmitFailureKeepsInput(t *testing.T) {
	fail := session.SenderFunc(func(ctx context.Context, req chatapi.ChatRequest) chatapi.Result {
		return chatapi.Result{Failure: &chatapi.Failure{Kind: chatapi.FailureServer, StatusCode: 500, Message: "Internal error"}}
	})
	m := newTestModel(t, fail)
	m = typeText(t, m, "abc")

	m, cmd := press(t, m, tea.KeyEnter)
	m = settle(t, m, cmd)
	require.Equal(t, "abc", m.State().InputText)
	require.Contains(t, m.View(), "Internal error")
	require.NotContains(t, m.View(), BotName)
}

func TestModel_EnterOnBlankInputIsSilent(t *testing.T) {
	m := newTestModel(t, reply("x"))
	m = typeText(t, m, "   ")

	m, cmd := press(t, m, tea.KeyEnter)
	require.Nil(t, cmd)
	require.False(t, m.State().IsSubmitting)
	require.Nil(t, m.State().LastError)
}

func TestModel_InputDisabledWhileSubmitting(t *testing.T) {
	release := make(chan struct{})
	blocking := session.SenderFunc(func(ctx context.Context, req chatapi.ChatRequest) chatapi.Result {
		<-release
		return chatapi.Result{Response: &chatapi.ChatResponse{Response: "done"}}
	})
	m := newTestModel(t, blocking)
	m = typeText(t, m, "abc")
	m, cmd := press(t, m, tea.KeyEnter)

	m = typeText(t, m, "zzz")
	require.Equal(t, "abc", m.State().InputText)

	m, second := press(t, m, tea.KeyEnter)
	require.Nil(t, second)

	close(release)
	m = settle(t, m, cmd)
	require.Equal(t, "done", m.State().LastResponse.Response)
}

func TestModel_CopyReply(t *testing.T) {
	var copied string
	m := newTestModel(t, reply("copy me"), WithClipboard(func(s string) error {
		copied = s
		return nil
	}))

	_, cmd := press(t, m, tea.KeyCtrlY)
	require.Nil(t, cmd)

	m = typeText(t, m, "q")
	m, submit := press(t, m, tea.KeyEnter)
	m = settle(t, m, submit)

	m, cmd = press(t, m, tea.KeyCtrlY)
	require.NotNil(t, cmd)
	next, _ := m.Update(cmd())
	m = next.(Model)
	require.Equal(t, "copy me", copied)
	require.Contains(t, m.View(), "Reply copied")
}

func TestModel_CopyFailureIsReported(t *testing.T) {
	m := newTestModel(t, reply("x"), WithClipboard(func(string) error {
		return errors.New("no clipboard")
	}))
	m = typeText(t, m, "q")
	m, submit := press(t, m, tea.KeyEnter)
	m = settle(t, m, submit)

	m, cmd := press(t, m, tea.KeyCtrlY)
	next, _ := m.Update(cmd())
	require.Contains(t, next.(Model).View(), "Could not copy reply")
}

func TestModel_QuitKeys(t *testing.T) {
	m := newTestModel(t, reply("x"))
	_, cmd := press(t, m, tea.KeyEsc)
	require.NotNil(t, cmd)
	require.IsType(t, tea.QuitMsg{}, cmd())
}

func TestRenderMarkdown(t *testing.T) {
	require.Equal(t, "plain *text*", RenderMarkdown("plain *text*", ""))
	out := RenderMarkdown("Refunds take **5-7** days.", "notty")
	require.Contains(t, out, "Refunds take")
	require.Contains(t, out, "days.")
}
