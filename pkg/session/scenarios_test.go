package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/supportchat/pkg/chatapi"
)

func newClientController(t *testing.T, handler http.HandlerFunc) *Controller {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := chatapi.NewClient(srv.URL,
		chatapi.WithHTTPClient(srv.Client()),
		chatapi.WithLogger(zerolog.Nop()),
	)
	require.NoError(t, err)
	return newTestController(client)
}

func TestScenario_SuccessfulQuestion(t *testing.T) {
	c := newClientController(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"response":"Refunds take 5-7 days."}`))
	})
	c.UpdateInput("Where is my refund?")

	st, err := c.Submit(context.Background())
	require.NoError(t, err)
	require.Equal(t, "", st.InputText)
	require.Equal(t, "Refunds take 5-7 days.", st.LastResponse.Response)
	require.Nil(t, st.LastError)
	require.False(t, st.IsSubmitting)
}

func TestScenario_ServerErrorWithDetail(t *testing.T) {
	c := newClientController(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"detail":"Internal error"}`))
	})
	c.UpdateInput("abc")

	st, err := c.Submit(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Internal error", st.LastError.Message)
	require.Equal(t, "abc", st.InputText)
	require.Nil(t, st.LastResponse)
	require.False(t, st.IsSubmitting)
}

func TestScenario_ServerErrorWithoutDetail(t *testing.T) {
	c := newClientController(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`<html>down</html>`))
	})
	c.UpdateInput("abc")

	st, err := c.Submit(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Service Unavailable", st.LastError.Message)
	require.Equal(t, 503, st.LastError.StatusCode)
}

func TestScenario_WhitespaceNeverReachesServer(t *testing.T) {
	hits := make(chan struct{}, 1)
	c := newClientController(t, func(w http.ResponseWriter, r *http.Request) {
		hits <- struct{}{}
	})
	c.UpdateInput("   ")

	st, err := c.Submit(context.Background())
	require.ErrorIs(t, err, ErrEmptyInput)
	require.Equal(t, State{InputText: "   "}, st)
	require.Len(t, hits, 0)
}

func TestScenario_DoubleSubmitSendsOnce(t *testing.T) {
	release := make(chan struct{})
	hits := make(chan struct{}, 4)
	c := newClientController(t, func(w http.ResponseWriter, r *http.Request) {
		hits <- struct{}{}
		<-release
		_, _ = w.Write([]byte(`{"response":"ok"}`))
	})
	c.UpdateInput("abc")

	ch, err := c.SubmitAsync(context.Background())
	require.NoError(t, err)
	<-hits

	_, err = c.Submit(context.Background())
	require.ErrorIs(t, err, ErrSubmitting)

	close(release)
	st := <-ch
	require.Equal(t, "ok", st.LastResponse.Response)
	require.Len(t, hits, 0)
}

func TestScenario_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	client, err := chatapi.NewClient(srv.URL, chatapi.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	srv.Close()

	c := newTestController(client)
	c.UpdateInput("abc")
	st, err := c.Submit(context.Background())
	require.NoError(t, err)
	require.Equal(t, chatapi.GenericFailureMessage, st.LastError.Message)
	require.Equal(t, "abc", st.InputText)
}
