package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/supportchat/pkg/chatapi"
	"github.com/go-go-golems/supportchat/pkg/events"
)

var (
	// ErrEmptyInput is returned when Submit is called with blank input.
	ErrEmptyInput = errors.New("input is empty")
	// ErrSubmitting is returned when Submit is called while a submission is in flight.
	ErrSubmitting = errors.New("a submission is already in flight")
)

// Sender performs one exchange with the assistant. *chatapi.Client implements it.
type Sender interface {
	Send(ctx context.Context, req chatapi.ChatRequest) chatapi.Result
}

type SenderFunc func(ctx context.Context, req chatapi.ChatRequest) chatapi.Result

func (f SenderFunc) Send(ctx context.Context, req chatapi.ChatRequest) chatapi.Result {
	return f(ctx, req)
}

var _ Sender = (*chatapi.Client)(nil)

// Controller owns a session's State and sequences its submissions. At most
// one submission is in flight at any time. It is safe for concurrent use.
type Controller struct {
	mu    sync.Mutex
	state State

	sender    Sender
	sink      events.Sink
	logger    zerolog.Logger
	sessionID string
}

type Option func(*Controller)

func WithEventSink(sink events.Sink) Option {
	return func(c *Controller) {
		c.sink = sink
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

func WithSessionID(id string) Option {
	return func(c *Controller) {
		if id != "" {
			c.sessionID = id
		}
	}
}

func NewController(sender Sender, options ...Option) *Controller {
	c := &Controller{
		sender:    sender,
		logger:    log.Logger,
		sessionID: uuid.NewString(),
	}
	for _, opt := range options {
		opt(c)
	}
	c.logger = c.logger.With().Str("session_id", c.sessionID).Logger()
	return c
}

func (c *Controller) SessionID() string {
	return c.sessionID
}

// State returns a snapshot of the session state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// UpdateInput replaces the input text. It neither validates nor clears the
// last response or error.
func (c *Controller) UpdateInput(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.InputText = text
}

// Submit sends the current input and blocks until the exchange settles. It
// returns ErrEmptyInput or ErrSubmitting, without touching the state, when
// the submission is refused.
func (c *Controller) Submit(ctx context.Context) (State, error) {
	req, err := c.begin(ctx)
	if err != nil {
		return c.State(), err
	}
	return c.run(ctx, req), nil
}

// SubmitAsync accepts or refuses the submission synchronously and runs the
// exchange on its own goroutine. The channel yields the settled state once
// and is then closed.
func (c *Controller) SubmitAsync(ctx context.Context) (<-chan State, error) {
	req, err := c.begin(ctx)
	if err != nil {
		return nil, err
	}
	ch := make(chan State, 1)
	go func() {
		defer close(ch)
		ch <- c.run(ctx, req)
	}()
	return ch, nil
}

func (c *Controller) begin(ctx context.Context) (chatapi.ChatRequest, error) {
	c.mu.Lock()
	if c.state.IsSubmitting {
		c.mu.Unlock()
		c.logger.Debug().Msg("submit refused: submission in flight")
		c.emitRejected(ctx, "in_flight")
		return chatapi.ChatRequest{}, ErrSubmitting
	}
	req, err := chatapi.NewChatRequest(c.state.InputText)
	if err != nil {
		c.mu.Unlock()
		c.logger.Debug().Msg("submit refused: empty input")
		c.emitRejected(ctx, "empty_input")
		return chatapi.ChatRequest{}, ErrEmptyInput
	}
	c.state.IsSubmitting = true
	c.state.LastError = nil
	c.state.LastResponse = nil
	c.mu.Unlock()

	c.logger.Debug().Int("length", len(req.Message)).Msg("submission started")
	e := events.NewEvent(events.EventSubmissionStarted, c.sessionID)
	e.Message = req.Message
	c.emit(ctx, e)
	return req, nil
}

// run performs the exchange. The deferred settle clears IsSubmitting on every
// path, including a panicking sender.
func (c *Controller) run(ctx context.Context, req chatapi.ChatRequest) (settled State) {
	start := time.Now()
	var res chatapi.Result
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Msg("sender panicked")
			res = chatapi.Result{Failure: &chatapi.Failure{
				Kind:    chatapi.FailureInternal,
				Message: chatapi.GenericFailureMessage,
				Err:     errors.Errorf("sender panicked: %v", r),
			}}
		}
		settled = c.settle(ctx, req, res, time.Since(start))
	}()

	res = c.sender.Send(ctx, req)
	return
}

func (c *Controller) settle(ctx context.Context, req chatapi.ChatRequest, res chatapi.Result, elapsed time.Duration) State {
	c.mu.Lock()
	c.state.IsSubmitting = false
	if res.OK() {
		c.state.LastResponse = res.Response
		c.state.LastError = nil
		c.state.InputText = ""
	} else {
		f := res.Failure
		if f == nil {
			f = &chatapi.Failure{
				Kind:    chatapi.FailureInternal,
				Message: chatapi.GenericFailureMessage,
				Err:     errors.New("sender returned an empty result"),
			}
		}
		c.state.LastError = f
		c.state.LastResponse = nil
	}
	snapshot := c.state.clone()
	c.mu.Unlock()

	if snapshot.LastResponse != nil {
		c.logger.Info().Dur("elapsed", elapsed).Str("route", snapshot.LastResponse.Route).Msg("submission succeeded")
		e := events.NewEvent(events.EventSubmissionSucceeded, c.sessionID)
		e.Message = req.Message
		e.Response = snapshot.LastResponse.Response
		e.Route = snapshot.LastResponse.Route
		e.DurationMs = elapsed.Milliseconds()
		c.emit(ctx, e)
	} else {
		f := snapshot.LastError
		c.logger.Warn().Err(f.Err).Str("kind", string(f.Kind)).Int("status", f.StatusCode).Dur("elapsed", elapsed).Msg("submission failed")
		e := events.NewEvent(events.EventSubmissionFailed, c.sessionID)
		e.Message = req.Message
		e.Error = f.Message
		e.ErrorKind = string(f.Kind)
		e.StatusCode = f.StatusCode
		e.DurationMs = elapsed.Milliseconds()
		c.emit(ctx, e)
	}
	return snapshot
}

func (c *Controller) emitRejected(ctx context.Context, reason string) {
	e := events.NewEvent(events.EventSubmissionRejected, c.sessionID)
	e.Reason = reason
	c.emit(ctx, e)
}

func (c *Controller) emit(ctx context.Context, e events.Event) {
	if c.sink == nil {
		return
	}
	if err := c.sink.PublishEvent(context.WithoutCancel(ctx), e); err != nil {
		c.logger.Warn().Err(err).Str("event", string(e.Type)).Msg("failed to publish session event")
	}
}
