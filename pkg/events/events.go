package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Topic is the watermill topic (and Redis stream) submission events are published on.
const Topic = "supportchat.session"

type EventType string

const (
	EventSubmissionStarted   EventType = "submission.started"
	EventSubmissionSucceeded EventType = "submission.succeeded"
	EventSubmissionFailed    EventType = "submission.failed"
	EventSubmissionRejected  EventType = "submission.rejected"
)

// Event describes one step of a submission's lifecycle.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	SessionID  string    `json:"session_id"`
	Message    string    `json:"message,omitempty"`
	Response   string    `json:"response,omitempty"`
	Route      string    `json:"route,omitempty"`
	Error      string    `json:"error,omitempty"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	StatusCode int       `json:"status_code,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	DurationMs int64     `json:"duration_ms,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewEvent stamps a fresh ID and timestamp.
func NewEvent(t EventType, sessionID string) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
	}
}

// Sink receives lifecycle events. Implementations must not block for long:
// they are called from the submission path.
type Sink interface {
	PublishEvent(ctx context.Context, e Event) error
}

type SinkFunc func(ctx context.Context, e Event) error

func (f SinkFunc) PublishEvent(ctx context.Context, e Event) error {
	return f(ctx, e)
}

// WatermillSink publishes events as JSON watermill messages.
type WatermillSink struct {
	publisher message.Publisher
	topic     string
}

var _ Sink = (*WatermillSink)(nil)

func NewWatermillSink(publisher message.Publisher, topic string) *WatermillSink {
	if topic == "" {
		topic = Topic
	}
	return &WatermillSink{publisher: publisher, topic: topic}
}

func (s *WatermillSink) PublishEvent(ctx context.Context, e Event) error {
	if s == nil || s.publisher == nil {
		return nil
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}
	msg := message.NewMessage(e.ID, payload)
	msg.SetContext(ctx)
	msg.Metadata.Set("type", string(e.Type))
	msg.Metadata.Set("session_id", e.SessionID)
	if err := s.publisher.Publish(s.topic, msg); err != nil {
		return errors.Wrapf(err, "publish %s", e.Type)
	}
	return nil
}

// DecodeEvent parses a message produced by WatermillSink.
func DecodeEvent(msg *message.Message) (Event, error) {
	var e Event
	if msg == nil {
		return e, errors.New("nil message")
	}
	if err := json.Unmarshal(msg.Payload, &e); err != nil {
		return e, errors.Wrap(err, "unmarshal event")
	}
	return e, nil
}

// Consume reads events from sub until ctx is done or the subscription closes.
// Messages that fail to decode are acked and skipped; an error from fn nacks
// the message and stops consumption.
func Consume(ctx context.Context, sub message.Subscriber, topic string, fn func(Event) error) error {
	if topic == "" {
		topic = Topic
	}
	msgs, err := sub.Subscribe(ctx, topic)
	if err != nil {
		return errors.Wrapf(err, "subscribe %s", topic)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			e, err := DecodeEvent(msg)
			if err != nil {
				msg.Ack()
				continue
			}
			if err := fn(e); err != nil {
				msg.Nack()
				return err
			}
			msg.Ack()
		}
	}
}

// Tap subscribes to topic before returning and hands every decoded event to
// fn on a background goroutine until ctx is done or the subscriber closes.
func Tap(ctx context.Context, sub message.Subscriber, topic string, fn func(Event)) error {
	if topic == "" {
		topic = Topic
	}
	msgs, err := sub.Subscribe(ctx, topic)
	if err != nil {
		return errors.Wrapf(err, "subscribe %s", topic)
	}
	go func() {
		for msg := range msgs {
			e, err := DecodeEvent(msg)
			msg.Ack()
			if err == nil {
				fn(e)
			}
		}
	}()
	return nil
}
