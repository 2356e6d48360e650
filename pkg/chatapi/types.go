package chatapi

import (
	"strings"

	"github.com/pkg/errors"
)

// ErrEmptyMessage is returned by NewChatRequest for empty or whitespace-only text.
var ErrEmptyMessage = errors.New("message is empty")

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Message string `json:"message"`
}

// NewChatRequest trims text and refuses to build a request from blank input.
func NewChatRequest(text string) (ChatRequest, error) {
	msg := strings.TrimSpace(text)
	if msg == "" {
		return ChatRequest{}, ErrEmptyMessage
	}
	return ChatRequest{Message: msg}, nil
}

// ChatResponse is the assistant's reply. Route and Confidence are only set
// when the backend reports its routing decision.
type ChatResponse struct {
	Response   string   `json:"response"`
	Route      string   `json:"route,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// FailureKind classifies a normalized failure.
type FailureKind string

const (
	FailureTransport         FailureKind = "transport"
	FailureServer            FailureKind = "server"
	FailureMalformedResponse FailureKind = "malformed_response"
	FailureInternal          FailureKind = "internal"
)

const (
	// GenericFailureMessage is shown when the exchange never produced a response.
	GenericFailureMessage = "Request failed"
	// MalformedResponseMessage is shown when a 2xx body cannot be decoded into a reply.
	MalformedResponseMessage = "Invalid response from assistant"
)

// Failure is the normalized, user-facing description of a failed exchange.
// Err keeps the underlying cause for logging; it is never shown to the user.
type Failure struct {
	Kind       FailureKind
	Message    string
	StatusCode int
	Err        error
}

func (f *Failure) Error() string {
	if f == nil {
		return ""
	}
	return f.Message
}

func (f *Failure) Unwrap() error {
	if f == nil {
		return nil
	}
	return f.Err
}

// Result is the outcome of one exchange: exactly one of Response and Failure is set.
type Result struct {
	Response *ChatResponse
	Failure  *Failure
}

func (r Result) OK() bool {
	return r.Failure == nil && r.Response != nil
}

func success(resp *ChatResponse) Result {
	return Result{Response: resp}
}

func failure(kind FailureKind, status int, message string, err error) Result {
	return Result{Failure: &Failure{
		Kind:       kind,
		Message:    message,
		StatusCode: status,
		Err:        err,
	}}
}
