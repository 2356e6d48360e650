package session

import (
	"github.com/go-go-golems/supportchat/pkg/chatapi"
)

// Phase is the submission state machine position derived from a State.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSubmitting
	PhaseSettledSuccess
	PhaseSettledError
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSubmitting:
		return "submitting"
	case PhaseSettledSuccess:
		return "settled(success)"
	case PhaseSettledError:
		return "settled(error)"
	default:
		return "unknown"
	}
}

// State is the widget's session state. LastResponse and LastError are never
// both set, and IsSubmitting is only true while an exchange is in flight.
type State struct {
	InputText    string
	LastResponse *chatapi.ChatResponse
	IsSubmitting bool
	LastError    *chatapi.Failure
}

func (s State) Phase() Phase {
	switch {
	case s.IsSubmitting:
		return PhaseSubmitting
	case s.LastError != nil:
		return PhaseSettledError
	case s.LastResponse != nil:
		return PhaseSettledSuccess
	default:
		return PhaseIdle
	}
}

// CanSubmit mirrors the submit guards so a UI can disable its send control.
func (s State) CanSubmit() bool {
	if s.IsSubmitting {
		return false
	}
	_, err := chatapi.NewChatRequest(s.InputText)
	return err == nil
}

// clone copies the pointed-to values so callers cannot mutate controller state.
func (s State) clone() State {
	out := s
	if s.LastResponse != nil {
		r := *s.LastResponse
		if s.LastResponse.Confidence != nil {
			c := *s.LastResponse.Confidence
			r.Confidence = &c
		}
		out.LastResponse = &r
	}
	if s.LastError != nil {
		f := *s.LastError
		out.LastError = &f
	}
	return out
}
