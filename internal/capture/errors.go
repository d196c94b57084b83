package capture

import (
	"errors"
	"fmt"
	"strings"
)

// RecognitionErrorKind classifies a speech recognition failure.
type RecognitionErrorKind string

const (
	// ErrKindNoSpeech means the recogniser heard nothing.
	ErrKindNoSpeech RecognitionErrorKind = "no-speech"

	// ErrKindNetwork means the recognition service could not be reached.
	ErrKindNetwork RecognitionErrorKind = "network"

	// ErrKindNotAllowed means microphone or service permission was denied.
	ErrKindNotAllowed RecognitionErrorKind = "not-allowed"

	// ErrKindAborted means recognition was interrupted.
	ErrKindAborted RecognitionErrorKind = "aborted"
)

// RecognitionError is a classified recognition failure. It is handled
// locally: shown to the user with an optional retry affordance, never sent
// to the text-generation provider.
type RecognitionError struct {
	// Kind is the failure class.
	Kind RecognitionErrorKind

	// Code is the raw code reported by the recogniser, e.g. "audio-capture".
	Code string

	// Err is the underlying cause for server-side recognition, if any.
	Err error
}

// ParseRecognitionError maps a Web Speech API error code to a
// [RecognitionError]. Codes outside the four kinds are folded into the
// closest one; unknown codes become [ErrKindAborted].
func ParseRecognitionError(code string) *RecognitionError {
	code = strings.ToLower(strings.TrimSpace(code))
	e := &RecognitionError{Code: code}
	switch code {
	case "no-speech":
		e.Kind = ErrKindNoSpeech
	case "network":
		e.Kind = ErrKindNetwork
	case "not-allowed", "service-not-allowed", "audio-capture":
		e.Kind = ErrKindNotAllowed
	default:
		e.Kind = ErrKindAborted
	}
	return e
}

// NewNetworkError wraps a server-side recognition failure.
func NewNetworkError(err error) *RecognitionError {
	return &RecognitionError{Kind: ErrKindNetwork, Code: "network", Err: err}
}

func (e *RecognitionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("capture: recognition %s: %v", e.Kind, e.Err)
	}
	if e.Code != "" && e.Code != string(e.Kind) {
		return fmt.Sprintf("capture: recognition %s (%s)", e.Kind, e.Code)
	}
	return fmt.Sprintf("capture: recognition %s", e.Kind)
}

func (e *RecognitionError) Unwrap() error { return e.Err }

// Retryable reports whether offering "try again" makes sense. Permission
// problems need the user to change a browser setting first.
func (e *RecognitionError) Retryable() bool {
	return e.Kind != ErrKindNotAllowed
}

// Message is the text shown to the user.
func (e *RecognitionError) Message() string {
	switch e.Kind {
	case ErrKindNoSpeech:
		return "I didn't hear anything. Tap the mic and try again."
	case ErrKindNetwork:
		return "Speech recognition lost its connection. Try again."
	case ErrKindNotAllowed:
		return "Microphone access is blocked. Allow it in your browser settings."
	default:
		return "Listening was interrupted."
	}
}

// AsRecognitionError extracts a [*RecognitionError] from err's chain.
func AsRecognitionError(err error) (*RecognitionError, bool) {
	var re *RecognitionError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
