package relay

import (
	"github.com/MrWong99/sloane/internal/capture"
	"github.com/MrWong99/sloane/pkg/types"
)

// Client to server event types on the capture socket.
const (
	EventStart        = "start"
	EventStop         = "stop"
	EventResult       = "result"
	EventError        = "error"
	EventWhisperOpen  = "whisper_open"
	EventWhisperClose = "whisper_close"
	EventLevel        = "level"
	EventText         = "text"
	EventRetry        = "retry"
)

// Server to client event types on the capture socket.
const (
	EventTranscript       = "transcript"
	EventUtterance        = "utterance"
	EventCompletion       = "completion"
	EventFailure          = "failure"
	EventNotice           = "notice"
	EventRecognitionError = "recognition_error"
	EventState            = "state"
)

// Notice kinds that do not come from a dispatch failure.
const (
	NoticeBusy         = "busy"
	NoticeNothingRetry = "nothing_to_retry"
	NoticeBadEvent     = "bad_event"
)

// ClientEvent is one JSON text frame sent by the browser. Binary frames carry
// 16-bit mono PCM audio instead.
type ClientEvent struct {
	Type string `json:"type"`

	// Mode selects the context for start, text and retry. Nil keeps the
	// currently selected context (start) or means normal (text, retry).
	Mode *types.Mode `json:"mode,omitempty"`

	// Text is the recognised text (result) or typed text (text).
	Text string `json:"text,omitempty"`

	// Final marks a recognition result as final.
	Final bool `json:"final,omitempty"`

	// Error is the browser recognition error code (error).
	Error string `json:"error,omitempty"`

	// Level is the new difficulty (level).
	Level int `json:"level,omitempty"`

	// Flush commits pending text when stopping (stop).
	Flush bool `json:"flush,omitempty"`
}

// ServerEvent is one JSON text frame sent to the browser. Only the fields
// relevant to Type are set.
type ServerEvent struct {
	Type string `json:"type"`

	Mode       *types.Mode `json:"mode,omitempty"`
	Text       string      `json:"text,omitempty"`
	Final      bool        `json:"final,omitempty"`
	Trigger    string      `json:"trigger,omitempty"`
	Level      int         `json:"level,omitempty"`
	Language   string      `json:"language,omitempty"`
	Model      string      `json:"model,omitempty"`
	Kind       string      `json:"kind,omitempty"`
	Code       string      `json:"code,omitempty"`
	Error      string      `json:"error,omitempty"`
	Suggestion string      `json:"suggestion,omitempty"`
	RetryAfter int         `json:"retryAfter,omitempty"`
	Retryable  bool        `json:"retryable,omitempty"`

	State *StateSnapshot `json:"state,omitempty"`
}

// StateSnapshot is the payload of a state event.
type StateSnapshot struct {
	capture.State

	SessionID   string       `json:"sessionId"`
	Level       int          `json:"level"`
	InFlight    []types.Mode `json:"inFlight,omitempty"`
	WhisperHint string       `json:"whisperHint,omitempty"`
}

func modeRef(m types.Mode) *types.Mode { return &m }
