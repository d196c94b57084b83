// Package types defines the shared types used across all Sloane packages.
//
// These types form the lingua franca between the capture layer, the dispatcher,
// the practice session and the HTTP relay. Each package defines its own domain
// types, but cross-cutting data structures live here to avoid circular imports.
package types

import (
	"fmt"
	"strings"
	"time"
)

// Mode selects how an utterance is interpreted.
//
// In [ModeNormal] the text is a pitch statement addressed to the persona. In
// [ModeWhisper] the text is a Korean thought to be rendered as business
// English, and the result is shown as a hint rather than a conversation turn.
type Mode int

const (
	// ModeNormal is the default practice conversation.
	ModeNormal Mode = iota

	// ModeWhisper is the Korean-to-English translation assist.
	ModeWhisper
)

// String returns the wire form of m ("normal" or "whisper").
func (m Mode) String() string {
	switch m {
	case ModeWhisper:
		return "whisper"
	default:
		return "normal"
	}
}

// ParseMode converts the wire form back into a [Mode]. The empty string parses
// as [ModeNormal].
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "normal":
		return ModeNormal, nil
	case "whisper":
		return ModeWhisper, nil
	default:
		return ModeNormal, fmt.Errorf("types: unknown mode %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Level is the practice difficulty, 1 through 4.
type Level int

const (
	// MinLevel is the lowest (and default) difficulty.
	MinLevel Level = 1

	// MaxLevel is the highest difficulty.
	MaxLevel Level = 4
)

// NormalizeLevel returns n when it is within [MinLevel, MaxLevel] and
// [MinLevel] otherwise.
func NormalizeLevel(n int) Level {
	if n < int(MinLevel) || n > int(MaxLevel) {
		return MinLevel
	}
	return Level(n)
}

// Valid reports whether l is within [MinLevel, MaxLevel].
func (l Level) Valid() bool {
	return l >= MinLevel && l <= MaxLevel
}

// Utterance is one committed unit of user input. It is created when the
// segmentation timer fires, when recognition reports a final result, or when
// the user submits typed text. An Utterance is immutable and is consumed
// exactly once by a dispatch.
type Utterance struct {
	// Text is the committed input, already trimmed.
	Text string

	// Mode decides between persona critique and whisper translation.
	Mode Mode

	// Level is the difficulty in effect when the utterance was committed.
	Level Level

	// Language is the BCP-47 tag of the recognition context that produced the
	// text ("en-US", "ko-KR"). Empty for typed input.
	Language string

	// CommittedAt is when the utterance was finalised.
	CommittedAt time.Time
}

// Blank reports whether the utterance carries no usable text.
func (u Utterance) Blank() bool {
	return strings.TrimSpace(u.Text) == ""
}

// Role identifies the author of a [LogEntry].
type Role string

const (
	// RoleUser marks entries spoken or typed by the founder.
	RoleUser Role = "user"

	// RoleAssistant marks entries produced by the persona, including visible
	// failure messages.
	RoleAssistant Role = "assistant"
)

// LogEntry is one line of the conversation log.
type LogEntry struct {
	// Role is who produced the entry.
	Role Role `json:"role"`

	// Text is the displayed content.
	Text string `json:"text"`

	// Mode is the mode of the utterance this entry belongs to.
	Mode Mode `json:"mode"`

	// Failed marks an assistant entry that reports a dispatch failure instead
	// of a persona reply.
	Failed bool `json:"failed,omitempty"`

	// At is when the entry was appended.
	At time.Time `json:"at"`
}
