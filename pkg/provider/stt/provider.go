// Package stt defines the Provider interface for server-side speech
// recognition.
//
// Browsers normally recognise speech themselves and send text over the
// capture socket. When they stream raw audio instead, an STT provider turns it
// into transcripts. A [Stream] is opened per recognition context, so the
// language is fixed for its lifetime: switching from English practice to a
// Korean whisper closes one stream and opens another.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrClosed is returned by [Stream.SendAudio] after the stream was closed.
var ErrClosed = errors.New("stt: stream closed")

// StreamConfig describes the audio format and recognition hints for a new
// stream.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. Browsers capturing for
	// recognition typically send 16000.
	SampleRate int

	// Channels is the number of interleaved channels. 1 is mono.
	Channels int

	// Language is the BCP-47 tag of the recognition context ("en-US",
	// "ko-KR"). Empty uses the provider default.
	Language string

	// Keywords are vocabulary hints that raise recognition probability for
	// uncommon terms such as "cap table".
	Keywords []string
}

// Stream is an open recognition session.
//
// Transcripts are delivered on a single channel so that a final never
// overtakes the partial that preceded it. The channel is closed when the
// stream ends, after which Err reports why.
type Stream interface {
	// SendAudio queues 16-bit little-endian PCM audio. It returns [ErrClosed]
	// after Close.
	SendAudio(chunk []byte) error

	// Transcripts returns partial and final results in arrival order.
	Transcripts() <-chan Transcript

	// Err returns the error that ended the stream, or nil for a clean close.
	// Only meaningful after the Transcripts channel is closed.
	Err() error

	// Close ends the stream and releases its resources. Calling Close more
	// than once is safe.
	Close() error
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// StartStream opens a stream. The caller owns the returned [Stream] and
	// must Close it.
	StartStream(ctx context.Context, cfg StreamConfig) (Stream, error)
}
