package stt

// Transcript is one recognition result.
//
// Partials replace each other: each one carries the whole utterance heard so
// far, not a delta. A final ends the utterance; the next partial starts a new
// one.
type Transcript struct {
	// Text is the recognised speech.
	Text string

	// IsFinal marks the end of an utterance.
	IsFinal bool

	// Confidence is the provider's confidence in [0, 1], or zero when not
	// reported.
	Confidence float64

	// Language is the language the stream was opened with.
	Language string
}
