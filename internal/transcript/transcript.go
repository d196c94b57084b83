// Package transcript fixes venture jargon that speech recognition mangles
// before an utterance reaches the persona.
//
// Recognisers hear "cab table" for "cap table" and "sass" for "SaaS". The
// [Corrector] slides word windows over the committed text and replaces every
// window a [Matcher] resolves to a vocabulary term. Each substitution is
// recorded as a [Correction] so callers can log or display what changed.
package transcript

// Correction captures a single substitution.
type Correction struct {
	// Original is the window as recognised.
	Original string

	// Corrected is the canonical term that replaced it.
	Corrected string

	// Confidence is the matcher's score in [0, 1]. Exact spoken-form matches
	// score 1.
	Confidence float64
}

// Result is the output of [Corrector.Correct].
type Result struct {
	// Original is the input text.
	Original string

	// Corrected is the text with all substitutions applied. Equal to
	// Original when nothing matched.
	Corrected string

	// Corrections lists the substitutions in text order.
	Corrections []Correction
}

// Matcher resolves a phrase to a canonical vocabulary term.
//
// Implementations must be safe for concurrent use.
type Matcher interface {
	// Match returns the canonical term for phrase. When matched is false,
	// corrected equals phrase and confidence is zero.
	Match(phrase string) (corrected string, confidence float64, matched bool)

	// MaxWords is the word count of the longest phrase Match can resolve.
	MaxWords() int
}
