package transcript

import (
	"log/slog"
	"strings"
	"unicode"

	"github.com/MrWong99/sloane/internal/transcript/phonetic"
)

// Corrector applies a [Matcher] to whole utterances. It is safe for
// concurrent use.
type Corrector struct {
	matcher Matcher
}

// NewCorrector returns a Corrector using m.
func NewCorrector(m Matcher) *Corrector {
	return &Corrector{matcher: m}
}

// NewPhoneticCorrector returns a Corrector backed by a [phonetic.Matcher]
// prepared for terms. A nil terms slice uses [DefaultVocabulary].
func NewPhoneticCorrector(terms []Term, opts ...phonetic.Option) *Corrector {
	if terms == nil {
		terms = DefaultVocabulary()
	}
	entries := make([]phonetic.Entry, len(terms))
	for i, t := range terms {
		entries[i] = phonetic.Entry{Canonical: t.Canonical, Forms: t.Forms}
	}
	return NewCorrector(phonetic.New(entries, opts...))
}

// CorrectText returns the corrected text only.
func (c *Corrector) CorrectText(text string) string {
	return c.Correct(text).Corrected
}

// Correct tokenises text on whitespace and, at each position, tries word
// windows from the matcher's longest phrase down to a single word. The
// longest matching window wins so that multi-word terms take precedence over
// partial matches. Punctuation trailing the last word of a replaced window is
// kept.
func (c *Corrector) Correct(text string) Result {
	res := Result{Original: text, Corrected: text}
	tokens := strings.Fields(text)
	maxWords := c.matcher.MaxWords()
	if len(tokens) == 0 || maxWords == 0 {
		return res
	}

	out := make([]string, 0, len(tokens))
	for i := 0; i < len(tokens); {
		n := min(maxWords, len(tokens)-i)
		matched := false
		for ; n >= 1; n-- {
			window := strings.Join(tokens[i:i+n], " ")
			corrected, conf, ok := c.matcher.Match(window)
			if !ok {
				continue
			}
			if sameTerm(corrected, stripEdges(window)) {
				out = append(out, tokens[i:i+n]...)
				i += n
				matched = true
				break
			}
			out = append(out, corrected+trailingPunct(tokens[i+n-1]))
			res.Corrections = append(res.Corrections, Correction{
				Original:   window,
				Corrected:  corrected,
				Confidence: conf,
			})
			i += n
			matched = true
			break
		}
		if !matched {
			out = append(out, tokens[i])
			i++
		}
	}

	if len(res.Corrections) > 0 {
		res.Corrected = strings.Join(out, " ")
		slog.Debug("transcript corrected", "from", text, "to", res.Corrected, "corrections", len(res.Corrections))
	}
	return res
}

// sameTerm reports whether recognised already spells canonical. Case only
// matters when the canonical spelling carries capitals ("SaaS"), so that a
// sentence-initial "Runway" is left alone.
func sameTerm(canonical, recognised string) bool {
	if canonical == recognised {
		return true
	}
	return strings.ToLower(canonical) == canonical && strings.EqualFold(canonical, recognised)
}

func isEdgePunct(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func stripEdges(s string) string {
	return strings.TrimFunc(s, isEdgePunct)
}

// trailingPunct returns the run of punctuation at the end of tok.
func trailingPunct(tok string) string {
	trimmed := strings.TrimRightFunc(tok, isEdgePunct)
	return tok[len(trimmed):]
}
