// Package phonetic snaps misheard spoken phrases onto a fixed vocabulary
// using Double Metaphone codes and Jaro-Winkler similarity.
//
// Every vocabulary [Entry] has a canonical spelling ("cap table", "ARR") and
// one or more spoken forms ("cap table", "a r r"). A phrase is resolved in
// three passes:
//
//  1. Exact: the normalised phrase equals a spoken form.
//  2. Phonetic: the phrase has the same word count as a spoken form, every
//     word pair shares a Double Metaphone code, and the Jaro-Winkler score
//     reaches the phonetic threshold.
//  3. Fuzzy: no phonetic candidate exists and the Jaro-Winkler score reaches
//     the stricter fuzzy threshold.
//
// Words shorter than [MinFuzzyRunes] only ever match exactly. Ordinary speech
// is full of short words that sound like acronyms.
package phonetic

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.88
	defaultFuzzyThreshold    = 0.94

	// MinFuzzyRunes is the shortest single word that may match inexactly.
	MinFuzzyRunes = 4
)

// Entry is one vocabulary term.
type Entry struct {
	// Canonical is the spelling substituted into corrected text.
	Canonical string

	// Forms are the ways the term is spoken. The canonical spelling is always
	// added as a form.
	Forms []string
}

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for phrases that
// share Double Metaphone codes with a form. Default: 0.88.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) { m.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for phrases without
// a phonetic candidate. Default: 0.94.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) { m.fuzzyThreshold = threshold }
}

// form is a prepared spoken form.
type form struct {
	canonical string
	text      string   // normalised, space-joined
	words     []string // normalised words
	codes     [][]string
}

// Matcher resolves phrases against a vocabulary prepared at construction. It
// is read-only afterwards and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64

	exact    map[string]string
	forms    []form
	maxWords int
}

// New prepares a [Matcher] for entries. Entries with an empty canonical
// spelling are ignored.
func New(entries []Entry, opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
		exact:             make(map[string]string),
	}
	for _, o := range opts {
		o(m)
	}

	for _, e := range entries {
		canonical := strings.TrimSpace(e.Canonical)
		if canonical == "" {
			continue
		}
		for _, raw := range append([]string{canonical}, e.Forms...) {
			words := Normalize(raw)
			if len(words) == 0 {
				continue
			}
			text := strings.Join(words, " ")
			if _, dup := m.exact[text]; !dup {
				m.exact[text] = canonical
			}
			f := form{canonical: canonical, text: text, words: words, codes: make([][]string, len(words))}
			for i, w := range words {
				f.codes[i] = wordCodes(w)
			}
			m.forms = append(m.forms, f)
			m.maxWords = max(m.maxWords, len(words))
		}
	}
	return m
}

// MaxWords returns the word count of the longest spoken form, or zero for an
// empty vocabulary.
func (m *Matcher) MaxWords() int { return m.maxWords }

// Match resolves phrase to a canonical spelling. When matched is false,
// corrected equals phrase and confidence is zero.
func (m *Matcher) Match(phrase string) (corrected string, confidence float64, matched bool) {
	words := Normalize(phrase)
	if len(words) == 0 {
		return phrase, 0, false
	}
	text := strings.Join(words, " ")
	if c, ok := m.exact[text]; ok {
		return c, 1, true
	}
	if len(words) == 1 && utf8.RuneCountInString(words[0]) < MinFuzzyRunes {
		return phrase, 0, false
	}

	codes := make([][]string, len(words))
	for i, w := range words {
		codes[i] = wordCodes(w)
	}

	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)
	for i := range m.forms {
		f := &m.forms[i]
		if len(f.words) != len(words) {
			continue
		}
		if !shortWordsEqual(words, f.words) {
			continue
		}
		score := matchr.JaroWinkler(text, f.text, false)
		if len(words) > 1 {
			concat := matchr.JaroWinkler(strings.Join(words, ""), strings.Join(f.words, ""), false)
			score = max(score, concat)
		}

		if allWordsOverlap(codes, f.codes) {
			if score >= m.phoneticThreshold && (!bestPhonetic || score > bestScore) {
				best, bestScore, bestPhonetic = f.canonical, score, true
			}
		} else if !bestPhonetic && score >= m.fuzzyThreshold && score > bestScore {
			best, bestScore = f.canonical, score
		}
	}
	if best == "" {
		return phrase, 0, false
	}
	return best, bestScore, true
}

// Normalize lower-cases s, strips punctuation at word edges and splits on
// whitespace and hyphens.
func Normalize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return unicode.IsSpace(r) || r == '-'
	})
	out := fields[:0]
	for _, f := range fields {
		f = strings.TrimFunc(f, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// shortWordsEqual requires short words at the same position to be identical.
// "a r r" must not drift to "a r t".
func shortWordsEqual(a, b []string) bool {
	for i := range a {
		if (utf8.RuneCountInString(a[i]) < MinFuzzyRunes || utf8.RuneCountInString(b[i]) < MinFuzzyRunes) && !closeShort(a[i], b[i]) {
			return false
		}
	}
	return true
}

// closeShort allows a short word to differ from its counterpart only in the
// final letter ("cab" for "cap").
func closeShort(a, b string) bool {
	if a == b {
		return true
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) != len(rb) || len(ra) < 3 {
		return false
	}
	return string(ra[:len(ra)-1]) == string(rb[:len(rb)-1])
}

// wordCodes returns the non-empty Double Metaphone codes of w.
func wordCodes(w string) []string {
	p, s := matchr.DoubleMetaphone(w)
	var out []string
	if p != "" {
		out = append(out, p)
	}
	if s != "" && s != p {
		out = append(out, s)
	}
	return out
}

// allWordsOverlap reports whether every word pair shares a code. Words
// without codes (vowel-only) count as overlapping.
func allWordsOverlap(a, b [][]string) bool {
	for i := range a {
		if len(a[i]) == 0 || len(b[i]) == 0 {
			continue
		}
		if !anyShared(a[i], b[i]) {
			return false
		}
	}
	return true
}

func anyShared(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
