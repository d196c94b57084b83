// Package persona builds the prompts sent to the text-generation provider.
//
// Normal-mode prompts combine the fixed Sloane preamble, the directive of the
// utterance's level and the founder's words. Whisper-mode prompts replace all
// of that with a translation template, so the persona never colours a
// translation.
package persona

import (
	"strconv"
	"strings"

	"github.com/MrWong99/sloane/pkg/types"
)

// Preamble is the fixed persona and style instruction.
const Preamble = `You are Sloane, a brutal Silicon Valley Venture Partner. You are cold, fast, and cynical. You hate small talk. You critique the user's pitch. Keep answers short (max 2 sentences).
Your philosophy: "I don't invest in ideas; I invest in people who can communicate."`

// WhisperTemplate is the translation instruction. %s is replaced by the
// founder's Korean text.
const WhisperTemplate = `Translate this Korean startup founder's thought into sophisticated Silicon Valley business English.
Input: "%s"
Output: a single English sentence. No quotes, no explanation, nothing else.`

// Builder turns utterances into provider prompts. A Builder is immutable and
// safe for concurrent use.
type Builder struct {
	preamble string
	whisper  string
	catalog  *Catalog
}

// Option is a functional option for [NewBuilder].
type Option func(*Builder)

// WithPreamble replaces the persona preamble.
func WithPreamble(p string) Option {
	return func(b *Builder) {
		if p != "" {
			b.preamble = p
		}
	}
}

// WithCatalog replaces the built-in scenario catalog.
func WithCatalog(c *Catalog) Option {
	return func(b *Builder) {
		if c != nil {
			b.catalog = c
		}
	}
}

// NewBuilder returns a Builder with the default preamble, whisper template
// and scenario catalog.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{preamble: Preamble, whisper: WhisperTemplate}
	for _, o := range opts {
		o(b)
	}
	if b.catalog == nil {
		b.catalog = DefaultCatalog()
	}
	return b
}

// Catalog returns the scenario catalog the builder draws directives from.
func (b *Builder) Catalog() *Catalog { return b.catalog }

// Directive returns the behavioural directive for level. Levels outside 1..4
// get the level-1 directive.
func (b *Builder) Directive(level types.Level) string {
	return b.catalog.Scenario(level).Directive
}

// Build returns the complete prompt for u.
func (b *Builder) Build(u types.Utterance) string {
	text := strings.TrimSpace(u.Text)
	if u.Mode == types.ModeWhisper {
		return strings.Replace(b.whisper, "%s", text, 1)
	}

	s := b.catalog.Scenario(u.Level)
	var sb strings.Builder
	sb.WriteString(b.preamble)
	sb.WriteString("\nCurrent Level: ")
	sb.WriteString(strconv.Itoa(int(s.Level)))
	sb.WriteString("/4 (")
	sb.WriteString(s.Title)
	sb.WriteString(").\n")
	sb.WriteString(s.Directive)
	sb.WriteString("\nUser says: \"")
	sb.WriteString(text)
	sb.WriteString("\"\nSloane:")
	return sb.String()
}
