package transcript

import (
	_ "embed"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed vocabulary.yaml
var defaultVocabularyYAML string

// Term is one vocabulary entry.
type Term struct {
	// Canonical is the spelling written into corrected text.
	Canonical string `yaml:"canonical"`

	// Forms are additional spoken forms that resolve to Canonical.
	Forms []string `yaml:"forms"`
}

type vocabularyFile struct {
	Terms []Term `yaml:"terms"`
}

// LoadVocabulary decodes a YAML vocabulary from r. Unknown fields are
// rejected. Terms without a canonical spelling are an error.
func LoadVocabulary(r io.Reader) ([]Term, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f vocabularyFile
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("transcript: decode vocabulary: %w", err)
	}
	for i, t := range f.Terms {
		if strings.TrimSpace(t.Canonical) == "" {
			return nil, fmt.Errorf("transcript: vocabulary term %d: canonical is required", i)
		}
	}
	return f.Terms, nil
}

// DefaultVocabulary returns the built-in venture vocabulary.
func DefaultVocabulary() []Term {
	terms, err := LoadVocabulary(strings.NewReader(defaultVocabularyYAML))
	if err != nil {
		panic("transcript: embedded vocabulary: " + err.Error())
	}
	return terms
}

// Keywords returns the canonical spelling of every term, suitable as
// recognition hints.
func Keywords(terms []Term) []string {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		out = append(out, t.Canonical)
	}
	return out
}
