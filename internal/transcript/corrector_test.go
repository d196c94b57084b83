package transcript_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/sloane/internal/transcript"
)

func TestCorrector_DefaultVocabulary(t *testing.T) {
	t.Parallel()

	c := transcript.NewPhoneticCorrector(nil)
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"acronym spelled out", "We hit two million a r r last month.", "We hit two million ARR last month."},
		{"homophone", "We are a sass company.", "We are a SaaS company."},
		{"phonetic near miss", "Our cab table is clean", "Our cap table is clean"},
		{"trailing punctuation kept", "Look at our bern rate!", "Look at our burn rate!"},
		{"hyphenated form", "We have product market fit.", "We have product-market fit."},
		{"already canonical", "Runway is eighteen months.", "Runway is eighteen months."},
		{"nothing to fix", "I love my team.", "I love my team."},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := c.CorrectText(tt.in); got != tt.want {
				t.Errorf("CorrectText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCorrector_RecordsCorrections(t *testing.T) {
	t.Parallel()

	c := transcript.NewPhoneticCorrector(nil)
	res := c.Correct("sass with great l t v")
	if len(res.Corrections) != 2 {
		t.Fatalf("corrections = %+v, want 2", res.Corrections)
	}
	if res.Corrections[0].Corrected != "SaaS" || res.Corrections[1].Corrected != "LTV" {
		t.Errorf("corrections = %+v", res.Corrections)
	}
	if res.Corrections[1].Original != "l t v" {
		t.Errorf("Original = %q, want %q", res.Corrections[1].Original, "l t v")
	}
	if res.Original != "sass with great l t v" {
		t.Errorf("Original text changed: %q", res.Original)
	}
}

func TestCorrector_NoChangeKeepsOriginalSpacing(t *testing.T) {
	t.Parallel()

	c := transcript.NewPhoneticCorrector(nil)
	in := "hello   there"
	res := c.Correct(in)
	if res.Corrected != in || len(res.Corrections) != 0 {
		t.Errorf("Correct(%q) = %+v", in, res)
	}
}

func TestLoadVocabulary(t *testing.T) {
	t.Parallel()

	terms, err := transcript.LoadVocabulary(strings.NewReader("terms:\n  - canonical: moat\n    forms: [mote]\n"))
	if err != nil {
		t.Fatalf("LoadVocabulary: %v", err)
	}
	if len(terms) != 1 || terms[0].Canonical != "moat" || terms[0].Forms[0] != "mote" {
		t.Errorf("terms = %+v", terms)
	}

	if _, err := transcript.LoadVocabulary(strings.NewReader("terms:\n  - forms: [x]\n")); err == nil {
		t.Error("expected error for missing canonical")
	}
	if _, err := transcript.LoadVocabulary(strings.NewReader("terms:\n  - canonical: x\n    boost: 3\n")); err == nil {
		t.Error("expected error for unknown field")
	}
}

func TestDefaultVocabulary_Keywords(t *testing.T) {
	t.Parallel()

	kw := transcript.Keywords(transcript.DefaultVocabulary())
	found := false
	for _, k := range kw {
		if k == "cap table" {
			found = true
		}
	}
	if !found {
		t.Errorf("Keywords missing %q: %v", "cap table", kw)
	}
}
