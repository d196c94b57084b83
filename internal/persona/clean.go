package persona

import (
	"strings"

	"github.com/MrWong99/sloane/pkg/types"
)

// whisperLabels are prefixes models like to put in front of a translation.
var whisperLabels = []string{"translation:", "output:", "english:", "[translated]:"}

// quotePairs are the opening/closing quote characters stripped from whisper
// output.
var quotePairs = [][2]string{
	{`"`, `"`},
	{"'", "'"},
	{"“", "”"},
	{"‘", "’"},
	{"`", "`"},
}

// CleanResponse normalises provider output for display. All modes trim
// surrounding whitespace. Whisper output is further reduced to a bare
// sentence: leading labels and wrapping quotes are removed, and only the
// first non-empty line is kept.
func CleanResponse(mode types.Mode, text string) string {
	text = strings.TrimSpace(text)
	if mode != types.ModeWhisper {
		return text
	}

	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			text = line
			break
		}
	}

	for changed := true; changed; {
		changed = false
		lower := strings.ToLower(text)
		for _, l := range whisperLabels {
			if strings.HasPrefix(lower, l) {
				text = strings.TrimSpace(text[len(l):])
				changed = true
				break
			}
		}
		for _, q := range quotePairs {
			if len(text) >= len(q[0])+len(q[1]) && strings.HasPrefix(text, q[0]) && strings.HasSuffix(text, q[1]) {
				text = strings.TrimSpace(text[len(q[0]) : len(text)-len(q[1])])
				changed = true
			}
		}
	}
	return text
}
