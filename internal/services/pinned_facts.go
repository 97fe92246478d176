package services

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"parley/internal/models"
)

// ExtractPinnedFacts returns the first MaxPinnedFacts bullet lines of a summary.
// A bullet is a trimmed line starting with "-" or "*" followed by whitespace.
// Section headings are ignored, so bullets keep their order across sections.
func ExtractPinnedFacts(summary string) []string {
	facts := make([]string, 0, models.MaxPinnedFacts)

	for _, line := range strings.Split(summary, "\n") {
		line = strings.TrimSpace(line)
		if len(line) < 2 || (line[0] != '-' && line[0] != '*') {
			continue
		}
		if r, _ := utf8.DecodeRuneInString(line[1:]); !unicode.IsSpace(r) {
			continue
		}

		fact := strings.TrimSpace(line[1:])
		if fact == "" {
			continue
		}

		facts = append(facts, fact)
		if len(facts) == models.MaxPinnedFacts {
			break
		}
	}

	return facts
}

// capPinnedFacts copies at most MaxPinnedFacts entries
func capPinnedFacts(facts []string) []string {
	if len(facts) > models.MaxPinnedFacts {
		facts = facts[:models.MaxPinnedFacts]
	}
	out := make([]string, len(facts))
	copy(out, facts)
	return out
}
