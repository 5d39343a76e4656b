package cache

import (
	"strings"

	"assetforge/internal/domain"
)

// Match strength returned by Match.
const (
	NoMatch    = 0
	FuzzyMatch = 1
	ExactMatch = 2
)

// Match scores a stored record against an incoming key and raw prompt.
// An equal canonical key is an exact match. A stored key or raw prompt that
// is a substring of the incoming prompt, or an incoming prompt that is a
// substring of a stored key or prompt, is a fuzzy match. Reuse is favoured over
// precision. Empty strings never match.
func Match(record *domain.CachedArtifact, key, prompt string) int {
	if record == nil {
		return NoMatch
	}
	key = fold(key)
	prompt = fold(prompt)
	storedKey := fold(record.CanonicalKey)
	if key != "" && storedKey == key {
		return ExactMatch
	}
	if prompt == "" {
		return NoMatch
	}
	if storedKey != "" && (strings.Contains(prompt, storedKey) || strings.Contains(storedKey, prompt)) {
		return FuzzyMatch
	}
	for _, seen := range record.RawPromptsSeen {
		seen = fold(seen)
		if seen == "" {
			continue
		}
		if strings.Contains(prompt, seen) || strings.Contains(seen, prompt) {
			return FuzzyMatch
		}
	}
	return NoMatch
}

func fold(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
