package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeys are the valid keys, as "section.key".
var knownKeys = map[string]bool{
	"api.base_url": true, "api.user_agent": true,
	"network.timeout": true, "network.insecure_skip_verify": true,
	"credentials.backend": true, "credentials.path": true, "credentials.watch": true,
	"logging.log_level": true, "logging.log_format": true, "logging.log_file": true,
}

// knownSections are the valid top-level tables.
var knownSections = map[string]bool{
	"api": true, "network": true, "credentials": true, "logging": true,
}

// knownKeysList is sorted for deterministic suggestions when two candidates
// have the same edit distance.
var knownKeysList = sortedKeys(knownKeys)

var knownSectionsList = sortedKeys(knownSections)

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	var errs []error

	for _, key := range undecoded {
		errs = append(errs, buildKeyError(key.String()))
	}

	return errors.Join(errs...)
}

// buildKeyError describes one unknown key. A key outside any known table
// is matched against table names; a key inside one against that table's keys.
func buildKeyError(keyStr string) error {
	section, _, nested := strings.Cut(keyStr, ".")

	var suggestion string
	if !nested || !knownSections[section] {
		suggestion = closestMatch(section, knownSectionsList)
		keyStr = section
	} else {
		suggestion = closestMatch(keyStr, knownKeysList)
	}

	if suggestion != "" {
		return fmt.Errorf("unknown config key %q, did you mean %q?", keyStr, suggestion)
	}

	return fmt.Errorf("unknown config key %q", keyStr)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
// On a tie, a key that unknown abbreviates (log_fmt for log_format) wins.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist || (d == bestDist && !isSubsequence(unknown, best) && isSubsequence(unknown, k)) {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// isSubsequence reports whether s can be formed by deleting bytes from t.
func isSubsequence(s, t string) bool {
	i := 0

	for j := 0; i < len(s) && j < len(t); j++ {
		if s[i] == t[j] {
			i++
		}
	}

	return i == len(s)
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	// Single-row optimization avoids allocating a full matrix.
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
