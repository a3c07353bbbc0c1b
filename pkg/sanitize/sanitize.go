// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-authguard.
//
// go-authguard is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package sanitize normalizes untrusted request input. It mutates rather
// than blocks: dangerous byte sequences are stripped and oversized values
// truncated, with the caller responsible for logging what changed.
package sanitize

import (
	"regexp"
	"strings"
)

// MaxValueLength caps individual sanitized values to prevent memory abuse
// via extremely long inputs.
const MaxValueLength = 10000

// scriptPatterns match common script injection probes. Matching content is
// removed, not rejected, so a probe degrades to harmless text.
var scriptPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<script[^>]*>.*?</script\s*>`),
	regexp.MustCompile(`(?i)<script[^>]*>`),
	regexp.MustCompile(`(?i)javascript\s*:`),
	regexp.MustCompile(`(?i)on(load|error|click|mouseover|focus|submit)\s*=`),
}

// Result reports what a sanitization pass changed.
type Result struct {
	// Modified is true when the output differs from the input.
	Modified bool

	// Reasons lists what was stripped or truncated.
	Reasons []string
}

// CleanString sanitizes a single string value: null bytes and control
// characters are stripped, script patterns removed, and the value
// truncated to MaxValueLength.
func CleanString(s string) (string, Result) {
	var result Result

	if strings.ContainsRune(s, 0) {
		s = strings.ReplaceAll(s, "\x00", "")
		result.mark("null bytes")
	}

	cleaned := strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		if r == 127 {
			return -1
		}
		return r
	}, s)
	if cleaned != s {
		result.mark("control characters")
		s = cleaned
	}

	for _, pattern := range scriptPatterns {
		if pattern.MatchString(s) {
			s = pattern.ReplaceAllString(s, "")
			result.mark("script pattern")
		}
	}

	if len(s) > MaxValueLength {
		s = s[:MaxValueLength]
		result.mark("truncated")
	}

	return s, result
}

// CleanValues sanitizes every value in a multi-value map in place, such as
// url.Values or an http.Header. Returns the union of all changes.
func CleanValues(values map[string][]string) Result {
	var combined Result
	for key, list := range values {
		for i, value := range list {
			cleaned, result := CleanString(value)
			if result.Modified {
				list[i] = cleaned
				combined.Modified = true
				combined.Reasons = append(combined.Reasons, result.Reasons...)
			}
		}
		values[key] = list
	}
	return combined
}

func (r *Result) mark(reason string) {
	r.Modified = true
	for _, existing := range r.Reasons {
		if existing == reason {
			return
		}
	}
	r.Reasons = append(r.Reasons, reason)
}
