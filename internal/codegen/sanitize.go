// Package codegen authors and repairs programs via an LLM provider, and
// scrubs model output down to bare executable source.
package codegen

import (
	"strings"
)

// languageTokens are lone first-line labels models sometimes emit before the
// actual source.
var languageTokens = map[string]bool{
	"python":     true,
	"c":          true,
	"cpp":        true,
	"c++":        true,
	"javascript": true,
	"java":       true,
}

// Sanitize strips model chrome from generated source: a UTF-8 BOM, markdown
// code fences, and stray leading language tokens. Returns the trimmed code,
// possibly empty.
func Sanitize(raw string) string {
	s := strings.TrimPrefix(raw, "\uFEFF")
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if strings.Contains(s, "```") {
		if code := extractFenced(s); code != "" {
			return code
		}
	}

	lines := strings.Split(s, "\n")
	for len(lines) > 0 && languageTokens[strings.ToLower(strings.TrimSpace(lines[0]))] {
		lines = lines[1:]
	}
	// Drop residual lone fence lines that survived extraction.
	kept := lines[:0]
	for _, ln := range lines {
		if strings.HasPrefix(strings.TrimSpace(ln), "```") {
			continue
		}
		kept = append(kept, ln)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// extractFenced returns the first non-empty fenced block, minus an initial
// language label line. Empty when no usable block exists.
func extractFenced(s string) string {
	parts := strings.Split(s, "```")
	for i := 1; i < len(parts); i += 2 {
		lines := strings.Split(parts[i], "\n")
		if len(lines) > 0 && languageTokens[strings.ToLower(strings.TrimSpace(lines[0]))] {
			lines = lines[1:]
		}
		if code := strings.TrimSpace(strings.Join(lines, "\n")); code != "" {
			return code
		}
	}
	return ""
}
