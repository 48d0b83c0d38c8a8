package service

import (
	"fmt"
	"regexp"
)

// DefaultFallbackPattern matches a primary answer admitting it has no live
// data, tolerant of ASCII or typographic contractions, spacing and hyphenation.
const DefaultFallbackPattern = `(?i)\b(?:(?:do\s*n[o'’]?t|cannot|can['’]?t|unable\s+to)\s+(?:have\s+|provide\s+|access\s+)?(?:access\s+to\s+)?|no\s+(?:access\s+to\s+)?|lack\s+(?:access\s+to\s+)?)(?:real[\s-]*time|live|current)\s+(?:data|information|market\s+data|updates)`

// CompileSignature compiles a fallback pattern, the default when empty.
func CompileSignature(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		pattern = DefaultFallbackPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid fallback pattern: %w", err)
	}
	return re, nil
}
