package openapi

import (
	"regexp"
	"strings"
)

var (
	nonNameChars   = regexp.MustCompile(`[^a-z0-9_]+`)
	repeatedUnders = regexp.MustCompile(`_{2,}`)
	pathParamToken = regexp.MustCompile(`\{([^{}/]+)\}`)
)

// SanitizeName maps s onto ^[a-z0-9_]+$ with no leading, trailing or
// doubled underscores. It may return "".
func SanitizeName(s string) string {
	s = strings.ToLower(s)
	s = nonNameChars.ReplaceAllString(s, "_")
	s = repeatedUnders.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}

// synthesizeName builds <method>_<path> for operations without an id.
func synthesizeName(method, path string) string {
	return SanitizeName(method + "_" + path)
}

// toolName prefers the operation id and falls back to the synthesized name.
func toolName(operationID, method, path string) string {
	if name := SanitizeName(operationID); name != "" {
		return name
	}
	return synthesizeName(method, path)
}

// PathParams returns the {name} tokens of a path template in order of
// appearance, without duplicates.
func PathParams(path string) []string {
	matches := pathParamToken.FindAllStringSubmatch(path, -1)
	out := make([]string, 0, len(matches))
	seen := make(map[string]bool, len(matches))
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

// balancedTemplate reports whether every brace in path belongs to a
// well-formed {name} token.
func balancedTemplate(path string) bool {
	stripped := pathParamToken.ReplaceAllString(path, "")
	return !strings.ContainsAny(stripped, "{}")
}
