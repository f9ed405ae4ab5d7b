package analyzer

import (
	"net/http"
	"strings"
)

// JoinXRobotsDirectives collapses all x-robots-tag header values into one
// semicolon-separated string, because a server may send the directive
// multiple times with different agent scopes.
func JoinXRobotsDirectives(headers http.Header) string {
	values := headers.Values("X-Robots-Tag")
	cleaned := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ReplaceAll(v, "\n", "")
		v = strings.ReplaceAll(v, "\r", "")
		cleaned = append(cleaned, v)
	}
	return strings.Join(cleaned, ";")
}

// XRobotsNoarchive reports whether the joined directives ask the agent not
// to archive. Directives scoped to the agent always count; unscoped
// directives count only when generic matching is enabled. Malformed
// directives are matched best-effort on substrings.
func XRobotsNoarchive(directives, agent string, generic bool) bool {
	if directives == "" {
		return false
	}
	agent = strings.ToLower(agent)
	for _, directive := range strings.Split(directives, ";") {
		parsed := strings.Split(strings.ToLower(directive), ":")
		switch {
		case len(parsed) == 1:
			if generic && strings.TrimSpace(parsed[0]) == "noarchive" {
				return true
			}
		case len(parsed) == 2:
			if strings.TrimSpace(parsed[0]) == agent && strings.Contains(parsed[1], "noarchive") {
				return true
			}
		default:
			lower := strings.ToLower(directive)
			if strings.Contains(lower, agent) && strings.Contains(lower, "noarchive") {
				return true
			}
		}
	}
	return false
}
