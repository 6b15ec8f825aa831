package guard

import "path"

// matchAny reports whether the request path matches any pattern. Patterns
// use path.Match syntax per segment; a trailing "/**" matches the subtree
// including the bare prefix itself.
func matchAny(patterns []string, requestPath string) bool {
	for _, pattern := range patterns {
		if matchGlob(pattern, requestPath) {
			return true
		}
	}
	return false
}

func matchGlob(pattern string, requestPath string) bool {
	if pattern == "" {
		return false
	}
	if prefix, ok := subtreePrefix(pattern); ok {
		if requestPath == prefix {
			return true
		}
		return len(requestPath) > len(prefix) && requestPath[:len(prefix)+1] == prefix+"/"
	}
	matched, matchErr := path.Match(pattern, requestPath)
	if matchErr != nil {
		// A malformed pattern never matches; surfacing it at request time
		// would turn a config typo into an outage.
		return false
	}
	return matched
}

func subtreePrefix(pattern string) (string, bool) {
	const suffix = "/**"
	if len(pattern) > len(suffix) && pattern[len(pattern)-len(suffix):] == suffix {
		return pattern[:len(pattern)-len(suffix)], true
	}
	return "", false
}
