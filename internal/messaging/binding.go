package messaging

import "strings"

// MatchBinding reports whether routingKey matches a topic-style binding pattern.
// Words are separated by dots; "*" matches exactly one word and "#" matches zero
// or more words. An empty pattern matches nothing, "#" matches everything.
func MatchBinding(pattern, routingKey string) bool {
	if pattern == "" {
		return false
	}
	return matchWords(strings.Split(pattern, "."), strings.Split(routingKey, "."))
}

func matchWords(pattern, key []string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case "#":
			rest := pattern[1:]
			if len(rest) == 0 {
				return true
			}
			for i := 0; i <= len(key); i++ {
				if matchWords(rest, key[i:]) {
					return true
				}
			}
			return false
		case "*":
			if len(key) == 0 {
				return false
			}
		default:
			if len(key) == 0 || key[0] != pattern[0] {
				return false
			}
		}
		pattern = pattern[1:]
		key = key[1:]
	}
	return len(key) == 0
}
