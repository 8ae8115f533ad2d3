package collab

import (
	"regexp"
	"strings"
)

var emailPattern = regexp.MustCompile(`^[\p{L}0-9._%+-]+@[\p{L}0-9.-]+\.\p{L}{2,}$`)

// DomainPolicy decides which addresses may receive mention notifications.
type DomainPolicy interface {
	Allows(email string) bool
}

// commentMentions keeps the first maxRawMentions candidates as an ordered,
// case-insensitive set.
func commentMentions(raw []string) []string {
	if len(raw) > maxRawMentions {
		raw = raw[:maxRawMentions]
	}
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		value := strings.TrimSpace(item)
		if value == "" {
			continue
		}
		key := strings.ToLower(value)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, value)
	}
	return out
}

// mentionTargets returns the lower-cased, syntactically valid, allow-listed
// addresses among mentions, each once.
func mentionTargets(mentions []string, policy DomainPolicy) []string {
	seen := make(map[string]struct{}, len(mentions))
	var out []string
	for _, item := range mentions {
		email := strings.ToLower(strings.TrimSpace(item))
		if email == "" || !emailPattern.MatchString(email) {
			continue
		}
		if policy == nil || !policy.Allows(email) {
			continue
		}
		if _, ok := seen[email]; ok {
			continue
		}
		seen[email] = struct{}{}
		out = append(out, email)
	}
	return out
}

func snippet(text string) string {
	runes := []rune(text)
	if len(runes) <= maxSnippetRunes {
		return text
	}
	return string(runes[:maxSnippetRunes-3]) + "..."
}
