// Package directory resolves free-text queries to company email addresses
// for @-mention composition.
package directory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	DefaultLimit = 10
	MaxLimit     = 20
)

var ErrUnavailable = errors.New("directory: no backend available")

// Suggestion is one item returned to the mention picker.
type Suggestion struct {
	ID      string `json:"id"`
	Display string `json:"display"`
}

// Entry is one address known to a backend.
type Entry struct {
	Email   string `json:"email" yaml:"email"`
	Display string `json:"display" yaml:"display"`
}

func (e Entry) suggestion() Suggestion {
	display := strings.TrimSpace(e.Display)
	if display == "" {
		display = e.Email
	}
	return Suggestion{ID: e.Email, Display: display}
}

// Query describes one suggestion lookup.
type Query struct {
	Text    string
	Limit   int
	Domains Domains
}

// Directory is a suggestion backend.
type Directory interface {
	Name() string
	Suggest(ctx context.Context, q Query) ([]Suggestion, error)
}

// Domains is the company email domain allow-list.
type Domains []string

func ParseDomains(values []string) Domains {
	out := make(Domains, 0, len(values))
	for _, value := range values {
		domain := strings.ToLower(strings.TrimSpace(value))
		domain = strings.TrimPrefix(domain, "@")
		if domain != "" {
			out = append(out, domain)
		}
	}
	return out
}

// Allows reports whether email belongs to an allow-listed domain.
func (d Domains) Allows(email string) bool {
	domain := emailDomain(email)
	if domain == "" {
		return false
	}
	for _, allowed := range d {
		if allowed == domain {
			return true
		}
	}
	return false
}

// ClampLimit bounds a requested result count to [1, MaxLimit]; zero or
// negative requests get DefaultLimit.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// Fold lower-cases s, spells out the Danish letters and strips remaining
// combining marks so "Søren" matches "soren".
func Fold(s string) string {
	lowered := strings.ToLower(strings.TrimSpace(s))
	if lowered == "" {
		return ""
	}
	lowered = danishFolds.Replace(lowered)
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, lowered)
	if err != nil {
		return lowered
	}
	return folded
}

var danishFolds = strings.NewReplacer("æ", "ae", "ø", "o", "å", "aa")

func matches(e Entry, text string) bool {
	needle := Fold(text)
	if needle == "" {
		return true
	}
	return strings.Contains(Fold(e.Email), needle) || strings.Contains(Fold(e.Display), needle)
}

// filterEntries applies the text match, domain allow-list and limit to an
// in-memory candidate list, ordered by email.
func filterEntries(entries []Entry, q Query) []Suggestion {
	sorted := append([]Entry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return strings.ToLower(sorted[i].Email) < strings.ToLower(sorted[j].Email)
	})
	limit := ClampLimit(q.Limit)
	out := make([]Suggestion, 0, limit)
	for _, entry := range sorted {
		if len(out) == limit {
			break
		}
		if !q.Domains.Allows(entry.Email) || !matches(entry, q.Text) {
			continue
		}
		out = append(out, entry.suggestion())
	}
	return out
}

func emailDomain(email string) string {
	e := strings.ToLower(strings.TrimSpace(email))
	at := strings.LastIndex(e, "@")
	if at < 0 {
		return ""
	}
	return e[at+1:]
}
