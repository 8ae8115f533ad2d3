package directory

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultEntries is the built-in mock directory used when no other source
// is configured.
var DefaultEntries = []Entry{
	{Email: "rene@example.dk"},
	{Email: "colleague1@company.dk"},
	{Email: "colleague2@company.dk"},
	{Email: "anne.hansen@company.dk", Display: "Anne Hansen"},
	{Email: "mikkel.nielsen@company.dk", Display: "Mikkel Nielsen"},
	{Email: "søren@company.dk", Display: "Søren"},
	{Email: "jørgen@company.dk", Display: "Jørgen"},
	{Email: "line.pedersen@company.dk", Display: "Line Pedersen"},
	{Email: "marketing.team@company.dk", Display: "Marketing"},
	{Email: "qa.proof@company.dk", Display: "QA Proof"},
}

// Static serves suggestions from an in-memory list.
type Static struct {
	entries []Entry
}

// NewStatic copies entries; a nil slice selects DefaultEntries.
func NewStatic(entries []Entry) *Static {
	if entries == nil {
		entries = DefaultEntries
	}
	return &Static{entries: append([]Entry(nil), entries...)}
}

func (s *Static) Name() string {
	return "static"
}

func (s *Static) Suggest(_ context.Context, q Query) ([]Suggestion, error) {
	return filterEntries(s.entries, q), nil
}

func (s *Static) Entries() []Entry {
	return append([]Entry(nil), s.entries...)
}

// File is the YAML seed format:
//
//	domains: [company.dk]
//	entries:
//	  - email: anne.hansen@company.dk
//	    display: Anne Hansen
type File struct {
	Domains []string `yaml:"domains"`
	Entries []Entry  `yaml:"entries"`
}

// LoadFile reads a directory seed file. Entries without an address are
// skipped.
func LoadFile(path string) (File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read directory file: %w", err)
	}
	var file File
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return File{}, fmt.Errorf("parse directory file: %w", err)
	}
	entries := make([]Entry, 0, len(file.Entries))
	for _, entry := range file.Entries {
		entry.Email = strings.TrimSpace(entry.Email)
		entry.Display = strings.TrimSpace(entry.Display)
		if entry.Email == "" {
			continue
		}
		entries = append(entries, entry)
	}
	file.Entries = entries
	return file, nil
}
