package directory

import (
	"context"
	"errors"
	"log/slog"
)

type healthReporter interface {
	Healthy() bool
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Service tries each configured backend in order and falls back to the
// static list when none answers.
type Service struct {
	domains  Domains
	backends []Directory
	fallback *Static
	log      *slog.Logger
}

func NewService(domains Domains, fallback *Static, logger *slog.Logger, backends ...Directory) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{domains: domains, backends: backends, fallback: fallback, log: logger}
}

func (s *Service) Domains() Domains {
	return s.domains
}

// SuggestEmails returns up to limit allow-listed addresses matching query.
func (s *Service) SuggestEmails(ctx context.Context, query string, limit int) ([]Suggestion, error) {
	q := Query{Text: query, Limit: ClampLimit(limit), Domains: s.domains}
	for _, backend := range s.backends {
		if h, ok := backend.(healthReporter); ok && !h.Healthy() {
			continue
		}
		results, err := backend.Suggest(ctx, q)
		if err == nil {
			return s.sanitize(results, q.Limit), nil
		}
		s.log.Warn("directory backend failed, falling back", "backend", backend.Name(), "error", err)
	}
	if s.fallback == nil {
		return nil, ErrUnavailable
	}
	results, err := s.fallback.Suggest(ctx, q)
	if err != nil {
		return nil, err
	}
	return s.sanitize(results, q.Limit), nil
}

// Ping checks every backend that can be pinged, keyed by backend name.
func (s *Service) Ping(ctx context.Context) map[string]error {
	out := make(map[string]error, len(s.backends))
	for _, backend := range s.backends {
		p, ok := backend.(pinger)
		if !ok {
			continue
		}
		out[backend.Name()] = p.Ping(ctx)
	}
	return out
}

// Backends lists configured backend names in lookup order.
func (s *Service) Backends() []string {
	names := make([]string, 0, len(s.backends)+1)
	for _, backend := range s.backends {
		names = append(names, backend.Name())
	}
	if s.fallback != nil {
		names = append(names, s.fallback.Name())
	}
	return names
}

func (s *Service) sanitize(results []Suggestion, limit int) []Suggestion {
	out := make([]Suggestion, 0, len(results))
	for _, item := range results {
		if len(out) == limit {
			break
		}
		if s.domains.Allows(item.ID) {
			out = append(out, item)
		}
	}
	return out
}

// Seeder is implemented by backends that accept bulk entries.
type Seeder interface {
	Directory
	Seed(ctx context.Context, entries []Entry) error
}

// SeedAll pushes entries into every seedable backend.
func (s *Service) SeedAll(ctx context.Context, entries []Entry) error {
	var errs []error
	for _, backend := range s.backends {
		seeder, ok := backend.(Seeder)
		if !ok {
			continue
		}
		if err := seeder.Seed(ctx, entries); err != nil {
			errs = append(errs, err)
			continue
		}
		s.log.Info("directory seeded", "backend", backend.Name(), "entries", len(entries))
	}
	return errors.Join(errs...)
}

// SeedFallback pushes the static fallback list into every seedable backend
// and reports how many entries were sent.
func (s *Service) SeedFallback(ctx context.Context) (int, error) {
	if s.fallback == nil {
		return 0, nil
	}
	entries := s.fallback.Entries()
	return len(entries), s.SeedAll(ctx, entries)
}
