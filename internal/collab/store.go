package collab

import "strings"

// Store holds one Session per leaflet for the lifetime of the process.
// It is not safe for concurrent use; the Hub goroutine is its only caller.
type Store struct {
	sessions map[string]*Session
}

func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// NormalizeLeafletID trims the identifier. Blank input collapses into the
// shared "unknown" session.
func NormalizeLeafletID(raw string) string {
	id := strings.TrimSpace(raw)
	if id == "" {
		return unknownLeaflet
	}
	return id
}

// GetOrCreate returns the Session for leafletID, creating it on first use.
func (s *Store) GetOrCreate(leafletID string) *Session {
	id := NormalizeLeafletID(leafletID)
	session, ok := s.sessions[id]
	if !ok {
		session = newSession(id)
		s.sessions[id] = session
	}
	return session
}

// Lookup returns an existing Session without creating one.
func (s *Store) Lookup(leafletID string) (*Session, bool) {
	session, ok := s.sessions[NormalizeLeafletID(leafletID)]
	return session, ok
}

func (s *Store) Len() int {
	return len(s.sessions)
}
