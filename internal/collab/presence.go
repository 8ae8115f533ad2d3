package collab

import (
	"strings"
	"unicode/utf16"
)

var presencePalette = []string{"#1E88E5", "#8E24AA", "#D81B60", "#43A047", "#F4511E", "#546E7A", "#FB8C00"}

// PresenceEntry describes one connection in a room. Several entries may
// share a UserID when the same user has more than one tab open.
type PresenceEntry struct {
	UserID    string `json:"userId"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Color     string `json:"color"`
	PageIndex int    `json:"pageIndex"`
}

// Departure is a roster entry removed by Leave.
type Departure struct {
	LeafletID string
	Entry     PresenceEntry
}

type roster struct {
	order   []string
	entries map[string]PresenceEntry
}

// Presence tracks which connections are in which room. Like Store it is
// owned by the Hub goroutine and takes no locks.
type Presence struct {
	rooms map[string]*roster

	// room names in first-seen order, so Leave reports departures stably
	roomOrder []string
}

func NewPresence() *Presence {
	return &Presence{rooms: make(map[string]*roster)}
}

// Join inserts or overwrites the entry for connID. A nil pageIndex keeps
// the previously known page, or 0 for a new entry.
func (p *Presence) Join(leafletID, connID string, user User, pageIndex *int) PresenceEntry {
	id := NormalizeLeafletID(leafletID)
	room, ok := p.rooms[id]
	if !ok {
		room = &roster{entries: make(map[string]PresenceEntry)}
		p.rooms[id] = room
		p.roomOrder = append(p.roomOrder, id)
	}

	user = user.trimmed()
	userID := firstNonBlank(user.UserID, user.Email, connID)
	name := user.Name
	if name == "" {
		name = unknownUser
	}

	page := 0
	previous, existed := room.entries[connID]
	switch {
	case pageIndex != nil:
		page = *pageIndex
	case existed:
		page = previous.PageIndex
	}

	entry := PresenceEntry{
		UserID:    userID,
		Name:      name,
		Email:     user.Email,
		Color:     colorFor(userID),
		PageIndex: page,
	}
	if !existed {
		room.order = append(room.order, connID)
	}
	room.entries[connID] = entry
	return entry
}

// Update has the same semantics as Join; it is used for page heartbeats.
func (p *Presence) Update(leafletID, connID string, user User, pageIndex *int) PresenceEntry {
	return p.Join(leafletID, connID, user, pageIndex)
}

// Leave removes connID from every room it appears in.
func (p *Presence) Leave(connID string) []Departure {
	var out []Departure
	for _, id := range p.roomOrder {
		room := p.rooms[id]
		entry, ok := room.entries[connID]
		if !ok {
			continue
		}
		delete(room.entries, connID)
		room.order = removeString(room.order, connID)
		out = append(out, Departure{LeafletID: id, Entry: entry})
	}
	return out
}

// List returns a copy of the room roster in join order.
func (p *Presence) List(leafletID string) []PresenceEntry {
	room, ok := p.rooms[NormalizeLeafletID(leafletID)]
	if !ok {
		return []PresenceEntry{}
	}
	out := make([]PresenceEntry, 0, len(room.order))
	for _, connID := range room.order {
		out = append(out, room.entries[connID])
	}
	return out
}

// ConnectionsWithEmail returns the connections in the room whose presence
// email matches, ignoring case.
func (p *Presence) ConnectionsWithEmail(leafletID, email string) []string {
	wanted := strings.ToLower(strings.TrimSpace(email))
	room, ok := p.rooms[NormalizeLeafletID(leafletID)]
	if wanted == "" || !ok {
		return nil
	}
	var out []string
	for _, connID := range room.order {
		if strings.ToLower(room.entries[connID].Email) == wanted {
			out = append(out, connID)
		}
	}
	return out
}

// colorFor hashes userID over UTF-16 code units with 32-bit wraparound so
// browser clients computing the same palette index agree with the server.
func colorFor(userID string) string {
	var hash int32
	for _, unit := range utf16.Encode([]rune(userID)) {
		hash = (hash << 5) - hash + int32(unit)
	}
	abs := int64(hash)
	if abs < 0 {
		abs = -abs
	}
	return presencePalette[abs%int64(len(presencePalette))]
}

func removeString(list []string, value string) []string {
	out := list[:0]
	for _, item := range list {
		if item != value {
			out = append(out, item)
		}
	}
	return out
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// Count returns the number of roster entries across all rooms.
func (p *Presence) Count() int {
	total := 0
	for _, room := range p.rooms {
		total += len(room.order)
	}
	return total
}
