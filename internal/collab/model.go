// Package collab implements the real-time session engine for collaborative
// leaflet editing: one authoritative in-memory Session per leaflet, a
// per-room presence roster, and the protocol handlers that apply and fan out
// every mutation.
package collab

import (
	"encoding/json"
	"strings"
	"time"
)

const (
	maxAudit          = 2000
	maxVersions       = 200
	maxMentionsInbox  = 200
	maxMentionsOnJoin = 100
	maxRawMentions    = 50
	maxSnippetRunes   = 120

	unknownLeaflet = "unknown"
	unknownUser    = "Unknown"
	defaultSummary = "Autosave"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusInReview  Status = "in_review"
	StatusApproved  Status = "approved"
	StatusPublished Status = "published"
)

// ParseStatus normalizes a client supplied status. Blank maps to draft and
// the legacy "review" spelling maps to in_review.
func ParseStatus(raw string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", string(StatusDraft):
		return StatusDraft, true
	case string(StatusInReview), "review":
		return StatusInReview, true
	case string(StatusApproved):
		return StatusApproved, true
	case string(StatusPublished):
		return StatusPublished, true
	default:
		return "", false
	}
}

type BlockSize string

const (
	SizeStandard BlockSize = "standard"
	SizeHalf     BlockSize = "half"
	SizeFull     BlockSize = "full"
)

func (s BlockSize) valid() bool {
	return s == SizeStandard || s == SizeHalf || s == SizeFull
}

// User is the client supplied identity attached to events. It is trusted
// as-is.
type User struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Email  string `json:"email"`
}

func (u User) trimmed() User {
	return User{
		UserID: strings.TrimSpace(u.UserID),
		Name:   strings.TrimSpace(u.Name),
		Email:  strings.TrimSpace(u.Email),
	}
}

func (u User) displayName() string {
	if name := strings.TrimSpace(u.Name); name != "" {
		return name
	}
	return unknownUser
}

// LayoutOverride replaces the document-native block order and sizing of one
// area.
type LayoutOverride struct {
	Order     []string             `json:"order"`
	Sizes     map[string]BlockSize `json:"sizes"`
	Principle json.RawMessage      `json:"principle,omitempty"`
}

func (l LayoutOverride) normalized() LayoutOverride {
	out := LayoutOverride{
		Order: make([]string, 0, len(l.Order)),
		Sizes: make(map[string]BlockSize, len(l.Sizes)),
	}
	out.Order = append(out.Order, l.Order...)
	for key, size := range l.Sizes {
		if size.valid() {
			out.Sizes[key] = size
		}
	}
	if len(l.Principle) > 0 && string(l.Principle) != "null" {
		out.Principle = append(json.RawMessage(nil), l.Principle...)
	}
	return out
}

type Comment struct {
	ID         string    `json:"id"`
	At         time.Time `json:"at"`
	OfferID    string    `json:"offerId"`
	PageIndex  *int      `json:"pageIndex"`
	Author     *User     `json:"user"`
	Text       string    `json:"text"`
	Mentions   []string  `json:"mentions"`
	ParentID   *string   `json:"parentId"`
	OfferTitle *string   `json:"offerTitle"`
}

type MentionEntry struct {
	ID             string    `json:"id"`
	At             time.Time `json:"at"`
	LeafletID      string    `json:"leafletId"`
	OfferID        string    `json:"offerId"`
	OfferTitle     *string   `json:"offerTitle"`
	PageIndex      *int      `json:"pageIndex"`
	MentionedEmail string    `json:"mentionedEmail"`
	FromUser       *User     `json:"fromUser"`
	CommentID      string    `json:"commentId"`
	Snippet        string    `json:"commentSnippet"`
}

type AuditType string

const (
	AuditPresence AuditType = "presence"
	AuditDoc      AuditType = "doc"
	AuditEdit     AuditType = "edit"
	AuditLayout   AuditType = "layout"
	AuditStatus   AuditType = "status"
	AuditComment  AuditType = "comment"
	AuditVersion  AuditType = "version"
	AuditRevert   AuditType = "revert"
)

type AuditEntry struct {
	ID      string         `json:"id"`
	At      time.Time      `json:"at"`
	Type    AuditType      `json:"type"`
	Message string         `json:"message"`
	Author  *User          `json:"user"`
	Details map[string]any `json:"details,omitempty"`
}

// Snapshot is the part of a Session captured by a Version.
type Snapshot struct {
	Doc               Doc                       `json:"doc"`
	RawLeafletXML     json.RawMessage           `json:"rawLeafletXml"`
	FileInfo          json.RawMessage           `json:"fileInfo"`
	LayoutByAreaID    map[string]LayoutOverride `json:"layoutByAreaId"`
	Status            Status                    `json:"status"`
	CommentsByOfferID map[string][]Comment      `json:"commentsByOfferId"`
}

// Version is immutable once created.
type Version struct {
	ID       string    `json:"id"`
	At       time.Time `json:"at"`
	Author   *User     `json:"user"`
	Summary  string    `json:"summary"`
	Snapshot Snapshot  `json:"snapshot"`
}

// VersionMeta is the list form of a Version broadcast to clients.
type VersionMeta struct {
	ID      string    `json:"id"`
	At      time.Time `json:"at"`
	Author  *User     `json:"user"`
	Summary string    `json:"summary"`
}

func (v Version) Meta() VersionMeta {
	return VersionMeta{ID: v.ID, At: v.At, Author: v.Author, Summary: v.Summary}
}

// Session is the authoritative record for one leaflet. The map and slice
// fields are replaced, never mutated in place, so any value handed to an
// Emitter stays valid after later mutations.
type Session struct {
	LeafletID         string
	Doc               Doc
	RawLeafletXML     json.RawMessage
	FileInfo          json.RawMessage
	LayoutByAreaID    map[string]LayoutOverride
	Status            Status
	CommentsByOfferID map[string][]Comment
	MentionsByEmail   map[string][]MentionEntry
	Versions          []Version
	Audit             []AuditEntry
}

func newSession(leafletID string) *Session {
	return &Session{
		LeafletID:         leafletID,
		LayoutByAreaID:    map[string]LayoutOverride{},
		Status:            StatusDraft,
		CommentsByOfferID: map[string][]Comment{},
		MentionsByEmail:   map[string][]MentionEntry{},
	}
}

func (s *Session) HasDoc() bool {
	return s.Doc != nil
}

// State is the full snapshot sent with doc:sync.
type State struct {
	Doc               Doc                       `json:"doc"`
	RawLeafletXML     json.RawMessage           `json:"rawLeafletXml"`
	FileInfo          json.RawMessage           `json:"fileInfo"`
	LayoutByAreaID    map[string]LayoutOverride `json:"layoutByAreaId"`
	Status            Status                    `json:"status"`
	CommentsByOfferID map[string][]Comment      `json:"commentsByOfferId"`
	Versions          []VersionMeta             `json:"versions"`
	Audit             []AuditEntry              `json:"audit"`
}

func (s *Session) State() State {
	return State{
		Doc:               s.Doc,
		RawLeafletXML:     s.RawLeafletXML,
		FileInfo:          s.FileInfo,
		LayoutByAreaID:    s.LayoutByAreaID,
		Status:            s.Status,
		CommentsByOfferID: s.CommentsByOfferID,
		Versions:          s.versionList(),
		Audit:             s.Audit,
	}
}

func (s *Session) versionList() []VersionMeta {
	out := make([]VersionMeta, 0, len(s.Versions))
	for _, v := range s.Versions {
		out = append(out, v.Meta())
	}
	return out
}

func (s *Session) snapshot() Snapshot {
	return Snapshot{
		Doc:               s.Doc.Clone(),
		RawLeafletXML:     cloneRaw(s.RawLeafletXML),
		FileInfo:          cloneRaw(s.FileInfo),
		LayoutByAreaID:    cloneLayouts(s.LayoutByAreaID),
		Status:            s.Status,
		CommentsByOfferID: cloneComments(s.CommentsByOfferID),
	}
}

func (s *Session) restore(snap Snapshot) {
	s.Doc = snap.Doc.Clone()
	s.RawLeafletXML = cloneRaw(snap.RawLeafletXML)
	s.FileInfo = cloneRaw(snap.FileInfo)
	s.LayoutByAreaID = cloneLayouts(snap.LayoutByAreaID)
	if s.LayoutByAreaID == nil {
		s.LayoutByAreaID = map[string]LayoutOverride{}
	}
	s.Status = snap.Status
	if s.Status == "" {
		s.Status = StatusDraft
	}
	s.CommentsByOfferID = cloneComments(snap.CommentsByOfferID)
	if s.CommentsByOfferID == nil {
		s.CommentsByOfferID = map[string][]Comment{}
	}
}

// prepend returns a new slice with item at the head, truncated to limit.
func prepend[T any](list []T, item T, limit int) []T {
	size := len(list) + 1
	if size > limit {
		size = limit
	}
	out := make([]T, size)
	out[0] = item
	copy(out[1:], list)
	return out
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

func cloneLayouts(in map[string]LayoutOverride) map[string]LayoutOverride {
	if in == nil {
		return nil
	}
	out := make(map[string]LayoutOverride, len(in))
	for areaID, layout := range in {
		out[areaID] = layout.normalized()
	}
	return out
}

func cloneComments(in map[string][]Comment) map[string][]Comment {
	if in == nil {
		return nil
	}
	out := make(map[string][]Comment, len(in))
	for offerID, list := range in {
		copied := make([]Comment, len(list))
		for i, c := range list {
			c.Mentions = append([]string{}, c.Mentions...)
			copied[i] = c
		}
		out[offerID] = copied
	}
	return out
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func userRef(u User) *User {
	u = u.trimmed()
	if u == (User{}) {
		return nil
	}
	return &u
}
