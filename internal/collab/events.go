package collab

import (
	"encoding/json"
	"math"
)

// Client -> server events.
const (
	EventRoomJoin       = "room:join"
	EventPresenceUpdate = "presence:update"
	EventDocSet         = "doc:set"
	EventOfferUpdate    = "offer:update"
	EventLayoutUpdate   = "layout:update"
	EventStatusSet      = "status:set"
	EventCommentAdd     = "comment:add"
	EventVersionSave    = "version:save"
	EventVersionRevert  = "version:revert"

	// EventDisconnect is synthesized by the transport when a connection
	// closes; clients cannot send it.
	EventDisconnect = "disconnect"
)

// Server -> client events. offer:update, layout:update, status:set and
// comment:add reuse the client event names.
const (
	EventPresenceList = "presence:list"
	EventDocSync      = "doc:sync"
	EventDocMissing   = "doc:missing"
	EventVersionsList = "versions:list"
	EventAuditEntry   = "audit:entry"
	EventMentionsList = "mentions:list"
	EventMentionNew   = "mention:new"
)

// Inbound is one event received from a connection.
type Inbound struct {
	ConnID string
	Event  string
	Data   json.RawMessage
}

// index decodes any JSON number; fractional or out of range values are
// rejected by asInt.
type index struct {
	set   bool
	value float64
}

func (i *index) UnmarshalJSON(data []byte) error {
	var v *float64
	if err := json.Unmarshal(data, &v); err != nil {
		// non-numeric values behave as if absent
		return nil
	}
	if v != nil {
		i.set = true
		i.value = *v
	}
	return nil
}

func (i index) asInt() (int, bool) {
	if !i.set || i.value != math.Trunc(i.value) || i.value < 0 || i.value > math.MaxInt32 {
		return 0, false
	}
	return int(i.value), true
}

// ptr returns nil unless the value is a valid index.
func (i index) ptr() *int {
	v, ok := i.asInt()
	if !ok {
		return nil
	}
	return &v
}

// stringList keeps only the string elements of a JSON array.
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	var items []any
	if err := json.Unmarshal(data, &items); err != nil {
		*l = nil
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	*l = out
	return nil
}

type joinPayload struct {
	LeafletID string `json:"leafletId"`
	User      User   `json:"user"`
	PageIndex index  `json:"pageIndex"`
}

type docSetPayload struct {
	LeafletID      string          `json:"leafletId"`
	Doc            Doc             `json:"doc"`
	RawLeafletXML  json.RawMessage `json:"rawLeafletXml"`
	FileInfo       json.RawMessage `json:"fileInfo"`
	LayoutByAreaID json.RawMessage `json:"layoutByAreaId"`
	User           User            `json:"user"`
}

type offerUpdatePayload struct {
	LeafletID  string         `json:"leafletId"`
	AreaIndex  index          `json:"areaIndex"`
	BlockIndex index          `json:"blockIndex"`
	Changes    map[string]any `json:"changes"`
	ClientID   string         `json:"clientId"`
	User       User           `json:"user"`
}

type layoutUpdatePayload struct {
	LeafletID  string          `json:"leafletId"`
	AreaID     string          `json:"areaId"`
	NextLayout json.RawMessage `json:"nextLayout"`
	ClientID   string          `json:"clientId"`
	User       User            `json:"user"`
}

type statusSetPayload struct {
	LeafletID string `json:"leafletId"`
	Status    string `json:"status"`
	ClientID  string `json:"clientId"`
	User      User   `json:"user"`
}

type commentAddPayload struct {
	LeafletID  string     `json:"leafletId"`
	OfferID    string     `json:"offerId"`
	Text       string     `json:"text"`
	PageIndex  index      `json:"pageIndex"`
	OfferTitle string     `json:"offerTitle"`
	ParentID   string     `json:"parentId"`
	Mentions   stringList `json:"mentions"`
	ClientID   string     `json:"clientId"`
	User       User       `json:"user"`
}

type versionSavePayload struct {
	LeafletID string `json:"leafletId"`
	Summary   string `json:"summary"`
	User      User   `json:"user"`
}

type versionRevertPayload struct {
	LeafletID string `json:"leafletId"`
	VersionID string `json:"versionId"`
	User      User   `json:"user"`
}

type PresenceList struct {
	LeafletID string          `json:"leafletId"`
	Users     []PresenceEntry `json:"users"`
}

type DocSync struct {
	LeafletID string `json:"leafletId"`
	State     State  `json:"state"`
}

type DocMissing struct {
	LeafletID string `json:"leafletId"`
}

type OfferUpdate struct {
	LeafletID  string         `json:"leafletId"`
	AreaIndex  int            `json:"areaIndex"`
	BlockIndex int            `json:"blockIndex"`
	Changes    map[string]any `json:"changes"`
	ClientID   *string        `json:"clientId"`
}

type LayoutUpdate struct {
	LeafletID  string          `json:"leafletId"`
	AreaID     string          `json:"areaId"`
	NextLayout *LayoutOverride `json:"nextLayout"`
	ClientID   *string         `json:"clientId"`
}

type StatusSet struct {
	LeafletID string  `json:"leafletId"`
	Status    Status  `json:"status"`
	ClientID  *string `json:"clientId"`
}

type CommentAdded struct {
	LeafletID string  `json:"leafletId"`
	Comment   Comment `json:"comment"`
	ClientID  *string `json:"clientId"`
}

type VersionsList struct {
	LeafletID string        `json:"leafletId"`
	Versions  []VersionMeta `json:"versions"`
}

type AuditEvent struct {
	LeafletID string     `json:"leafletId"`
	Entry     AuditEntry `json:"entry"`
}

type MentionsList struct {
	LeafletID string         `json:"leafletId"`
	Items     []MentionEntry `json:"items"`
}

type MentionNew struct {
	LeafletID string       `json:"leafletId"`
	Entry     MentionEntry `json:"entry"`
}
