package collab

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"pepen/api/internal/util"
)

// Emitter delivers one server event to one connection. Implementations must
// not block: delivery is fire-and-forget.
type Emitter interface {
	Emit(connID, event string, payload any)
}

type Options struct {
	// Domains gates mention notifications. A nil policy notifies nobody.
	Domains DomainPolicy
	Logger  *slog.Logger
	Now     func() time.Time
	NewID   func() string
}

// Engine applies inbound events to the Session Store and fans the results
// out through an Emitter. Every handler runs to completion without
// blocking; Engine is not safe for concurrent use and is driven by a Hub.
type Engine struct {
	store    *Store
	presence *Presence
	members  map[string]map[string]struct{}
	out      Emitter
	domains  DomainPolicy
	log      *slog.Logger
	now      func() time.Time
	newID    func() string
}

func NewEngine(out Emitter, opts Options) *Engine {
	e := &Engine{
		store:    NewStore(),
		presence: NewPresence(),
		members:  make(map[string]map[string]struct{}),
		out:      out,
		domains:  opts.Domains,
		log:      opts.Logger,
		now:      opts.Now,
		newID:    opts.NewID,
	}
	if e.log == nil {
		e.log = slog.New(slog.DiscardHandler)
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	if e.newID == nil {
		e.newID = util.NewID
	}
	return e
}

func (e *Engine) Store() *Store {
	return e.store
}

func (e *Engine) Presence() *Presence {
	return e.presence
}

// Handle runs the handler for one inbound event. Malformed or inapplicable
// events are dropped without any reply to the sender.
func (e *Engine) Handle(in Inbound) {
	switch in.Event {
	case EventRoomJoin:
		e.handleJoin(in)
	case EventPresenceUpdate:
		e.handlePresenceUpdate(in)
	case EventDocSet:
		e.handleDocSet(in)
	case EventOfferUpdate:
		e.handleOfferUpdate(in)
	case EventLayoutUpdate:
		e.handleLayoutUpdate(in)
	case EventStatusSet:
		e.handleStatusSet(in)
	case EventCommentAdd:
		e.handleCommentAdd(in)
	case EventVersionSave:
		e.handleVersionSave(in)
	case EventVersionRevert:
		e.handleVersionRevert(in)
	case EventDisconnect:
		e.handleDisconnect(in.ConnID)
	default:
		e.drop(in, "unknown event")
	}
}

// Append stamps entry with an id and timestamp, stores it at the head of the
// leaflet's audit log and returns the stored entry.
func (e *Engine) Append(leafletID string, entry AuditEntry) AuditEntry {
	return e.appendAudit(e.store.GetOrCreate(leafletID), entry)
}

func (e *Engine) handleJoin(in Inbound) {
	var p joinPayload
	if err := decodePayload(in.Data, &p); err != nil {
		e.drop(in, err.Error())
		return
	}
	session := e.store.GetOrCreate(p.LeafletID)
	leafletID := session.LeafletID
	user := p.User.trimmed()

	e.addMember(leafletID, in.ConnID)
	e.presence.Join(leafletID, in.ConnID, user, p.PageIndex.ptr())
	e.broadcastPresence(leafletID)

	if session.HasDoc() {
		e.out.Emit(in.ConnID, EventDocSync, DocSync{LeafletID: leafletID, State: session.State()})
	} else {
		e.out.Emit(in.ConnID, EventDocMissing, DocMissing{LeafletID: leafletID})
	}

	e.record(session, AuditEntry{
		Type:    AuditPresence,
		Message: fmt.Sprintf("%s joined the session", user.displayName()),
		Author:  &user,
	})

	if email := strings.ToLower(user.Email); email != "" {
		if inbox := session.MentionsByEmail[email]; len(inbox) > 0 {
			if len(inbox) > maxMentionsOnJoin {
				inbox = inbox[:maxMentionsOnJoin]
			}
			e.out.Emit(in.ConnID, EventMentionsList, MentionsList{LeafletID: leafletID, Items: inbox})
		}
	}
}

func (e *Engine) handlePresenceUpdate(in Inbound) {
	var p joinPayload
	if err := decodePayload(in.Data, &p); err != nil {
		e.drop(in, err.Error())
		return
	}
	leafletID := NormalizeLeafletID(p.LeafletID)
	e.presence.Update(leafletID, in.ConnID, p.User, p.PageIndex.ptr())
	e.broadcastPresence(leafletID)
}

func (e *Engine) handleDocSet(in Inbound) {
	var p docSetPayload
	if err := decodePayload(in.Data, &p); err != nil {
		e.drop(in, err.Error())
		return
	}
	session := e.store.GetOrCreate(p.LeafletID)
	if session.HasDoc() {
		e.drop(in, "document already bootstrapped")
		return
	}
	if p.Doc == nil {
		e.drop(in, "missing doc")
		return
	}

	session.Doc = p.Doc
	session.RawLeafletXML = nullable(p.RawLeafletXML)
	session.FileInfo = nullable(p.FileInfo)
	session.LayoutByAreaID = decodeLayouts(p.LayoutByAreaID)

	e.log.Info("leaflet bootstrapped", "leaflet_id", session.LeafletID, "conn", in.ConnID)
	e.record(session, AuditEntry{
		Type:    AuditDoc,
		Message: fmt.Sprintf("%s shared the leaflet data in the session", p.User.displayName()),
		Author:  userRef(p.User),
	})
	e.broadcast(session.LeafletID, EventDocSync, DocSync{LeafletID: session.LeafletID, State: session.State()})
}

func (e *Engine) handleOfferUpdate(in Inbound) {
	var p offerUpdatePayload
	if err := decodePayload(in.Data, &p); err != nil {
		e.drop(in, err.Error())
		return
	}
	session := e.store.GetOrCreate(p.LeafletID)
	if !session.HasDoc() {
		e.drop(in, "no document")
		return
	}
	areaIndex, okArea := p.AreaIndex.asInt()
	blockIndex, okBlock := p.BlockIndex.asInt()
	if !okArea || !okBlock {
		e.drop(in, "invalid offer position")
		return
	}
	if len(p.Changes) == 0 {
		e.drop(in, "empty changes")
		return
	}
	next, ok := session.Doc.WithOfferChanges(areaIndex, blockIndex, p.Changes)
	if !ok {
		e.drop(in, "offer not found")
		return
	}
	session.Doc = next

	what := "content"
	if _, ok := p.Changes["price"]; ok {
		what = "the price"
	}
	e.record(session, AuditEntry{
		Type:    AuditEdit,
		Message: fmt.Sprintf("%s changed %s on page %d", p.User.displayName(), what, areaIndex+1),
		Author:  userRef(p.User),
		Details: map[string]any{"areaIndex": areaIndex, "blockIndex": blockIndex, "changes": p.Changes},
	})
	e.broadcast(session.LeafletID, EventOfferUpdate, OfferUpdate{
		LeafletID:  session.LeafletID,
		AreaIndex:  areaIndex,
		BlockIndex: blockIndex,
		Changes:    p.Changes,
		ClientID:   optionalString(strings.TrimSpace(p.ClientID)),
	})
}

func (e *Engine) handleLayoutUpdate(in Inbound) {
	var p layoutUpdatePayload
	if err := decodePayload(in.Data, &p); err != nil {
		e.drop(in, err.Error())
		return
	}
	areaID := strings.TrimSpace(p.AreaID)
	if areaID == "" {
		e.drop(in, "missing areaId")
		return
	}

	var nextLayout *LayoutOverride
	if raw := bytes.TrimSpace(p.NextLayout); len(raw) > 0 && string(raw) != "null" {
		if raw[0] != '{' {
			e.drop(in, "nextLayout is not an object")
			return
		}
		var layout LayoutOverride
		if err := json.Unmarshal(raw, &layout); err != nil {
			e.drop(in, err.Error())
			return
		}
		normalized := layout.normalized()
		nextLayout = &normalized
	}

	session := e.store.GetOrCreate(p.LeafletID)
	layouts := make(map[string]LayoutOverride, len(session.LayoutByAreaID)+1)
	for key, value := range session.LayoutByAreaID {
		layouts[key] = value
	}
	if nextLayout == nil {
		delete(layouts, areaID)
	} else {
		layouts[areaID] = *nextLayout
	}
	session.LayoutByAreaID = layouts

	e.record(session, AuditEntry{
		Type:    AuditLayout,
		Message: fmt.Sprintf("%s changed the layout", p.User.displayName()),
		Author:  userRef(p.User),
		Details: map[string]any{"areaId": areaID},
	})
	e.broadcast(session.LeafletID, EventLayoutUpdate, LayoutUpdate{
		LeafletID:  session.LeafletID,
		AreaID:     areaID,
		NextLayout: nextLayout,
		ClientID:   optionalString(strings.TrimSpace(p.ClientID)),
	})
}

func (e *Engine) handleStatusSet(in Inbound) {
	var p statusSetPayload
	if err := decodePayload(in.Data, &p); err != nil {
		e.drop(in, err.Error())
		return
	}
	status, ok := ParseStatus(p.Status)
	if !ok {
		e.drop(in, "unknown status")
		return
	}
	session := e.store.GetOrCreate(p.LeafletID)
	session.Status = status

	e.record(session, AuditEntry{
		Type:    AuditStatus,
		Message: fmt.Sprintf("%s set the status to %s", p.User.displayName(), status),
		Author:  userRef(p.User),
	})
	e.broadcast(session.LeafletID, EventStatusSet, StatusSet{
		LeafletID: session.LeafletID,
		Status:    status,
		ClientID:  optionalString(strings.TrimSpace(p.ClientID)),
	})
}

func (e *Engine) handleCommentAdd(in Inbound) {
	var p commentAddPayload
	if err := decodePayload(in.Data, &p); err != nil {
		e.drop(in, err.Error())
		return
	}
	offerID := strings.TrimSpace(p.OfferID)
	text := strings.TrimSpace(p.Text)
	if offerID == "" || text == "" {
		e.drop(in, "missing offerId or text")
		return
	}
	session := e.store.GetOrCreate(p.LeafletID)
	leafletID := session.LeafletID
	author := userRef(p.User)
	offerTitle := optionalString(strings.TrimSpace(p.OfferTitle))
	pageIndex := p.PageIndex.ptr()

	comment := Comment{
		ID:         e.newID(),
		At:         e.now(),
		OfferID:    offerID,
		PageIndex:  pageIndex,
		Author:     author,
		Text:       text,
		Mentions:   commentMentions(p.Mentions),
		ParentID:   optionalString(strings.TrimSpace(p.ParentID)),
		OfferTitle: offerTitle,
	}

	comments := make(map[string][]Comment, len(session.CommentsByOfferID)+1)
	for key, value := range session.CommentsByOfferID {
		comments[key] = value
	}
	thread := make([]Comment, 0, len(comments[offerID])+1)
	thread = append(thread, comments[offerID]...)
	comments[offerID] = append(thread, comment)
	session.CommentsByOfferID = comments

	e.record(session, AuditEntry{
		Type:    AuditComment,
		Message: fmt.Sprintf("%s commented on an offer", p.User.displayName()),
		Author:  author,
		Details: map[string]any{"offerId": offerID},
	})
	e.broadcast(leafletID, EventCommentAdd, CommentAdded{
		LeafletID: leafletID,
		Comment:   comment,
		ClientID:  optionalString(strings.TrimSpace(p.ClientID)),
	})

	targets := mentionTargets(comment.Mentions, e.domains)
	if len(targets) == 0 {
		return
	}
	excerpt := snippet(text)
	for _, email := range targets {
		entry := MentionEntry{
			ID:             e.newID(),
			At:             e.now(),
			LeafletID:      leafletID,
			OfferID:        offerID,
			OfferTitle:     offerTitle,
			PageIndex:      pageIndex,
			MentionedEmail: email,
			FromUser:       author,
			CommentID:      comment.ID,
			Snippet:        excerpt,
		}
		inboxes := make(map[string][]MentionEntry, len(session.MentionsByEmail)+1)
		for key, value := range session.MentionsByEmail {
			inboxes[key] = value
		}
		inboxes[email] = prepend(inboxes[email], entry, maxMentionsInbox)
		session.MentionsByEmail = inboxes

		for _, connID := range e.presence.ConnectionsWithEmail(leafletID, email) {
			e.out.Emit(connID, EventMentionNew, MentionNew{LeafletID: leafletID, Entry: entry})
		}
	}
}

func (e *Engine) handleVersionSave(in Inbound) {
	var p versionSavePayload
	if err := decodePayload(in.Data, &p); err != nil {
		e.drop(in, err.Error())
		return
	}
	session := e.store.GetOrCreate(p.LeafletID)
	if !session.HasDoc() {
		e.drop(in, "no document")
		return
	}
	summary := strings.TrimSpace(p.Summary)
	if summary == "" {
		summary = defaultSummary
	}
	version := Version{
		ID:       e.newID(),
		At:       e.now(),
		Author:   userRef(p.User),
		Summary:  summary,
		Snapshot: session.snapshot(),
	}
	session.Versions = prepend(session.Versions, version, maxVersions)

	e.record(session, AuditEntry{
		Type:    AuditVersion,
		Message: fmt.Sprintf("%s saved a version", p.User.displayName()),
		Author:  version.Author,
		Details: map[string]any{"versionId": version.ID},
	})
	e.broadcast(session.LeafletID, EventVersionsList, VersionsList{
		LeafletID: session.LeafletID,
		Versions:  session.versionList(),
	})
}

func (e *Engine) handleVersionRevert(in Inbound) {
	var p versionRevertPayload
	if err := decodePayload(in.Data, &p); err != nil {
		e.drop(in, err.Error())
		return
	}
	versionID := strings.TrimSpace(p.VersionID)
	session := e.store.GetOrCreate(p.LeafletID)
	var target *Version
	for i := range session.Versions {
		if session.Versions[i].ID == versionID {
			target = &session.Versions[i]
			break
		}
	}
	if versionID == "" || target == nil {
		e.drop(in, "unknown version")
		return
	}
	session.restore(target.Snapshot)

	e.record(session, AuditEntry{
		Type:    AuditRevert,
		Message: fmt.Sprintf("%s restored a version", p.User.displayName()),
		Author:  userRef(p.User),
		Details: map[string]any{"versionId": versionID},
	})
	e.broadcast(session.LeafletID, EventDocSync, DocSync{LeafletID: session.LeafletID, State: session.State()})
}

func (e *Engine) handleDisconnect(connID string) {
	e.removeMember(connID)
	for _, departed := range e.presence.Leave(connID) {
		e.broadcastPresence(departed.LeafletID)
		author := User{UserID: departed.Entry.UserID, Name: departed.Entry.Name, Email: departed.Entry.Email}
		e.record(e.store.GetOrCreate(departed.LeafletID), AuditEntry{
			Type:    AuditPresence,
			Message: fmt.Sprintf("%s left the session", author.displayName()),
			Author:  &author,
		})
	}
}

func (e *Engine) appendAudit(session *Session, entry AuditEntry) AuditEntry {
	entry.ID = e.newID()
	entry.At = e.now()
	session.Audit = prepend(session.Audit, entry, maxAudit)
	return entry
}

// record appends an audit entry and broadcasts the stored form.
func (e *Engine) record(session *Session, entry AuditEntry) {
	stored := e.appendAudit(session, entry)
	e.broadcast(session.LeafletID, EventAuditEntry, AuditEvent{LeafletID: session.LeafletID, Entry: stored})
}

func (e *Engine) broadcastPresence(leafletID string) {
	e.broadcast(leafletID, EventPresenceList, PresenceList{LeafletID: leafletID, Users: e.presence.List(leafletID)})
}

func (e *Engine) broadcast(leafletID, event string, payload any) {
	room := e.members[leafletID]
	conns := make([]string, 0, len(room))
	for connID := range room {
		conns = append(conns, connID)
	}
	sort.Strings(conns)
	for _, connID := range conns {
		e.out.Emit(connID, event, payload)
	}
}

func (e *Engine) addMember(leafletID, connID string) {
	room, ok := e.members[leafletID]
	if !ok {
		room = make(map[string]struct{})
		e.members[leafletID] = room
	}
	room[connID] = struct{}{}
}

func (e *Engine) removeMember(connID string) {
	for leafletID, room := range e.members {
		delete(room, connID)
		if len(room) == 0 {
			delete(e.members, leafletID)
		}
	}
}

func (e *Engine) drop(in Inbound, reason string) {
	e.log.Debug("event dropped", "event", in.Event, "conn", in.ConnID, "reason", reason)
}

func decodePayload(data json.RawMessage, target any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

// nullable maps absent, null and empty-string JSON values to nil.
func nullable(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" || string(trimmed) == `""` {
		return nil
	}
	return append(json.RawMessage(nil), trimmed...)
}

func decodeLayouts(raw json.RawMessage) map[string]LayoutOverride {
	out := map[string]LayoutOverride{}
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(nullable(raw), &entries); err != nil {
		return out
	}
	for areaID, value := range entries {
		if strings.TrimSpace(areaID) == "" || nullable(value) == nil {
			continue
		}
		var layout LayoutOverride
		if err := json.Unmarshal(value, &layout); err != nil {
			continue
		}
		out[areaID] = layout.normalized()
	}
	return out
}
