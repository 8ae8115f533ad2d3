package collab

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	cases := map[string]Status{
		"":          StatusDraft,
		"draft":     StatusDraft,
		" Review ":  StatusInReview,
		"in_review": StatusInReview,
		"APPROVED":  StatusApproved,
		"published": StatusPublished,
	}
	for raw, want := range cases {
		got, ok := ParseStatus(raw)
		assert.True(t, ok, raw)
		assert.Equal(t, want, got, raw)
	}
	_, ok := ParseStatus("archived")
	assert.False(t, ok)
}

func TestStoreGetOrCreate(t *testing.T) {
	s := NewStore()
	first := s.GetOrCreate(" L1 ")
	assert.Same(t, first, s.GetOrCreate("L1"))
	assert.Equal(t, "L1", first.LeafletID)
	assert.Equal(t, StatusDraft, first.Status)
	assert.False(t, first.HasDoc())

	_, ok := s.Lookup("L2")
	assert.False(t, ok)
	assert.Same(t, s.GetOrCreate(""), s.GetOrCreate("  "))
	assert.Equal(t, 2, s.Len())
}

func TestPrependCapsFromTail(t *testing.T) {
	list := []int{}
	for i := 0; i < 5; i++ {
		list = prepend(list, i, 3)
	}
	assert.Equal(t, []int{4, 3, 2}, list)

	held := list
	list = prepend(list, 9, 3)
	assert.Equal(t, []int{4, 3, 2}, held)
	assert.Equal(t, []int{9, 4, 3}, list)
}

func TestLayoutNormalized(t *testing.T) {
	var layout LayoutOverride
	require.NoError(t, json.Unmarshal([]byte(`{"sizes":{"a":"full","b":"xl","c":"standard"},"principle":null}`), &layout))

	got := layout.normalized()
	assert.Equal(t, []string{}, got.Order)
	assert.Equal(t, map[string]BlockSize{"a": SizeFull, "c": SizeStandard}, got.Sizes)
	assert.Nil(t, got.Principle)

	raw, err := json.Marshal(got)
	require.NoError(t, err)
	assert.JSONEq(t, `{"order":[],"sizes":{"a":"full","c":"standard"}}`, string(raw))
}

func TestDocWithOfferChangesCopiesPathOnly(t *testing.T) {
	doc := Doc(sampleDoc())
	areas := doc["areas"].([]any)
	untouched := areas[1]

	next, ok := doc.WithOfferChanges(0, 1, map[string]any{"price": "7", "badge": "new"})
	require.True(t, ok)

	offer, _ := next.Offer(0, 1)
	assert.Equal(t, map[string]any{"title": "Tea", "price": "7", "badge": "new"}, offer)

	before, _ := doc.Offer(0, 1)
	assert.Equal(t, "9.95", before["price"])
	assert.NotContains(t, before, "badge")

	nextAreas := next["areas"].([]any)
	assert.Equal(t, untouched, nextAreas[1])
	assert.Equal(t, "Week 12", next["title"])

	_, ok = doc.WithOfferChanges(0, 2, map[string]any{"price": "1"})
	assert.False(t, ok)
	_, ok = Doc{"areas": "nope"}.WithOfferChanges(0, 0, nil)
	assert.False(t, ok)
	_, ok = Doc{"areas": []any{map[string]any{"blocks": []any{map[string]any{"text": "no offer"}}}}}.WithOfferChanges(0, 0, nil)
	assert.False(t, ok)
}

func TestDocCloneIsDeep(t *testing.T) {
	doc := Doc(sampleDoc())
	clone := doc.Clone()

	offer, _ := clone.Offer(0, 0)
	offer["price"] = "0"

	original, _ := doc.Offer(0, 0)
	assert.Equal(t, "19.95", original["price"])
	assert.Nil(t, Doc(nil).Clone())
}

func TestPresenceJoinLeave(t *testing.T) {
	p := NewPresence()
	page := 2

	p.Join("L1", "c1", User{Name: " Anne ", Email: "anne@company.dk"}, &page)
	p.Join("L1", "c2", User{}, nil)
	p.Join("L2", "c1", User{UserID: "u1", Name: "Anne"}, nil)

	list := p.List("L1")
	require.Len(t, list, 2)
	assert.Equal(t, "anne@company.dk", list[0].UserID)
	assert.Equal(t, "Anne", list[0].Name)
	assert.Equal(t, 2, list[0].PageIndex)
	assert.Equal(t, "c2", list[1].UserID)
	assert.Equal(t, "Unknown", list[1].Name)
	assert.Equal(t, 3, p.Count())

	assert.Equal(t, []string{"c1"}, p.ConnectionsWithEmail("L1", "ANNE@company.dk"))
	assert.Empty(t, p.ConnectionsWithEmail("L1", ""))

	departures := p.Leave("c1")
	require.Len(t, departures, 2)
	assert.Equal(t, "L1", departures[0].LeafletID)
	assert.Equal(t, "L2", departures[1].LeafletID)
	assert.Len(t, p.List("L1"), 1)
	assert.Empty(t, p.List("L2"))
	assert.Empty(t, p.Leave("c1"))
	assert.Empty(t, p.List("nowhere"))
}

func TestPresenceListIsACopy(t *testing.T) {
	p := NewPresence()
	p.Join("L1", "c1", User{Name: "Anne"}, nil)

	list := p.List("L1")
	list[0].Name = "changed"
	assert.Equal(t, "Anne", p.List("L1")[0].Name)
}

func TestColorFor(t *testing.T) {
	assert.Equal(t, "#FB8C00", colorFor("a"))
	assert.Equal(t, "#F4511E", colorFor("ab"))
	assert.Equal(t, colorFor("anne@company.dk"), colorFor("anne@company.dk"))
	assert.Contains(t, presencePalette, colorFor(strings.Repeat("ø", 500)))
}

func TestCommentMentions(t *testing.T) {
	raw := make([]string, 0, 60)
	for i := 0; i < 60; i++ {
		raw = append(raw, strings.Repeat("x", i+1)+"@company.dk")
	}
	assert.Len(t, commentMentions(raw), maxRawMentions)
	assert.Equal(t, []string{"A@b.dk", "c@d.dk"}, commentMentions([]string{" A@b.dk ", "a@B.dk", "", "c@d.dk"}))
}

func TestMentionTargets(t *testing.T) {
	policy := allowDomains{"company.dk"}
	got := mentionTargets([]string{"Søren@Company.dk", "søren@company.dk", "bad@", "x@other.dk", "a.b+c@company.dk"}, policy)
	assert.Equal(t, []string{"søren@company.dk", "a.b+c@company.dk"}, got)
	assert.Empty(t, mentionTargets([]string{"a@company.dk"}, nil))
}

func TestSnippet(t *testing.T) {
	exact := strings.Repeat("a", maxSnippetRunes)
	assert.Equal(t, exact, snippet(exact))

	long := strings.Repeat("ø", maxSnippetRunes+1)
	got := snippet(long)
	assert.Equal(t, maxSnippetRunes, len([]rune(got)))
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestHubSerializesEvents(t *testing.T) {
	e, rec := newTestEngine()
	hub := NewHub(e, 4)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	for _, conn := range []string{"c1", "c2", "c3"} {
		raw, _ := json.Marshal(map[string]any{"leafletId": "L1", "user": map[string]any{"name": conn}})
		require.NoError(t, hub.Submit(ctx, Inbound{ConnID: conn, Event: EventRoomJoin, Data: raw}))
	}

	var roster []PresenceEntry
	var emittedCount int
	require.NoError(t, hub.Inspect(ctx, func(e *Engine) {
		roster = e.Presence().List("L1")
		emittedCount = len(rec.events)
	}))
	require.Len(t, roster, 3)
	assert.Equal(t, "c3", roster[2].Name)
	assert.Positive(t, emittedCount)

	cancel()
	select {
	case <-hub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}
	assert.ErrorIs(t, hub.Submit(context.Background(), Inbound{ConnID: "c4", Event: EventRoomJoin}), ErrHubClosed)
	assert.ErrorIs(t, hub.Inspect(context.Background(), func(*Engine) {}), ErrHubClosed)
}

func TestHubSubmitHonoursContext(t *testing.T) {
	e, _ := newTestEngine()
	hub := NewHub(e, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, hub.Submit(ctx, Inbound{ConnID: "c1", Event: EventRoomJoin}), context.Canceled)
}

func TestIndexPtrRejectsInvalidPages(t *testing.T) {
	for _, raw := range []string{`1.5`, `-1`, `1e300`, `"2"`, `null`} {
		var i index
		require.NoError(t, json.Unmarshal([]byte(raw), &i), raw)
		assert.Nil(t, i.ptr(), raw)
	}

	var i index
	require.NoError(t, json.Unmarshal([]byte(`3`), &i))
	require.NotNil(t, i.ptr())
	assert.Equal(t, 3, *i.ptr())
}
