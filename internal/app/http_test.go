package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pepen/api/internal/collab"
	"pepen/api/internal/directory"
)

type fakeSuggester struct {
	items     []directory.Suggestion
	err       error
	pings     map[string]error
	lastQuery string
	lastLimit int
}

func (f *fakeSuggester) SuggestEmails(_ context.Context, query string, limit int) ([]directory.Suggestion, error) {
	f.lastQuery = query
	f.lastLimit = limit
	return f.items, f.err
}

func (f *fakeSuggester) Ping(context.Context) map[string]error {
	return f.pings
}

func serve(t *testing.T, s *HTTPServer, method, target string, header map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	var body map[string]any
	if rr.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	}
	return rr, body
}

func TestHealthEndpoints(t *testing.T) {
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	now := started
	s := NewHTTPServer(Options{Now: func() time.Time { return now }})
	now = started.Add(90 * time.Second)

	rr, body := serve(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "2024-05-01T12:01:30Z", body["at"])
	assert.EqualValues(t, 90, body["uptime"])

	rr, body = serve(t, s, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, body["ok"])
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
}

func TestReadyReportsBackendFailures(t *testing.T) {
	fake := &fakeSuggester{pings: map[string]error{"redis": nil}}
	s := NewHTTPServer(Options{Directory: fake})

	rr, body := serve(t, s, http.MethodGet, "/api/ready", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ready", body["status"])

	fake.pings["postgres"] = errors.New("connection refused")
	rr, body = serve(t, s, http.MethodGet, "/api/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "not_ready", body["status"])
	checks := body["checks"].(map[string]any)
	assert.Equal(t, "error", checks["postgres"].(map[string]any)["status"])
	assert.Equal(t, "ok", checks["redis"].(map[string]any)["status"])
}

func TestSuggestEmails(t *testing.T) {
	fake := &fakeSuggester{items: []directory.Suggestion{{ID: "anne.hansen@company.dk", Display: "Anne Hansen"}}}
	s := NewHTTPServer(Options{Directory: fake})

	rr, body := serve(t, s, http.MethodGet, "/api/suggest-emails?q=%20anne%20&limit=50", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, body["ok"])
	items := body["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "anne.hansen@company.dk", items[0].(map[string]any)["id"])
	assert.Equal(t, "anne", fake.lastQuery)
	assert.Equal(t, directory.MaxLimit, fake.lastLimit)

	serve(t, s, http.MethodGet, "/api/suggest-emails?limit=abc", nil)
	assert.Equal(t, directory.DefaultLimit, fake.lastLimit)
}

func TestSuggestEmailsErrors(t *testing.T) {
	fake := &fakeSuggester{err: directory.ErrUnavailable}
	s := NewHTTPServer(Options{Directory: fake})

	rr, body := serve(t, s, http.MethodGet, "/api/suggest-emails?q=a", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "DIRECTORY_UNAVAILABLE", body["code"])

	rr, body = serve(t, s, http.MethodGet, "/api/suggest-emails?q="+strings.Repeat("x", maxQueryRunes+1), nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "QUERY_TOO_LONG", body["code"])
}

func TestUnknownRouteAndMethod(t *testing.T) {
	s := NewHTTPServer(Options{})

	rr, body := serve(t, s, http.MethodGet, "/api/nope", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "NOT_FOUND", body["code"])

	rr, _ = serve(t, s, http.MethodPost, "/api/health", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	rr, _ = serve(t, s, http.MethodOptions, "/api/suggest-emails", nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestCORSHeadersFollowOriginPolicy(t *testing.T) {
	s := NewHTTPServer(Options{Origins: OriginPolicy{Allowed: []string{"http://localhost:3000"}, Strict: true}})

	rr, _ := serve(t, s, http.MethodGet, "/api/health", map[string]string{"Origin": "http://localhost:3000"})
	assert.Equal(t, "http://localhost:3000", rr.Header().Get("Access-Control-Allow-Origin"))

	rr, _ = serve(t, s, http.MethodGet, "/api/health", map[string]string{"Origin": "https://evil.example"})
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestOriginPolicy(t *testing.T) {
	strict := OriginPolicy{Allowed: []string{"http://localhost:3000"}, Strict: true}
	assert.True(t, strict.Allows(""))
	assert.True(t, strict.Allows("http://LOCALHOST:3000/"))
	assert.False(t, strict.Allows("http://localhost:5173"))

	lenient := OriginPolicy{Allowed: strict.Allowed}
	assert.True(t, lenient.Allows("http://localhost:5173"))
}

func TestStatsReadsEngineThroughHub(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	engine := collab.NewEngine(discard{}, collab.Options{})
	hub := collab.NewHub(engine, 1)
	go hub.Run(ctx)

	require.NoError(t, hub.Submit(ctx, collab.Inbound{ConnID: "c1", Event: collab.EventRoomJoin, Data: json.RawMessage(`{"leafletId":"L1"}`)}))

	s := NewHTTPServer(Options{Hub: hub})
	rr, body := serve(t, s, http.MethodGet, "/api/stats", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 1, body["sessions"])
	assert.EqualValues(t, 1, body["connections"])

	cancel()
	<-hub.Done()
	rr, body = serve(t, s, http.MethodGet, "/api/stats", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "SHUTTING_DOWN", body["code"])
}

type discard struct{}

func (discard) Emit(string, string, any) {}
