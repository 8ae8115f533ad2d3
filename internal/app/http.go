package app

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pepen/api/internal/collab"
	"pepen/api/internal/directory"
)

const maxQueryRunes = 200

// Suggester answers email suggestion queries; *directory.Service satisfies it.
type Suggester interface {
	SuggestEmails(ctx context.Context, query string, limit int) ([]directory.Suggestion, error)
	Ping(ctx context.Context) map[string]error
}

// Inspector runs read-only callbacks against the live engine.
type Inspector interface {
	Inspect(ctx context.Context, fn func(*collab.Engine)) error
}

type HTTPServer struct {
	directory Suggester
	hub       Inspector
	socket    http.Handler
	origins   OriginPolicy
	log       *slog.Logger
	started   time.Time
	now       func() time.Time
}

type Options struct {
	Directory Suggester
	Hub       Inspector
	// Socket serves WebSocket upgrades on /socket.
	Socket  http.Handler
	Origins OriginPolicy
	Logger  *slog.Logger
	Now     func() time.Time
}

func NewHTTPServer(opts Options) *HTTPServer {
	s := &HTTPServer{
		directory: opts.Directory,
		hub:       opts.Hub,
		socket:    opts.Socket,
		origins:   opts.Origins,
		log:       opts.Logger,
		now:       opts.Now,
	}
	if s.log == nil {
		s.log = slog.New(slog.DiscardHandler)
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.started = s.now()
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if r.URL.Path == "/socket" && s.socket != nil {
		s.socket.ServeHTTP(w, r)
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	switch r.URL.Path {
	case "/health":
		now := s.now()
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":     true,
			"at":     now.UTC().Format(time.RFC3339Nano),
			"uptime": now.Sub(s.started).Seconds(),
		})
	case "/api/health":
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case "/api/ready":
		s.handleReady(w, r)
	case "/api/stats":
		s.handleStats(w, r)
	case "/api/suggest-emails":
		s.handleSuggestEmails(w, r)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{}
	if s.directory != nil {
		for name, err := range s.directory.Ping(ctx) {
			if err != nil {
				status = "not_ready"
				statusCode = http.StatusServiceUnavailable
				checks[name] = map[string]any{"status": "error", "error": err.Error()}
				continue
			}
			checks[name] = map[string]any{"status": "ok"}
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "HUB_UNAVAILABLE", "Session hub not running", nil)
		return
	}
	var sessions, present int
	err := s.hub.Inspect(r.Context(), func(e *collab.Engine) {
		sessions = e.Store().Len()
		present = e.Presence().Count()
	})
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "sessions": sessions, "connections": present})
}

func (s *HTTPServer) handleSuggestEmails(w http.ResponseWriter, r *http.Request) {
	if s.directory == nil {
		writeError(w, http.StatusServiceUnavailable, "DIRECTORY_UNAVAILABLE", "Directory not configured", nil)
		return
	}
	query := r.URL.Query()
	limit, _ := strconv.Atoi(strings.TrimSpace(query.Get("limit")))

	items, err := s.suggest(r.Context(), query.Get("q"), limit)
	if err != nil {
		s.log.Error("suggest emails", "error", err)
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "items": items})
}

func (s *HTTPServer) suggest(ctx context.Context, text string, limit int) ([]directory.Suggestion, error) {
	if len([]rune(text)) > maxQueryRunes {
		return nil, domainError(http.StatusBadRequest, "QUERY_TOO_LONG", "Query too long", map[string]any{"max": maxQueryRunes})
	}
	return s.directory.SuggestEmails(ctx, strings.TrimSpace(text), directory.ClampLimit(limit))
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		s.setCORSHeaders(writer.Header(), r.Header.Get("Origin"))
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.log.Info("request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the socket handler take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func (s *HTTPServer) setCORSHeaders(header http.Header, origin string) {
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
	if origin == "" || !s.origins.Allows(origin) {
		return
	}
	header.Set("Access-Control-Allow-Origin", origin)
	header.Set("Access-Control-Allow-Credentials", "true")
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	header.Add("Vary", "Origin")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, directory.ErrUnavailable) {
		return http.StatusServiceUnavailable, "DIRECTORY_UNAVAILABLE", "Directory unavailable", nil
	}
	if errors.Is(err, collab.ErrHubClosed) || errors.Is(err, context.Canceled) {
		return http.StatusServiceUnavailable, "SHUTTING_DOWN", "Server shutting down", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
