package socket

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"pepen/api/internal/collab"
)

const maxFrameBytes = 1 << 20

// Submitter accepts inbound events; *collab.Hub satisfies it.
type Submitter interface {
	Submit(ctx context.Context, in collab.Inbound) error
}

type Options struct {
	// AllowOrigin rejects the upgrade with 403 when it returns false. Nil
	// allows every origin.
	AllowOrigin  func(origin string) bool
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// BaseContext bounds event submission for every connection.
	BaseContext context.Context
	Logger      *slog.Logger
}

// Handler upgrades HTTP requests to WebSocket connections and pumps frames
// between them and the hub.
type Handler struct {
	hub      Submitter
	registry *Registry
	opts     Options
	log      *slog.Logger
}

func NewHandler(hub Submitter, registry *Registry, opts Options) *Handler {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 25 * time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 60 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.BaseContext == nil {
		opts.BaseContext = context.Background()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{hub: hub, registry: registry, opts: opts, log: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if h.opts.AllowOrigin != nil && !h.opts.AllowOrigin(origin) {
		h.log.Warn("socket origin rejected", "origin", origin)
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	netConn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		h.log.Debug("socket upgrade failed", "error", err)
		return
	}

	id := uuid.NewString()
	c := h.registry.register(id)
	h.log.Info("socket connected", "conn_id", id, "remote", r.RemoteAddr)

	var wmu sync.Mutex
	go h.writeLoop(netConn, c, &wmu)
	go h.readLoop(netConn, c, &wmu)
}

func (h *Handler) readLoop(netConn net.Conn, c *client, wmu *sync.Mutex) {
	ctx := h.opts.BaseContext
	defer func() {
		h.registry.unregister(c.id)
		_ = netConn.Close()
		if err := h.hub.Submit(ctx, collab.Inbound{ConnID: c.id, Event: collab.EventDisconnect}); err != nil {
			h.log.Debug("disconnect not delivered", "conn_id", c.id, "error", err)
		}
		h.log.Info("socket disconnected", "conn_id", c.id)
	}()

	control := func(hdr ws.Header, r io.Reader) error {
		wmu.Lock()
		defer wmu.Unlock()
		_ = netConn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
		return wsutil.ControlFrameHandler(netConn, ws.StateServerSide)(hdr, r)
	}
	rd := &wsutil.Reader{
		Source:         netConn,
		State:          ws.StateServerSide,
		CheckUTF8:      true,
		OnIntermediate: control,
	}

	for {
		_ = netConn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
		hdr, err := rd.NextFrame()
		if err != nil {
			h.logReadError(c.id, err)
			return
		}
		if hdr.OpCode.IsControl() {
			if err := control(hdr, rd); err != nil {
				h.logReadError(c.id, err)
				return
			}
			continue
		}
		if hdr.OpCode != ws.OpText || hdr.Length > maxFrameBytes {
			if err := rd.Discard(); err != nil {
				return
			}
			continue
		}

		data, err := io.ReadAll(io.LimitReader(rd, maxFrameBytes))
		if err != nil {
			h.logReadError(c.id, err)
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Event == "" {
			h.log.Debug("dropping malformed frame", "conn_id", c.id)
			continue
		}
		if frame.Event == collab.EventDisconnect {
			continue
		}
		if err := h.hub.Submit(ctx, collab.Inbound{ConnID: c.id, Event: frame.Event, Data: frame.Data}); err != nil {
			h.log.Debug("hub refused event", "conn_id", c.id, "event", frame.Event, "error", err)
			return
		}
	}
}

func (h *Handler) writeLoop(netConn net.Conn, c *client, wmu *sync.Mutex) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	write := func(op ws.OpCode, payload []byte) error {
		wmu.Lock()
		defer wmu.Unlock()
		_ = netConn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
		return wsutil.WriteServerMessage(netConn, op, payload)
	}

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				body := ws.NewCloseFrameBody(ws.StatusNormalClosure, "")
				_ = write(ws.OpClose, body)
				_ = netConn.Close()
				return
			}
			if err := write(ws.OpText, msg); err != nil {
				h.log.Debug("socket write failed", "conn_id", c.id, "error", err)
				_ = netConn.Close()
				return
			}
		case <-ticker.C:
			if err := write(ws.OpPing, nil); err != nil {
				_ = netConn.Close()
				return
			}
		}
	}
}

func (h *Handler) logReadError(id string, err error) {
	var closed wsutil.ClosedError
	if errors.As(err, &closed) || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return
	}
	h.log.Debug("socket read ended", "conn_id", id, "error", err)
}
