package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/jmylchreest/vertd/internal/protocol"
)

const (
	// maxMessageSize caps a single inbound message, continuations included.
	maxMessageSize = 1 << 20
	writeWait      = 10 * time.Second
	pingPeriod     = 30 * time.Second
)

// SessionServer runs the control protocol over one connection.
type SessionServer interface {
	Serve(ctx context.Context, in <-chan []byte, out protocol.Sender) error
}

// WSHandler carries the control protocol over websockets.
type WSHandler struct {
	sessions SessionServer
	upgrader websocket.Upgrader
	baseCtx  context.Context
	ping     time.Duration
	logger   *slog.Logger

	active sync.WaitGroup
}

// NewWSHandler creates a websocket handler.
func NewWSHandler(sessions SessionServer) *WSHandler {
	return &WSHandler{
		sessions: sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		baseCtx: context.Background(),
		ping:    pingPeriod,
		logger:  slog.Default().With(slog.String("component", "ws_handler")),
	}
}

// WithLogger sets the logger.
func (h *WSHandler) WithLogger(logger *slog.Logger) *WSHandler {
	h.logger = logger.With(slog.String("component", "ws_handler"))
	return h
}

// WithContext sets the context sessions run under. Hijacked connections
// outlive http.Server.Shutdown, so cancelling ctx is what ends them.
func (h *WSHandler) WithContext(ctx context.Context) *WSHandler {
	h.baseCtx = ctx
	return h
}

// RegisterChiRoutes registers the websocket route.
func (h *WSHandler) RegisterChiRoutes(r chi.Router) {
	r.Get("/api/ws", h.ServeWS)
}

// ServeWS upgrades the request and runs one protocol session on it. Text
// frames are protocol messages; binary frames are ignored.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	h.active.Add(1)
	defer h.active.Done()
	defer conn.Close()
	conn.SetReadLimit(maxMessageSize)

	ctx, cancel := context.WithCancel(h.baseCtx)
	defer cancel()

	in := make(chan []byte)
	go func() {
		defer close(in)
		for {
			kind, msg, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
					h.logger.Debug("websocket read ended", slog.String("error", err.Error()))
				}
				return
			}
			if kind != websocket.TextMessage {
				continue
			}
			select {
			case in <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	go h.keepAlive(ctx, conn)

	var writeMu sync.Mutex
	out := protocol.SenderFunc(func(msg []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(websocket.TextMessage, msg)
	})

	if err := h.sessions.Serve(ctx, in, out); err != nil && !errors.Is(err, context.Canceled) {
		h.logger.Debug("websocket session ended", slog.String("error", err.Error()))
	}

	writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	writeMu.Unlock()
}

// Wait blocks until every session has finished, or ctx is done. Sessions
// only end on their own once the context given to WithContext is cancelled.
func (h *WSHandler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// keepAlive pings idle connections so proxies do not drop a session that is
// waiting on a long conversion. Pongs are not required.
func (h *WSHandler) keepAlive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(h.ping)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
