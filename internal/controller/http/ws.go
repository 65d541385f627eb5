package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/vadim/neo-social/internal/config"
	account "github.com/vadim/neo-social/internal/domain/account/entity"
	"github.com/vadim/neo-social/internal/httpx/response"
	"github.com/vadim/neo-social/internal/realtime"
	"github.com/vadim/neo-social/internal/realtime/wire"
)

// LiveEngine accepts live connections and their inbound frames
type LiveEngine interface {
	Connect(ctx context.Context, c *realtime.Conn) error
	Disconnect(c *realtime.Conn)
	Handle(c *realtime.Conn, env wire.Envelope)
}

// Authenticator resolves the identity of a request
type Authenticator interface {
	Authenticate(r *http.Request) (account.Identity, error)
}

// WSHandler upgrades authenticated requests to websocket connections
type WSHandler struct {
	engine   LiveEngine
	auth     Authenticator
	cfg      config.Realtime
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewWSHandler creates a new websocket handler
func NewWSHandler(engine LiveEngine, authenticator Authenticator, cfg config.Realtime, logger *slog.Logger) *WSHandler {
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongWait {
		cfg.PingInterval = cfg.PongWait * 9 / 10
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	h := &WSHandler{
		engine: engine,
		auth:   authenticator,
		cfg:    cfg,
		logger: logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     checkOrigin(cfg.AllowedOrigins),
	}
	return h
}

// RegisterRoutes registers the websocket route
func (h *WSHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.Serve())
}

// Serve handles GET /ws. Browsers pass the token as ?token= since they
// cannot set headers on the upgrade request.
func (h *WSHandler) Serve() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, err := h.auth.Authenticate(r)
		if err != nil {
			response.FromError(w, err, "failed to authenticate")
			return
		}

		ws, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already written the error response
			h.logger.Debug("websocket upgrade failed", "user_id", identity.UserID, "error", err)
			return
		}

		conn := realtime.NewConn(identity, realtime.ConnOptions{
			SendBuffer: h.cfg.SendBufferSize,
			RPS:        h.cfg.ClientRPS,
			Burst:      h.cfg.ClientBurst,
		})

		if err := h.engine.Connect(r.Context(), conn); err != nil {
			h.logger.Info("live connection rejected", "user_id", identity.UserID, "error", err)
			deadline := time.Now().Add(h.cfg.WriteTimeout)
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "connection rejected"), deadline)
			_ = ws.Close()
			return
		}

		go h.writePump(ws, conn)
		h.readPump(ws, conn)
	}
}

// readPump feeds inbound frames to the engine until the socket fails
func (h *WSHandler) readPump(ws *websocket.Conn, conn *realtime.Conn) {
	defer h.engine.Disconnect(conn)

	if h.cfg.MaxFrameBytes > 0 {
		ws.SetReadLimit(h.cfg.MaxFrameBytes)
	}
	_ = ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket closed", "conn_id", conn.ID, "error", err)
			}
			return
		}

		var env wire.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			h.logger.Debug("dropping malformed frame", "conn_id", conn.ID, "user_id", conn.Identity.UserID)
			continue
		}
		h.engine.Handle(conn, env)
	}
}

// writePump drains the connection's queue to the socket and keeps it alive
// with pings. It exits when the hub closes the queue or a write fails.
func (h *WSHandler) writePump(ws *websocket.Conn, conn *realtime.Conn) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
	}()

	for {
		select {
		case frame, ok := <-conn.Send():
			_ = ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				h.logger.Debug("websocket write failed", "conn_id", conn.ID, "error", err)
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// checkOrigin allows the configured origins. With none configured gorilla's
// same-origin check applies; "*" allows any origin.
func checkOrigin(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	if slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}
