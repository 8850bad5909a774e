// Package ws is the session/event channel: clients submit download
// requests over a websocket and receive the transfer lifecycle events.
package ws

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/italolelis/mirrord/internal/engine"
	"github.com/italolelis/mirrord/internal/logctx"
	"github.com/italolelis/mirrord/internal/telemetry"
)

const (
	readBufferSize  = 4096
	writeBufferSize = 4096
)

// Handler upgrades HTTP requests into event-channel sessions.
type Handler struct {
	engine    *engine.Engine
	telemetry *telemetry.Telemetry
	upgrader  websocket.Upgrader
}

// NewHandler creates a new session handler bound to the download engine.
func NewHandler(eng *engine.Engine, tel *telemetry.Telemetry) *Handler {
	return &Handler{
		engine:    eng,
		telemetry: tel,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  readBufferSize,
			WriteBufferSize: writeBufferSize,
			// The channel carries no credentials and the service is
			// origin-agnostic.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/", h.Serve)

	return r
}

// Serve upgrades the connection and runs the session until the client
// disconnects. Transfers started from the session abort on disconnect.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		logger.Error("failed to upgrade session", "err", err)

		return
	}

	logger.Debug("session connected", "remote_addr", conn.RemoteAddr().String())

	s := newSession(conn, h.engine, h.telemetry)
	s.run(r.Context())

	logger.Debug("session disconnected", "remote_addr", conn.RemoteAddr().String())
}
