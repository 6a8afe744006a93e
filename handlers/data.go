package handlers

import (
	"net/http"

	"github.com/CrowderSoup/devtrack/errs"
	"github.com/CrowderSoup/devtrack/services"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LiveHandler serves the websocket feed and the health probe.
type LiveHandler struct {
	responder Responder
	logger    zerolog.Logger
	hub       *services.Hub
	upgrader  websocket.Upgrader
}

// NewLiveHandler builds the websocket handler. allowOrigin decides which
// browser origins may open a socket; nil allows all.
func NewLiveHandler(hub *services.Hub, allowOrigin func(origin string) bool) *LiveHandler {
	logger := log.With().Str("handlerName", "liveHandler").Logger()
	return &LiveHandler{
		responder: NewResponder(logger),
		logger:    logger,
		hub:       hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowOrigin == nil || allowOrigin(origin)
			},
		},
	}
}

// HandleWebSocket upgrades the HTTP connection to a WebSocket connection.
// The client then picks the channels it wants with subscribe frames.
func (h *LiveHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		h.responder.WriteError(w, errs.NewUnauthorizedError("missing session"))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("email", claims.Email).Msg("error upgrading to websocket")
		return
	}

	client := services.NewClient(h.hub, conn, claims.Email)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}

func (h *LiveHandler) Health(w http.ResponseWriter, r *http.Request) {
	h.responder.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
