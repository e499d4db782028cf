package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/fieldsync/internal/logger"
	"github.com/fieldsync/internal/service"
	"github.com/fieldsync/internal/ws"
)

type WSHandler struct {
	hub            *ws.Hub
	msgs           *service.MessageService
	allowedOrigins string
}

// NewWSHandler создаёт обработчик WebSocket. allowedOrigins: как в CORS (через запятую или "*").
func NewWSHandler(hub *ws.Hub, msgs *service.MessageService, allowedOrigins string) *WSHandler {
	return &WSHandler{hub: hub, msgs: msgs, allowedOrigins: strings.TrimSpace(allowedOrigins)}
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	if h.allowedOrigins == "*" || h.allowedOrigins == "" {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, o := range strings.Split(h.allowedOrigins, ",") {
		if strings.TrimSpace(o) == origin {
			return true
		}
	}
	return false
}

// ServeWS обрабатывает GET /api/partitions/{partitionId}/ws, подписку на события синхронизации партиции.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	partitionID := chi.URLParam(r, "partitionId")
	if _, err := h.msgs.GetPartition(r.Context(), partitionID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("ws upgrade: %v", err)
		return
	}

	h.hub.Attach(conn, partitionID)
}
