package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fieldsync/internal/service"
)

type SyncHandler struct {
	sync *service.SyncService
}

func NewSyncHandler(sync *service.SyncService) *SyncHandler {
	return &SyncHandler{sync: sync}
}

// Sync обрабатывает POST /api/partitions/{partitionId}/sync. Отвечает после завершения прохода.
func (h *SyncHandler) Sync(w http.ResponseWriter, r *http.Request) {
	report, err := h.sync.SyncMessages(r.Context(), chi.URLParam(r, "partitionId"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Checkpoint обрабатывает GET /api/partitions/{partitionId}/checkpoint.
func (h *SyncHandler) Checkpoint(w http.ResponseWriter, r *http.Request) {
	cp, err := h.sync.Checkpoint(r.Context(), chi.URLParam(r, "partitionId"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]time.Time{"checkpoint": cp})
}
