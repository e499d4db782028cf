package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fieldsync/internal/service"
)

type PartitionHandler struct {
	msgs *service.MessageService
}

func NewPartitionHandler(msgs *service.MessageService) *PartitionHandler {
	return &PartitionHandler{msgs: msgs}
}

type registerPartitionRequest struct {
	WalletHandle string `json:"wallet_handle"`
}

// Register обрабатывает PUT /api/partitions/{partitionId}: создать партицию или сменить wallet handle.
func (h *PartitionHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerPartitionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := h.msgs.RegisterPartition(r.Context(), chi.URLParam(r, "partitionId"), req.WalletHandle)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *PartitionHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.msgs.GetPartition(r.Context(), chi.URLParam(r, "partitionId"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *PartitionHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.msgs.ListPartitions(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if list == nil {
		writeJSON(w, http.StatusOK, []struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, list)
}
