package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fieldsync/internal/model"
	"github.com/fieldsync/internal/service"
)

type MessageHandler struct {
	msgs *service.MessageService
}

func NewMessageHandler(msgs *service.MessageService) *MessageHandler {
	return &MessageHandler{msgs: msgs}
}

// GetMessages: окно ленты (offset от самых новых), в хронологическом порядке.
func (h *MessageHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	offset := queryInt(r, "offset", 0)
	recs, err := h.msgs.MessagesForDisplay(r.Context(), chi.URLParam(r, "partitionId"), offset)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if recs == nil {
		recs = []model.MessageRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

type createMessageRequest struct {
	Text string `json:"text"`
}

func (h *MessageHandler) CreateMessage(w http.ResponseWriter, r *http.Request) {
	var req createMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rec, err := h.msgs.CreateMessage(r.Context(), chi.URLParam(r, "partitionId"), req.Text)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

type markReadRequest struct {
	MessageIDs []string `json:"message_ids"`
}

func (h *MessageHandler) MarkAsRead(w http.ResponseWriter, r *http.Request) {
	var req markReadRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.msgs.MarkRead(r.Context(), chi.URLParam(r, "partitionId"), req.MessageIDs...); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type surveyResponseRequest struct {
	Choices []string `json:"choices"`
}

func (h *MessageHandler) CreateSurveyResponse(w http.ResponseWriter, r *http.Request) {
	var req surveyResponseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rec, err := h.msgs.CreateSurveyResponse(r.Context(), chi.URLParam(r, "partitionId"), chi.URLParam(r, "surveyId"), req.Choices)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}
