package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/fieldsync/internal/logger"
	"github.com/fieldsync/internal/service"
	"github.com/fieldsync/internal/storage"
)

const maxBodySize = 64 << 10

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeServiceError переводит ошибки сервисов в HTTP-статусы.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrMissingIdentifier):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrSyncInProgress), errors.Is(err, service.ErrLeaseLost):
		status = http.StatusConflict
	case errors.Is(err, service.ErrPartitionNotFound),
		errors.Is(err, service.ErrSurveyNotFound),
		errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrTransport), errors.Is(err, service.ErrMalformedResponse):
		status = http.StatusBadGateway
	case errors.Is(err, service.ErrInvalidSurveyResponse),
		errors.Is(err, service.ErrEmptyMessage),
		errors.Is(err, service.ErrInvalidPartitionID):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		logger.Errorf("%s %s: %v", r.Method, r.URL.Path, err)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}
