package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fieldsync/internal/service"
	"github.com/fieldsync/internal/storage"
)

func TestWriteServiceErrorStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"in progress", fmt.Errorf("sync p1: %w", service.ErrSyncInProgress), http.StatusConflict},
		{"lease lost", fmt.Errorf("sync p1: %w: %w", service.ErrLeaseLost, context.Canceled), http.StatusConflict},
		{"lease lost over transport", fmt.Errorf("%w: %w", service.ErrLeaseLost, service.ErrTransport), http.StatusConflict},
		{"no handle", service.ErrMissingIdentifier, http.StatusUnprocessableEntity},
		{"not found", storage.ErrNotFound, http.StatusNotFound},
		{"transport", service.ErrTransport, http.StatusBadGateway},
		{"other", fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			writeServiceError(rr, httptest.NewRequest(http.MethodPost, "/api/partitions/p1/sync", nil), tt.err)
			assert.Equal(t, tt.status, rr.Code)
		})
	}
}
