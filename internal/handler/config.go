package handler

import (
	"net/http"

	"github.com/fieldsync/internal/config"
)

// ConfigHandler отдаёт публичные параметры синхронизации для UI-слоя.
type ConfigHandler struct {
	cfg *config.Config
}

func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{cfg: cfg}
}

func (h *ConfigHandler) GetSyncConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"display_page_size": h.cfg.Sync.DisplayPageSize,
		"checkpoint_source": h.cfg.Sync.CheckpointSource,
		"interval_seconds":  int(h.cfg.Sync.Interval.Seconds()),
		"recipient":         h.cfg.Remote.Recipient,
	})
}
