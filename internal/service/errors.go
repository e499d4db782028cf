package service

import (
	"errors"

	"github.com/fieldsync/internal/remote"
)

var (
	ErrMissingIdentifier     = errors.New("partition has no wallet handle")
	ErrSyncInProgress        = errors.New("sync already in progress")
	ErrLeaseLost             = errors.New("sync lease lost")
	ErrPartitionNotFound     = errors.New("partition not found")
	ErrInvalidPartitionID    = errors.New("invalid partition id")
	ErrSurveyNotFound        = errors.New("survey not found")
	ErrInvalidSurveyResponse = errors.New("invalid survey response")
	ErrEmptyMessage          = errors.New("message text is empty")

	// Ошибки транспорта: сравнивать через errors.Is, транспорт оборачивает их с подробностями.
	ErrTransport         = remote.ErrTransport
	ErrMalformedResponse = remote.ErrMalformedResponse
)
