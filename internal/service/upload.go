package service

import (
	"context"
	"fmt"
	"time"

	"github.com/fieldsync/internal/logger"
	"github.com/fieldsync/internal/metrics"
	"github.com/fieldsync/internal/storage"
)

// Uploader отправляет неотправленные записи партиции.
// Порядок: по возрастанию (composed_at, id), строго по одной. Первая ошибка останавливает пакет:
// всё до неё помечено uploaded, всё начиная с неё остаётся до следующего прохода.
type Uploader struct {
	store   storage.MessageStore
	sender  Sender
	metrics *metrics.Sync
}

func NewUploader(store storage.MessageStore, sender Sender, m *metrics.Sync) *Uploader {
	return &Uploader{store: store, sender: sender, metrics: m}
}

// FlushPending возвращает число подтверждённых сервером записей.
func (u *Uploader) FlushPending(ctx context.Context, partitionID string) (int, error) {
	defer logger.DeferLogDuration("uploader.FlushPending", time.Now())()
	pending, err := u.store.Query(ctx, partitionID, storage.Query{
		Uploaded: storage.Bool(false),
		Order:    storage.OrderComposedAsc,
	})
	if err != nil {
		return 0, fmt.Errorf("uploader: query pending: %w", err)
	}
	uploaded := 0
	for i := range pending {
		if err := ctx.Err(); err != nil {
			return uploaded, err
		}
		rec := &pending[i]
		if err := u.sender.PostMessage(ctx, rec); err != nil {
			logger.Errorf("uploader: partition=%s: отправка %s не удалась, осталось %d: %v",
				partitionID, rec.ID, len(pending)-i, err)
			return uploaded, fmt.Errorf("upload %s: %w", rec.ID, err)
		}
		err := u.store.Tx(ctx, func(tx storage.MessageTx) error {
			return tx.Apply(ctx, partitionID, rec.ID, storage.FlagUpdate{MarkUploaded: true})
		})
		if err != nil {
			// сервер запись принял, но отметка не сохранилась: запись уйдёт повторно в следующем проходе
			return uploaded, fmt.Errorf("mark uploaded %s: %w", rec.ID, err)
		}
		uploaded++
		u.metrics.Uploaded(1)
	}
	return uploaded, nil
}
