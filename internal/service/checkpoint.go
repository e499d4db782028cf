package service

import (
	"context"
	"fmt"
	"time"

	"github.com/fieldsync/internal/storage"
)

// BeginningOfTime: checkpoint пустой партиции.
var BeginningOfTime = time.Unix(0, 0).UTC()

// LatestCheckpoint: composed_at самой поздней подтверждённой (uploaded) записи партиции.
// Вычисляется из содержимого хранилища, поэтому не расходится с тем, что реально слито.
func LatestCheckpoint(ctx context.Context, store storage.MessageStore, partitionID string) (time.Time, error) {
	recs, err := store.Query(ctx, partitionID, storage.Query{
		Uploaded: storage.Bool(true),
		Order:    storage.OrderComposedDesc,
		Limit:    1,
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("checkpoint %s: %w", partitionID, err)
	}
	if len(recs) == 0 {
		return BeginningOfTime, nil
	}
	return recs[0].ComposedAt.UTC(), nil
}

// storedCheckpoint читает легаси-метку из CheckpointStore; отсутствие метки: BeginningOfTime.
func storedCheckpoint(ctx context.Context, cs storage.CheckpointStore, partitionID string) (time.Time, error) {
	t, ok, err := cs.GetCheckpoint(ctx, partitionID)
	if err != nil {
		return time.Time{}, fmt.Errorf("stored checkpoint %s: %w", partitionID, err)
	}
	if !ok {
		return BeginningOfTime, nil
	}
	return t.UTC(), nil
}

// advanceStoredCheckpoint записывает t, только если она позже сохранённой метки.
func advanceStoredCheckpoint(ctx context.Context, cs storage.CheckpointStore, partitionID string, t time.Time) (time.Time, error) {
	cur, err := storedCheckpoint(ctx, cs, partitionID)
	if err != nil {
		return time.Time{}, err
	}
	if !t.After(cur) {
		return cur, nil
	}
	if err := cs.SetCheckpoint(ctx, partitionID, t.UTC()); err != nil {
		return time.Time{}, fmt.Errorf("stored checkpoint %s: %w", partitionID, err)
	}
	return t.UTC(), nil
}
