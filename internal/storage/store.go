package storage

import (
	"context"
	"errors"
	"time"

	"github.com/fieldsync/internal/model"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

type Order int

const (
	OrderNone Order = iota
	OrderComposedAsc
	OrderComposedDesc
)

// Query: фильтр по записям одной партиции. Нулевые поля не ограничивают выборку,
// Limit 0 снимает ограничение. При сортировке равные composed_at упорядочиваются по id.
type Query struct {
	Uploaded  *bool
	Hidden    *bool
	Unread    *bool
	HasSurvey bool
	SurveyID  string
	Kind      model.MessageKind
	Order     Order
	Limit     int
	Offset    int
}

func Bool(v bool) *bool { return &v }

// Match проверяет запись по фильтру (без учёта сортировки и пагинации).
func (q Query) Match(r *model.MessageRecord) bool {
	if q.Uploaded != nil && r.Uploaded != *q.Uploaded {
		return false
	}
	if q.Hidden != nil && r.Hidden != *q.Hidden {
		return false
	}
	if q.Unread != nil && r.Unread != *q.Unread {
		return false
	}
	if (q.HasSurvey || q.SurveyID != "") && r.Survey == nil {
		return false
	}
	if q.SurveyID != "" && r.Survey.ID != q.SurveyID {
		return false
	}
	if q.Kind != "" && r.Kind != q.Kind {
		return false
	}
	return true
}

// FlagUpdate меняет флаги записи только в монотонном направлении:
// uploaded false → true, unread true → false, hidden false → true, survey.answered false → true.
type FlagUpdate struct {
	MarkUploaded       bool
	MarkRead           bool
	Hide               bool
	MarkSurveyAnswered bool
}

// Apply применяет обновление к записи на месте.
func (u FlagUpdate) Apply(r *model.MessageRecord) {
	if u.MarkUploaded {
		r.Uploaded = true
	}
	if u.MarkRead {
		r.Unread = false
	}
	if u.Hide {
		r.Hidden = true
	}
	if u.MarkSurveyAnswered && r.Survey != nil && !r.Survey.Answered {
		r.Survey = r.Survey.Clone()
		r.Survey.Answered = true
	}
}

// MessageTx: операции внутри одной транзакции хранилища.
type MessageTx interface {
	Query(ctx context.Context, partitionID string, q Query) ([]model.MessageRecord, error)
	IDs(ctx context.Context, partitionID string) (map[string]struct{}, error)
	Insert(ctx context.Context, rec *model.MessageRecord) error
	Apply(ctx context.Context, partitionID, id string, u FlagUpdate) error
}

// MessageStore: хранилище записей сообщений.
// Реализации: repository.MessageRepository (PostgreSQL), memory.Client (для -memory и тестов).
// Tx выполняет fn атомарно: либо все изменения видны читателям, либо ни одно.
// Внутри fn нельзя вызывать методы самого MessageStore, только tx.
type MessageStore interface {
	Query(ctx context.Context, partitionID string, q Query) ([]model.MessageRecord, error)
	Tx(ctx context.Context, fn func(tx MessageTx) error) error
}

// PartitionStore: хранилище партиций (пользователь устройства и его wallet handle).
type PartitionStore interface {
	GetPartition(ctx context.Context, id string) (*model.Partition, error)
	SavePartition(ctx context.Context, p *model.Partition) error
	ListPartitions(ctx context.Context) ([]model.Partition, error)
}

// SyncLock гарантирует не более одного прохода синхронизации на партицию.
// Реализации: redis.Client, memory.Client.
// Extend продлевает аренду на ttl, только если она всё ещё принадлежит token; ok=false означает,
// что аренда истекла или её перехватил другой проход.
type SyncLock interface {
	Acquire(ctx context.Context, partitionID string, ttl time.Duration) (token string, ok bool, err error)
	Extend(ctx context.Context, partitionID, token string, ttl time.Duration) (ok bool, err error)
	Release(ctx context.Context, partitionID, token string) error
}

// CheckpointStore: отдельно хранимая метка последней выборки (легаси-режим checkpoint_source=stored).
type CheckpointStore interface {
	GetCheckpoint(ctx context.Context, partitionID string) (time.Time, bool, error)
	SetCheckpoint(ctx context.Context, partitionID string, t time.Time) error
}
