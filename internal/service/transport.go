package service

import (
	"context"
	"time"

	"github.com/fieldsync/internal/model"
)

// Fetcher: чтение входящих сообщений с сервера, пустой next означает конец потока.
type Fetcher interface {
	FetchMessages(ctx context.Context, handle string, since time.Time, limit int) (*model.MessagePage, error)
	FetchNextMessages(ctx context.Context, cursor string) (*model.MessagePage, error)
}

// Sender: отправка локальной записи; nil означает, что сервер её принял.
type Sender interface {
	PostMessage(ctx context.Context, rec *model.MessageRecord) error
}

// Transport реализуется remote.Client.
type Transport interface {
	Fetcher
	Sender
}

// Notifier получает события для подписчиков UI (ws.Hub). Вызовы не должны блокировать.
type Notifier interface {
	SyncCompleted(report *SyncReport)
	SyncFailed(partitionID string, err error)
	MessageCreated(rec *model.MessageRecord)
}

type nopNotifier struct{}

func (nopNotifier) SyncCompleted(*SyncReport)          {}
func (nopNotifier) SyncFailed(string, error)           {}
func (nopNotifier) MessageCreated(*model.MessageRecord) {}
