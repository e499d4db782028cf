package devstore

import (
	"context"
	"time"

	"github.com/fieldsync/internal/model"
	"github.com/fieldsync/internal/storage"
	"github.com/fieldsync/internal/storage/memory"
)

// Client используется при запуске без Redis. Сообщения и партиции в БД (переживают перезапуск),
// блокировки синхронизации и checkpoint'ы в памяти процесса.
type Client struct {
	mem        *memory.Client
	messages   storage.MessageStore
	partitions storage.PartitionStore
}

func New(messages storage.MessageStore, partitions storage.PartitionStore) *Client {
	return &Client{mem: memory.New(), messages: messages, partitions: partitions}
}

func (c *Client) Close() error { return c.mem.Close() }

func (c *Client) Query(ctx context.Context, partitionID string, q storage.Query) ([]model.MessageRecord, error) {
	return c.messages.Query(ctx, partitionID, q)
}
func (c *Client) Tx(ctx context.Context, fn func(tx storage.MessageTx) error) error {
	return c.messages.Tx(ctx, fn)
}

func (c *Client) GetPartition(ctx context.Context, id string) (*model.Partition, error) {
	return c.partitions.GetPartition(ctx, id)
}
func (c *Client) SavePartition(ctx context.Context, p *model.Partition) error {
	return c.partitions.SavePartition(ctx, p)
}
func (c *Client) ListPartitions(ctx context.Context) ([]model.Partition, error) {
	return c.partitions.ListPartitions(ctx)
}

func (c *Client) Acquire(ctx context.Context, partitionID string, ttl time.Duration) (string, bool, error) {
	return c.mem.Acquire(ctx, partitionID, ttl)
}
func (c *Client) Extend(ctx context.Context, partitionID, token string, ttl time.Duration) (bool, error) {
	return c.mem.Extend(ctx, partitionID, token, ttl)
}
func (c *Client) Release(ctx context.Context, partitionID, token string) error {
	return c.mem.Release(ctx, partitionID, token)
}

// GetCheckpoint: после перезапуска сохранённой метки нет, и режим stored начинает с начала времени.
func (c *Client) GetCheckpoint(ctx context.Context, partitionID string) (time.Time, bool, error) {
	return c.mem.GetCheckpoint(ctx, partitionID)
}
func (c *Client) SetCheckpoint(ctx context.Context, partitionID string, t time.Time) error {
	return c.mem.SetCheckpoint(ctx, partitionID, t)
}
