package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Ключ sync:lock:{partition} хранит аренду прохода синхронизации, sync:checkpoint:{partition} легаси checkpoint.
const (
	lockKeyPrefix       = "sync:lock:"
	checkpointKeyPrefix = "sync:checkpoint:"
	CheckpointTTL       = 90 * 24 * 3600
)

// releaseScript удаляет ключ блокировки, только если он всё ещё принадлежит нашему токену.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// extendScript продлевает TTL блокировки, только если она всё ещё принадлежит нашему токену.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// Acquire берёт аренду на проход синхронизации партиции (SET NX с TTL: аренда истекает, если процесс упал).
func (c *Client) Acquire(ctx context.Context, partitionID string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := c.cli.SetNX(ctx, lockKeyPrefix+partitionID, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("redis acquire lock: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (c *Client) Extend(ctx context.Context, partitionID, token string, ttl time.Duration) (bool, error) {
	n, err := extendScript.Run(ctx, c.cli, []string{lockKeyPrefix + partitionID}, token, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("redis extend lock: %w", err)
	}
	return n == 1, nil
}

func (c *Client) Release(ctx context.Context, partitionID, token string) error {
	if err := releaseScript.Run(ctx, c.cli, []string{lockKeyPrefix + partitionID}, token).Err(); err != nil {
		return fmt.Errorf("redis release lock: %w", err)
	}
	return nil
}

// GetCheckpoint возвращает сохранённую метку (RFC3339Nano). Нет ключа: ok=false.
func (c *Client) GetCheckpoint(ctx context.Context, partitionID string) (time.Time, bool, error) {
	val, err := c.cli.Get(ctx, checkpointKeyPrefix+partitionID).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis get checkpoint: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis checkpoint %q: %w", val, err)
	}
	return t, true, nil
}

func (c *Client) SetCheckpoint(ctx context.Context, partitionID string, t time.Time) error {
	return c.cli.Set(ctx, checkpointKeyPrefix+partitionID, t.UTC().Format(time.RFC3339Nano), CheckpointTTL*time.Second).Err()
}

// FlushDB очищает текущую БД Redis (для тестов).
func (c *Client) FlushDB(ctx context.Context) error {
	return c.cli.FlushDB(ctx).Err()
}
