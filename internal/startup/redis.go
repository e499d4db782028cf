package startup

import (
	"context"
	"time"

	redisstorage "github.com/fieldsync/internal/storage/redis"
)

// ConnectRedisWithRetry подключается к Redis с повторами.
// logPrefix добавляется к сообщениям лога (например "syncd: ").
func ConnectRedisWithRetry(ctx context.Context, redisURL string, maxWait time.Duration, logPrefix string) (*redisstorage.Client, error) {
	var client *redisstorage.Client
	err := retry(ctx, "redis connect", maxWait, logPrefix, func(ctx context.Context) error {
		connCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		c, err := redisstorage.New(connCtx, redisURL)
		if err != nil {
			return err
		}
		client = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}
