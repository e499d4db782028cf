package startup

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldsync/internal/logger"
	"github.com/fieldsync/migrations"
)

// ConnectDBWithRetry подключается к Postgres с повторами; при недоступности БД не падает сразу.
// logPrefix добавляется к сообщениям лога (например "syncd: ").
func ConnectDBWithRetry(ctx context.Context, poolCfg *pgxpool.Config, maxWait time.Duration, logPrefix string) (*pgxpool.Pool, error) {
	var pool *pgxpool.Pool
	err := retry(ctx, "db connect", maxWait, logPrefix, func(ctx context.Context) error {
		connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		p, err := pgxpool.NewWithConfig(connCtx, poolCfg)
		cancel()
		if err != nil {
			return err
		}
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		err = p.Ping(pingCtx)
		pingCancel()
		if err != nil {
			p.Close()
			return err
		}
		pool = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pool, nil
}

// RunMigrations применяет встроенные миграции по порядку имён файлов. Миграции идемпотентны (IF NOT EXISTS).
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	names, err := fs.Glob(migrations.Files, "*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(names)
	for _, name := range names {
		data, err := migrations.Files.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("run migration %s: %w", name, err)
		}
	}
	logger.Infof("migrations applied (%d files)", len(names))
	return nil
}
