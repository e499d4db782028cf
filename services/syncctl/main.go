package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"

	"github.com/fieldsync/internal/config"
	"github.com/fieldsync/internal/logger"
	"github.com/fieldsync/internal/metrics"
	"github.com/fieldsync/internal/remote"
	"github.com/fieldsync/internal/repository"
	"github.com/fieldsync/internal/service"
	"github.com/fieldsync/internal/startup"
	"github.com/fieldsync/internal/storage"
	"github.com/fieldsync/internal/storage/devstore"
)

type contextKey int

const contextKeyApp contextKey = iota

// app: сервисы поверх той же БД, что и у syncd.
type app struct {
	cfg      *config.Config
	messages *repository.MessageRepository
	sync     *service.SyncService
	msgs     *service.MessageService
	close    func()
}

func getApp(ctx *cli.Context) *app {
	return ctx.Context.Value(contextKeyApp).(*app)
}

func prepareApp(ctx *cli.Context) error {
	if p := ctx.String("config"); p != "" {
		_ = os.Setenv("CONFIG_PATH", p)
	}
	cfg := config.Load()
	if !ctx.Bool("verbose") {
		logger.SetLevel("error")
	}
	if u := ctx.String("database-url"); u != "" {
		cfg.Database.URL = u
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		return fmt.Errorf("parse db config: %w", err)
	}
	poolCfg.MaxConns = 2
	pool, err := startup.ConnectDBWithRetry(ctx.Context, poolCfg, 10*time.Second, "syncctl: ")
	if err != nil {
		return err
	}
	closers := []func(){pool.Close}

	messages := repository.NewMessageRepository(pool)
	partitions := repository.NewPartitionRepository(pool)
	var (
		lock        storage.SyncLock
		checkpoints storage.CheckpointStore
	)
	if cfg.RedisURL != "" {
		rdb, err := startup.ConnectRedisWithRetry(ctx.Context, cfg.RedisURL, 10*time.Second, "syncctl: ")
		if err != nil {
			pool.Close()
			return err
		}
		closers = append(closers, func() { _ = rdb.Close() })
		lock, checkpoints = rdb, rdb
	} else {
		// без Redis блокировка действует только внутри этого процесса
		dsc := devstore.New(messages, partitions)
		lock, checkpoints = dsc, dsc
	}

	client, err := remote.NewClient(cfg.Remote.BaseURL, cfg.Remote.Timeout)
	if err != nil {
		for _, c := range closers {
			c()
		}
		return err
	}

	a := &app{
		cfg:      cfg,
		messages: messages,
		sync: service.NewSyncService(messages, partitions, lock, checkpoints, client, metrics.New(), nil,
			service.SyncOptions{
				PageLimit:        cfg.Remote.PageLimit,
				LockTTL:          cfg.Sync.LockTTL,
				CheckpointSource: cfg.Sync.CheckpointSource,
			}),
		msgs: service.NewMessageService(messages, partitions, nil, cfg.Remote.Recipient, cfg.Sync.DisplayPageSize),
		close: func() {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
		},
	}
	ctx.Context = context.WithValue(ctx.Context, contextKeyApp, a)
	return nil
}

func closeApp(ctx *cli.Context) error {
	if a, ok := ctx.Context.Value(contextKeyApp).(*app); ok {
		a.close()
	}
	return nil
}

func main() {
	logger.SetPrefix("syncctl")
	cliApp := &cli.App{
		Name:    "syncctl",
		Usage:   "Inspect and drive message sync for device partitions",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to YAML config (same format as syncd)",
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "PostgreSQL connection string",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Log at the configured level instead of errors only",
			},
		},
		Commands: []*cli.Command{
			registerCommand,
			listCommand,
			syncCommand,
			messagesCommand,
			sendCommand,
			respondCommand,
			readCommand,
		},
	}
	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
