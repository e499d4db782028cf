package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/fieldsync/internal/config"
	"github.com/fieldsync/internal/handler"
	"github.com/fieldsync/internal/logger"
	"github.com/fieldsync/internal/metrics"
	"github.com/fieldsync/internal/remote"
	"github.com/fieldsync/internal/repository"
	"github.com/fieldsync/internal/service"
	"github.com/fieldsync/internal/startup"
	"github.com/fieldsync/internal/storage"
	"github.com/fieldsync/internal/storage/devstore"
	"github.com/fieldsync/internal/storage/memory"
	"github.com/fieldsync/internal/ws"
)

// stores: набор хранилищ, с которыми работают сервисы.
type stores struct {
	messages    storage.MessageStore
	partitions  storage.PartitionStore
	lock        storage.SyncLock
	checkpoints storage.CheckpointStore
	closers     []func()
}

func (s *stores) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func main() {
	logger.SetPrefix("syncd")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL (no external DB required)")
	inMemory := flag.Bool("memory", false, "keep everything in process memory (no PostgreSQL, no Redis)")
	flag.Parse()

	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)
	logger.Info("starting sync daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *migrate, *dev, *inMemory); err != nil {
		logger.Errorf("syncd: %v", err)
		os.Exit(1)
	}
	logger.Info("syncd stopped")
}

func run(ctx context.Context, cfg *config.Config, migrateOnly, dev, inMemory bool) error {
	st, err := openStores(ctx, cfg, migrateOnly, dev, inMemory)
	if err != nil {
		return err
	}
	defer st.close()
	if migrateOnly && !dev {
		return nil
	}

	client, err := remote.NewClient(cfg.Remote.BaseURL, cfg.Remote.Timeout)
	if err != nil {
		return err
	}
	m := metrics.New()
	hub := ws.NewHub(cfg.MaxWSConnections)

	syncSvc := service.NewSyncService(st.messages, st.partitions, st.lock, st.checkpoints, client, m, hub,
		service.SyncOptions{
			PageLimit:        cfg.Remote.PageLimit,
			LockTTL:          cfg.Sync.LockTTL,
			CheckpointSource: cfg.Sync.CheckpointSource,
		})
	msgSvc := service.NewMessageService(st.messages, st.partitions, hub, cfg.Remote.Recipient, cfg.Sync.DisplayPageSize)
	hub.Bind(syncSvc, msgSvc)

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      handler.NewRouter(handler.Deps{Config: cfg, Sync: syncSvc, Messages: msgSvc, Hub: hub, Metrics: m}),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		logger.Info("hub stopped")
		return nil
	})
	g.Go(func() error {
		return syncSvc.Run(gctx, cfg.Sync.Interval)
	})
	g.Go(func() error {
		logger.Infof("server listening on %s", cfg.ServerAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("server shutdown: %v", err)
		}
		logger.Info("server stopped accepting connections")
		return nil
	})
	return g.Wait()
}

// openStores выбирает хранилища: память (-memory) или PostgreSQL, плюс Redis для блокировок
// и checkpoint'ов, если задан REDIS_URL. При -migrate без -dev сервисные хранилища не создаются.
func openStores(ctx context.Context, cfg *config.Config, migrateOnly, dev, inMemory bool) (*stores, error) {
	st := &stores{}
	if inMemory {
		mem := memory.New()
		st.messages, st.partitions, st.lock, st.checkpoints = mem, mem, mem, mem
		logger.Info("storage: in-memory (data is lost on restart)")
		return st, nil
	}

	if dev {
		db, err := startEmbeddedPostgres(cfg)
		if err != nil {
			return nil, fmt.Errorf("embedded postgres: %w", err)
		}
		st.closers = append(st.closers, func() {
			logger.Info("stopping embedded postgres...")
			if err := db.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		})
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		st.close()
		return nil, fmt.Errorf("parse db config: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())

	pool, err := startup.ConnectDBWithRetry(ctx, poolCfg, 60*time.Second, "syncd: ")
	if err != nil {
		st.close()
		return nil, err
	}
	st.closers = append(st.closers, pool.Close)

	if err := startup.RunMigrations(ctx, pool); err != nil {
		st.close()
		return nil, err
	}
	if migrateOnly && !dev {
		return st, nil
	}
	logger.Info("database connected, migrations applied")

	st.messages = repository.NewMessageRepository(pool)
	st.partitions = repository.NewPartitionRepository(pool)

	if cfg.RedisURL == "" {
		dsc := devstore.New(st.messages, st.partitions)
		st.messages, st.partitions, st.lock, st.checkpoints = dsc, dsc, dsc, dsc
		logger.Info("sync lock: in-process (REDIS_URL not set)")
		return st, nil
	}
	rdb, err := startup.ConnectRedisWithRetry(ctx, cfg.RedisURL, 30*time.Second, "syncd: ")
	if err != nil {
		st.close()
		return nil, err
	}
	st.closers = append(st.closers, func() { _ = rdb.Close() })
	st.lock, st.checkpoints = rdb, rdb
	logger.Info("sync lock: redis")
	return st, nil
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "fieldsync"
		password = "fieldsync"
		database = "fieldsync"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
