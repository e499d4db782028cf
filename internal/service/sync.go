package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fieldsync/internal/config"
	"github.com/fieldsync/internal/logger"
	"github.com/fieldsync/internal/metrics"
	"github.com/fieldsync/internal/storage"
)

const releaseTimeout = 5 * time.Second

// SyncReport: итог успешного прохода синхронизации.
type SyncReport struct {
	PartitionID string        `json:"partition_id"`
	Pages       int           `json:"pages"`
	Fetched     int           `json:"fetched"`
	Inserted    int           `json:"inserted"`
	Paired      int           `json:"paired"`
	Uploaded    int           `json:"uploaded"`
	Checkpoint  time.Time     `json:"checkpoint"`
	Duration    time.Duration `json:"duration_ns"`
}

// SyncOptions: параметры прохода (из config.SyncConfig и config.RemoteConfig).
type SyncOptions struct {
	PageLimit int
	LockTTL   time.Duration
	// CheckpointSource: config.CheckpointDerived (по умолчанию) или config.CheckpointStored.
	CheckpointSource string
}

// SyncService выполняет проход синхронизации партиции: checkpoint → страницы → отправка.
// Не больше одного прохода на партицию одновременно; второй вызов получает ErrSyncInProgress.
type SyncService struct {
	messages    storage.MessageStore
	partitions  storage.PartitionStore
	lock        storage.SyncLock
	checkpoints storage.CheckpointStore
	walker      *PaginationWalker
	uploader    *Uploader
	metrics     *metrics.Sync
	notifier    Notifier
	opts        SyncOptions
	now         func() time.Time
}

// NewSyncService собирает сервис. checkpoints нужен только для CheckpointStored, m и notifier могут быть nil.
func NewSyncService(
	messages storage.MessageStore,
	partitions storage.PartitionStore,
	lock storage.SyncLock,
	checkpoints storage.CheckpointStore,
	transport Transport,
	m *metrics.Sync,
	notifier Notifier,
	opts SyncOptions,
) *SyncService {
	if opts.LockTTL <= 0 {
		opts.LockTTL = 5 * time.Minute
	}
	if opts.CheckpointSource == "" || checkpoints == nil {
		if opts.CheckpointSource == config.CheckpointStored {
			logger.Errorf("sync: checkpoint_source=stored без CheckpointStore, используется derived")
		}
		opts.CheckpointSource = config.CheckpointDerived
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &SyncService{
		messages:    messages,
		partitions:  partitions,
		lock:        lock,
		checkpoints: checkpoints,
		walker:      NewPaginationWalker(transport, NewReconciler(messages), opts.PageLimit, m),
		uploader:    NewUploader(messages, transport, m),
		metrics:     m,
		notifier:    notifier,
		opts:        opts,
		now:         time.Now,
	}
}

// SyncMessages выполняет один проход для партиции.
func (s *SyncService) SyncMessages(ctx context.Context, partitionID string) (*SyncReport, error) {
	start := s.now()
	p, err := s.partitions.GetPartition(ctx, partitionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("sync %s: %w", partitionID, ErrPartitionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sync %s: %w", partitionID, err)
	}
	handle, ok := p.Handle()
	if !ok {
		s.metrics.Pass(metrics.ResultNoIdentity, 0)
		return nil, fmt.Errorf("sync %s: %w", partitionID, ErrMissingIdentifier)
	}

	token, ok, err := s.lock.Acquire(ctx, partitionID, s.opts.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("sync %s: acquire lock: %w", partitionID, err)
	}
	if !ok {
		s.metrics.Pass(metrics.ResultInProgress, 0)
		return nil, fmt.Errorf("sync %s: %w", partitionID, ErrSyncInProgress)
	}
	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := s.lock.Release(rctx, partitionID, token); err != nil {
			logger.Errorf("sync: partition=%s: release lock: %v", partitionID, err)
		}
	}()

	passCtx, cancelPass := context.WithCancelCause(ctx)
	stopRenew := s.renewLease(passCtx, cancelPass, partitionID, token)
	report, err := s.pass(passCtx, partitionID, handle, start)
	stopRenew()
	cancelPass(nil)
	if err != nil && errors.Is(context.Cause(passCtx), ErrLeaseLost) {
		err = fmt.Errorf("%w: %w", ErrLeaseLost, err)
	}
	elapsed := s.now().Sub(start)
	if err != nil {
		s.metrics.Pass(metrics.ResultError, elapsed)
		logger.Errorf("sync: partition=%s handle=%s: проход не удался за %s: %v",
			partitionID, logger.MaskHandle(handle), elapsed.Round(time.Millisecond), err)
		s.notifier.SyncFailed(partitionID, err)
		return nil, fmt.Errorf("sync %s: %w", partitionID, err)
	}
	report.Duration = elapsed
	s.metrics.Pass(metrics.ResultOK, elapsed)
	logger.Infof("sync: partition=%s handle=%s pages=%d fetched=%d inserted=%d paired=%d uploaded=%d checkpoint=%s (%s)",
		partitionID, logger.MaskHandle(handle), report.Pages, report.Fetched, report.Inserted, report.Paired,
		report.Uploaded, report.Checkpoint.Format(time.RFC3339), elapsed.Round(time.Millisecond))
	s.notifier.SyncCompleted(report)
	return report, nil
}

// renewLease продлевает аренду каждые LockTTL/3, пока идёт проход. Если аренду продлить
// не удалось (истекла или перехвачена), проход отменяется с причиной ErrLeaseLost.
// Ошибка хранилища при продлении не отменяет проход: аренда ещё действует до конца TTL.
func (s *SyncService) renewLease(ctx context.Context, cancel context.CancelCauseFunc, partitionID, token string) (stop func()) {
	interval := s.opts.LockTTL / 3
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			ok, err := s.lock.Extend(ctx, partitionID, token, s.opts.LockTTL)
			switch {
			case err != nil:
				if ctx.Err() == nil {
					logger.Errorf("sync: partition=%s: extend lease: %v", partitionID, err)
				}
			case !ok:
				logger.Errorf("sync: partition=%s: аренда потеряна, проход прерывается", partitionID)
				cancel(ErrLeaseLost)
				return
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func (s *SyncService) pass(ctx context.Context, partitionID, handle string, start time.Time) (*SyncReport, error) {
	since, err := s.checkpoint(ctx, partitionID)
	if err != nil {
		return nil, err
	}
	walk, err := s.walker.DrainAll(ctx, partitionID, handle, since, "")
	if err != nil {
		return nil, err
	}
	if s.opts.CheckpointSource == config.CheckpointStored {
		if _, err := advanceStoredCheckpoint(ctx, s.checkpoints, partitionID, start); err != nil {
			return nil, err
		}
	}
	uploaded, err := s.uploader.FlushPending(ctx, partitionID)
	if err != nil {
		return nil, err
	}
	cp, err := s.checkpoint(ctx, partitionID)
	if err != nil {
		return nil, err
	}
	return &SyncReport{
		PartitionID: partitionID,
		Pages:       walk.Pages,
		Fetched:     walk.Fetched,
		Inserted:    walk.Inserted,
		Paired:      walk.Paired,
		Uploaded:    uploaded,
		Checkpoint:  cp,
	}, nil
}

// Checkpoint возвращает метку, с которой начнётся следующая выборка.
func (s *SyncService) Checkpoint(ctx context.Context, partitionID string) (time.Time, error) {
	return s.checkpoint(ctx, partitionID)
}

func (s *SyncService) checkpoint(ctx context.Context, partitionID string) (time.Time, error) {
	if s.opts.CheckpointSource == config.CheckpointStored {
		return storedCheckpoint(ctx, s.checkpoints, partitionID)
	}
	return LatestCheckpoint(ctx, s.messages, partitionID)
}

// SyncAll синхронизирует все известные партиции по очереди. Партиции без handle и уже
// синхронизируемые пропускаются; ошибки отдельных партиций логируются и не прерывают обход.
func (s *SyncService) SyncAll(ctx context.Context) error {
	list, err := s.partitions.ListPartitions(ctx)
	if err != nil {
		return fmt.Errorf("sync all: %w", err)
	}
	for i := range list {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := s.SyncMessages(ctx, list[i].ID)
		switch {
		case err == nil:
		case errors.Is(err, ErrSyncInProgress):
			logger.Infof("sync: partition=%s уже синхронизируется, пропуск", list[i].ID)
		case errors.Is(err, ErrMissingIdentifier):
			logger.Debugf("sync: partition=%s без wallet handle, пропуск", list[i].ID)
		case ctx.Err() != nil:
			return ctx.Err()
		}
	}
	return nil
}

// Run запускает SyncAll каждые interval до отмены ctx. interval <= 0: сразу выходит.
func (s *SyncService) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	logger.Infof("sync: фоновая синхронизация каждые %s", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.SyncAll(ctx); err != nil && ctx.Err() == nil {
				logger.Errorf("sync: фоновый проход: %v", err)
			}
		}
	}
}
