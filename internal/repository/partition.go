package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldsync/internal/logger"
	"github.com/fieldsync/internal/model"
	"github.com/fieldsync/internal/storage"
)

type PartitionRepository struct {
	pool *pgxpool.Pool
}

func NewPartitionRepository(pool *pgxpool.Pool) *PartitionRepository {
	return &PartitionRepository{pool: pool}
}

func scanPartition(row pgx.Row) (*model.Partition, error) {
	p := &model.Partition{}
	var handle *string
	if err := row.Scan(&p.ID, &handle, &p.CreatedAt); err != nil {
		return nil, err
	}
	if handle != nil && *handle != "" {
		p.Identity = &model.PlanterIdentity{WalletHandle: *handle}
	}
	return p, nil
}

func (r *PartitionRepository) GetPartition(ctx context.Context, id string) (*model.Partition, error) {
	defer logger.DeferLogDuration("partition.Get", time.Now())()
	p, err := scanPartition(r.pool.QueryRow(ctx,
		`SELECT id, wallet_handle, created_at FROM partitions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("partitionRepo.Get: %w", err)
	}
	return p, nil
}

// SavePartition вставляет партицию или обновляет wallet_handle существующей (created_at не меняется).
func (r *PartitionRepository) SavePartition(ctx context.Context, p *model.Partition) error {
	defer logger.DeferLogDuration("partition.Save", time.Now())()
	var handle *string
	if h, ok := p.Handle(); ok {
		handle = &h
	}
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO partitions (id, wallet_handle, created_at) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET wallet_handle = EXCLUDED.wallet_handle`,
		p.ID, handle, createdAt,
	)
	if err != nil {
		return fmt.Errorf("partitionRepo.Save: %w", err)
	}
	return nil
}

func (r *PartitionRepository) ListPartitions(ctx context.Context) ([]model.Partition, error) {
	defer logger.DeferLogDuration("partition.List", time.Now())()
	rows, err := r.pool.Query(ctx, `SELECT id, wallet_handle, created_at FROM partitions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("partitionRepo.List query: %w", err)
	}
	defer rows.Close()
	var list []model.Partition
	for rows.Next() {
		p, err := scanPartition(rows)
		if err != nil {
			return nil, fmt.Errorf("partitionRepo.List scan: %w", err)
		}
		list = append(list, *p)
	}
	return list, rows.Err()
}
