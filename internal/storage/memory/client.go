package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fieldsync/internal/model"
	"github.com/fieldsync/internal/storage"
)

type lease struct {
	token string
	exp   time.Time
}

// Client хранит сообщения, партиции, блокировки и checkpoint-ы в памяти процесса
// (режим -memory и тесты). Транзакция держит эксклюзивную блокировку и работает с копией данных.
type Client struct {
	mu          sync.RWMutex
	records     map[string]map[string]model.MessageRecord
	partitions  map[string]model.Partition
	checkpoints map[string]time.Time

	lockMu sync.Mutex
	leases map[string]lease
}

func New() *Client {
	return &Client{
		records:     make(map[string]map[string]model.MessageRecord),
		partitions:  make(map[string]model.Partition),
		checkpoints: make(map[string]time.Time),
		leases:      make(map[string]lease),
	}
}

func (c *Client) Close() error { return nil }

func query(data map[string]map[string]model.MessageRecord, partitionID string, q storage.Query) []model.MessageRecord {
	part := data[partitionID]
	out := make([]model.MessageRecord, 0, len(part))
	for _, r := range part {
		if q.Match(&r) {
			r.Survey = r.Survey.Clone()
			if r.SurveyResponse != nil {
				r.SurveyResponse = append([]string(nil), r.SurveyResponse...)
			}
			out = append(out, r)
		}
	}
	order := q.Order
	if order == storage.OrderNone {
		// детерминированный порядок вместо порядка обхода map
		order = storage.OrderComposedAsc
	}
	storage.SortRecords(out, order)
	return storage.Page(out, q.Limit, q.Offset)
}

func (c *Client) Query(ctx context.Context, partitionID string, q storage.Query) ([]model.MessageRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return query(c.records, partitionID, q), nil
}

func (c *Client) Tx(ctx context.Context, fn func(tx storage.MessageTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	work := make(map[string]map[string]model.MessageRecord, len(c.records))
	for pid, part := range c.records {
		cp := make(map[string]model.MessageRecord, len(part))
		for id, r := range part {
			cp[id] = r
		}
		work[pid] = cp
	}
	if err := fn(&tx{data: work}); err != nil {
		return err
	}
	c.records = work
	return nil
}

type tx struct {
	data map[string]map[string]model.MessageRecord
}

func (t *tx) Query(ctx context.Context, partitionID string, q storage.Query) ([]model.MessageRecord, error) {
	return query(t.data, partitionID, q), nil
}

func (t *tx) IDs(ctx context.Context, partitionID string) (map[string]struct{}, error) {
	ids := make(map[string]struct{}, len(t.data[partitionID]))
	for id := range t.data[partitionID] {
		ids[id] = struct{}{}
	}
	return ids, nil
}

func (t *tx) Insert(ctx context.Context, rec *model.MessageRecord) error {
	part, ok := t.data[rec.PartitionID]
	if !ok {
		part = make(map[string]model.MessageRecord)
		t.data[rec.PartitionID] = part
	}
	if _, exists := part[rec.ID]; exists {
		return fmt.Errorf("memory.Insert %s: %w", rec.ID, storage.ErrAlreadyExists)
	}
	r := *rec
	r.Survey = r.Survey.Clone()
	r.SurveyResponse = append([]string(nil), rec.SurveyResponse...)
	part[r.ID] = r
	return nil
}

func (t *tx) Apply(ctx context.Context, partitionID, id string, u storage.FlagUpdate) error {
	r, ok := t.data[partitionID][id]
	if !ok {
		return fmt.Errorf("memory.Apply %s: %w", id, storage.ErrNotFound)
	}
	u.Apply(&r)
	t.data[partitionID][id] = r
	return nil
}

func (c *Client) GetPartition(ctx context.Context, id string) (*model.Partition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.partitions[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if p.Identity != nil {
		ident := *p.Identity
		p.Identity = &ident
	}
	return &p, nil
}

func (c *Client) SavePartition(ctx context.Context, p *model.Partition) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *p
	if old, ok := c.partitions[p.ID]; ok {
		cp.CreatedAt = old.CreatedAt
	} else if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	if p.Identity != nil {
		ident := *p.Identity
		cp.Identity = &ident
	}
	c.partitions[p.ID] = cp
	return nil
}

func (c *Client) ListPartitions(ctx context.Context) ([]model.Partition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	list := make([]model.Partition, 0, len(c.partitions))
	for _, p := range c.partitions {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

func (c *Client) Acquire(ctx context.Context, partitionID string, ttl time.Duration) (string, bool, error) {
	c.lockMu.Lock()
	defer c.lockMu.Unlock()
	now := time.Now()
	if l, ok := c.leases[partitionID]; ok && now.Before(l.exp) {
		return "", false, nil
	}
	token := uuid.NewString()
	c.leases[partitionID] = lease{token: token, exp: now.Add(ttl)}
	return token, true, nil
}

func (c *Client) Extend(ctx context.Context, partitionID, token string, ttl time.Duration) (bool, error) {
	c.lockMu.Lock()
	defer c.lockMu.Unlock()
	now := time.Now()
	l, ok := c.leases[partitionID]
	if !ok || l.token != token || !now.Before(l.exp) {
		return false, nil
	}
	c.leases[partitionID] = lease{token: token, exp: now.Add(ttl)}
	return true, nil
}

// Release снимает блокировку, только если она всё ещё принадлежит token.
func (c *Client) Release(ctx context.Context, partitionID, token string) error {
	c.lockMu.Lock()
	defer c.lockMu.Unlock()
	if l, ok := c.leases[partitionID]; ok && l.token == token {
		delete(c.leases, partitionID)
	}
	return nil
}

func (c *Client) GetCheckpoint(ctx context.Context, partitionID string) (time.Time, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.checkpoints[partitionID]
	return t, ok, nil
}

func (c *Client) SetCheckpoint(ctx context.Context, partitionID string, t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checkpoints[partitionID] = t.UTC()
	return nil
}
