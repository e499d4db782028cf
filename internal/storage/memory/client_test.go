package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldsync/internal/model"
	"github.com/fieldsync/internal/storage"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func rec(id string, minutes int, uploaded bool) model.MessageRecord {
	r := model.MessageRecord{
		Message:     model.Message{ID: id, Kind: model.KindMessage, ComposedAt: t0.Add(time.Duration(minutes) * time.Minute)},
		PartitionID: "p1",
		Uploaded:    uploaded,
	}
	return r
}

func seed(t *testing.T, c *Client, recs ...model.MessageRecord) {
	t.Helper()
	err := c.Tx(context.Background(), func(tx storage.MessageTx) error {
		for i := range recs {
			if err := tx.Insert(context.Background(), &recs[i]); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func ids(recs []model.MessageRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}

func TestQueryFilterOrderAndPaging(t *testing.T) {
	c := New()
	seed(t, c, rec("c", 3, true), rec("a", 1, false), rec("b", 2, true), rec("d", 2, true))
	ctx := context.Background()

	tests := []struct {
		name string
		q    storage.Query
		want []string
	}{
		{"all ascending", storage.Query{Order: storage.OrderComposedAsc}, []string{"a", "b", "d", "c"}},
		{"uploaded descending", storage.Query{Uploaded: storage.Bool(true), Order: storage.OrderComposedDesc}, []string{"c", "b", "d"}},
		{"pending", storage.Query{Uploaded: storage.Bool(false)}, []string{"a"}},
		{"limit and offset", storage.Query{Order: storage.OrderComposedAsc, Limit: 2, Offset: 1}, []string{"b", "d"}},
		{"offset past end", storage.Query{Offset: 10}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Query(ctx, "p1", tt.q)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(got))
		})
	}
}

func TestInsertDuplicateFailsWholeTx(t *testing.T) {
	c := New()
	seed(t, c, rec("a", 1, true))

	err := c.Tx(context.Background(), func(tx storage.MessageTx) error {
		r := rec("b", 2, true)
		if err := tx.Insert(context.Background(), &r); err != nil {
			return err
		}
		dup := rec("a", 5, false)
		return tx.Insert(context.Background(), &dup)
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrAlreadyExists))

	got, err := c.Query(context.Background(), "p1", storage.Query{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(got), "rolled back tx must not leave b behind")
}

func TestApplyIsMonotonic(t *testing.T) {
	c := New()
	r := rec("a", 1, false)
	r.Unread = true
	r.Survey = &model.Survey{ID: "s1"}
	seed(t, c, r)
	ctx := context.Background()

	err := c.Tx(ctx, func(tx storage.MessageTx) error {
		return tx.Apply(ctx, "p1", "a", storage.FlagUpdate{MarkUploaded: true, MarkRead: true, Hide: true, MarkSurveyAnswered: true})
	})
	require.NoError(t, err)
	// повторное применение пустого обновления ничего не откатывает
	err = c.Tx(ctx, func(tx storage.MessageTx) error {
		return tx.Apply(ctx, "p1", "a", storage.FlagUpdate{})
	})
	require.NoError(t, err)

	got, err := c.Query(ctx, "p1", storage.Query{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Uploaded)
	assert.False(t, got[0].Unread)
	assert.True(t, got[0].Hidden)
	assert.True(t, got[0].Survey.Answered)

	err = c.Tx(ctx, func(tx storage.MessageTx) error {
		return tx.Apply(ctx, "p1", "missing", storage.FlagUpdate{MarkRead: true})
	})
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestLockLease(t *testing.T) {
	c := New()
	ctx := context.Background()

	token, ok, err := c.Acquire(ctx, "p1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, _ = c.Acquire(ctx, "p1", time.Minute)
	assert.False(t, ok)
	_, ok, _ = c.Acquire(ctx, "p2", time.Minute)
	assert.True(t, ok, "other partitions are independent")

	require.NoError(t, c.Release(ctx, "p1", token))
	_, ok, _ = c.Acquire(ctx, "p1", time.Millisecond)
	assert.True(t, ok)
	time.Sleep(5 * time.Millisecond)
	_, ok, _ = c.Acquire(ctx, "p1", time.Minute)
	assert.True(t, ok, "expired lease can be taken over")
}

func TestLockExtend(t *testing.T) {
	c := New()
	ctx := context.Background()

	token, ok, err := c.Acquire(ctx, "p1", 20*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = c.Extend(ctx, "p1", "someone-else", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "foreign token cannot extend")

	ok, err = c.Extend(ctx, "p1", token, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	time.Sleep(30 * time.Millisecond)
	_, ok, _ = c.Acquire(ctx, "p1", time.Minute)
	assert.False(t, ok, "extended lease outlives the original ttl")

	require.NoError(t, c.Release(ctx, "p1", token))
	ok, err = c.Extend(ctx, "p1", token, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "released lease cannot be revived")

	token, _, _ = c.Acquire(ctx, "p1", time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	ok, err = c.Extend(ctx, "p1", token, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "expired lease cannot be extended")
}

func TestQueryReturnsCopies(t *testing.T) {
	c := New()
	ctx := context.Background()
	r := rec("r1", 1, false)
	r.Kind = model.KindSurveyResponse
	r.Survey = &model.Survey{ID: "s1", Title: "Soil"}
	r.SurveyResponse = []string{"yes"}
	seed(t, c, r)

	got, err := c.Query(ctx, "p1", storage.Query{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	got[0].SurveyResponse[0] = "changed"
	got[0].Survey.Title = "changed"

	again, err := c.Query(ctx, "p1", storage.Query{})
	require.NoError(t, err)
	assert.Equal(t, []string{"yes"}, again[0].SurveyResponse)
	assert.Equal(t, "Soil", again[0].Survey.Title)
}

func TestPartitions(t *testing.T) {
	c := New()
	ctx := context.Background()

	_, err := c.GetPartition(ctx, "p1")
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	require.NoError(t, c.SavePartition(ctx, &model.Partition{ID: "p2"}))
	require.NoError(t, c.SavePartition(ctx, &model.Partition{ID: "p1", Identity: &model.PlanterIdentity{WalletHandle: "w1"}}))

	p, err := c.GetPartition(ctx, "p1")
	require.NoError(t, err)
	h, ok := p.Handle()
	assert.True(t, ok)
	assert.Equal(t, "w1", h)

	list, err := c.ListPartitions(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "p1", list[0].ID)
	_, ok = list[1].Handle()
	assert.False(t, ok)
}
