package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldsync/internal/model"
)

func TestFlushPendingStopsAtFirstFailure(t *testing.T) {
	store := newStore(t)
	// вставлены не по порядку: отправка идёт по composed_at
	insertLocal(t, store, "p1", msg("C", 3), msg("A", 1), msg("B", 2))
	tr := &fakeTransport{failPostOn: 2}
	u := NewUploader(store, tr, nil)

	n, err := u.FlushPending(context.Background(), "p1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransport))
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"A"}, tr.posted)

	got := all(t, store, "p1")
	assert.True(t, got["A"].Uploaded)
	assert.False(t, got["B"].Uploaded)
	assert.False(t, got["C"].Uploaded)

	// следующий проход продолжает с места остановки
	n, err = u.FlushPending(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"A", "B", "C"}, tr.posted)
	for id, rec := range all(t, store, "p1") {
		assert.True(t, rec.Uploaded, id)
	}
}

func TestFlushPendingSkipsUploadedAndIncludesHidden(t *testing.T) {
	store := newStore(t)
	_, err := NewReconciler(store).Reconcile(context.Background(), "p1", []model.Message{msg("remote", 1)})
	require.NoError(t, err)
	insertLocal(t, store, "p1", msg("local", 2))

	tr := &fakeTransport{}
	n, err := NewUploader(store, tr, nil).FlushPending(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"local"}, tr.posted)
}

func TestFlushPendingHonoursCancellation(t *testing.T) {
	store := newStore(t)
	insertLocal(t, store, "p1", msg("A", 1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr := &fakeTransport{}
	_, err := NewUploader(store, tr, nil).FlushPending(ctx, "p1")
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, tr.posted)
}
