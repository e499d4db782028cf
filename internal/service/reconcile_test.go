package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldsync/internal/model"
)

func TestReconcileIsIdempotent(t *testing.T) {
	store := newStore(t)
	r := NewReconciler(store)
	batch := []model.Message{msg("m1", 1), msg("m2", 2), msg("m1", 3)}

	res, err := r.Reconcile(context.Background(), "p1", batch)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, 1, res.Duplicates, "repeated id inside one page")
	first := all(t, store, "p1")

	res, err = r.Reconcile(context.Background(), "p1", batch)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Inserted)
	assert.Equal(t, 3, res.Duplicates)
	assert.Equal(t, first, all(t, store, "p1"))

	for _, rec := range first {
		assert.True(t, rec.Uploaded)
		assert.True(t, rec.Unread)
		assert.False(t, rec.Hidden)
	}
	assert.Equal(t, at(1), first["m1"].ComposedAt, "first write wins")
}

func TestReconcileKeepsExistingRecord(t *testing.T) {
	store := newStore(t)
	local := msg("m1", 1)
	local.Body = "written on device"
	insertLocal(t, store, "p1", local)

	remote := msg("m1", 5)
	remote.Body = "server copy"
	res, err := NewReconciler(store).Reconcile(context.Background(), "p1", []model.Message{remote})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Inserted)

	got := all(t, store, "p1")
	require.Len(t, got, 1)
	assert.Equal(t, "written on device", got["m1"].Body)
	assert.False(t, got["m1"].Uploaded)
	assert.Equal(t, at(1), got["m1"].ComposedAt)
}

func TestReconcileDropsEchoesAndEmptyIDs(t *testing.T) {
	store := newStore(t)
	echo := surveyMsg("s-echo", "abc", 1, model.KindSurvey)
	echo.Survey.Answered = true
	noID := msg("", 2)

	res, err := NewReconciler(store).Reconcile(context.Background(), "p1", []model.Message{echo, noID, msg("m3", 3)})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 2, res.Dropped)
	assert.Len(t, all(t, store, "p1"), 1)
}

func TestReconcileEmptyIsNoop(t *testing.T) {
	store := newStore(t)
	res, err := NewReconciler(store).Reconcile(context.Background(), "p1", nil)
	require.NoError(t, err)
	assert.Equal(t, ReconcileResult{}, res)
	assert.Empty(t, all(t, store, "p1"))
}

func TestSurveyPairing(t *testing.T) {
	store := newStore(t)
	r := NewReconciler(store)
	ctx := context.Background()

	res, err := r.Reconcile(ctx, "p1", []model.Message{
		surveyMsg("s1", "abc", 1, model.KindSurvey),
		surveyMsg("s2", "abc", 2, model.KindSurveyResponse),
		surveyMsg("s3", "abc", 3, model.KindSurvey),
		surveyMsg("x1", "other", 4, model.KindSurvey),
		msg("m1", 5),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Paired)

	got := all(t, store, "p1")
	for _, id := range []string{"s1", "s2"} {
		assert.True(t, got[id].Hidden, id)
		assert.False(t, got[id].Unread, id)
	}
	assert.False(t, got["s3"].Hidden, "third record with the same survey id stays unpaired")
	assert.True(t, got["s3"].Unread)
	assert.False(t, got["x1"].Hidden, "lone survey is not paired")
	require.Len(t, got["s1"].Survey.Questions, 2)

	// ещё одна запись с тем же survey id в следующем проходе тоже не спаривается
	res, err = r.Reconcile(ctx, "p1", []model.Message{surveyMsg("s4", "abc", 6, model.KindSurveyResponse)})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Paired)
	got = all(t, store, "p1")
	assert.False(t, got["s3"].Hidden)
	assert.False(t, got["s4"].Hidden)
}

func TestSurveyPairingSkipsEmptySurveyID(t *testing.T) {
	store := newStore(t)
	r := NewReconciler(store)

	res, err := r.Reconcile(context.Background(), "p1", []model.Message{
		surveyMsg("a1", "", 1, model.KindAnnouncement),
		surveyMsg("s1", "", 2, model.KindSurvey),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, 0, res.Paired)

	got := all(t, store, "p1")
	assert.False(t, got["a1"].Hidden, "records without survey id are never paired")
	assert.False(t, got["s1"].Hidden)
	assert.True(t, got["s1"].Unread)
}

func TestSurveyPairingAcrossPages(t *testing.T) {
	store := newStore(t)
	r := NewReconciler(store)
	ctx := context.Background()

	_, err := r.Reconcile(ctx, "p1", []model.Message{surveyMsg("s1", "abc", 1, model.KindSurvey)})
	require.NoError(t, err)
	assert.False(t, all(t, store, "p1")["s1"].Hidden)

	res, err := r.Reconcile(ctx, "p1", []model.Message{surveyMsg("s2", "abc", 2, model.KindSurveyResponse)})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Paired)
	got := all(t, store, "p1")
	assert.True(t, got["s1"].Hidden)
	assert.True(t, got["s2"].Hidden)
}
