package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	url := os.Getenv("FIELDSYNC_TEST_REDIS_URL")
	if url == "" {
		t.Skip("FIELDSYNC_TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	c, err := New(ctx, url)
	require.NoError(t, err)
	require.NoError(t, c.FlushDB(ctx))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestLockIsExclusiveUntilReleased(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	token, ok, err := c.Acquire(ctx, "p1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = c.Acquire(ctx, "p1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Release(ctx, "p1", "someone-else"))
	_, ok, err = c.Acquire(ctx, "p1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "foreign token must not release the lease")

	require.NoError(t, c.Release(ctx, "p1", token))
	_, ok, err = c.Acquire(ctx, "p1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockExtendChecksToken(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	token, ok, err := c.Acquire(ctx, "p1", 200*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = c.Extend(ctx, "p1", "someone-else", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.Extend(ctx, "p1", token, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	time.Sleep(300 * time.Millisecond)
	_, ok, err = c.Acquire(ctx, "p1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "extended lease outlives the original ttl")

	require.NoError(t, c.Release(ctx, "p1", token))
	ok, err = c.Extend(ctx, "p1", token, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckpointRoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, ok, err := c.GetCheckpoint(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, ok)

	ts := time.Date(2024, 5, 1, 12, 30, 0, 123, time.UTC)
	require.NoError(t, c.SetCheckpoint(ctx, "p1", ts))
	got, ok, err := c.GetCheckpoint(ctx, "p1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, ts.Equal(got))
}
