package lock

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLocker(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewLocalLocker()
	l.clock = func() time.Time { return now }

	unlock, err := l.TryLock(ctx, "refresh", time.Minute)
	require.NoError(t, err)

	_, err = l.TryLock(ctx, "refresh", time.Minute)
	assert.ErrorIs(t, err, ErrLocked)

	_, err = l.TryLock(ctx, "other", time.Minute)
	assert.NoError(t, err)

	require.NoError(t, unlock(ctx))
	unlock2, err := l.TryLock(ctx, "refresh", time.Minute)
	require.NoError(t, err)

	// Expired holder cannot release the next owner's lock.
	now = now.Add(2 * time.Minute)
	unlock3, err := l.TryLock(ctx, "refresh", time.Minute)
	require.NoError(t, err)
	require.NoError(t, unlock2(ctx))
	_, err = l.TryLock(ctx, "refresh", time.Minute)
	assert.ErrorIs(t, err, ErrLocked)
	require.NoError(t, unlock3(ctx))
}

func TestRedisLocker(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	client, err := NewRedisClient(ctx, url)
	require.NoError(t, err)
	defer client.Close()

	l := NewRedisLocker(client)
	key := "test-" + uuid.NewString()

	unlock, err := l.TryLock(ctx, key, 5*time.Second)
	require.NoError(t, err)
	_, err = l.TryLock(ctx, key, 5*time.Second)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, unlock(ctx))
	unlock, err = l.TryLock(ctx, key, 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, unlock(ctx))
}
