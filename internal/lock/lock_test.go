package lock

import (
	"context"
	"testing"
	"time"

	"github.com/Lllllllleong/documentpreview/internal/models"
	"github.com/alicebob/miniredis/v2"
	goredislib "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNopLocker(t *testing.T) {
	unlock, err := NopLocker{}.Lock(context.Background(), "0123456789abcdef")
	require.NoError(t, err)
	assert.NoError(t, unlock(context.Background()))
}

func TestMutexName(t *testing.T) {
	assert.Equal(t, "preview:lock:0123456789abcdef", MutexName("0123456789abcdef"))
}

func TestRedisOptions_Tries(t *testing.T) {
	tests := []struct {
		opts RedisOptions
		want int
	}{
		{RedisOptions{Wait: 90 * time.Second, RetryDelay: 500 * time.Millisecond}, 181},
		{RedisOptions{Wait: time.Second, RetryDelay: 2 * time.Second}, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.opts.Tries())
	}
}

func TestNewRedisClient_BadURL(t *testing.T) {
	_, err := NewRedisClient(context.Background(), "not-a-url://")
	assert.Error(t, err)
}

func newTestLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredislib.NewClient(&goredislib.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLocker(client, RedisOptions{
		Expiry:     10 * time.Second,
		RetryDelay: 10 * time.Millisecond,
		Wait:       50 * time.Millisecond,
	}), mr
}

func TestRedisLocker_ExcludesSecondHolder(t *testing.T) {
	ctx := context.Background()
	l, mr := newTestLocker(t)
	const key = "0123456789abcdef"

	unlock, err := l.Lock(ctx, key)
	require.NoError(t, err)
	assert.True(t, mr.Exists(MutexName(key)))

	_, err = l.Lock(ctx, key)
	assert.ErrorIs(t, err, models.ErrLockNotAcquired)

	other, err := l.Lock(ctx, "fedcba9876543210")
	require.NoError(t, err, "other keys are not blocked")
	assert.NoError(t, other(ctx))

	require.NoError(t, unlock(ctx))
	assert.False(t, mr.Exists(MutexName(key)))

	again, err := l.Lock(ctx, key)
	require.NoError(t, err)
	assert.NoError(t, again(ctx))
}

func TestRedisLocker_ExpiredLockIsFreedAndReportedLost(t *testing.T) {
	ctx := context.Background()
	l, mr := newTestLocker(t)
	const key = "0123456789abcdef"

	unlock, err := l.Lock(ctx, key)
	require.NoError(t, err)

	mr.FastForward(11 * time.Second)

	next, err := l.Lock(ctx, key)
	require.NoError(t, err, "an expired holder no longer blocks")
	t.Cleanup(func() { _ = next(ctx) })

	assert.Error(t, unlock(ctx), "a stale holder cannot release the new lock")
	assert.True(t, mr.Exists(MutexName(key)))
}

func TestRedisLocker_UnlockAfterExpiry(t *testing.T) {
	ctx := context.Background()
	l, mr := newTestLocker(t)

	unlock, err := l.Lock(ctx, "0123456789abcdef")
	require.NoError(t, err)
	mr.FastForward(11 * time.Second)

	assert.ErrorIs(t, unlock(ctx), ErrLockLost)
}

func TestRedisLocker_ContextCancelled(t *testing.T) {
	l, _ := newTestLocker(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.Lock(ctx, "0123456789abcdef")
	assert.ErrorIs(t, err, models.ErrLockNotAcquired)
}
