package repairs

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisNumberLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	lock := NewRedisNumberLock(client, time.Second, nil)
	release, err := lock.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, mr.Exists(numberLockKey))

	release()
	require.False(t, mr.Exists(numberLockKey))
}

func TestRedisNumberLockProceedsWhenHeld(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, mr.Set(numberLockKey, "someone-else"))

	lock := NewRedisNumberLock(client, time.Second, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	release, err := lock.Acquire(ctx)
	require.NoError(t, err)
	release()
	require.True(t, mr.Exists(numberLockKey))
}

func TestSaveOrderUsesNumberLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := newServiceFixture(t, false)
	f.svc.lock = NewRedisNumberLock(client, time.Second, nil)
	res, err := f.svc.SaveOrder(actorCtx("warehouse"), draftOrder("o-1", "MAD", "int", "89000001"))
	require.NoError(t, err)
	require.Equal(t, "MAD/25/1000", res.FinalOrderNumber)
	require.False(t, mr.Exists(numberLockKey))
}
