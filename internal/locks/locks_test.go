package locks

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLockers(t *testing.T) map[string]Locker {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return map[string]Locker{
		"local": NewLocalLocker(),
		"redis": NewRedisLocker(client, 10*time.Second),
	}
}

func TestLocker_MutualExclusion(t *testing.T) {
	for name, locker := range testLockers(t) {
		t.Run(name, func(t *testing.T) {
			var inside, maxInside int32
			var wg sync.WaitGroup
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()

					unlock, err := locker.Lock(ctx, "user-1")
					if !assert.NoError(t, err) {
						return
					}
					n := atomic.AddInt32(&inside, 1)
					for {
						m := atomic.LoadInt32(&maxInside)
						if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
							break
						}
					}
					time.Sleep(time.Millisecond)
					atomic.AddInt32(&inside, -1)
					unlock()
				}()
			}
			wg.Wait()
			assert.Equal(t, int32(1), maxInside)
		})
	}
}

func TestLocker_TimesOutWhileHeld(t *testing.T) {
	for name, locker := range testLockers(t) {
		t.Run(name, func(t *testing.T) {
			unlock, err := locker.Lock(context.Background(), "user-2")
			require.NoError(t, err)
			defer unlock()

			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			_, err = locker.Lock(ctx, "user-2")
			assert.ErrorIs(t, err, ErrLockTimeout)
		})
	}
}

func TestLocker_KeysAreIndependent(t *testing.T) {
	for name, locker := range testLockers(t) {
		t.Run(name, func(t *testing.T) {
			unlock, err := locker.Lock(context.Background(), "user-a")
			require.NoError(t, err)
			defer unlock()

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			other, err := locker.Lock(ctx, "user-b")
			require.NoError(t, err)
			other()
		})
	}
}

func TestLocalLocker_UnlockTwiceIsSafe(t *testing.T) {
	l := NewLocalLocker()
	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)
	unlock()
	unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	again, err := l.Lock(ctx, "k")
	require.NoError(t, err)
	again()
	assert.Empty(t, l.locks)
}

func TestRedisLocker_ReleaseKeepsForeignToken(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	l := NewRedisLocker(client, time.Second)

	unlock, err := l.Lock(context.Background(), "user-3")
	require.NoError(t, err)

	// The lock expired and another instance took it over.
	mr.FastForward(2 * time.Second)
	require.NoError(t, mr.Set("session_lock:user-3", "someone-else"))

	unlock()
	got, err := mr.Get("session_lock:user-3")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}
