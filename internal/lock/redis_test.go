package lock

import (
	"context"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	testdb "github.com/gamma-omg/icy-auth/internal/pkg/test/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var redisAddr string

func TestMain(m *testing.M) {
	os.Exit(run(m))
}

func run(m *testing.M) int {
	resp, closeRedis := testdb.StartRedis(context.Background())
	defer closeRedis()

	redisAddr = net.JoinHostPort(resp.Host, resp.Port)
	return m.Run()
}

func newTestRedis(t *testing.T, ttl time.Duration) *Redis {
	t.Helper()

	r := NewRedis(RedisConfig{
		Addr:   redisAddr,
		TTL:    ttl,
		Prefix: t.Name() + ":",
	})
	t.Cleanup(func() {
		_ = r.Close()
	})

	require.NoError(t, r.Ping(t.Context()))
	return r
}

func TestRedis_AcquireRelease(t *testing.T) {
	r := newTestRedis(t, 10*time.Second)

	release, err := r.Acquire(t.Context(), "email:a@x.com")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
	defer cancel()
	_, err = r.Acquire(ctx, "email:a@x.com")
	require.ErrorIs(t, err, ErrNotAcquired)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()

	release, err = r.Acquire(t.Context(), "email:a@x.com")
	require.NoError(t, err)
	release()
}

func TestRedis_DifferentKeys(t *testing.T) {
	r := newTestRedis(t, 10*time.Second)

	r1, err := r.Acquire(t.Context(), "email:a@x.com")
	require.NoError(t, err)
	defer r1()

	r2, err := r.Acquire(t.Context(), "email:b@x.com")
	require.NoError(t, err)
	defer r2()
}

func TestRedis_Expires(t *testing.T) {
	r := newTestRedis(t, 200*time.Millisecond)

	stale, err := r.Acquire(t.Context(), "google:123")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()
	release, err := r.Acquire(ctx, "google:123")
	require.NoError(t, err)

	// the expired holder must not free the lock it lost
	stale()

	ctx2, cancel2 := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel2()
	_, err = r.Acquire(ctx2, "google:123")
	require.ErrorIs(t, err, ErrNotAcquired)

	release()
}

func TestRedis_Exclusive(t *testing.T) {
	r := newTestRedis(t, 10*time.Second)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		holders int
		maxSeen int
	)

	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()

			release, err := r.Acquire(t.Context(), "email:race@x.com")
			if !assert.NoError(t, err) {
				return
			}

			mu.Lock()
			holders++
			maxSeen = max(maxSeen, holders)
			mu.Unlock()

			time.Sleep(10 * time.Millisecond)

			mu.Lock()
			holders--
			mu.Unlock()
			release()
		}()
	}

	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}
