package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_AcquireRelease(t *testing.T) {
	l := NewLocal()

	release, err := l.Acquire(t.Context(), "email:a@x.com")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "email:a@x.com")
	require.ErrorIs(t, err, ErrNotAcquired)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release()

	release, err = l.Acquire(t.Context(), "email:a@x.com")
	require.NoError(t, err)
	release()

	assert.Equal(t, 0, l.size())
}

func TestLocal_WaitsForRelease(t *testing.T) {
	l := NewLocal()

	release, err := l.Acquire(t.Context(), "k")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		r, err := l.Acquire(context.Background(), "k")
		if err == nil {
			close(acquired)
			r()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("lock acquired while held")
	case <-time.After(20 * time.Millisecond):
	}

	release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock not acquired after release")
	}
}

func TestLocal_Exclusive(t *testing.T) {
	l := NewLocal()

	var (
		wg      sync.WaitGroup
		counter int
	)

	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()

			release, err := l.Acquire(t.Context(), "counter")
			if !assert.NoError(t, err) {
				return
			}
			counter++
			release()
		}()
	}

	wg.Wait()
	assert.Equal(t, 50, counter)
	assert.Equal(t, 0, l.size())
}

func TestAcquireAll(t *testing.T) {
	l := NewLocal()

	release, err := AcquireAll(t.Context(), l, "google:1", "email:a@x.com", "google:1")
	require.NoError(t, err)
	assert.Equal(t, 2, l.size())

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "email:a@x.com")
	require.ErrorIs(t, err, ErrNotAcquired)

	release()
	assert.Equal(t, 0, l.size())
}

func TestAcquireAll_ReleasesOnFailure(t *testing.T) {
	l := NewLocal()

	held, err := l.Acquire(t.Context(), "google:1")
	require.NoError(t, err)
	defer held()

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	_, err = AcquireAll(ctx, l, "email:a@x.com", "google:1")
	require.ErrorIs(t, err, ErrNotAcquired)

	r, err := l.Acquire(t.Context(), "email:a@x.com")
	require.NoError(t, err)
	r()
}
