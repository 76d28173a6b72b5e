// Package lock serializes work on a single identity key across concurrent requests.
package lock

import (
	"context"
	"errors"
	"slices"
)

var ErrNotAcquired = errors.New("lock not acquired")

// Locker grants exclusive access to a key until the returned release func is called. Acquire blocks until the
// lock is free or ctx is done.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// AcquireAll takes the locks for every distinct key in sorted order, so two callers sharing keys cannot
// deadlock. On failure the locks taken so far are released.
func AcquireAll(ctx context.Context, l Locker, keys ...string) (func(), error) {
	keys = slices.Clone(keys)
	slices.Sort(keys)
	keys = slices.Compact(keys)

	releases := make([]func(), 0, len(keys))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}

	for _, k := range keys {
		release, err := l.Acquire(ctx, k)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, release)
	}

	return releaseAll, nil
}
