package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrExists      = errors.New("already exists")
	ErrInvalidUser = errors.New("invalid user")
)

// Store persists users. Implementations must enforce uniqueness of email and of google id when present,
// reporting violations as ErrExists.
type Store interface {
	FindByID(ctx context.Context, id string) (User, error)
	FindByEmail(ctx context.Context, email string) (User, error)
	FindByGoogleID(ctx context.Context, googleID string) (User, error)
	Insert(ctx context.Context, u User) (User, error)
	LinkGoogle(ctx context.Context, r LinkGoogleRequest) (User, error)
	Ping(ctx context.Context) error
}

// LinkGoogleRequest attaches a Google identity to a user that has none yet. An empty Picture keeps the
// current one.
type LinkGoogleRequest struct {
	UserID   string
	GoogleID string
	Picture  string
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
