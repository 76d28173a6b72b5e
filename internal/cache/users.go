package cache

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/gamma-omg/icy-auth/internal/store"
)

// Users keeps recently read accounts keyed by normalized email. Entries expire after ttl, which bounds how
// long a change made by another instance can go unseen.
type Users struct {
	cache *ristretto.Cache[string, store.User]
	ttl   time.Duration
}

func NewUsers(maxKeys int64, ttl time.Duration) *Users {
	c, err := ristretto.NewCache(&ristretto.Config[string, store.User]{
		NumCounters: maxKeys * 10,
		MaxCost:     maxKeys,
		BufferItems: 64,
		// one unit per user, so MaxCost counts entries
		IgnoreInternalCost: true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to create user cache: %v", err))
	}

	return &Users{cache: c, ttl: ttl}
}

func (u *Users) Get(email string) (store.User, bool) {
	return u.cache.Get(store.NormalizeEmail(email))
}

// Set stores usr and waits until it is visible to Get.
func (u *Users) Set(usr store.User) {
	u.cache.SetWithTTL(store.NormalizeEmail(usr.Email), usr, 1, u.ttl)
	u.cache.Wait()
}

func (u *Users) Close() {
	u.cache.Close()
}
