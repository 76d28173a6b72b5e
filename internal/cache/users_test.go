package cache

import (
	"testing"
	"time"

	"github.com/gamma-omg/icy-auth/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsers_SetGet(t *testing.T) {
	c := NewUsers(100, time.Minute)
	defer c.Close()

	c.Set(store.User{ID: "1", Email: "Alice@Example.com", FirstName: "Alice"})

	u, ok := c.Get("alice@example.com")
	require.True(t, ok)
	assert.Equal(t, "1", u.ID)
	assert.Equal(t, "Alice", u.FirstName)
}

func TestUsers_Miss(t *testing.T) {
	c := NewUsers(100, time.Minute)
	defer c.Close()

	_, ok := c.Get("nobody@example.com")
	assert.False(t, ok)
}

func TestUsers_Overwrite(t *testing.T) {
	c := NewUsers(100, time.Minute)
	defer c.Close()

	c.Set(store.User{ID: "1", Email: "a@x.com"})
	c.Set(store.User{ID: "1", Email: "a@x.com", GoogleID: "g-1"})

	u, ok := c.Get("a@x.com")
	require.True(t, ok)
	assert.Equal(t, "g-1", u.GoogleID)
}

func TestUsers_Expires(t *testing.T) {
	c := NewUsers(100, 50*time.Millisecond)
	defer c.Close()

	c.Set(store.User{ID: "1", Email: "a@x.com"})

	assert.Eventually(t, func() bool {
		_, ok := c.Get("a@x.com")
		return !ok
	}, 2*time.Second, 20*time.Millisecond)
}
