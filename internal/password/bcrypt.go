package password

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrPasswordTooLong is returned for passwords bcrypt cannot hash without truncation (over 72 bytes).
var ErrPasswordTooLong = bcrypt.ErrPasswordTooLong

const maxPasswordLen = 72

// Hasher hashes passwords with bcrypt. The salt and cost are embedded in every hash, so verifying needs nothing
// but the hash itself.
type Hasher struct {
	cost int
}

// NewHasher returns a Hasher using cost, falling back to bcrypt.DefaultCost when cost is out of range.
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}

	return &Hasher{cost: cost}
}

func (h *Hasher) Cost() int {
	return h.cost
}

func (h *Hasher) Hash(plain string) (string, error) {
	if len(plain) > maxPasswordLen {
		return "", ErrPasswordTooLong
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(plain), h.cost)
	if err != nil {
		return "", fmt.Errorf("generate bcrypt hash: %w", err)
	}

	return string(hash), nil
}

// Verify reports whether plain matches hash. An empty or malformed hash never matches.
func (h *Hasher) Verify(plain, hash string) bool {
	if hash == "" {
		return false
	}

	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
