package service

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/gamma-omg/icy-auth/internal/oauth"
	"github.com/gamma-omg/icy-auth/internal/store"
)

type mockAuthenticator struct {
	verifyFunc   func(ctx context.Context, provider, credential string) (oauth.User, error)
	exchangeFunc func(ctx context.Context, provider, code string) (oauth.User, error)
	loginFunc    func(env oauth.Env, provider string) (string, error)
	callbackFunc func(ctx context.Context, env oauth.Env, provider, code, state string) (oauth.User, error)
}

var errNotMocked = errors.New("not mocked")

func (m *mockAuthenticator) Verify(ctx context.Context, provider, credential string) (oauth.User, error) {
	if m.verifyFunc == nil {
		return oauth.User{}, errNotMocked
	}
	return m.verifyFunc(ctx, provider, credential)
}

func (m *mockAuthenticator) Exchange(ctx context.Context, provider, code string) (oauth.User, error) {
	if m.exchangeFunc == nil {
		return oauth.User{}, errNotMocked
	}
	return m.exchangeFunc(ctx, provider, code)
}

func (m *mockAuthenticator) LoginURL(env oauth.Env, provider string) (string, error) {
	if m.loginFunc == nil {
		return "", errNotMocked
	}
	return m.loginFunc(env, provider)
}

func (m *mockAuthenticator) Callback(ctx context.Context, env oauth.Env, provider, code, state string) (oauth.User, error) {
	if m.callbackFunc == nil {
		return oauth.User{}, errNotMocked
	}
	return m.callbackFunc(ctx, env, provider, code, state)
}

func verifiesAs(usr oauth.User) *mockAuthenticator {
	return &mockAuthenticator{
		verifyFunc: func(ctx context.Context, provider, credential string) (oauth.User, error) {
			return usr, nil
		},
	}
}

type mockTokenIssuer struct {
	issueFunc func(subject string) (string, error)
}

func (m *mockTokenIssuer) Issue(subject string) (string, error) {
	return m.issueFunc(subject)
}

// memStore is an in-memory store.Store enforcing the same uniqueness rules as the real adapters.
type memStore struct {
	mu    sync.Mutex
	users map[string]store.User
	seq   int

	// err, when set, fails every call
	err error
	// beforeInsert and beforeLink run before the write, outside the store lock
	beforeInsert func()
	beforeLink   func()
}

func newMemStore() *memStore {
	return &memStore{users: make(map[string]store.User)}
}

func (m *memStore) FindByID(ctx context.Context, id string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return store.User{}, m.err
	}

	u, ok := m.users[id]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return u, nil
}

func (m *memStore) FindByEmail(ctx context.Context, email string) (store.User, error) {
	return m.find(func(u store.User) bool { return u.Email == store.NormalizeEmail(email) })
}

func (m *memStore) FindByGoogleID(ctx context.Context, googleID string) (store.User, error) {
	if googleID == "" {
		return store.User{}, store.ErrNotFound
	}
	return m.find(func(u store.User) bool { return u.GoogleID == googleID })
}

func (m *memStore) Insert(ctx context.Context, u store.User) (store.User, error) {
	if m.beforeInsert != nil {
		m.beforeInsert()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return store.User{}, m.err
	}

	u.Email = store.NormalizeEmail(u.Email)
	if err := u.Validate(); err != nil {
		return store.User{}, err
	}

	for _, e := range m.users {
		if e.Email == u.Email || (u.GoogleID != "" && e.GoogleID == u.GoogleID) {
			return store.User{}, store.ErrExists
		}
	}

	m.seq++
	u.ID = strconv.Itoa(m.seq)
	u.CreatedAt = time.Now()
	m.users[u.ID] = u
	return u, nil
}

func (m *memStore) remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.users, id)
}

func (m *memStore) LinkGoogle(ctx context.Context, r store.LinkGoogleRequest) (store.User, error) {
	if m.beforeLink != nil {
		m.beforeLink()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return store.User{}, m.err
	}

	u, ok := m.users[r.UserID]
	if !ok {
		return store.User{}, store.ErrNotFound
	}

	if u.GoogleID != "" {
		return store.User{}, store.ErrExists
	}

	for _, e := range m.users {
		if e.GoogleID == r.GoogleID {
			return store.User{}, store.ErrExists
		}
	}

	u.GoogleID = r.GoogleID
	u.AuthMethod = store.AuthMethodGoogle
	if r.Picture != "" {
		u.ProfilePicture = r.Picture
	}
	m.users[u.ID] = u
	return u, nil
}

func (m *memStore) Ping(ctx context.Context) error {
	return m.err
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.users)
}

func (m *memStore) find(match func(store.User) bool) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return store.User{}, m.err
	}

	for _, u := range m.users {
		if match(u) {
			return u, nil
		}
	}
	return store.User{}, store.ErrNotFound
}

// noLock lets every caller through, leaving uniqueness to the store.
type noLock struct{}

func (noLock) Acquire(ctx context.Context, key string) (func(), error) {
	return func() {}, nil
}
