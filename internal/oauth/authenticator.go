package oauth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/oauth2"
)

var (
	ErrProviderConflict = errors.New("provider already exists")
	ErrProviderNotFound = errors.New("provider not found")
	ErrAuthFailed       = errors.New("auth failed")
)

// User is the identity a provider vouches for.
type User struct {
	ID            string
	Email         string
	EmailVerified bool
	Name          string
	GivenName     string
	FamilyName    string
	Picture       string
}

func (u *User) VerifiedEmail() string {
	if u.EmailVerified {
		return u.Email
	}
	return ""
}

// Env keeps per-client values, such as the login state, between the login redirect and the callback.
type Env interface {
	Save(key, val string) error
	Load(key string) (string, error)
}

type identityProvider interface {
	LoginURL(state string) (string, error)
	Exchange(ctx context.Context, code string) (User, error)
	Verify(ctx context.Context, credential string) (User, error)
}

// Authenticator is a registry of named identity providers. Every credential problem it reports matches
// ErrAuthFailed, without telling which check failed.
type Authenticator struct {
	providers map[string]identityProvider
	mu        sync.RWMutex
}

func NewAuthenticator() *Authenticator {
	return &Authenticator{
		providers: make(map[string]identityProvider),
	}
}

func (a *Authenticator) Use(name string, p identityProvider) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.providers[name]; ok {
		return ErrProviderConflict
	}

	a.providers[name] = p
	return nil
}

// Verify checks an identity credential issued by the provider, such as a Google ID token.
func (a *Authenticator) Verify(ctx context.Context, provider, credential string) (User, error) {
	p, err := a.getProvider(provider)
	if err != nil {
		return User{}, fmt.Errorf("get provider: %w", err)
	}

	if credential == "" {
		return User{}, fmt.Errorf("%w: empty credential", ErrAuthFailed)
	}

	usr, err := p.Verify(ctx, credential)
	if err != nil {
		return User{}, fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}

	return checkUser(usr)
}

// Exchange redeems an authorization code obtained by the client itself, with no server side state.
func (a *Authenticator) Exchange(ctx context.Context, provider, code string) (User, error) {
	p, err := a.getProvider(provider)
	if err != nil {
		return User{}, fmt.Errorf("get provider: %w", err)
	}

	return a.exchange(ctx, p, code)
}

// LoginURL starts the redirect flow, saving a fresh state in env.
func (a *Authenticator) LoginURL(env Env, provider string) (string, error) {
	p, err := a.getProvider(provider)
	if err != nil {
		return "", fmt.Errorf("get provider: %w", err)
	}

	state := randState(32)
	if err = env.Save(provider, state); err != nil {
		return "", fmt.Errorf("save state: %w", err)
	}

	url, err := p.LoginURL(state)
	if err != nil {
		return "", fmt.Errorf("get login url: %w", err)
	}

	return url, nil
}

// Callback finishes the redirect flow started by LoginURL.
func (a *Authenticator) Callback(ctx context.Context, env Env, provider, code, state string) (User, error) {
	p, err := a.getProvider(provider)
	if err != nil {
		return User{}, fmt.Errorf("get provider: %w", err)
	}

	saved, err := env.Load(provider)
	if err != nil {
		return User{}, fmt.Errorf("%w: load state: %w", ErrAuthFailed, err)
	}

	if saved == "" || subtle.ConstantTimeCompare([]byte(saved), []byte(state)) != 1 {
		return User{}, fmt.Errorf("%w: state mismatch", ErrAuthFailed)
	}

	return a.exchange(ctx, p, code)
}

func (a *Authenticator) exchange(ctx context.Context, p identityProvider, code string) (User, error) {
	if code == "" {
		return User{}, fmt.Errorf("%w: empty code", ErrAuthFailed)
	}

	usr, err := p.Exchange(ctx, code)
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			if rerr.Response != nil {
				if rerr.Response.StatusCode == http.StatusBadRequest || rerr.Response.StatusCode == http.StatusUnauthorized {
					return User{}, fmt.Errorf("%w: %w", ErrAuthFailed, err)
				}
			}
		}

		return User{}, fmt.Errorf("exchange: %w", err)
	}

	return checkUser(usr)
}

func (a *Authenticator) getProvider(name string) (identityProvider, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	p, ok := a.providers[name]
	if !ok {
		return nil, ErrProviderNotFound
	}

	return p, nil
}

// checkUser rejects identities that cannot be matched to an account.
func checkUser(usr User) (User, error) {
	if usr.ID == "" {
		return User{}, fmt.Errorf("%w: missing subject", ErrAuthFailed)
	}

	if usr.VerifiedEmail() == "" {
		return User{}, fmt.Errorf("%w: missing or unverified email", ErrAuthFailed)
	}

	return usr, nil
}

func randState(size int) string {
	b := make([]byte, size)

	// rand.Read never returns an error
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
