package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/gamma-omg/icy-auth/internal/lock"
	"github.com/gamma-omg/icy-auth/internal/oauth"
	"github.com/gamma-omg/icy-auth/internal/password"
	"github.com/gamma-omg/icy-auth/internal/pkg/serr"
	"github.com/gamma-omg/icy-auth/internal/store"
)

const (
	GoogleProvider = "google"
	TokenType      = "bearer"

	defaultLockWait = 5 * time.Second
)

var (
	ErrDuplicateEmail          = errors.New("duplicate email")
	ErrInvalidCredentials      = errors.New("invalid credentials")
	ErrInvalidCredential       = errors.New("invalid identity credential")
	ErrInvalidToken            = errors.New("invalid token")
	ErrAccountStoreUnavailable = errors.New("account store unavailable")
	ErrInvalidInput            = errors.New("invalid input")
)

// tokenIssuer mints access tokens bound to a subject
type tokenIssuer interface {
	Issue(subject string) (string, error)
}

// passwordHasher hashes and checks passwords
type passwordHasher interface {
	Hash(plain string) (string, error)
	Verify(plain, hash string) bool
}

// userCache holds recently read accounts for CurrentUser
type userCache interface {
	Get(email string) (store.User, bool)
	Set(u store.User)
}

type noCache struct{}

func (noCache) Get(string) (store.User, bool) { return store.User{}, false }
func (noCache) Set(store.User)                {}

// authenticator verifies credentials issued by external identity providers
type authenticator interface {
	Verify(ctx context.Context, provider, credential string) (oauth.User, error)
	Exchange(ctx context.Context, provider, code string) (oauth.User, error)
	LoginURL(env oauth.Env, provider string) (string, error)
	Callback(ctx context.Context, env oauth.Env, provider, code, state string) (oauth.User, error)
}

// Auth registers and authenticates users by password or by Google identity, keeping one account per email
type Auth struct {
	auth        authenticator
	store       store.Store
	accessToken tokenIssuer
	hasher      passwordHasher
	locker      lock.Locker
	lockWait    time.Duration
	users       userCache

	dummyOnce sync.Once
	dummyHash string
}

// AuthOption defines a functional option for configuring the Auth service
type AuthOption func(*Auth) *Auth

func WithAuthenticator(a authenticator) AuthOption {
	return func(s *Auth) *Auth {
		s.auth = a
		return s
	}
}

func WithStore(st store.Store) AuthOption {
	return func(s *Auth) *Auth {
		s.store = st
		return s
	}
}

func WithAccessToken(iss tokenIssuer) AuthOption {
	return func(s *Auth) *Auth {
		s.accessToken = iss
		return s
	}
}

func WithHasher(h passwordHasher) AuthOption {
	return func(s *Auth) *Auth {
		s.hasher = h
		return s
	}
}

// WithLocker sets the lock shared by concurrent account writes. Defaults to an in-process lock.
func WithLocker(l lock.Locker) AuthOption {
	return func(s *Auth) *Auth {
		s.locker = l
		return s
	}
}

// WithLockWait bounds how long a request waits for an identity lock.
func WithLockWait(d time.Duration) AuthOption {
	return func(s *Auth) *Auth {
		s.lockWait = d
		return s
	}
}

// WithUserCache caches the accounts returned by CurrentUser. Every sign in refreshes the cached entry.
func WithUserCache(c userCache) AuthOption {
	return func(s *Auth) *Auth {
		s.users = c
		return s
	}
}

// NewAuth creates a new Auth service with the provided options
func NewAuth(opts ...AuthOption) *Auth {
	s := &Auth{lockWait: defaultLockWait}
	for _, opt := range opts {
		s = opt(s)
	}

	if s.auth == nil {
		panic("oauth authenticator is required")
	}

	if s.store == nil {
		panic("store is required")
	}

	if s.accessToken == nil {
		panic("access token issuer is required")
	}

	if s.hasher == nil {
		panic("password hasher is required")
	}

	if s.locker == nil {
		s.locker = lock.NewLocal()
	}

	if s.users == nil {
		s.users = noCache{}
	}

	return s
}

// AuthResponse is returned by every successful sign in
type AuthResponse struct {
	AccessToken string
	TokenType   string
	User        store.User
}

type RegisterRequest struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

func (r RegisterRequest) validate() error {
	if strings.TrimSpace(r.FirstName) == "" || strings.TrimSpace(r.LastName) == "" {
		return invalidInput("first and last name are required")
	}

	if r.Password == "" {
		return invalidInput("password is required")
	}

	return validateEmail(r.Email)
}

// Register creates a password account. The email must not belong to any existing account, whatever its
// auth method.
func (s *Auth) Register(ctx context.Context, r RegisterRequest) (AuthResponse, error) {
	if err := r.validate(); err != nil {
		return AuthResponse{}, err
	}

	hash, err := s.hasher.Hash(r.Password)
	if err != nil {
		if errors.Is(err, password.ErrPasswordTooLong) {
			return AuthResponse{}, invalidInput("password is too long")
		}

		return AuthResponse{}, fmt.Errorf("hash password: %w", err)
	}

	email := store.NormalizeEmail(r.Email)
	release, err := s.lock(ctx, emailKey(email))
	if err != nil {
		return AuthResponse{}, err
	}
	defer release()

	_, err = s.store.FindByEmail(ctx, email)
	if err == nil {
		return AuthResponse{}, duplicateEmail(store.ErrExists)
	}

	if !errors.Is(err, store.ErrNotFound) {
		return AuthResponse{}, storeUnavailable("find user by email", err)
	}

	u, err := s.store.Insert(ctx, store.User{
		Email:        email,
		FirstName:    strings.TrimSpace(r.FirstName),
		LastName:     strings.TrimSpace(r.LastName),
		PasswordHash: hash,
		AuthMethod:   store.AuthMethodManual,
	})
	if err != nil {
		if errors.Is(err, store.ErrExists) {
			return AuthResponse{}, duplicateEmail(err)
		}

		return AuthResponse{}, storeUnavailable("insert user", err)
	}

	slog.Info("user registered", "user_id", u.ID, "auth_method", u.AuthMethod)
	return s.respond(u)
}

type LoginRequest struct {
	Email    string
	Password string
}

// Login authenticates by password. Unknown email, an account without a password and a wrong password are
// reported the same way.
func (s *Auth) Login(ctx context.Context, r LoginRequest) (AuthResponse, error) {
	u, err := s.store.FindByEmail(ctx, store.NormalizeEmail(r.Email))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return AuthResponse{}, storeUnavailable("find user by email", err)
		}

		s.hasher.Verify(r.Password, s.dummy())
		return AuthResponse{}, invalidCredentials(err)
	}

	if !u.HasPassword() {
		s.hasher.Verify(r.Password, s.dummy())
		return AuthResponse{}, invalidCredentials(errors.New("account has no password"))
	}

	if !s.hasher.Verify(r.Password, u.PasswordHash) {
		return AuthResponse{}, invalidCredentials(errors.New("password mismatch"))
	}

	return s.respond(u)
}

// GoogleSignInRequest carries either a Google ID token or an authorization code obtained by the client.
type GoogleSignInRequest struct {
	Credential string
	Code       string
}

// GoogleSignIn verifies a Google identity and resolves it to exactly one account, creating or linking it
// when needed.
func (s *Auth) GoogleSignIn(ctx context.Context, r GoogleSignInRequest) (AuthResponse, error) {
	var (
		usr oauth.User
		err error
	)

	switch {
	case r.Credential != "":
		usr, err = s.auth.Verify(ctx, GoogleProvider, r.Credential)
	case r.Code != "":
		usr, err = s.auth.Exchange(ctx, GoogleProvider, r.Code)
	default:
		return AuthResponse{}, invalidInput("credential or code is required")
	}
	if err != nil {
		return AuthResponse{}, providerErr(err)
	}

	return s.signIn(ctx, usr)
}

// GoogleLoginURL starts the server side redirect flow.
func (s *Auth) GoogleLoginURL(env oauth.Env) (string, error) {
	url, err := s.auth.LoginURL(env, GoogleProvider)
	if err != nil {
		return "", providerErr(err)
	}

	return url, nil
}

type GoogleCallbackRequest struct {
	Code  string
	State string
}

// GoogleCallback finishes the redirect flow started by GoogleLoginURL.
func (s *Auth) GoogleCallback(ctx context.Context, env oauth.Env, r GoogleCallbackRequest) (AuthResponse, error) {
	usr, err := s.auth.Callback(ctx, env, GoogleProvider, r.Code, r.State)
	if err != nil {
		return AuthResponse{}, providerErr(err)
	}

	return s.signIn(ctx, usr)
}

// CurrentUser returns the account a validated access token was issued for.
func (s *Auth) CurrentUser(ctx context.Context, email string) (store.User, error) {
	if email == "" {
		return store.User{}, invalidToken(errors.New("empty subject"))
	}

	if u, ok := s.users.Get(email); ok {
		return u, nil
	}

	u, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.User{}, invalidToken(err)
		}

		return store.User{}, storeUnavailable("find user by email", err)
	}

	s.users.Set(u)
	return u, nil
}

func (s *Auth) signIn(ctx context.Context, usr oauth.User) (AuthResponse, error) {
	u, err := s.reconcile(ctx, usr)
	if err != nil {
		return AuthResponse{}, err
	}

	return s.respond(u)
}

// reconcile maps a verified Google identity to one account:
//
//	linked by google id           -> use it
//	same email, not linked        -> attach the google id
//	same email, linked to another -> use it unchanged
//	no match                      -> create a google account
func (s *Auth) reconcile(ctx context.Context, usr oauth.User) (store.User, error) {
	email := store.NormalizeEmail(usr.VerifiedEmail())

	release, err := s.lock(ctx, googleKey(usr.ID), emailKey(email))
	if err != nil {
		return store.User{}, err
	}
	defer release()

	u, err := s.store.FindByGoogleID(ctx, usr.ID)
	if err == nil {
		return u, nil
	}

	if !errors.Is(err, store.ErrNotFound) {
		return store.User{}, storeUnavailable("find user by google id", err)
	}

	u, err = s.store.FindByEmail(ctx, email)
	if err == nil {
		return s.link(ctx, u, usr)
	}

	if !errors.Is(err, store.ErrNotFound) {
		return store.User{}, storeUnavailable("find user by email", err)
	}

	return s.create(ctx, email, usr)
}

func (s *Auth) create(ctx context.Context, email string, usr oauth.User) (store.User, error) {
	firstName, lastName := names(usr)
	created, err := s.store.Insert(ctx, store.User{
		Email:          email,
		FirstName:      firstName,
		LastName:       lastName,
		ProfilePicture: usr.Picture,
		GoogleID:       usr.ID,
		AuthMethod:     store.AuthMethodGoogle,
	})
	if err == nil {
		slog.Info("user registered", "user_id", created.ID, "auth_method", created.AuthMethod)
		return created, nil
	}

	if !errors.Is(err, store.ErrExists) {
		return store.User{}, storeUnavailable("insert user", err)
	}

	slog.Info("account created concurrently, reloading", "google_id", usr.ID)
	return s.reload(ctx, usr.ID, email)
}

func (s *Auth) link(ctx context.Context, u store.User, usr oauth.User) (store.User, error) {
	if u.GoogleID != "" {
		slog.Warn("email is linked to another google account, keeping existing link",
			"user_id", u.ID,
			"google_id", usr.ID)
		return u, nil
	}

	linked, err := s.store.LinkGoogle(ctx, store.LinkGoogleRequest{
		UserID:   u.ID,
		GoogleID: usr.ID,
		Picture:  usr.Picture,
	})
	if err == nil {
		slog.Info("google account linked", "user_id", linked.ID)
		return linked, nil
	}

	if errors.Is(err, store.ErrNotFound) {
		slog.Info("account removed before link, creating a new one", "user_id", u.ID)
		return s.create(ctx, store.NormalizeEmail(u.Email), usr)
	}

	if !errors.Is(err, store.ErrExists) {
		return store.User{}, storeUnavailable("link google account", err)
	}

	slog.Info("account linked concurrently, reloading", "user_id", u.ID)
	return s.reload(ctx, usr.ID, u.Email)
}

// reload resolves an identity after a write lost to a concurrent one.
func (s *Auth) reload(ctx context.Context, googleID, email string) (store.User, error) {
	u, err := s.store.FindByGoogleID(ctx, googleID)
	if err == nil {
		return u, nil
	}

	if !errors.Is(err, store.ErrNotFound) {
		return store.User{}, storeUnavailable("find user by google id", err)
	}

	u, err = s.store.FindByEmail(ctx, email)
	if err != nil {
		return store.User{}, storeUnavailable("find user by email", err)
	}

	return u, nil
}

func (s *Auth) respond(u store.User) (AuthResponse, error) {
	tok, err := s.accessToken.Issue(u.Email)
	if err != nil {
		return AuthResponse{}, fmt.Errorf("issue access token: %w", err)
	}

	s.users.Set(u)

	return AuthResponse{
		AccessToken: tok,
		TokenType:   TokenType,
		User:        u,
	}, nil
}

func (s *Auth) lock(ctx context.Context, keys ...string) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, s.lockWait)
	defer cancel()

	release, err := lock.AcquireAll(ctx, s.locker, keys...)
	if err != nil {
		return nil, storeUnavailable("acquire lock", err)
	}

	return release, nil
}

// dummy returns a fixed hash that failed lookups are verified against, so they take as long as real ones.
func (s *Auth) dummy() string {
	s.dummyOnce.Do(func() {
		h, err := s.hasher.Hash("icy-auth-dummy-password")
		if err != nil {
			slog.Error("failed to build dummy hash", "error", err)
			return
		}
		s.dummyHash = h
	})

	return s.dummyHash
}

func names(usr oauth.User) (string, string) {
	if usr.GivenName == "" && usr.FamilyName == "" {
		return usr.Name, ""
	}
	return usr.GivenName, usr.FamilyName
}

func validateEmail(email string) error {
	email = strings.TrimSpace(email)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return invalidInput("invalid email address")
	}
	return nil
}

func emailKey(email string) string {
	return "email:" + email
}

func googleKey(sub string) string {
	return "google:" + sub
}

func invalidInput(msg string) error {
	return serr.NewServiceError(ErrInvalidInput, http.StatusUnprocessableEntity, "%s", msg)
}

func duplicateEmail(err error) error {
	return serr.NewServiceError(fmt.Errorf("%w: %w", ErrDuplicateEmail, err), http.StatusConflict,
		"user with this email already exists")
}

func invalidCredentials(err error) error {
	return serr.NewServiceError(fmt.Errorf("%w: %w", ErrInvalidCredentials, err), http.StatusUnauthorized,
		"invalid email or password")
}

func invalidToken(err error) error {
	return serr.NewServiceError(fmt.Errorf("%w: %w", ErrInvalidToken, err), http.StatusUnauthorized,
		"could not validate credentials")
}

func storeUnavailable(op string, err error) error {
	return serr.NewServiceError(fmt.Errorf("%w: %s: %w", ErrAccountStoreUnavailable, op, err),
		http.StatusServiceUnavailable, "account store unavailable")
}

func providerErr(err error) error {
	if errors.Is(err, oauth.ErrProviderNotFound) {
		return serr.NewServiceError(err, http.StatusNotFound, "oauth provider not found").With("provider", GoogleProvider)
	}

	if errors.Is(err, oauth.ErrAuthFailed) {
		return serr.NewServiceError(fmt.Errorf("%w: %w", ErrInvalidCredential, err), http.StatusUnauthorized,
			"invalid authentication credentials").With("provider", GoogleProvider)
	}

	return serr.NewServiceError(err, http.StatusBadGateway, "identity provider unavailable").With("provider", GoogleProvider)
}
