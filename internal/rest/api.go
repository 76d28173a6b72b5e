package rest

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gamma-omg/icy-auth/internal/oauth"
	"github.com/gamma-omg/icy-auth/internal/pkg/httpx"
	"github.com/gamma-omg/icy-auth/internal/pkg/middleware"
	"github.com/gamma-omg/icy-auth/internal/pkg/router"
	"github.com/gamma-omg/icy-auth/internal/pkg/serr"
	"github.com/gamma-omg/icy-auth/internal/service"
	"github.com/gamma-omg/icy-auth/internal/store"
)

const (
	rootMessage  = "Dual Authentication API is running"
	oauthScope   = "oauth"
	readyTimeout = 2 * time.Second
)

type authService interface {
	Register(ctx context.Context, r service.RegisterRequest) (service.AuthResponse, error)
	Login(ctx context.Context, r service.LoginRequest) (service.AuthResponse, error)
	GoogleSignIn(ctx context.Context, r service.GoogleSignInRequest) (service.AuthResponse, error)
	GoogleLoginURL(env oauth.Env) (string, error)
	GoogleCallback(ctx context.Context, env oauth.Env, r service.GoogleCallbackRequest) (service.AuthResponse, error)
	CurrentUser(ctx context.Context, email string) (store.User, error)
}

// Check reports whether a dependency is ready to serve traffic.
type Check func(ctx context.Context) error

type API struct {
	srv         authService
	tokens      middleware.TokenValidator
	router      *router.Router
	frontendURL string
	checks      map[string]Check
}

type APIOption func(*API)

// WithFrontendURL sets where the redirect sign in flow sends the browser back to.
func WithFrontendURL(u string) APIOption {
	return func(a *API) {
		a.frontendURL = strings.TrimSuffix(u, "/")
	}
}

// WithReadyCheck adds a dependency probed by /readyz.
func WithReadyCheck(name string, c Check) APIOption {
	return func(a *API) {
		a.checks[name] = c
	}
}

func NewAPI(srv authService, tokens middleware.TokenValidator, opts ...APIOption) *API {
	api := &API{
		srv:    srv,
		tokens: tokens,
		router: router.New(),
		checks: make(map[string]Check),
	}
	for _, opt := range opts {
		opt(api)
	}

	api.mount()
	return api
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

func (a *API) mount() {
	a.router.HandleFunc("GET /{$}", a.handleRoot)
	a.router.HandleFunc("GET /healthz", a.handleHealth)
	a.router.HandleFunc("GET /readyz", a.handleReady)

	auth := a.router.SubRouter("/auth")
	auth.HandleFunc("POST /register", a.handleRegister)
	auth.HandleFunc("POST /login", a.handleLogin)
	auth.HandleFunc("POST /google", a.handleGoogle)
	auth.HandleFunc("GET /google/login", a.handleGoogleLogin)
	auth.HandleFunc("GET /google/callback", a.handleGoogleCallback)

	users := a.router.SubRouter("/users")
	users.Use(middleware.Auth(a.tokens))
	users.HandleFunc("GET /me", a.handleMe)
}

type userResponse struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	FirstName      string    `json:"first_name"`
	LastName       string    `json:"last_name"`
	ProfilePicture *string   `json:"profile_picture"`
	AuthMethod     string    `json:"auth_method"`
	CreatedAt      time.Time `json:"created_at"`
}

func newUserResponse(u store.User) userResponse {
	resp := userResponse{
		ID:         u.ID,
		Email:      u.Email,
		FirstName:  u.FirstName,
		LastName:   u.LastName,
		AuthMethod: string(u.AuthMethod),
		CreatedAt:  u.CreatedAt,
	}
	if u.ProfilePicture != "" {
		resp.ProfilePicture = &u.ProfilePicture
	}
	return resp
}

type tokenResponse struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	User        userResponse `json:"user"`
}

func newTokenResponse(r service.AuthResponse) tokenResponse {
	return tokenResponse{
		AccessToken: r.AccessToken,
		TokenType:   r.TokenType,
		User:        newUserResponse(r.User),
	}
}

type messageResponse struct {
	Message string `json:"message"`
}

func (a *API) handleRoot(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, r, http.StatusOK, messageResponse{Message: rootMessage})
}

type registerRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !a.readJSON(w, r, &req) {
		return
	}

	resp, err := a.srv.Register(r.Context(), service.RegisterRequest{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		httpx.HandleErr(w, r, err)
		return
	}

	a.writeJSON(w, r, http.StatusOK, newTokenResponse(resp))
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !a.readJSON(w, r, &req) {
		return
	}

	resp, err := a.srv.Login(r.Context(), service.LoginRequest{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		httpx.HandleErr(w, r, err)
		return
	}

	a.writeJSON(w, r, http.StatusOK, newTokenResponse(resp))
}

// googleRequest accepts the ID token as "access_token", the name the web client sends it under, or as
// "credential". An authorization code goes in "code".
type googleRequest struct {
	AccessToken string `json:"access_token"`
	Credential  string `json:"credential"`
	Code        string `json:"code"`
}

func (a *API) handleGoogle(w http.ResponseWriter, r *http.Request) {
	var req googleRequest
	if !a.readJSON(w, r, &req) {
		return
	}

	credential := req.Credential
	if credential == "" {
		credential = req.AccessToken
	}

	resp, err := a.srv.GoogleSignIn(r.Context(), service.GoogleSignInRequest{
		Credential: credential,
		Code:       req.Code,
	})
	if err != nil {
		httpx.HandleErr(w, r, err)
		return
	}

	a.writeJSON(w, r, http.StatusOK, newTokenResponse(resp))
}

func (a *API) handleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	loginURL, err := a.srv.GoogleLoginURL(oauth.NewHTTPEnv(oauthScope, w, r))
	if err != nil {
		httpx.HandleErr(w, r, err)
		return
	}

	http.Redirect(w, r, loginURL, http.StatusFound)
}

func (a *API) handleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	resp, err := a.srv.GoogleCallback(r.Context(), oauth.NewHTTPEnv(oauthScope, w, r), service.GoogleCallbackRequest{
		Code:  r.URL.Query().Get("code"),
		State: r.URL.Query().Get("state"),
	})
	if err != nil {
		httpx.HandleErr(w, r, err)
		return
	}

	if a.frontendURL == "" {
		a.writeJSON(w, r, http.StatusOK, newTokenResponse(resp))
		return
	}

	// the token travels in the fragment so it never reaches the frontend server logs
	fragment := url.Values{}
	fragment.Set("access_token", resp.AccessToken)
	fragment.Set("token_type", resp.TokenType)
	http.Redirect(w, r, fmt.Sprintf("%s/auth/callback#%s", a.frontendURL, fragment.Encode()), http.StatusFound)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	u, err := a.srv.CurrentUser(r.Context(), middleware.SubjectFromContext(r.Context()))
	if err != nil {
		httpx.HandleErr(w, r, err)
		return
	}

	a.writeJSON(w, r, http.StatusOK, newUserResponse(u))
}

type statusResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, r, http.StatusOK, statusResponse{Status: "ok"})
}

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	resp := statusResponse{Status: "ok", Checks: make(map[string]string, len(a.checks))}
	status := http.StatusOK
	for name, check := range a.checks {
		if err := check(ctx); err != nil {
			slog.Warn("readiness check failed", "check", name, "error", err)
			resp.Checks[name] = "unavailable"
			resp.Status = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}

	a.writeJSON(w, r, status, resp)
}

func (a *API) readJSON(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := httpx.ReadJSON(r, out); err != nil {
		httpx.HandleErr(w, r, serr.NewServiceError(err, http.StatusBadRequest, "invalid request body"))
		return false
	}
	return true
}

func (a *API) writeJSON(w http.ResponseWriter, r *http.Request, status int, resp any) {
	if err := httpx.WriteJSON(w, status, resp); err != nil {
		slog.Error("write response json", "error", err, "url", r.URL.Path)
	}
}
