package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/gamma-omg/icy-auth/internal/oauth"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

const (
	googleScopeEmail   string = "email"
	googleScopeProfile string = "profile"

	googleIssuerURL = "https://accounts.google.com"

	// DefaultClockSkew is the tolerance applied to the exp and iat claims of Google ID tokens.
	DefaultClockSkew = 10 * time.Second
)

// googleIssuers lists the two issuer values Google puts into ID tokens.
var googleIssuers = []string{"accounts.google.com", "https://accounts.google.com"}

var (
	errWrongIssuer    = errors.New("wrong issuer")
	errIssuedInFuture = errors.New("token used before issued")
	errMissingIDToken = errors.New("token response has no id_token")
)

// Google implements the identityProvider interface for Google OAuth
type Google struct {
	cfg      *oauth2.Config
	verifier *oidc.IDTokenVerifier
	now      func() time.Time
	skew     time.Duration
}

// GoogleConfig holds the configuration for the Google OAuth provider
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	ClockSkew    time.Duration
	Now          func() time.Time
}

type userClaims struct {
	Sub        string    `json:"sub,omitempty"`
	Email      string    `json:"email,omitempty"`
	Verified   looseBool `json:"email_verified,omitempty"`
	Name       string    `json:"name,omitempty"`
	GivenName  string    `json:"given_name,omitempty"`
	FamilyName string    `json:"family_name,omitempty"`
	Picture    string    `json:"picture,omitempty"`
}

// looseBool accepts both true and "true"; Google has sent email_verified in either form.
type looseBool bool

func (b *looseBool) UnmarshalJSON(data []byte) error {
	var v bool
	if err := json.Unmarshal(data, &v); err == nil {
		*b = looseBool(v)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("email_verified: %w", err)
	}

	v, err := strconv.ParseBool(s)
	if err != nil {
		return fmt.Errorf("email_verified: %w", err)
	}

	*b = looseBool(v)
	return nil
}

// NewGoogle creates a new Google OAuth provider with the given configuration. ctx must outlive the provider:
// signing keys are refreshed with it.
func NewGoogle(ctx context.Context, google GoogleConfig) (*Google, error) {
	p, err := oidc.NewProvider(ctx, googleIssuerURL)
	if err != nil {
		return nil, fmt.Errorf("new oidc provider: %w", err)
	}

	var meta struct {
		JWKSURL string `json:"jwks_uri"`
	}
	if err := p.Claims(&meta); err != nil {
		return nil, fmt.Errorf("read provider metadata: %w", err)
	}

	return newGoogle(google, endpoints.Google, oidc.NewRemoteKeySet(ctx, meta.JWKSURL)), nil
}

func newGoogle(google GoogleConfig, endpoint oauth2.Endpoint, keys oidc.KeySet) *Google {
	now := google.Now
	if now == nil {
		now = time.Now
	}

	skew := google.ClockSkew
	if skew < 0 {
		skew = DefaultClockSkew
	}

	// The issuer is checked against googleIssuers after verification, since go-oidc accepts only one value.
	verifier := oidc.NewVerifier(googleIssuerURL, keys, &oidc.Config{
		ClientID:             google.ClientID,
		SupportedSigningAlgs: []string{oidc.RS256},
		SkipIssuerCheck:      true,
		Now: func() time.Time {
			return now().Add(-skew)
		},
	})

	return &Google{
		cfg: &oauth2.Config{
			ClientID:     google.ClientID,
			ClientSecret: google.ClientSecret,
			RedirectURL:  google.RedirectURL,
			Scopes:       []string{oidc.ScopeOpenID, googleScopeProfile, googleScopeEmail},
			Endpoint:     endpoint,
		},
		verifier: verifier,
		now:      now,
		skew:     skew,
	}
}

// LoginURL generates the Google OAuth login URL with the given state
func (g *Google) LoginURL(state string) (string, error) {
	return g.cfg.AuthCodeURL(state), nil
}

// Exchange exchanges the authorization code for an OAuth user
func (g *Google) Exchange(ctx context.Context, code string) (oauth.User, error) {
	tok, err := g.cfg.Exchange(ctx, code)
	if err != nil {
		return oauth.User{}, err
	}

	raw, ok := tok.Extra("id_token").(string)
	if !ok || raw == "" {
		return oauth.User{}, fmt.Errorf("%w: %w", oauth.ErrAuthFailed, errMissingIDToken)
	}

	usr, err := g.Verify(ctx, raw)
	if err != nil {
		return oauth.User{}, fmt.Errorf("%w: %w", oauth.ErrAuthFailed, err)
	}

	return usr, nil
}

// Verify checks the signature, audience, issuer and lifetime of a Google ID token and returns its user.
func (g *Google) Verify(ctx context.Context, rawIDToken string) (oauth.User, error) {
	idTok, err := g.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return oauth.User{}, fmt.Errorf("verify id token: %w", err)
	}

	if !slices.Contains(googleIssuers, idTok.Issuer) {
		return oauth.User{}, fmt.Errorf("%w: %q", errWrongIssuer, idTok.Issuer)
	}

	if idTok.IssuedAt.After(g.now().Add(g.skew)) {
		return oauth.User{}, errIssuedInFuture
	}

	var usr userClaims
	if err := idTok.Claims(&usr); err != nil {
		return oauth.User{}, fmt.Errorf("read claims: %w", err)
	}

	return oauth.User{
		ID:            idTok.Subject,
		Email:         usr.Email,
		EmailVerified: bool(usr.Verified),
		Name:          usr.Name,
		GivenName:     usr.GivenName,
		FamilyName:    usr.FamilyName,
		Picture:       usr.Picture,
	}, nil
}
