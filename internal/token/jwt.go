package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrUnsupportedAlg = errors.New("unsupported signing algorithm")
	ErrEmptySecret    = errors.New("empty signing secret")
	ErrInvalidTTL     = errors.New("token ttl must be positive")
)

var supportedAlgorithms = map[string]*jwt.SigningMethodHMAC{
	jwt.SigningMethodHS256.Alg(): jwt.SigningMethodHS256,
	jwt.SigningMethodHS384.Alg(): jwt.SigningMethodHS384,
	jwt.SigningMethodHS512.Alg(): jwt.SigningMethodHS512,
}

// JwtIssuer signs and validates HMAC access tokens bound to a subject. Tokens are stateless: a token is valid
// as long as its signature matches and it has not expired.
type JwtIssuer struct {
	secret secretProvider
	method jwt.SigningMethod
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

type JwtConfig struct {
	Secret    secretProvider
	Algorithm string
	Issuer    string
	TTL       time.Duration
	Now       func() time.Time
}

func NewJWTIssuer(cfg JwtConfig) (*JwtIssuer, error) {
	if cfg.Secret == nil || len(cfg.Secret.Get()) == 0 {
		return nil, ErrEmptySecret
	}

	alg := cfg.Algorithm
	if alg == "" {
		alg = jwt.SigningMethodHS256.Alg()
	}
	method, ok := supportedAlgorithms[alg]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlg, cfg.Algorithm)
	}

	if cfg.TTL <= 0 {
		return nil, ErrInvalidTTL
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &JwtIssuer{
		secret: cfg.Secret,
		method: method,
		issuer: cfg.Issuer,
		ttl:    cfg.TTL,
		now:    now,
	}, nil
}

func (ti *JwtIssuer) TTL() time.Duration {
	return ti.ttl
}

// Issue signs a token for subject that expires after the configured TTL.
func (ti *JwtIssuer) Issue(subject string) (string, error) {
	return ti.IssueWithTTL(subject, ti.ttl)
}

func (ti *JwtIssuer) IssueWithTTL(subject string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", errors.New("empty token subject")
	}
	if ttl <= 0 {
		return "", ErrInvalidTTL
	}

	now := ti.now()
	tk, err := jwt.NewWithClaims(ti.method, jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    ti.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}).SignedString(ti.secret.Get())
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return tk, nil
}

// Validate checks the token signature, algorithm and expiry and returns its subject. No leeway is applied to
// the expiry. Every failure wraps ErrInvalidToken.
func (ti *JwtIssuer) Validate(raw string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{ti.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(ti.now),
	}
	if ti.issuer != "" {
		opts = append(opts, jwt.WithIssuer(ti.issuer))
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return ti.secret.Get(), nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return claims.Subject, nil
}
