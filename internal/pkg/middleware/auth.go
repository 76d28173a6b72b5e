package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gamma-omg/icy-auth/internal/pkg/httpx"
	"github.com/gamma-omg/icy-auth/internal/pkg/router"
	"github.com/gamma-omg/icy-auth/internal/pkg/serr"
)

var errMissingToken = errors.New("missing bearer token")

type ctxKey struct{}

var subjectKey ctxKey

// TokenValidator checks a bearer token and returns the subject it was issued for.
type TokenValidator interface {
	Validate(token string) (string, error)
}

// Auth rejects requests without a valid "Authorization: Bearer <token>" header and stores the token subject
// in the request context.
func Auth(tokens TokenValidator) router.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				unauthorized(w, r, errMissingToken)
				return
			}

			sub, err := tokens.Validate(raw)
			if err != nil {
				unauthorized(w, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), subjectKey, sub)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, tok, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}

	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}

func unauthorized(w http.ResponseWriter, r *http.Request, err error) {
	httpx.HandleErr(w, r, serr.NewServiceError(err, http.StatusUnauthorized, "could not validate credentials"))
}

// SubjectFromContext returns the token subject stored by Auth, or an empty string.
func SubjectFromContext(ctx context.Context) string {
	sub, _ := ctx.Value(subjectKey).(string)
	return sub
}
