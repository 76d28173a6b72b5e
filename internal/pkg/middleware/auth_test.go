package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gamma-omg/icy-auth/internal/pkg/router"
	"github.com/stretchr/testify/assert"
)

type mockValidator struct {
	validateFunc func(token string) (string, error)
}

func (m *mockValidator) Validate(token string) (string, error) {
	return m.validateFunc(token)
}

func newProtectedRouter(v TokenValidator) *router.Router {
	r := router.New()
	r.Use(Auth(v))

	r.HandleFunc("/protected", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, SubjectFromContext(r.Context()))
	})
	return r
}

func TestAuth_WithoutToken(t *testing.T) {
	slog.SetDefault(slog.New(slog.DiscardHandler))

	r := newProtectedRouter(&mockValidator{
		validateFunc: func(token string) (string, error) {
			t.Fatal("validator must not be called without a token")
			return "", nil
		},
	})

	req := httptest.NewRequest("GET", "/protected", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
}

func TestAuth_WrongScheme(t *testing.T) {
	slog.SetDefault(slog.New(slog.DiscardHandler))

	r := newProtectedRouter(&mockValidator{
		validateFunc: func(token string) (string, error) {
			return "a@x.com", nil
		},
	})

	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuth_InvalidToken(t *testing.T) {
	slog.SetDefault(slog.New(slog.DiscardHandler))

	r := newProtectedRouter(&mockValidator{
		validateFunc: func(token string) (string, error) {
			return "", errors.New("invalid token")
		},
	})

	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer invalid-token")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"detail":"could not validate credentials"}`, rec.Body.String())
}

func TestAuth_ValidToken(t *testing.T) {
	var got string
	r := newProtectedRouter(&mockValidator{
		validateFunc: func(token string) (string, error) {
			got = token
			return "a@x.com", nil
		},
	})

	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "bearer signed-token")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "signed-token", got)
	assert.Equal(t, "a@x.com\n", rec.Body.String())
}
