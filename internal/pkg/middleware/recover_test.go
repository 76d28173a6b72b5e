package middleware

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gamma-omg/icy-auth/internal/pkg/router"
	"github.com/stretchr/testify/assert"
)

func newPanicRouter(v any) *router.Router {
	r := router.New()
	r.Use(Recover())
	r.HandleFunc("GET /auth/google/callback", func(w http.ResponseWriter, r *http.Request) {
		if v != nil {
			panic(v)
		}
		w.WriteHeader(http.StatusFound)
	})
	return r
}

func TestRecover_Panic(t *testing.T) {
	slog.SetDefault(slog.New(slog.DiscardHandler))

	rec := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		newPanicRouter("provider exploded").ServeHTTP(rec, httptest.NewRequest("GET", "/auth/google/callback", nil))
	})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"detail":"Internal Server Error"}`, rec.Body.String())
}

func TestRecover_AbortHandler(t *testing.T) {
	req := httptest.NewRequest("GET", "/auth/google/callback", nil)
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		newPanicRouter(http.ErrAbortHandler).ServeHTTP(httptest.NewRecorder(), req)
	})
}

func TestRecover_NoPanic(t *testing.T) {
	rec := httptest.NewRecorder()
	newPanicRouter(nil).ServeHTTP(rec, httptest.NewRequest("GET", "/auth/google/callback", nil))

	assert.Equal(t, http.StatusFound, rec.Code)
}
