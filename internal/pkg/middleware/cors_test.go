package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gamma-omg/icy-auth/internal/pkg/router"
	"github.com/stretchr/testify/assert"
)

func newCORSRouter() *router.Router {
	r := router.New()
	r.Use(CORS("http://localhost:3000"))
	r.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r
}

func TestCORS_Preflight(t *testing.T) {
	req := httptest.NewRequest("OPTIONS", "/auth/login", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()

	newCORSRouter().ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORS_UnknownOrigin(t *testing.T) {
	req := httptest.NewRequest("GET", "/auth/login", nil)
	req.Header.Set("Origin", "http://evil.example.com")
	rec := httptest.NewRecorder()

	newCORSRouter().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
