package testutil

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// RequestOption mutates a request built by SendRequest before it is served.
type RequestOption func(r *http.Request)

func WithBearer(token string) RequestOption {
	return func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	}
}

func WithHeader(key, val string) RequestOption {
	return func(r *http.Request) {
		r.Header.Set(key, val)
	}
}

func SendRequest(t testing.TB, h http.Handler, method, path string, body any, opts ...RequestOption) *httptest.ResponseRecorder {
	t.Helper()

	var bodyRW strings.Builder
	if body != nil {
		enc := json.NewEncoder(&bodyRW)
		err := enc.Encode(body)
		require.NoError(t, err)
	}

	req, err := http.NewRequest(method, path, strings.NewReader(bodyRW.String()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	for _, opt := range opts {
		opt(req)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	return rec
}

func ParseResponse[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	dec := json.NewDecoder(rec.Body)
	var resp T
	err := dec.Decode(&resp)
	require.NoError(t, err)

	return resp
}

func WaitFor(t testing.TB, ctx context.Context, interval time.Duration, condition func() bool) bool {
	t.Helper()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if condition() {
				return true
			}
		}
	}
}
