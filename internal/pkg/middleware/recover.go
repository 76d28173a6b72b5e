package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/gamma-omg/icy-auth/internal/pkg/httpx"
	"github.com/gamma-omg/icy-auth/internal/pkg/router"
)

// Recover turns a handler panic into a 500 response. http.ErrAbortHandler is re-raised so the server can
// abort the connection.
func Recover() router.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				v := recover()
				if v == nil {
					return
				}

				if err, ok := v.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(v)
				}

				slog.Error("panic while handling request",
					"error", v,
					"request_id", RequestIDFromContext(r.Context()),
					"method", r.Method,
					"path", r.URL.Path,
					"stack_trace", string(debug.Stack()),
				)
				httpx.HandleErr(w, r, fmt.Errorf("panic: %v", v))
			}()

			next.ServeHTTP(w, r)
		})
	}
}
