package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gamma-omg/icy-auth/internal/pkg/router"
	"github.com/google/uuid"
)

const RequestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// statusRecorder remembers the status code written through it. A body written without an explicit status
// counts as 200.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(status int) {
	if sr.status == 0 {
		sr.status = status
	}
	sr.ResponseWriter.WriteHeader(status)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	return sr.ResponseWriter.Write(b)
}

func Log() router.Middleware {
	return LogWith(slog.Default())
}

// LogWith logs one line per request at a level picked from the response status. Each request gets an id,
// taken from the X-Request-ID header when the caller sent one, and echoed back in the response.
func LogWith(l *slog.Logger) router.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, id)

			rec := &statusRecorder{ResponseWriter: w}
			start := time.Now()

			next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
			if rec.status == 0 {
				rec.status = http.StatusOK
			}

			l.Log(r.Context(), levelFor(rec.status), "request handled",
				"request_id", id,
				"method", r.Method,
				"url", r.URL.Path,
				"ip", r.RemoteAddr,
				"status", rec.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"agent", r.UserAgent())
		})
	}
}

// RequestIDFromContext returns the id assigned by LogWith, or an empty string.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func levelFor(status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
