package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gamma-omg/icy-auth/internal/pkg/serr"
)

// maxBodySize caps request bodies read by ReadJSON.
const maxBodySize = 1 << 20

// ErrorResponse is the body written for every failed request.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

func ReadJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodySize))
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}

	return nil
}

func WriteJSON(w http.ResponseWriter, status int, resp any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	return enc.Encode(resp)
}

func HandleErr(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	msg := "Internal Server Error"

	var se *serr.ServiceError
	if errors.As(err, &se) {
		status = se.StatusCode
		msg = se.Msg
	}

	attrs := []any{
		"error", err,
		"status", status,
		"method", r.Method,
		"url", r.URL.String(),
		"remote_addr", r.RemoteAddr,
	}
	if se != nil {
		for k, v := range se.Env {
			attrs = append(attrs, k, v)
		}
	}

	if status >= http.StatusInternalServerError {
		slog.Error("request error", attrs...)
	} else {
		slog.Warn("request rejected", attrs...)
	}

	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}

	if werr := WriteJSON(w, status, ErrorResponse{Detail: msg}); werr != nil {
		slog.Error("write error response", "error", werr)
	}
}
