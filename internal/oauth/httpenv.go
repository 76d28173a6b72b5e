package oauth

import (
	"fmt"
	"net/http"
	"time"
)

const stateTTL = 10 * time.Minute

// HTTPEnv implements the Env interface using HTTP cookies. Values are single use: Load expires the cookie.
type HTTPEnv struct {
	scope  string
	secure bool
	w      http.ResponseWriter
	r      *http.Request
}

// NewHTTPEnv creates a new HTTPEnv instance
func NewHTTPEnv(scope string, w http.ResponseWriter, r *http.Request) *HTTPEnv {
	return &HTTPEnv{
		scope:  scope,
		secure: r.TLS != nil,
		w:      w,
		r:      r,
	}
}

func (e *HTTPEnv) Save(key, val string) error {
	http.SetCookie(e.w, e.cookie(key, val, int(stateTTL.Seconds())))
	return nil
}

func (e *HTTPEnv) Load(key string) (string, error) {
	c, err := e.r.Cookie(e.name(key))
	if err != nil {
		return "", err
	}

	http.SetCookie(e.w, e.cookie(key, "", -1))
	return c.Value, nil
}

func (e *HTTPEnv) name(key string) string {
	return fmt.Sprintf("%s-%s", e.scope, key)
}

func (e *HTTPEnv) cookie(key, val string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     e.name(key),
		Value:    val,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   e.secure,
		SameSite: http.SameSiteLaxMode,
	}
}
