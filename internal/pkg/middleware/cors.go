package middleware

import (
	"net/http"

	"github.com/gamma-omg/icy-auth/internal/pkg/router"
	"github.com/go-chi/cors"
)

// CORS allows credentialed cross-origin requests from the given origins.
func CORS(origins ...string) router.Middleware {
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}
