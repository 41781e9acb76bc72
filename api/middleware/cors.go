package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// an empty AllowedOrigins list means "*" to go-chi/cors, so fall back to
// the local web client instead
var fallbackCORSOrigins = []string{"http://localhost:3000"}

// CORS admits the marketplace web client and the staff console.
func CORS(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = fallbackCORSOrigins
	}
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", idempotencyHeader, requestIDHeader},
		ExposedHeaders:   []string{requestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler
}
