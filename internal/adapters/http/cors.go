package http

import (
	"net/http"

	"github.com/go-chi/cors"
)

// corsMiddleware lets browser wallets and web clients call the API. Session
// headers are exposed so clients can pick up refreshed tokens.
func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", headerSessionToken, headerSessionDegraded, "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}
