package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/application"
)

type Options struct {
	Metrics        RequestObserver
	MetricsHandler http.Handler
	// Ready reports whether the backing stores are reachable.
	Ready     func(ctx context.Context) error
	RateLimit RateLimitConfig
	// AllowedOrigins enables CORS when non-empty.
	AllowedOrigins []string
}

// Handler is the HTTP adapter entrypoint for identity use-cases.
type Handler struct {
	service        *application.Service
	metrics        RequestObserver
	metricsHandler http.Handler
	ready          func(ctx context.Context) error
	limiter        *ipRateLimiter
	allowedOrigins []string
}

func NewHandler(service *application.Service, opts Options) *Handler {
	return &Handler{
		service:        service,
		metrics:        opts.Metrics,
		metricsHandler: opts.MetricsHandler,
		ready:          opts.Ready,
		limiter:        newIPRateLimiter(opts.RateLimit),
		allowedOrigins: opts.AllowedOrigins,
	}
}

// NewRouter registers the identity routes and middleware stack.
func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware)
	r.Use(loggingMiddleware)
	r.Use(metricsMiddleware(handler.metrics))
	if len(handler.allowedOrigins) > 0 {
		r.Use(corsMiddleware(handler.allowedOrigins))
	}

	r.Get("/healthz", handler.healthz)
	r.Get("/readyz", handler.readyz)
	if handler.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", handler.metricsHandler)
	}

	r.Route("/identity/v1", func(r chi.Router) {
		r.With(handler.rateLimitMiddleware("issue_nonce")).Post("/wallet/nonce", handler.issueNonce)
		r.Get("/wallet/challenge", handler.prepareChallenge)
		r.Post("/wallet/challenge", handler.prepareChallenge)
		r.With(handler.rateLimitMiddleware("wallet_verify")).Post("/wallet/verify", handler.walletVerify)

		r.With(handler.rateLimitMiddleware("password_sign_up")).Post("/password/signup", handler.passwordSignUp)
		r.With(handler.rateLimitMiddleware("password_sign_in")).Post("/password/login", handler.passwordSignIn)
		r.With(handler.rateLimitMiddleware("password_reset_request")).Post("/password/reset-request", handler.passwordResetRequest)
		r.With(handler.rateLimitMiddleware("password_reset")).Post("/password/reset", handler.passwordReset)

		r.Get("/oauth/providers", handler.oauthProviders)
		r.Get("/oauth/{provider}/authorize", handler.oauthAuthorize)
		r.Get("/oauth/{provider}/callback", handler.oauthCallback)

		r.Post("/session/refresh", handler.sessionRefresh)
		r.Group(func(r chi.Router) {
			r.Use(handler.authMiddleware)
			r.Get("/session", handler.session)
			r.Post("/wallet/link", handler.walletLink)
			r.Post("/wallet/unlink", handler.walletUnlink)
			r.Post("/password/link", handler.passwordLink)
			r.Post("/password/unlink", handler.passwordUnlink)
			r.Post("/password/change", handler.passwordChange)
			r.Post("/oauth/unlink", handler.oauthUnlink)
			r.Get("/identities", handler.identities)
			r.Get("/profile", handler.profile)
		})
	})

	return r
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeMessage(w, http.StatusOK, "ok")
}

func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(r.Context()); err != nil {
			logHTTPOperationError(r.Context(), "readyz", http.StatusServiceUnavailable, "NOT_READY", "dependencies unavailable", err)
			writeError(w, http.StatusServiceUnavailable, "NOT_READY", "dependencies unavailable")
			return
		}
	}
	writeMessage(w, http.StatusOK, "ready")
}
