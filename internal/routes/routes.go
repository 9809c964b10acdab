package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/BradenHooton/panda-auth/internal/handlers"
	"github.com/BradenHooton/panda-auth/internal/middleware"
)

// Dependencies holds everything the route table needs
type Dependencies struct {
	AuthHandler  *handlers.AuthHandler
	OAuthHandler *handlers.OAuthHandler
	// RequireAuth is the bearer-or-cookie access token middleware
	RequireAuth func(http.Handler) http.Handler
	RateLimit   middleware.RateLimitConfig
	Health      http.HandlerFunc
	Metrics     http.Handler
}

// RegisterRoutes registers all application routes
func RegisterRoutes(router chi.Router, deps Dependencies) {
	router.Get("/health", deps.Health)
	if deps.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	router.Route("/api/v1/auth", func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(deps.RateLimit))

		// Public routes
		r.Post("/register", deps.AuthHandler.Register)
		r.Post("/login", deps.AuthHandler.Login)
		r.Post("/refresh", deps.AuthHandler.RefreshToken)
		r.Post("/verify-email", deps.AuthHandler.VerifyEmail)
		r.Post("/resend-verification", deps.AuthHandler.ResendVerification)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(deps.RequireAuth)
			r.Post("/logout", deps.AuthHandler.Logout)
			r.Get("/me", deps.AuthHandler.Me)
		})

		// OAuth; static routes above take precedence over {provider}
		r.Get("/{provider}", deps.OAuthHandler.Begin)
		r.Get("/{provider}/callback", deps.OAuthHandler.Callback)
	})
}
