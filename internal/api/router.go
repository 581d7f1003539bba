package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	mw "github.com/kiranshivaraju/platewise/internal/api/middleware"
	"github.com/kiranshivaraju/platewise/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth           *mw.Auth
	RateLimit      *mw.RateLimit
	AllowedOrigins []string

	HealthHandler     http.HandlerFunc
	AnalyzeHandler    http.HandlerFunc
	UploadHandler     http.HandlerFunc
	ListMealsHandler  http.HandlerFunc
	GetMealHandler    http.HandlerFunc
	DeleteMealHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)
	if len(deps.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   deps.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	// Public health check
	r.Get("/api/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		// The browser's EventSource can only GET; other clients may POST.
		r.Get("/api/analyze", orNotImplemented(deps.AnalyzeHandler))
		r.Post("/api/analyze", orNotImplemented(deps.AnalyzeHandler))

		r.Post("/api/upload", orNotImplemented(deps.UploadHandler))

		r.Get("/api/meals", orNotImplemented(deps.ListMealsHandler))
		r.Delete("/api/meals", orNotImplemented(deps.DeleteMealHandler))
		r.Get("/api/meals/{mealID}", orNotImplemented(deps.GetMealHandler))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
