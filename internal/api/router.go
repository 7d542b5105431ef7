package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	mw "github.com/kiranshivaraju/clipforge/internal/api/middleware"
	"github.com/kiranshivaraju/clipforge/internal/api/response"
	"github.com/kiranshivaraju/clipforge/pkg/models"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc

	UploadURLHandler      http.HandlerFunc
	UploadCompleteHandler http.HandlerFunc
	ListJobsHandler       http.HandlerFunc
	GetJobHandler         http.HandlerFunc
	DownloadURLHandler    http.HandlerFunc
	RerunJobHandler       http.HandlerFunc
	DeleteJobHandler      http.HandlerFunc
	ListAllJobsHandler    http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Route("/api/v1/jobs", func(r chi.Router) {
			r.Post("/upload-url", orNotImplemented(deps.UploadURLHandler))
			r.Post("/upload-complete", orNotImplemented(deps.UploadCompleteHandler))
			r.Get("/", orNotImplemented(deps.ListJobsHandler))

			r.Get("/{jobID}", orNotImplemented(deps.GetJobHandler))
			r.Put("/{jobID}", orNotImplemented(deps.RerunJobHandler))
			r.Delete("/{jobID}", orNotImplemented(deps.DeleteJobHandler))
			r.Post("/{jobID}/download-url", orNotImplemented(deps.DownloadURLHandler))
		})

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(models.ScopeAdmin))

			r.Get("/api/v1/admin/jobs", orNotImplemented(deps.ListAllJobsHandler))
		})
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
