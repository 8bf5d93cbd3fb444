package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/upb/decision-audit/backend/app"
	"github.com/upb/decision-audit/backend/handlers"
	"github.com/upb/decision-audit/backend/internal/observability"
	"github.com/upb/decision-audit/backend/utils"
)

// ServiceName names the API in health responses and traces
const ServiceName = "decision-audit"

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	var health *handlers.HealthHandler
	if deps.DB != nil {
		health = handlers.NewHealthHandler(deps.DB.DB, ServiceName, deps.Config.Storage.ReportsBucket, deps.Logger)
	} else {
		health = handlers.NewHealthHandler(nil, ServiceName, deps.Config.Storage.ReportsBucket, deps.Logger)
	}
	decisions := handlers.NewDecisionHandler(deps.Ledger, deps.Artifacts, deps.Gate, deps.Config.DefaultTenant, deps.Logger)
	admin := handlers.NewAdminHandler(deps.Retention, deps.Ledger, deps.Logger)
	gate := deps.Gate

	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(observability.HTTPMiddleware(ServiceName))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Admin-Key"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoints
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)

	r.Route("/v1", func(r chi.Router) {
		// Tenant decision API
		r.Group(func(r chi.Router) {
			r.Use(gate.RequireAuth)
			r.Post("/decisions", decisions.HandleIngest)
			r.Post("/decisions/query", decisions.HandleQuery)
			r.Post("/decisions/export", decisions.HandleExport)
			r.Post("/decisions/bundle", decisions.HandleBundle)
			r.Post("/decisions/package", decisions.HandlePackage)
			r.Post("/decisions/verify", decisions.HandleVerify)
			r.Get("/decisions/{decision_id}", decisions.HandleGet)
			r.Get("/decisions/{decision_id}/report", decisions.HandleReport)
		})

		// Push-subscription callback
		r.With(gate.RequirePush).Post("/push/decisions", decisions.HandlePush)

		// Admin surface
		r.Route("/admin", func(r chi.Router) {
			r.Use(gate.RequireAdmin)
			r.Post("/retention-policies", admin.HandleUpsertPolicy)
			r.Get("/retention-policies", admin.HandleListPolicies)
			r.Post("/legal-holds", admin.HandleCreateHold)
			r.Get("/legal-holds", admin.HandleListHolds)
			r.Post("/legal-holds/release", admin.HandleReleaseHold)
			r.Post("/retention/enforce", admin.HandleEnforce)
			r.Post("/decisions/query", admin.HandleAdminQuery)
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteError(w, http.StatusNotFound, "not_found", "endpoint not found", nil)
	})

	return r
}
