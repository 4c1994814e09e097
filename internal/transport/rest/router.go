package rest

import (
	"log/slog"
	"net/http"

	"github.com/frahmantamala/approval-workflow/internal/application"
	"github.com/frahmantamala/approval-workflow/internal/auth"
	"github.com/frahmantamala/approval-workflow/internal/transport/middleware"
	"github.com/frahmantamala/approval-workflow/internal/transport/swagger"
	"github.com/frahmantamala/approval-workflow/internal/user"
	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"
)

type Handlers struct {
	Auth        *auth.Handler
	RBAC        *auth.RBACAuthorization
	User        *user.Handler
	Application *application.Handler
	// OpenAPI is optional; nil disables request validation.
	OpenAPI *middleware.OpenAPIValidator
	Health  *HealthHandler
}

type Options struct {
	AllowedOrigins string
	SpecPath       string
}

func RegisterAllRoutes(router *chi.Mux, h Handlers, opts Options, logger *slog.Logger) {
	if h.Health == nil {
		h.Health = NewHealthHandler(nil)
	}
	if h.RBAC == nil {
		h.RBAC = auth.NewRBACAuthorization(logger)
	}
	specPath := opts.SpecPath
	if specPath == "" {
		specPath = "./api/openapi.yml"
	}

	// Apply global middleware
	router.Use(middleware.CORS(opts.AllowedOrigins))
	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.RequestID)
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(middleware.RecoveryMiddleware(logger))

	router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, specPath)
	})
	router.Handle("/swagger/*", swagger.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.Health.healthCheckHandler)
		r.Get("/ping", h.Health.pingHandler)

		if h.Auth == nil {
			return
		}

		// Protected routes that require authentication
		r.Group(func(pr chi.Router) {
			pr.Use(h.Auth.AuthMiddleware)
			if h.OpenAPI != nil {
				pr.Use(h.OpenAPI.Middleware)
			}

			if h.User != nil {
				pr.Get("/users/me", h.User.GetCurrentUser)
				pr.Get("/users/approvers", h.User.ListApprovers)
			}

			if h.Application == nil {
				return
			}

			pr.Route("/applications", func(ar chi.Router) {
				ar.Post("/", h.Application.CreateApplication)
				ar.Get("/", h.Application.ListApplications)
				ar.Get("/{id}", h.Application.GetApplication)
				ar.Put("/{id}", h.Application.UpdateApplication)
				ar.Delete("/{id}", h.Application.DeleteApplication)
				ar.Post("/{id}/submit", h.Application.SubmitApplication)
				ar.Post("/{id}/withdraw", h.Application.WithdrawApplication)
				ar.Post("/{id}/resubmit", h.Application.ResubmitApplication)
				ar.Get("/{id}/history", h.Application.GetApprovalHistory)
				ar.Get("/{id}/approvers", h.Application.GetCurrentApprovers)
			})

			// only approver roles have an approval inbox
			pr.Route("/approvals", func(ar chi.Router) {
				ar.Use(h.RBAC.RequireApprover())
				ar.Get("/pending", h.Application.ListPendingApprovals)
				ar.Post("/{level}/{id}", h.Application.ActOnApproval)
			})
		})
	})
}
