package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	custommiddleware "github.com/mkotelnikov/shopwork-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса shopwork.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	if h.corsOrigin != "" {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{h.corsOrigin},
			AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			AllowCredentials: true,
		}))
	}

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api/user", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/orders", h.UploadOrder)
			r.Get("/orders", h.GetOrders)

			r.Get("/balance", h.GetBalance)
			r.Post("/balance/withdraw", h.Withdraw)

			r.Get("/transactions", h.GetTransactions)
		})
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Post("/points/adjust", h.AdminAdjust)
		r.Post("/points/refund", h.AdminRefund)
		r.Post("/points/expire", h.AdminExpirePoints)
	})

	r.Route("/api/workspace", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Post("/issues", h.CreateIssue)
		r.Get("/issues/{id}", h.GetIssue)
		r.Patch("/issues/{id}", h.UpdateIssue)
		r.Get("/issues/{id}/activities", h.GetIssueActivities)
		r.Get("/issues/{id}/subscribers", h.GetIssueSubscribers)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
