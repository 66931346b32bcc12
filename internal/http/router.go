package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Handlers struct {
	Cart     *CartHandler
	Payments *PaymentHandler
	Orders   *OrdersHandler
	Webhooks *WebhookHandler
}

// NewRouter builds the /api/v1 surface. The webhook route sits outside the
// identity check because the gateway signs its requests instead.
func NewRouter(h Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/payments/webhook", h.Webhooks.HandleStripe)

		r.Group(func(r chi.Router) {
			r.Use(Authenticate)

			h.Cart.RegisterRoutes(r)

			r.Post("/payments/intent", h.Payments.SyncIntent)
			r.Get("/payments/intent/{intent_id}/valid", h.Payments.ValidateIntent)

			r.Route("/orders", func(r chi.Router) {
				r.Post("/", h.Orders.CreateOrder)
				r.Get("/", h.Orders.ListOrders)
				r.Get("/{order_id}", h.Orders.GetOrder)
				r.Post("/{order_id}/cancel", h.Orders.CancelOrder)
			})

			r.Route("/admin/orders", func(r chi.Router) {
				r.Use(RequireRole(RoleAdmin))
				r.Get("/", h.Orders.AdminListOrders)
				r.Get("/{order_id}", h.Orders.AdminGetOrder)
				r.Put("/{order_id}/status", h.Orders.UpdateStatus)
				r.Delete("/{order_id}", h.Orders.DeleteOrder)
			})
		})
	})

	return otelhttp.NewHandler(r, "petmarket-http")
}
