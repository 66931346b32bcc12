package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/fjod/petmarket/internal/domain"
	"github.com/fjod/petmarket/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

type OrdersHandler struct {
	orders   *service.OrderService
	validate *validator.Validate
	timeout  time.Duration
}

func NewOrdersHandler(orders *service.OrderService, timeout time.Duration) *OrdersHandler {
	return &OrdersHandler{
		orders:   orders,
		validate: newValidator(),
		timeout:  timeout,
	}
}

type ShippingAddressDTO struct {
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"required,max=100"`
	Street    string `json:"street" validate:"required,max=200"`
	City      string `json:"city" validate:"required,max=100"`
	State     string `json:"state" validate:"max=100"`
	ZipCode   string `json:"zip_code" validate:"required,max=20"`
	Country   string `json:"country" validate:"required,max=100"`
}

type CreateOrderRequestDTO struct {
	BuyerEmail       string             `json:"buyer_email" validate:"required,email"`
	DeliveryMethodID int64              `json:"delivery_method_id" validate:"required,gt=0"`
	PaymentMethod    string             `json:"payment_method" validate:"required,oneof=ONLINE CASH_ON_DELIVERY"`
	ShippingAddress  ShippingAddressDTO `json:"shipping_address" validate:"required"`
}

type UpdateStatusRequestDTO struct {
	Status string `json:"status" validate:"required"`
}

// POST /api/v1/orders
func (h *OrdersHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := userIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	var req CreateOrderRequestDTO
	if !decodeJSON(w, r, h.validate, &req) {
		return
	}

	addr := req.ShippingAddress
	order, err := h.orders.CreateOrder(ctx, service.CreateOrderRequest{
		UserID:           userID,
		BuyerEmail:       strings.TrimSpace(req.BuyerEmail),
		DeliveryMethodID: req.DeliveryMethodID,
		PaymentMethod:    domain.PaymentMethod(req.PaymentMethod),
		ShippingAddress: domain.ShippingAddress{
			FirstName: addr.FirstName,
			LastName:  addr.LastName,
			Street:    addr.Street,
			City:      addr.City,
			State:     addr.State,
			ZipCode:   addr.ZipCode,
			Country:   addr.Country,
		},
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, toOrderDTO(order))
}

// GET /api/v1/orders
func (h *OrdersHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	orders, err := h.orders.ListUserOrders(ctx, userIDFromContext(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toOrderDTOs(orders))
}

// GET /api/v1/orders/{order_id}
func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(ctx, userIDFromContext(r.Context()), orderID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toOrderDTO(order))
}

// POST /api/v1/orders/{order_id}/cancel
func (h *OrdersHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	result, err := h.orders.CancelOrder(ctx, userIDFromContext(r.Context()), orderID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if !result.Cancelled {
		respondJSON(w, http.StatusConflict, result)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// GET /api/v1/admin/orders?status=
func (h *OrdersHandler) AdminListOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	orders, err := h.orders.ListOrders(ctx, r.URL.Query().Get("status"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toOrderDTOs(orders))
}

// GET /api/v1/admin/orders/{order_id}
func (h *OrdersHandler) AdminGetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	order, err := h.orders.AdminGetOrder(ctx, orderID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toOrderDTO(order))
}

// PUT /api/v1/admin/orders/{order_id}/status
func (h *OrdersHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	var req UpdateStatusRequestDTO
	if !decodeJSON(w, r, h.validate, &req) {
		return
	}

	order, err := h.orders.UpdateStatus(ctx, orderID, strings.ToUpper(strings.TrimSpace(req.Status)))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toOrderDTO(order))
}

// DELETE /api/v1/admin/orders/{order_id}
func (h *OrdersHandler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	if _, err := h.orders.DeleteOrder(ctx, orderID); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func orderIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "order_id")
	id, err := uuid.Parse(raw)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_order_id", "order_id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}
