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
)

type CartHandler struct {
	carts    *service.CartService
	validate *validator.Validate
	timeout  time.Duration
}

func NewCartHandler(carts *service.CartService, timeout time.Duration) *CartHandler {
	return &CartHandler{
		carts:    carts,
		validate: newValidator(),
		timeout:  timeout,
	}
}

type AddItemRequestDTO struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Quantity  int   `json:"quantity" validate:"required,gt=0"`
}

type UpdateQuantityRequestDTO struct {
	Quantity int `json:"quantity" validate:"required,gt=0"`
}

type ApplyCouponRequestDTO struct {
	Code string `json:"code" validate:"required,max=64"`
}

type SetDeliveryMethodRequestDTO struct {
	DeliveryMethodID int64 `json:"delivery_method_id" validate:"required,gt=0"`
}

func (h *CartHandler) RegisterRoutes(r chi.Router) {
	r.Route("/cart", func(r chi.Router) {
		r.Get("/", h.GetCart)
		r.Delete("/", h.ClearCart)
		r.Post("/items", h.AddItem)
		r.Put("/items/{item_id}", h.UpdateQuantity)
		r.Delete("/items/{item_id}", h.RemoveItem)
		r.Post("/coupon", h.ApplyCoupon)
		r.Delete("/coupon", h.RemoveCoupon)
		r.Put("/delivery-method", h.SetDeliveryMethod)
	})
}

// GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, http.StatusOK, func(ctx context.Context, userID string) (*domain.Cart, error) {
		return h.carts.GetOrCreateCart(ctx, userID)
	})
}

// POST /api/v1/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequestDTO
	if !decodeJSON(w, r, h.validate, &req) {
		return
	}
	h.serve(w, r, http.StatusCreated, func(ctx context.Context, userID string) (*domain.Cart, error) {
		return h.carts.AddItem(ctx, userID, req.ProductID, req.Quantity)
	})
}

// PUT /api/v1/cart/items/{item_id}
func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "item_id")
	var req UpdateQuantityRequestDTO
	if !decodeJSON(w, r, h.validate, &req) {
		return
	}
	h.serve(w, r, http.StatusOK, func(ctx context.Context, userID string) (*domain.Cart, error) {
		return h.carts.UpdateItem(ctx, userID, itemID, req.Quantity)
	})
}

// DELETE /api/v1/cart/items/{item_id}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "item_id")
	h.serve(w, r, http.StatusOK, func(ctx context.Context, userID string) (*domain.Cart, error) {
		return h.carts.RemoveItem(ctx, userID, itemID)
	})
}

// DELETE /api/v1/cart
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, http.StatusOK, func(ctx context.Context, userID string) (*domain.Cart, error) {
		return h.carts.ClearCart(ctx, userID)
	})
}

// POST /api/v1/cart/coupon
func (h *CartHandler) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	var req ApplyCouponRequestDTO
	if !decodeJSON(w, r, h.validate, &req) {
		return
	}
	code := strings.TrimSpace(req.Code)
	h.serve(w, r, http.StatusOK, func(ctx context.Context, userID string) (*domain.Cart, error) {
		return h.carts.ApplyCoupon(ctx, userID, code)
	})
}

// DELETE /api/v1/cart/coupon
func (h *CartHandler) RemoveCoupon(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, http.StatusOK, func(ctx context.Context, userID string) (*domain.Cart, error) {
		return h.carts.RemoveCoupon(ctx, userID)
	})
}

// PUT /api/v1/cart/delivery-method
func (h *CartHandler) SetDeliveryMethod(w http.ResponseWriter, r *http.Request) {
	var req SetDeliveryMethodRequestDTO
	if !decodeJSON(w, r, h.validate, &req) {
		return
	}
	h.serve(w, r, http.StatusOK, func(ctx context.Context, userID string) (*domain.Cart, error) {
		return h.carts.SetDeliveryMethod(ctx, userID, req.DeliveryMethodID)
	})
}

func (h *CartHandler) serve(w http.ResponseWriter, r *http.Request, status int, call func(ctx context.Context, userID string) (*domain.Cart, error)) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := userIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	cart, err := call(ctx, userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, status, toCartDTO(cart))
}
