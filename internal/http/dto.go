package http

import (
	"time"

	"github.com/fjod/petmarket/internal/domain"
	"github.com/fjod/petmarket/internal/service"
	"github.com/shopspring/decimal"
)

// Money leaves the API as a fixed two-decimal string.
func formatMoney(d decimal.Decimal) string {
	return d.StringFixed(2)
}

type CartItemDTO struct {
	ID          string `json:"id"`
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	LineTotal   string `json:"line_total"`
}

type CartResponseDTO struct {
	ID               string        `json:"id"`
	UserID           string        `json:"user_id"`
	Items            []CartItemDTO `json:"items"`
	CouponCode       string        `json:"coupon_code,omitempty"`
	Subtotal         string        `json:"subtotal"`
	Discount         string        `json:"discount"`
	Total            string        `json:"total"`
	DeliveryMethodID *int64        `json:"delivery_method_id,omitempty"`
	PaymentIntentID  string        `json:"payment_intent_id,omitempty"`
	ClientSecret     string        `json:"client_secret,omitempty"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

func toCartDTO(c *domain.Cart) CartResponseDTO {
	items := make([]CartItemDTO, 0, len(c.Items))
	for _, item := range c.Items {
		items = append(items, CartItemDTO{
			ID:          item.ID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   formatMoney(item.UnitPrice),
			LineTotal:   formatMoney(item.LineTotal()),
		})
	}
	return CartResponseDTO{
		ID:               c.ID,
		UserID:           c.UserID,
		Items:            items,
		CouponCode:       c.CouponCode,
		Subtotal:         formatMoney(c.Subtotal()),
		Discount:         formatMoney(c.Discount),
		Total:            formatMoney(c.Total()),
		DeliveryMethodID: c.DeliveryMethodID,
		PaymentIntentID:  c.PaymentIntentID,
		ClientSecret:     c.ClientSecret,
		UpdatedAt:        c.UpdatedAt,
	}
}

type OrderItemDTO struct {
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	LineTotal   string `json:"line_total"`
}

type OrderResponseDTO struct {
	ID               string                 `json:"id"`
	BuyerID          string                 `json:"buyer_id"`
	BuyerEmail       string                 `json:"buyer_email"`
	Status           string                 `json:"status"`
	Items            []OrderItemDTO         `json:"items"`
	Subtotal         string                 `json:"subtotal"`
	Discount         string                 `json:"discount"`
	CouponCode       string                 `json:"coupon_code,omitempty"`
	DeliveryMethodID int64                  `json:"delivery_method_id"`
	ShippingCost     string                 `json:"shipping_cost"`
	Total            string                 `json:"total"`
	ShippingAddress  domain.ShippingAddress `json:"shipping_address"`
	PaymentMethod    string                 `json:"payment_method"`
	PaymentIntentID  string                 `json:"payment_intent_id,omitempty"`
	ClientSecret     string                 `json:"client_secret,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

func toOrderDTO(o *domain.Order) OrderResponseDTO {
	items := make([]OrderItemDTO, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, OrderItemDTO{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   formatMoney(item.UnitPrice),
			LineTotal:   formatMoney(item.LineTotal()),
		})
	}
	return OrderResponseDTO{
		ID:               o.ID.String(),
		BuyerID:          o.BuyerID,
		BuyerEmail:       o.BuyerEmail,
		Status:           o.Status.String(),
		Items:            items,
		Subtotal:         formatMoney(o.Subtotal),
		Discount:         formatMoney(o.Discount),
		CouponCode:       o.CouponCode,
		DeliveryMethodID: o.DeliveryMethodID,
		ShippingCost:     formatMoney(o.ShippingCost),
		Total:            formatMoney(o.Total()),
		ShippingAddress:  o.ShippingAddress,
		PaymentMethod:    string(o.PaymentMethod),
		PaymentIntentID:  o.PaymentIntentID,
		ClientSecret:     o.ClientSecret,
		CreatedAt:        o.CreatedAt,
		UpdatedAt:        o.UpdatedAt,
	}
}

func toOrderDTOs(orders []*domain.Order) []OrderResponseDTO {
	dtos := make([]OrderResponseDTO, 0, len(orders))
	for _, o := range orders {
		dtos = append(dtos, toOrderDTO(o))
	}
	return dtos
}

type IntentResponseDTO struct {
	IntentID     string `json:"intent_id"`
	ClientSecret string `json:"client_secret"`
	Amount       string `json:"amount"`
}

func toIntentDTO(r *service.IntentResult) IntentResponseDTO {
	return IntentResponseDTO{
		IntentID:     r.IntentID,
		ClientSecret: r.ClientSecret,
		Amount:       formatMoney(r.Amount),
	}
}
