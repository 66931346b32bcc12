package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentMethodOnline         PaymentMethod = "ONLINE"
	PaymentMethodCashOnDelivery PaymentMethod = "CASH_ON_DELIVERY"
)

func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodOnline || m == PaymentMethodCashOnDelivery
}

// ShippingAddress is embedded in the order and never changes after checkout.
type ShippingAddress struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Street    string `json:"street"`
	City      string `json:"city"`
	State     string `json:"state"`
	ZipCode   string `json:"zip_code"`
	Country   string `json:"country"`
}

type OrderItem struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    int             `json:"quantity"`
}

func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Order struct {
	ID               uuid.UUID
	BuyerID          string
	BuyerEmail       string
	Status           OrderStatus
	Items            []OrderItem
	Subtotal         decimal.Decimal
	Discount         decimal.Decimal
	CouponCode       string
	DeliveryMethodID int64
	ShippingCost     decimal.Decimal
	ShippingAddress  ShippingAddress
	PaymentMethod    PaymentMethod
	PaymentIntentID  string
	ClientSecret     string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Total is subtotal - discount + delivery cost.
func (o *Order) Total() decimal.Decimal {
	return o.Subtotal.Sub(o.Discount).Add(o.ShippingCost)
}

func (o *Order) IsOwnedBy(userID string) bool {
	return o.BuyerID == userID
}
