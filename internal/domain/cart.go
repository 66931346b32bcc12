package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Cart struct {
	ID               string          `json:"id"`
	UserID           string          `json:"user_id"`
	Items            []CartItem      `json:"items"`
	CouponCode       string          `json:"coupon_code,omitempty"`
	Discount         decimal.Decimal `json:"discount"`
	DeliveryMethodID *int64          `json:"delivery_method_id,omitempty"`
	PaymentIntentID  string          `json:"payment_intent_id,omitempty"`
	ClientSecret     string          `json:"client_secret,omitempty"`
	Version          int64           `json:"version"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

type CartItem struct {
	ID          string          `json:"id"`
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	AddedAt     time.Time       `json:"added_at"`
}

func (i CartItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Subtotal uses the unit prices captured on the line items.
func (c *Cart) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range c.Items {
		total = total.Add(item.LineTotal())
	}
	return total
}

func (c *Cart) Total() decimal.Decimal {
	return c.Subtotal().Sub(c.Discount)
}

func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

func (c *Cart) FindItem(itemID string) (int, bool) {
	for i := range c.Items {
		if c.Items[i].ID == itemID {
			return i, true
		}
	}
	return -1, false
}

func (c *Cart) FindProduct(productID int64) (int, bool) {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return i, true
		}
	}
	return -1, false
}

func (c *Cart) ClearCoupon() {
	c.CouponCode = ""
	c.Discount = decimal.Zero
}

// ResetAfterCheckout empties the cart once an order has been created from it.
func (c *Cart) ResetAfterCheckout() {
	c.Items = nil
	c.ClearCoupon()
	c.DeliveryMethodID = nil
	c.PaymentIntentID = ""
	c.ClientSecret = ""
}
