package domain

import "github.com/google/uuid"

const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
	EventOrderDeleted       = "order.deleted"
	EventOrderExpired       = "order.expired"
)

// OrderEvent is the outbox payload published for every order state change.
type OrderEvent struct {
	OrderID uuid.UUID   `json:"order_id"`
	BuyerID string      `json:"buyer_id"`
	From    OrderStatus `json:"from,omitempty"`
	To      OrderStatus `json:"to,omitempty"`
	Total   string      `json:"total"`
}

func NewOrderEvent(o *Order, from OrderStatus) OrderEvent {
	return OrderEvent{
		OrderID: o.ID,
		BuyerID: o.BuyerID,
		From:    from,
		To:      o.Status,
		Total:   o.Total().StringFixed(2),
	}
}

func (e OrderEvent) AggregateID() string {
	return e.OrderID.String()
}
