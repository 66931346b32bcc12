package domain

type OrderStatus string

const (
	OrderStatusPending        OrderStatus = "PENDING"
	OrderStatusPendingPayment OrderStatus = "PENDING_PAYMENT"
	OrderStatusProcessing     OrderStatus = "PROCESSING"
	OrderStatusCancelled      OrderStatus = "CANCELLED"
)

var allowedTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:        {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusPendingPayment: {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing:     {},
	OrderStatusCancelled:      {},
}

func ParseOrderStatus(s string) (OrderStatus, error) {
	status := OrderStatus(s)
	if _, ok := allowedTransitions[status]; !ok {
		return "", ErrInvalidOrderStatus
	}
	return status, nil
}

func CanTransitionTo(from, to OrderStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusProcessing || s == OrderStatusCancelled
}

// IsCancellable reports whether the buyer may still cancel.
func (s OrderStatus) IsCancellable() bool {
	return s == OrderStatusPending || s == OrderStatusPendingPayment
}

// String representation (for logging)
func (s OrderStatus) String() string {
	return string(s)
}
