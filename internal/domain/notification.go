package domain

type Notification struct {
	UserID  string `json:"user_id"`
	Subject string `json:"subject"`
	Message string `json:"message"`
	OrderID string `json:"order_id,omitempty"`
}
