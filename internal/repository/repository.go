package repository

import (
	"context"
	"errors"
	"time"

	"github.com/fjod/petmarket/internal/domain"
	"github.com/google/uuid"
)

var (
	ErrCartVersionConflict = errors.New("cart was modified concurrently")
	ErrOrderNotExpirable   = errors.New("order is no longer pending payment past the cutoff")
	ErrDuplicateIntent     = errors.New("payment intent is already attached to an order")
)

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
}

// CatalogRepository is the read side of products, delivery methods and coupons
// plus the inventory ledger adjustment.
type CatalogRepository interface {
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)

	// AdjustStock adds delta to the product stock atomically, flooring at zero.
	AdjustStock(ctx context.Context, id int64, delta int) error

	GetDeliveryMethod(ctx context.Context, id int64) (*domain.DeliveryMethod, error)

	// FindActiveCouponByCode returns domain.ErrCouponNotFound for unknown or inactive codes.
	FindActiveCouponByCode(ctx context.Context, code string) (*domain.Coupon, error)
}

// CartRepository stores one cart per user.
// Consumers define this interface, not the MongoDB implementation
type CartRepository interface {
	GetCart(ctx context.Context, userID string) (*domain.Cart, error)

	// SaveCart inserts the cart when Version is zero and otherwise replaces it only if
	// the stored version still equals cart.Version. On success cart.Version is bumped.
	// Returns ErrCartVersionConflict when another writer got there first.
	SaveCart(ctx context.Context, cart *domain.Cart) error
}

type OrderRepository interface {
	// CreateOrder decrements stock for every item (only where stock >= quantity) and
	// inserts the order in a single transaction. On failure nothing is changed and the
	// error is a *domain.InsufficientStockError or *domain.ProductUnavailableError.
	CreateOrder(ctx context.Context, order *domain.Order) error

	GetOrderByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	GetOrderByPaymentIntent(ctx context.Context, intentID string) (*domain.Order, error)
	ListOrdersByUserID(ctx context.Context, userID string) ([]*domain.Order, error)

	// ListOrders returns every order, or only those in status when it is not empty.
	ListOrders(ctx context.Context, status domain.OrderStatus) ([]*domain.Order, error)

	// TransitionOrder moves the order to status `to` under a row lock. The returned
	// flag is false when the order was already in `to`. Entering Cancelled restores
	// stock in the same transaction.
	TransitionOrder(ctx context.Context, id uuid.UUID, to domain.OrderStatus) (*domain.Order, bool, error)

	// DeleteOrder restores stock for every item and removes the order.
	DeleteOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error)

	// ListExpiredOrders returns PendingPayment orders created before the cutoff.
	ListExpiredOrders(ctx context.Context, before time.Time) ([]*domain.Order, error)

	// ExpireOrder re-checks the order is still PendingPayment and older than the cutoff,
	// then restores its stock and deletes it as one unit.
	ExpireOrder(ctx context.Context, id uuid.UUID, before time.Time) (*domain.Order, error)
}

type OutboxEvent struct {
	ID          int64
	AggregateID string
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
}

type OutboxRepository interface {
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, id int64) error
}
