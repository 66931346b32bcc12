package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/fjod/petmarket/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/lib/pq"
)

const orderColumns = `id, buyer_id, buyer_email, status, items, subtotal, discount, coupon_code,
	delivery_method_id, shipping_cost, shipping_address, payment_method, payment_intent_id,
	client_secret, created_at, updated_at`

func (r *Repository) CreateOrder(ctx context.Context, order *domain.Order) error {
	itemsJSON, err := json.Marshal(order.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal order items: %w", err)
	}
	addressJSON, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return fmt.Errorf("failed to marshal shipping address: %w", err)
	}

	// lock rows in a stable order to avoid deadlocks between concurrent checkouts
	items := make([]domain.OrderItem, len(order.Items))
	copy(items, order.Items)
	sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })

	return r.withTx(ctx, func(tx *sql.Tx) error {
		for _, item := range items {
			if err := reserveStock(ctx, tx, item.ProductID, item.Quantity); err != nil {
				return err
			}
		}

		query := `INSERT INTO orders (id, buyer_id, buyer_email, status, items, subtotal, discount,
		          coupon_code, delivery_method_id, shipping_cost, total, shipping_address, payment_method,
		          payment_intent_id, client_secret, created_at, updated_at)
		          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

		_, insertErr := tx.ExecContext(ctx, query,
			order.ID,
			order.BuyerID,
			order.BuyerEmail,
			order.Status,
			itemsJSON,
			order.Subtotal,
			order.Discount,
			nullString(order.CouponCode),
			order.DeliveryMethodID,
			order.ShippingCost,
			order.Total(),
			addressJSON,
			order.PaymentMethod,
			nullString(order.PaymentIntentID),
			nullString(order.ClientSecret),
			order.CreatedAt,
			order.UpdatedAt)
		if insertErr != nil {
			var pqErr *pq.Error
			if errors.As(insertErr, &pqErr) && pqErr.Code == pgerrcode.UniqueViolation {
				return ErrDuplicateIntent
			}
			return fmt.Errorf("insert order: %w", insertErr)
		}

		return insertOutboxEvent(ctx, tx, domain.EventOrderCreated, domain.NewOrderEvent(order, ""))
	})
}

func (r *Repository) GetOrderByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	return scanOrder(r.db.QueryRowContext(ctx, query, id))
}

func (r *Repository) GetOrderByPaymentIntent(ctx context.Context, intentID string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE payment_intent_id = $1`
	return scanOrder(r.db.QueryRowContext(ctx, query, intentID))
}

func (r *Repository) ListOrdersByUserID(ctx context.Context, userID string) ([]*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE buyer_id = $1 ORDER BY created_at DESC`
	return r.queryOrders(ctx, query, userID)
}

func (r *Repository) ListOrders(ctx context.Context, status domain.OrderStatus) ([]*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE ($1 = '' OR status = $1) ORDER BY created_at DESC`
	return r.queryOrders(ctx, query, string(status))
}

func (r *Repository) ListExpiredOrders(ctx context.Context, before time.Time) ([]*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE status = $1 AND created_at < $2 ORDER BY created_at`
	return r.queryOrders(ctx, query, domain.OrderStatusPendingPayment, before)
}

func (r *Repository) TransitionOrder(ctx context.Context, id uuid.UUID, to domain.OrderStatus) (*domain.Order, bool, error) {
	var order *domain.Order
	var changed bool

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		current, err := lockOrder(ctx, tx, id)
		if err != nil {
			return err
		}
		order = current
		if current.Status == to {
			return nil
		}
		if !domain.CanTransitionTo(current.Status, to) {
			return fmt.Errorf("%w: %s -> %s", domain.ErrIllegalTransition, current.Status, to)
		}

		if to == domain.OrderStatusCancelled {
			if err := restoreStock(ctx, tx, current.Items); err != nil {
				return err
			}
		}

		now := time.Now().UTC()
		_, err = tx.ExecContext(ctx, `UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3`, to, now, id)
		if err != nil {
			return fmt.Errorf("update order status: %w", err)
		}

		from := current.Status
		current.Status = to
		current.UpdatedAt = now
		changed = true
		return insertOutboxEvent(ctx, tx, domain.EventOrderStatusChanged, domain.NewOrderEvent(current, from))
	})
	if err != nil {
		return order, false, err
	}
	return order, changed, nil
}

func (r *Repository) DeleteOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	var order *domain.Order
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		current, err := lockOrder(ctx, tx, id)
		if err != nil {
			return err
		}
		order = current
		return removeOrder(ctx, tx, current, domain.EventOrderDeleted)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (r *Repository) ExpireOrder(ctx context.Context, id uuid.UUID, before time.Time) (*domain.Order, error) {
	var order *domain.Order
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		current, err := lockOrder(ctx, tx, id)
		if err != nil {
			return err
		}
		if current.Status != domain.OrderStatusPendingPayment || !current.CreatedAt.Before(before) {
			return ErrOrderNotExpirable
		}
		order = current
		return removeOrder(ctx, tx, current, domain.EventOrderExpired)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// removeOrder restores stock unless the order was already cancelled, which
// restored it at cancellation time.
func removeOrder(ctx context.Context, tx *sql.Tx, order *domain.Order, eventType string) error {
	if order.Status != domain.OrderStatusCancelled {
		if err := restoreStock(ctx, tx, order.Items); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, order.ID); err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	return insertOutboxEvent(ctx, tx, eventType, domain.NewOrderEvent(order, order.Status))
}

func lockOrder(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`
	return scanOrder(tx.QueryRowContext(ctx, query, id))
}

func (r *Repository) queryOrders(ctx context.Context, query string, args ...any) ([]*domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return orders, nil
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var order domain.Order
	var itemsJSON, addressJSON []byte
	var couponCode, intentID, clientSecret sql.NullString

	err := row.Scan(
		&order.ID,
		&order.BuyerID,
		&order.BuyerEmail,
		&order.Status,
		&itemsJSON,
		&order.Subtotal,
		&order.Discount,
		&couponCode,
		&order.DeliveryMethodID,
		&order.ShippingCost,
		&addressJSON,
		&order.PaymentMethod,
		&intentID,
		&clientSecret,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan order row: %w", err)
	}

	if err := json.Unmarshal(itemsJSON, &order.Items); err != nil {
		return nil, fmt.Errorf("unmarshal order items: %w", err)
	}
	if err := json.Unmarshal(addressJSON, &order.ShippingAddress); err != nil {
		return nil, fmt.Errorf("unmarshal shipping address: %w", err)
	}
	order.CouponCode = couponCode.String
	order.PaymentIntentID = intentID.String
	order.ClientSecret = clientSecret.String
	return &order, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
