package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fjod/petmarket/internal/domain"
)

func (r *Repository) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	query := `SELECT id, name, price, stock, active, created_at, updated_at
	          FROM products WHERE id = $1`

	var p domain.Product
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID,
		&p.Name,
		&p.Price,
		&p.Stock,
		&p.Active,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query product by id: %w", err)
	}
	return &p, nil
}

func (r *Repository) AdjustStock(ctx context.Context, id int64, delta int) error {
	return adjustStock(ctx, r.db, id, delta)
}

func (r *Repository) GetDeliveryMethod(ctx context.Context, id int64) (*domain.DeliveryMethod, error) {
	query := `SELECT id, name, cost, delivery_time FROM delivery_methods WHERE id = $1`

	var m domain.DeliveryMethod
	err := r.db.QueryRowContext(ctx, query, id).Scan(&m.ID, &m.Name, &m.Cost, &m.DeliveryTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrDeliveryMethodNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query delivery method by id: %w", err)
	}
	return &m, nil
}

func (r *Repository) FindActiveCouponByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	query := `SELECT id, code, rate, is_percentage, active, expires_at, min_order_amount
	          FROM coupons WHERE code = $1 AND active`

	var c domain.Coupon
	var expiresAt sql.NullTime
	err := r.db.QueryRowContext(ctx, query, domain.NormalizeCouponCode(code)).Scan(
		&c.ID,
		&c.Code,
		&c.Rate,
		&c.IsPercentage,
		&c.Active,
		&expiresAt,
		&c.MinOrderAmount,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrCouponNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query coupon by code: %w", err)
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		c.ExpiresAt = &t
	}
	return &c, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func adjustStock(ctx context.Context, db execer, id int64, delta int) error {
	query := `UPDATE products SET stock = GREATEST(stock + $1, 0), updated_at = NOW() WHERE id = $2`

	res, err := db.ExecContext(ctx, query, delta, id)
	if err != nil {
		return fmt.Errorf("adjust stock for product %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("adjust stock rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

// reserveStock decrements only when enough stock is left, so two transactions
// racing for the last unit cannot both succeed.
func reserveStock(ctx context.Context, db execer, productID int64, quantity int) error {
	query := `UPDATE products SET stock = stock - $1, updated_at = NOW()
	          WHERE id = $2 AND active AND stock >= $1`

	res, err := db.ExecContext(ctx, query, quantity, productID)
	if err != nil {
		return fmt.Errorf("reserve stock for product %d: %w", productID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reserve stock rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	var stock int
	var active bool
	err = db.QueryRowContext(ctx, `SELECT stock, active FROM products WHERE id = $1`, productID).Scan(&stock, &active)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !active) {
		return &domain.ProductUnavailableError{ProductID: productID}
	}
	if err != nil {
		return fmt.Errorf("read stock for product %d: %w", productID, err)
	}
	return &domain.InsufficientStockError{ProductID: productID, Requested: quantity, Available: stock}
}

// restoreStock returns every item quantity to the ledger. Products deleted from
// the catalog since checkout are skipped.
func restoreStock(ctx context.Context, db execer, items []domain.OrderItem) error {
	for _, item := range items {
		err := adjustStock(ctx, db, item.ProductID, item.Quantity)
		if errors.Is(err, domain.ErrProductNotFound) {
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}
