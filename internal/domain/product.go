package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID        int64
	Name      string
	Price     decimal.Decimal
	Stock     int
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type DeliveryMethod struct {
	ID           int64
	Name         string
	Cost         decimal.Decimal
	DeliveryTime string
}
