package store

import (
	"time"

	"github.com/fjod/petmarket/internal/domain"
	"github.com/shopspring/decimal"
)

// SeedDemoCatalog fills an empty store with a small catalog for local runs.
func SeedDemoCatalog(s *MemoryStore) {
	now := time.Now().UTC()
	products := []domain.Product{
		{ID: 1, Name: "Grain-free dog food 5kg", Price: decimal.RequireFromString("24.99"), Stock: 40},
		{ID: 2, Name: "Cat scratching post", Price: decimal.RequireFromString("39.50"), Stock: 12},
		{ID: 3, Name: "Aquarium starter kit", Price: decimal.RequireFromString("89.00"), Stock: 5},
		{ID: 4, Name: "Budgie cage", Price: decimal.RequireFromString("54.00"), Stock: 0},
	}
	for _, p := range products {
		p.Active = true
		p.CreatedAt = now
		p.UpdatedAt = now
		s.SetProduct(p)
	}

	s.SetDeliveryMethod(domain.DeliveryMethod{ID: 1, Name: "Standard", Cost: decimal.RequireFromString("5.00"), DeliveryTime: "3-5 days"})
	s.SetDeliveryMethod(domain.DeliveryMethod{ID: 2, Name: "Express", Cost: decimal.RequireFromString("12.00"), DeliveryTime: "1 day"})

	s.SetCoupon(domain.Coupon{ID: 1, Code: "PET10", Rate: decimal.NewFromInt(10), IsPercentage: true, Active: true, MinOrderAmount: decimal.NewFromInt(15)})
	s.SetCoupon(domain.Coupon{ID: 2, Code: "FIVEOFF", Rate: decimal.NewFromInt(5), Active: true})
}
