// Package store holds an in-memory implementation of every repository
// interface, used for local runs and service tests.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fjod/petmarket/internal/domain"
	"github.com/fjod/petmarket/internal/repository"
	"github.com/google/uuid"
)

const (
	// CleanupInterval is how often processed outbox events are pruned
	CleanupInterval = 30 * time.Second

	// ProcessedEventRetention is how long a processed event is kept
	ProcessedEventRetention = 10 * time.Minute
)

type outboxRecord struct {
	event       repository.OutboxEvent
	processedAt *time.Time
}

// MemoryStore guards all state with one mutex, so every method is a transaction.
type MemoryStore struct {
	mu        sync.RWMutex
	products  map[int64]*domain.Product
	delivery  map[int64]*domain.DeliveryMethod
	coupons   map[string]*domain.Coupon // normalized code -> coupon
	carts     map[string]*domain.Cart   // userID -> cart
	orders    map[uuid.UUID]*domain.Order
	outbox    []*outboxRecord
	nextEvent int64

	stopCleanup chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup
}

var (
	_ repository.CatalogRepository = (*MemoryStore)(nil)
	_ repository.CartRepository    = (*MemoryStore)(nil)
	_ repository.OrderRepository   = (*MemoryStore)(nil)
	_ repository.OutboxRepository  = (*MemoryStore)(nil)
)

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		products:    make(map[int64]*domain.Product),
		delivery:    make(map[int64]*domain.DeliveryMethod),
		coupons:     make(map[string]*domain.Coupon),
		carts:       make(map[string]*domain.Cart),
		orders:      make(map[uuid.UUID]*domain.Order),
		stopCleanup: make(chan struct{}),
	}

	s.wg.Add(1)
	go s.cleanupLoop()

	return s
}

func (s *MemoryStore) cleanupLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.pruneProcessedEvents(time.Now())
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *MemoryStore) pruneProcessedEvents(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.outbox[:0]
	for _, rec := range s.outbox {
		if rec.processedAt != nil && now.Sub(*rec.processedAt) > ProcessedEventRetention {
			continue
		}
		kept = append(kept, rec)
	}
	s.outbox = kept
}

// Close stops the background cleanup and waits for it to finish
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() { close(s.stopCleanup) })
	s.wg.Wait()
	return nil
}

// SetProduct creates or replaces a catalog product.
func (s *MemoryStore) SetProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = &p
}

func (s *MemoryStore) SetDeliveryMethod(m domain.DeliveryMethod) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivery[m.ID] = &m
}

func (s *MemoryStore) SetCoupon(c domain.Coupon) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.Code = domain.NormalizeCouponCode(c.Code)
	s.coupons[c.Code] = &c
}

// Stock returns the current stock for a product, or -1 when it does not exist.
func (s *MemoryStore) Stock(productID int64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.products[productID]; ok {
		return p.Stock
	}
	return -1
}

func (s *MemoryStore) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) AdjustStock(_ context.Context, id int64, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adjustStockLocked(id, delta)
}

func (s *MemoryStore) adjustStockLocked(id int64, delta int) error {
	p, ok := s.products[id]
	if !ok {
		return domain.ErrProductNotFound
	}
	p.Stock += delta
	if p.Stock < 0 {
		p.Stock = 0
	}
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) GetDeliveryMethod(_ context.Context, id int64) (*domain.DeliveryMethod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.delivery[id]
	if !ok {
		return nil, domain.ErrDeliveryMethodNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) FindActiveCouponByCode(_ context.Context, code string) (*domain.Coupon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.coupons[domain.NormalizeCouponCode(code)]
	if !ok || !c.Active {
		return nil, domain.ErrCouponNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) GetCart(_ context.Context, userID string) (*domain.Cart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.carts[userID]
	if !ok {
		return nil, domain.ErrCartNotFound
	}
	return cloneCart(c), nil
}

func (s *MemoryStore) SaveCart(_ context.Context, cart *domain.Cart) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.carts[cart.UserID]
	switch {
	case cart.Version == 0 && ok:
		return repository.ErrCartVersionConflict
	case cart.Version != 0 && (!ok || existing.Version != cart.Version):
		return repository.ErrCartVersionConflict
	}

	now := time.Now().UTC()
	if cart.CreatedAt.IsZero() {
		cart.CreatedAt = now
	}
	if cart.UpdatedAt.IsZero() {
		cart.UpdatedAt = now
	}
	if cart.ID == "" {
		cart.ID = uuid.NewString()
	}
	cart.Version++
	s.carts[cart.UserID] = cloneCart(cart)
	return nil
}

func (s *MemoryStore) CreateOrder(_ context.Context, order *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if order.PaymentIntentID != "" {
		for _, o := range s.orders {
			if o.PaymentIntentID == order.PaymentIntentID {
				return repository.ErrDuplicateIntent
			}
		}
	}

	// First pass: validate every item can be reserved
	required := make(map[int64]int)
	for _, item := range order.Items {
		required[item.ProductID] += item.Quantity
	}
	for _, item := range order.Items {
		p, ok := s.products[item.ProductID]
		if !ok || !p.Active {
			return &domain.ProductUnavailableError{ProductID: item.ProductID}
		}
		if p.Stock < required[item.ProductID] {
			return &domain.InsufficientStockError{ProductID: item.ProductID, Requested: item.Quantity, Available: p.Stock}
		}
	}

	// Second pass: reserve
	for _, item := range order.Items {
		s.products[item.ProductID].Stock -= item.Quantity
	}

	s.orders[order.ID] = cloneOrder(order)
	s.appendEventLocked(domain.EventOrderCreated, domain.NewOrderEvent(order, ""))
	return nil
}

func (s *MemoryStore) GetOrderByID(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (s *MemoryStore) GetOrderByPaymentIntent(_ context.Context, intentID string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, o := range s.orders {
		if intentID != "" && o.PaymentIntentID == intentID {
			return cloneOrder(o), nil
		}
	}
	return nil, domain.ErrOrderNotFound
}

func (s *MemoryStore) ListOrdersByUserID(_ context.Context, userID string) ([]*domain.Order, error) {
	return s.filterOrders(func(o *domain.Order) bool { return o.BuyerID == userID }, false), nil
}

func (s *MemoryStore) ListOrders(_ context.Context, status domain.OrderStatus) ([]*domain.Order, error) {
	return s.filterOrders(func(o *domain.Order) bool { return status == "" || o.Status == status }, false), nil
}

func (s *MemoryStore) ListExpiredOrders(_ context.Context, before time.Time) ([]*domain.Order, error) {
	return s.filterOrders(func(o *domain.Order) bool {
		return o.Status == domain.OrderStatusPendingPayment && o.CreatedAt.Before(before)
	}, true), nil
}

func (s *MemoryStore) filterOrders(keep func(o *domain.Order) bool, oldestFirst bool) []*domain.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Order
	for _, o := range s.orders {
		if keep(o) {
			result = append(result, cloneOrder(o))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if oldestFirst {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result
}

func (s *MemoryStore) TransitionOrder(_ context.Context, id uuid.UUID, to domain.OrderStatus) (*domain.Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, false, domain.ErrOrderNotFound
	}
	if o.Status == to {
		return cloneOrder(o), false, nil
	}
	if !domain.CanTransitionTo(o.Status, to) {
		return cloneOrder(o), false, fmt.Errorf("%w: %s -> %s", domain.ErrIllegalTransition, o.Status, to)
	}

	if to == domain.OrderStatusCancelled {
		s.restoreStockLocked(o.Items)
	}
	from := o.Status
	o.Status = to
	o.UpdatedAt = time.Now().UTC()
	s.appendEventLocked(domain.EventOrderStatusChanged, domain.NewOrderEvent(o, from))
	return cloneOrder(o), true, nil
}

func (s *MemoryStore) DeleteOrder(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	s.removeOrderLocked(o, domain.EventOrderDeleted)
	return cloneOrder(o), nil
}

func (s *MemoryStore) ExpireOrder(_ context.Context, id uuid.UUID, before time.Time) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	if o.Status != domain.OrderStatusPendingPayment || !o.CreatedAt.Before(before) {
		return nil, repository.ErrOrderNotExpirable
	}
	s.removeOrderLocked(o, domain.EventOrderExpired)
	return cloneOrder(o), nil
}

func (s *MemoryStore) removeOrderLocked(o *domain.Order, eventType string) {
	if o.Status != domain.OrderStatusCancelled {
		s.restoreStockLocked(o.Items)
	}
	delete(s.orders, o.ID)
	s.appendEventLocked(eventType, domain.NewOrderEvent(o, o.Status))
}

func (s *MemoryStore) restoreStockLocked(items []domain.OrderItem) {
	for _, item := range items {
		// products removed from the catalog are skipped
		_ = s.adjustStockLocked(item.ProductID, item.Quantity)
	}
}

func (s *MemoryStore) appendEventLocked(eventType string, event domain.OrderEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	s.nextEvent++
	s.outbox = append(s.outbox, &outboxRecord{event: repository.OutboxEvent{
		ID:          s.nextEvent,
		AggregateID: event.AggregateID(),
		EventType:   eventType,
		Payload:     payload,
		CreatedAt:   time.Now().UTC(),
	}})
}

func (s *MemoryStore) GetUnprocessedEvents(_ context.Context, limit int) ([]*repository.OutboxEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []*repository.OutboxEvent
	for _, rec := range s.outbox {
		if rec.processedAt != nil {
			continue
		}
		e := rec.event
		events = append(events, &e)
		if len(events) == limit {
			break
		}
	}
	return events, nil
}

func (s *MemoryStore) MarkEventAsProcessed(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for _, rec := range s.outbox {
		if rec.event.ID == id {
			rec.processedAt = &now
			return nil
		}
	}
	return nil
}

// EventTypes lists the type of every stored outbox event in insertion order.
func (s *MemoryStore) EventTypes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	types := make([]string, 0, len(s.outbox))
	for _, rec := range s.outbox {
		types = append(types, rec.event.EventType)
	}
	return types
}

func cloneCart(c *domain.Cart) *domain.Cart {
	cp := *c
	if c.Items != nil {
		cp.Items = append([]domain.CartItem(nil), c.Items...)
	}
	if c.DeliveryMethodID != nil {
		id := *c.DeliveryMethodID
		cp.DeliveryMethodID = &id
	}
	return &cp
}

func cloneOrder(o *domain.Order) *domain.Order {
	cp := *o
	cp.Items = append([]domain.OrderItem(nil), o.Items...)
	return &cp
}
