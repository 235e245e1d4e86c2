package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"concert-tickets/internal/status"
	"concert-tickets/models"
)

// MemoryOrderLedger mirrors the durable ledger semantics in process: the
// cancel transition is a check-and-set under the record's own lock.
type MemoryOrderLedger struct {
	mu     sync.RWMutex
	orders map[string]*orderRecord
}

type orderRecord struct {
	mu    sync.Mutex
	order models.Order
}

func NewMemoryOrderLedger() *MemoryOrderLedger {
	return &MemoryOrderLedger{orders: make(map[string]*orderRecord)}
}

func (l *MemoryOrderLedger) CreateOrder(ctx context.Context, order models.Order) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.orders[order.ID] = &orderRecord{order: order}
	return nil
}

func (l *MemoryOrderLedger) MarkCancelled(ctx context.Context, orderID string) (models.Order, error) {
	l.mu.RLock()
	rec, ok := l.orders[orderID]
	l.mu.RUnlock()
	if !ok {
		return models.Order{}, status.ErrOrderNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.order.Status == models.OrderStatusCancelled {
		return models.Order{}, status.ErrAlreadyCancelled
	}

	now := time.Now().UTC()
	rec.order.Status = models.OrderStatusCancelled
	rec.order.CancelledAt = &now
	return rec.order, nil
}

func (l *MemoryOrderLedger) FindByID(ctx context.Context, orderID string) (models.Order, error) {
	l.mu.RLock()
	rec, ok := l.orders[orderID]
	l.mu.RUnlock()
	if !ok {
		return models.Order{}, status.ErrOrderNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.order, nil
}

func (l *MemoryOrderLedger) ActiveReservedByConcert(ctx context.Context) (map[string]int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	reserved := make(map[string]int64)
	for _, rec := range l.orders {
		rec.mu.Lock()
		if rec.order.IsActive() {
			reserved[rec.order.ConcertID] += rec.order.Quantity
		}
		rec.mu.Unlock()
	}
	return reserved, nil
}

func (l *MemoryOrderLedger) ListByUser(ctx context.Context, userID string, limit int) ([]models.Order, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	orders := make([]models.Order, 0)
	for _, rec := range l.orders {
		rec.mu.Lock()
		if rec.order.UserID == userID {
			orders = append(orders, rec.order)
		}
		rec.mu.Unlock()
	}

	sort.Slice(orders, func(i, j int) bool {
		return orders[i].PurchasedAt.After(orders[j].PurchasedAt)
	})
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}
