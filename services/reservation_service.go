package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"concert-tickets/internal/status"
	"concert-tickets/models"
	"concert-tickets/monitoring"
	"concert-tickets/utils"

	pubnub "github.com/pubnub/go"
	"github.com/shopspring/decimal"
)

// ReservationService owns the order lifecycle. It is the only component that
// decides when to compensate or retry; the stores report facts and never
// business outcomes. Ordering is fixed: reserve before create, cancel before
// release.
type ReservationService struct {
	Inventory InventoryStore
	Ledger    OrderLedger
	Catalog   ConcertCatalog
	Releases  ReleaseQueue

	pubnub  *pubnub.PubNub
	monitor *monitoring.Monitor
	breaker *utils.CircuitBreaker
}

func NewReservationService(inventory InventoryStore, ledger OrderLedger, catalog ConcertCatalog, releases ReleaseQueue) *ReservationService {
	return &ReservationService{
		Inventory: inventory,
		Ledger:    ledger,
		Catalog:   catalog,
		Releases:  releases,
		breaker:   utils.NewCircuitBreaker("inventory"),
	}
}

// WithPubNub enables realtime order notifications on user channels.
func (s *ReservationService) WithPubNub(pn *pubnub.PubNub) *ReservationService {
	s.pubnub = pn
	return s
}

func (s *ReservationService) WithMonitor(monitor *monitoring.Monitor) *ReservationService {
	s.monitor = monitor
	return s
}

func (s *ReservationService) PurchaseTickets(ctx context.Context, userID, concertID string, quantity int64) (models.Order, error) {
	started := time.Now()
	defer s.trackDuration("purchase", started)

	if quantity <= 0 {
		s.trackOutcome("purchase", "invalid_quantity")
		return models.Order{}, status.ErrInvalidQuantity
	}

	concert, err := s.Catalog.GetConcert(ctx, concertID)
	if err != nil {
		if errors.Is(err, status.ErrConcertNotFound) {
			s.trackOutcome("purchase", "concert_not_found")
		} else {
			s.trackOutcome("purchase", "unavailable")
		}
		return models.Order{}, err
	}

	if err := s.reserve(ctx, concertID, quantity); err != nil {
		switch {
		case errors.Is(err, status.ErrInsufficientStock):
			s.trackOutcome("purchase", "insufficient_stock")
		case errors.Is(err, status.ErrConcertNotFound):
			s.trackOutcome("purchase", "concert_not_found")
		default:
			s.trackOutcome("purchase", "unavailable")
		}
		return models.Order{}, err
	}

	orderID, err := utils.GenerateOrderID()
	if err != nil {
		s.compensate(ctx, orderID, concertID, quantity)
		s.trackOutcome("purchase", "unavailable")
		return models.Order{}, fmt.Errorf("%w: %v", status.ErrStoreUnavailable, err)
	}

	order := models.Order{
		ID:          orderID,
		UserID:      userID,
		ConcertID:   concertID,
		Quantity:    quantity,
		UnitPrice:   concert.TicketPrice,
		TotalPrice:  concert.TicketPrice.Mul(decimal.NewFromInt(quantity)),
		PurchasedAt: time.Now().UTC(),
		Status:      models.OrderStatusActive,
	}

	if err := s.Ledger.CreateOrder(ctx, order); err != nil {
		// The reservation already landed; it must come back before the
		// failure is reported.
		s.compensate(ctx, orderID, concertID, quantity)
		s.trackOutcome("purchase", "ledger_failed")
		return models.Order{}, err
	}

	s.trackOutcome("purchase", "success")
	s.notify(order.UserID, map[string]interface{}{
		"type":       "order_confirmed",
		"order_id":   order.ID,
		"concert_id": order.ConcertID,
		"quantity":   order.Quantity,
		"total":      order.TotalPrice.String(),
	})

	return order, nil
}

func (s *ReservationService) CancelOrder(ctx context.Context, orderID string) (models.Order, error) {
	started := time.Now()
	defer s.trackDuration("cancel", started)

	order, err := s.Ledger.MarkCancelled(ctx, orderID)
	if err != nil {
		switch {
		case errors.Is(err, status.ErrAlreadyCancelled):
			s.trackOutcome("cancel", "already_cancelled")
		case errors.Is(err, status.ErrOrderNotFound):
			s.trackOutcome("cancel", "not_found")
		default:
			s.trackOutcome("cancel", "unavailable")
		}
		return models.Order{}, err
	}

	// The ledger has committed to cancelled, so this release is owed no
	// matter what happens; a failed attempt becomes a durable obligation.
	if err := s.release(ctx, order.ConcertID, order.Quantity); err != nil {
		slog.Warn("release after cancel failed, queueing obligation",
			"order_id", order.ID,
			"concert_id", order.ConcertID,
			"error", err,
		)
		s.enqueueRelease(ctx, models.PendingRelease{
			OrderID:   order.ID,
			ConcertID: order.ConcertID,
			Quantity:  order.Quantity,
			Reason:    "cancel",
			QueuedAt:  time.Now().UTC(),
		})
	}

	s.trackOutcome("cancel", "success")
	s.notify(order.UserID, map[string]interface{}{
		"type":       "order_cancelled",
		"order_id":   order.ID,
		"concert_id": order.ConcertID,
		"quantity":   order.Quantity,
	})

	return order, nil
}

func (s *ReservationService) GetOrder(ctx context.Context, orderID string) (models.Order, error) {
	return s.Ledger.FindByID(ctx, orderID)
}

func (s *ReservationService) ListOrders(ctx context.Context, userID string, limit int) ([]models.Order, error) {
	return s.Ledger.ListByUser(ctx, userID, limit)
}

func (s *ReservationService) ConcertStock(ctx context.Context, concertID string) (models.ConcertStock, error) {
	return s.Inventory.Stock(ctx, concertID)
}

func (s *ReservationService) reserve(ctx context.Context, concertID string, quantity int64) error {
	return s.guarded(ctx, func() error {
		return s.Inventory.TryReserve(ctx, concertID, quantity)
	})
}

func (s *ReservationService) release(ctx context.Context, concertID string, quantity int64) error {
	return s.guarded(ctx, func() error {
		return s.Inventory.Release(ctx, concertID, quantity)
	})
}

// guarded runs an inventory call through the circuit breaker. Sold-out and
// unknown-concert answers are verdicts from a healthy store, not outages, so
// they must not count towards tripping it.
func (s *ReservationService) guarded(ctx context.Context, call func() error) error {
	var verdict error
	_, err := s.breaker.Execute(ctx, func() (interface{}, error) {
		err := call()
		if errors.Is(err, status.ErrInsufficientStock) || errors.Is(err, status.ErrConcertNotFound) {
			verdict = err
			return nil, nil
		}
		return nil, err
	})
	if err != nil {
		return mapBreakerErr(err)
	}
	return verdict
}

// compensate undoes a reservation whose order never made it into the ledger.
func (s *ReservationService) compensate(ctx context.Context, orderID, concertID string, quantity int64) {
	if s.monitor != nil {
		s.monitor.TrackCompensation()
	}

	if err := s.release(ctx, concertID, quantity); err != nil {
		slog.Error("compensating release failed, queueing obligation",
			"order_id", orderID,
			"concert_id", concertID,
			"quantity", quantity,
			"error", err,
		)
		s.enqueueRelease(ctx, models.PendingRelease{
			OrderID:   orderID,
			ConcertID: concertID,
			Quantity:  quantity,
			Reason:    "compensate",
			QueuedAt:  time.Now().UTC(),
		})
	}
}

func (s *ReservationService) enqueueRelease(ctx context.Context, release models.PendingRelease) {
	// Use a fresh context: the caller's request may already be cancelled,
	// but the obligation still has to be recorded.
	if err := s.Releases.Enqueue(context.WithoutCancel(ctx), release); err != nil {
		slog.Error("failed to record pending release",
			"order_id", release.OrderID,
			"concert_id", release.ConcertID,
			"quantity", release.Quantity,
			"error", err,
		)
	}
}

func (s *ReservationService) notify(userID string, message map[string]interface{}) {
	if s.pubnub == nil {
		return
	}

	channel := fmt.Sprintf("user-%s", userID)
	s.pubnub.Publish().
		Channel(channel).
		Message(message).
		Execute()
}

func (s *ReservationService) trackOutcome(operation, outcome string) {
	if s.monitor != nil {
		s.monitor.TrackOrderOperation(operation, outcome)
	}
}

func (s *ReservationService) trackDuration(operation string, started time.Time) {
	if s.monitor != nil {
		s.monitor.TrackOperationDuration(operation, time.Since(started))
	}
}

func mapBreakerErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, status.ErrInsufficientStock) ||
		errors.Is(err, status.ErrConcertNotFound) ||
		errors.Is(err, status.ErrStoreUnavailable) {
		return err
	}
	// Breaker-open and other transport failures are retryable later.
	return fmt.Errorf("%w: %v", status.ErrStoreUnavailable, err)
}
