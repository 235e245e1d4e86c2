package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"concert-tickets/internal/status"
	"concert-tickets/models"

	"github.com/pocketbase/dbx"
	"github.com/shopspring/decimal"
)

// OrderLedger is the durable record of purchase attempts. Orders are never
// deleted; cancellation is a one-way status flip and marking an order
// cancelled twice must report ErrAlreadyCancelled without re-mutating.
type OrderLedger interface {
	CreateOrder(ctx context.Context, order models.Order) error
	// MarkCancelled atomically flips active -> cancelled and returns the
	// cancelled order so the caller can release its reservation.
	MarkCancelled(ctx context.Context, orderID string) (models.Order, error)
	FindByID(ctx context.Context, orderID string) (models.Order, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]models.Order, error)
	// ActiveReservedByConcert sums the quantities of active orders per
	// concert. Stock seeding recomputes remaining from it instead of
	// trusting a stored counter.
	ActiveReservedByConcert(ctx context.Context) (map[string]int64, error)
}

const ledgerTimeLayout = "2006-01-02 15:04:05.000Z"

type DBOrderLedger struct {
	db dbx.Builder
}

func NewDBOrderLedger(db dbx.Builder) *DBOrderLedger {
	return &DBOrderLedger{db: db}
}

type orderRow struct {
	ID          string `db:"id"`
	UserID      string `db:"user_id"`
	ConcertID   string `db:"concert_id"`
	Quantity    int64  `db:"quantity"`
	UnitPrice   string `db:"unit_price"`
	TotalPrice  string `db:"total_price"`
	PurchasedAt string `db:"purchased_at"`
	CancelledAt string `db:"cancelled_at"`
	Status      string `db:"status"`
}

func (r orderRow) toModel() (models.Order, error) {
	unitPrice, err := decimal.NewFromString(r.UnitPrice)
	if err != nil {
		return models.Order{}, fmt.Errorf("order %s: bad unit price %q", r.ID, r.UnitPrice)
	}
	totalPrice, err := decimal.NewFromString(r.TotalPrice)
	if err != nil {
		return models.Order{}, fmt.Errorf("order %s: bad total price %q", r.ID, r.TotalPrice)
	}
	purchasedAt, err := time.Parse(ledgerTimeLayout, r.PurchasedAt)
	if err != nil {
		return models.Order{}, fmt.Errorf("order %s: bad purchase time %q", r.ID, r.PurchasedAt)
	}

	order := models.Order{
		ID:          r.ID,
		UserID:      r.UserID,
		ConcertID:   r.ConcertID,
		Quantity:    r.Quantity,
		UnitPrice:   unitPrice,
		TotalPrice:  totalPrice,
		PurchasedAt: purchasedAt,
		Status:      models.OrderStatus(r.Status),
	}
	if r.CancelledAt != "" {
		cancelledAt, err := time.Parse(ledgerTimeLayout, r.CancelledAt)
		if err != nil {
			return models.Order{}, fmt.Errorf("order %s: bad cancel time %q", r.ID, r.CancelledAt)
		}
		order.CancelledAt = &cancelledAt
	}
	return order, nil
}

func (l *DBOrderLedger) CreateOrder(ctx context.Context, order models.Order) error {
	_, err := l.db.Insert("orders", dbx.Params{
		"id":           order.ID,
		"user_id":      order.UserID,
		"concert_id":   order.ConcertID,
		"quantity":     order.Quantity,
		"unit_price":   order.UnitPrice.String(),
		"total_price":  order.TotalPrice.String(),
		"purchased_at": order.PurchasedAt.UTC().Format(ledgerTimeLayout),
		"cancelled_at": "",
		"status":       string(models.OrderStatusActive),
	}).WithContext(ctx).Execute()
	if err != nil {
		return fmt.Errorf("%w: %v", status.ErrStoreUnavailable, err)
	}
	return nil
}

// MarkCancelled relies on a single conditional UPDATE: only the row that is
// still active can transition, so two concurrent cancellations for the same
// order cannot both observe active.
func (l *DBOrderLedger) MarkCancelled(ctx context.Context, orderID string) (models.Order, error) {
	cancelledAt := time.Now().UTC().Format(ledgerTimeLayout)

	result, err := l.db.Update("orders",
		dbx.Params{
			"status":       string(models.OrderStatusCancelled),
			"cancelled_at": cancelledAt,
		},
		dbx.HashExp{"id": orderID, "status": string(models.OrderStatusActive)},
	).WithContext(ctx).Execute()
	if err != nil {
		return models.Order{}, fmt.Errorf("%w: %v", status.ErrStoreUnavailable, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return models.Order{}, fmt.Errorf("%w: %v", status.ErrStoreUnavailable, err)
	}

	if rows == 0 {
		// Either the order does not exist or it already reached the
		// cancelled state; distinguish for the caller.
		existing, err := l.FindByID(ctx, orderID)
		if err != nil {
			return models.Order{}, err
		}
		if existing.Status == models.OrderStatusCancelled {
			return models.Order{}, status.ErrAlreadyCancelled
		}
		return models.Order{}, fmt.Errorf("%w: order %s in unexpected state %s", status.ErrStoreUnavailable, orderID, existing.Status)
	}

	return l.FindByID(ctx, orderID)
}

func (l *DBOrderLedger) FindByID(ctx context.Context, orderID string) (models.Order, error) {
	var row orderRow
	err := l.db.Select("id", "user_id", "concert_id", "quantity", "unit_price", "total_price", "purchased_at", "cancelled_at", "status").
		From("orders").
		Where(dbx.HashExp{"id": orderID}).
		WithContext(ctx).
		One(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Order{}, status.ErrOrderNotFound
	}
	if err != nil {
		return models.Order{}, fmt.Errorf("%w: %v", status.ErrStoreUnavailable, err)
	}
	return row.toModel()
}

func (l *DBOrderLedger) ActiveReservedByConcert(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		ConcertID string `db:"concert_id"`
		Reserved  int64  `db:"reserved"`
	}
	err := l.db.Select("concert_id", "SUM(quantity) AS reserved").
		From("orders").
		Where(dbx.HashExp{"status": string(models.OrderStatusActive)}).
		GroupBy("concert_id").
		WithContext(ctx).
		All(&rows)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", status.ErrStoreUnavailable, err)
	}

	reserved := make(map[string]int64, len(rows))
	for _, row := range rows {
		reserved[row.ConcertID] = row.Reserved
	}
	return reserved, nil
}

func (l *DBOrderLedger) ListByUser(ctx context.Context, userID string, limit int) ([]models.Order, error) {
	var rows []orderRow
	err := l.db.Select("id", "user_id", "concert_id", "quantity", "unit_price", "total_price", "purchased_at", "cancelled_at", "status").
		From("orders").
		Where(dbx.HashExp{"user_id": userID}).
		OrderBy("purchased_at DESC").
		Limit(int64(limit)).
		WithContext(ctx).
		All(&rows)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", status.ErrStoreUnavailable, err)
	}

	orders := make([]models.Order, 0, len(rows))
	for _, row := range rows {
		order, err := row.toModel()
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}
