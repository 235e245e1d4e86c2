package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusActive    OrderStatus = "active"
	OrderStatusCancelled OrderStatus = "cancelled"
)

type Order struct {
	ID          string          `db:"id" json:"id"`
	UserID      string          `db:"user_id" json:"user_id"`
	ConcertID   string          `db:"concert_id" json:"concert_id"`
	Quantity    int64           `db:"quantity" json:"quantity"`
	UnitPrice   decimal.Decimal `db:"unit_price" json:"unit_price"`
	TotalPrice  decimal.Decimal `db:"total_price" json:"total_price"`
	PurchasedAt time.Time       `db:"purchased_at" json:"purchased_at"`
	CancelledAt *time.Time      `db:"cancelled_at" json:"cancelled_at,omitempty"`
	Status      OrderStatus     `db:"status" json:"status"`
}

func (o Order) IsActive() bool {
	return o.Status == OrderStatusActive
}

// PendingRelease is a release the inventory store still owes after an order
// was cancelled (or a purchase was compensated) but the stock increment could
// not be applied. It is kept on a durable queue until it lands.
type PendingRelease struct {
	OrderID   string    `json:"order_id"`
	ConcertID string    `json:"concert_id"`
	Quantity  int64     `json:"quantity"`
	Reason    string    `json:"reason"` // cancel, compensate
	QueuedAt  time.Time `json:"queued_at"`
	Attempts  int       `json:"attempts"`
}
