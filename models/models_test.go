package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrder_JSONSerialization(t *testing.T) {
	purchasedAt := time.Now().UTC()

	order := Order{
		ID:          "ORD-1756000000000000000-A1B2C3D4",
		UserID:      "user-123",
		ConcertID:   "concert-456",
		Quantity:    3,
		UnitPrice:   decimal.RequireFromString("49.50"),
		TotalPrice:  decimal.RequireFromString("148.50"),
		PurchasedAt: purchasedAt,
		Status:      OrderStatusActive,
	}

	jsonData, err := json.Marshal(order)
	require.NoError(t, err)

	var unmarshaled Order
	err = json.Unmarshal(jsonData, &unmarshaled)
	require.NoError(t, err)

	assert.Equal(t, order.ID, unmarshaled.ID)
	assert.Equal(t, order.UserID, unmarshaled.UserID)
	assert.Equal(t, order.Quantity, unmarshaled.Quantity)
	assert.True(t, order.UnitPrice.Equal(unmarshaled.UnitPrice))
	assert.True(t, order.TotalPrice.Equal(unmarshaled.TotalPrice))
	assert.Equal(t, order.Status, unmarshaled.Status)
	assert.Nil(t, unmarshaled.CancelledAt)
	assert.WithinDuration(t, order.PurchasedAt, unmarshaled.PurchasedAt, time.Second)
}

func TestOrder_IsActive(t *testing.T) {
	order := Order{Status: OrderStatusActive}
	assert.True(t, order.IsActive())

	now := time.Now().UTC()
	order.Status = OrderStatusCancelled
	order.CancelledAt = &now
	assert.False(t, order.IsActive())
}

func TestOrder_PriceSnapshot(t *testing.T) {
	// The total is quantity times the unit price captured at purchase time;
	// a later catalog price change must not affect it.
	unit := decimal.RequireFromString("19.99")
	order := Order{
		Quantity:   4,
		UnitPrice:  unit,
		TotalPrice: unit.Mul(decimal.NewFromInt(4)),
	}

	assert.Equal(t, "79.96", order.TotalPrice.StringFixed(2))
}

func TestConcertStock_SoldOut(t *testing.T) {
	stock := ConcertStock{ConcertID: "concert-456", Total: 100, Remaining: 1}
	assert.False(t, stock.SoldOut())

	stock.Remaining = 0
	assert.True(t, stock.SoldOut())
}

func TestPendingRelease_JSONSerialization(t *testing.T) {
	release := PendingRelease{
		OrderID:   "ORD-1",
		ConcertID: "concert-456",
		Quantity:  2,
		Reason:    "cancel",
		QueuedAt:  time.Now().UTC(),
		Attempts:  1,
	}

	jsonData, err := json.Marshal(release)
	require.NoError(t, err)

	var unmarshaled PendingRelease
	err = json.Unmarshal(jsonData, &unmarshaled)
	require.NoError(t, err)

	assert.Equal(t, release.OrderID, unmarshaled.OrderID)
	assert.Equal(t, release.ConcertID, unmarshaled.ConcertID)
	assert.Equal(t, release.Quantity, unmarshaled.Quantity)
	assert.Equal(t, release.Reason, unmarshaled.Reason)
	assert.Equal(t, release.Attempts, unmarshaled.Attempts)
	assert.WithinDuration(t, release.QueuedAt, unmarshaled.QueuedAt, time.Second)
}
