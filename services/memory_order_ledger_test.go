package services

import (
	"context"
	"testing"
	"time"

	"concert-tickets/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOrder(id, concertID string, quantity int64) models.Order {
	price := decimal.NewFromInt(50)
	return models.Order{
		ID:          id,
		UserID:      "user1",
		ConcertID:   concertID,
		Quantity:    quantity,
		UnitPrice:   price,
		TotalPrice:  price.Mul(decimal.NewFromInt(quantity)),
		PurchasedAt: time.Now().UTC(),
		Status:      models.OrderStatusActive,
	}
}

func TestMemoryOrderLedger_ActiveReservedByConcert(t *testing.T) {
	ledger := NewMemoryOrderLedger()
	ctx := context.Background()

	require.NoError(t, ledger.CreateOrder(ctx, testOrder("ORD-1", "concertA", 3)))
	require.NoError(t, ledger.CreateOrder(ctx, testOrder("ORD-2", "concertA", 2)))
	require.NoError(t, ledger.CreateOrder(ctx, testOrder("ORD-3", "concertB", 4)))

	// Cancelled orders stop counting against the stock.
	require.NoError(t, ledger.CreateOrder(ctx, testOrder("ORD-4", "concertB", 6)))
	_, err := ledger.MarkCancelled(ctx, "ORD-4")
	require.NoError(t, err)

	reserved, err := ledger.ActiveReservedByConcert(ctx)
	require.NoError(t, err)

	assert.Equal(t, map[string]int64{
		"concertA": 5,
		"concertB": 4,
	}, reserved)
}

func TestMemoryOrderLedger_ActiveReservedByConcert_Empty(t *testing.T) {
	ledger := NewMemoryOrderLedger()

	reserved, err := ledger.ActiveReservedByConcert(context.Background())
	require.NoError(t, err)
	assert.Empty(t, reserved)
}
