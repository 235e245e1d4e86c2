package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"concert-tickets/internal/status"
	"concert-tickets/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupReservationService(t *testing.T) (*ReservationService, *MemoryInventoryStore, *MemoryOrderLedger, *MemoryReleaseQueue) {
	inventory := NewMemoryInventoryStore()
	ledger := NewMemoryOrderLedger()
	catalog := NewMemoryConcertCatalog()
	releases := NewMemoryReleaseQueue()

	catalog.AddConcert(models.Concert{
		ID:           "concert123",
		Name:         "Summer Night",
		Venue:        "Riverside Arena",
		TicketPrice:  decimal.RequireFromString("49.50"),
		TicketsTotal: 100,
		Status:       "published",
	})
	require.NoError(t, inventory.SeedStock(context.Background(), models.ConcertStock{
		ConcertID: "concert123",
		Total:     100,
		Remaining: 100,
	}))

	service := NewReservationService(inventory, ledger, catalog, releases)
	return service, inventory, ledger, releases
}

func TestReservationService_PurchaseTickets_Success(t *testing.T) {
	service, inventory, _, _ := setupReservationService(t)
	ctx := context.Background()

	order, err := service.PurchaseTickets(ctx, "user1", "concert123", 3)

	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(order.ID, "ORD-"))
	assert.Equal(t, "user1", order.UserID)
	assert.Equal(t, "concert123", order.ConcertID)
	assert.Equal(t, int64(3), order.Quantity)
	assert.True(t, order.IsActive())
	assert.True(t, order.UnitPrice.Equal(decimal.RequireFromString("49.50")))
	assert.True(t, order.TotalPrice.Equal(decimal.RequireFromString("148.50")))

	stock, err := inventory.Stock(ctx, "concert123")
	require.NoError(t, err)
	assert.Equal(t, int64(97), stock.Remaining)

	stored, err := service.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, stored.ID)
}

func TestReservationService_PurchaseTickets_InvalidQuantity(t *testing.T) {
	service, inventory, _, _ := setupReservationService(t)
	ctx := context.Background()

	for _, quantity := range []int64{0, -1} {
		_, err := service.PurchaseTickets(ctx, "user1", "concert123", quantity)
		assert.ErrorIs(t, err, status.ErrInvalidQuantity)
	}

	stock, err := inventory.Stock(ctx, "concert123")
	require.NoError(t, err)
	assert.Equal(t, int64(100), stock.Remaining)
}

func TestReservationService_PurchaseTickets_UnknownConcert(t *testing.T) {
	service, _, _, _ := setupReservationService(t)

	_, err := service.PurchaseTickets(context.Background(), "user1", "nope", 1)

	assert.ErrorIs(t, err, status.ErrConcertNotFound)
}

func TestReservationService_PurchaseTickets_InsufficientStock(t *testing.T) {
	service, inventory, _, _ := setupReservationService(t)
	ctx := context.Background()

	_, err := service.PurchaseTickets(ctx, "user1", "concert123", 101)

	assert.ErrorIs(t, err, status.ErrInsufficientStock)

	stock, err := inventory.Stock(ctx, "concert123")
	require.NoError(t, err)
	assert.Equal(t, int64(100), stock.Remaining)
}

func TestReservationService_CancelOrder_RoundTrip(t *testing.T) {
	service, inventory, _, _ := setupReservationService(t)
	ctx := context.Background()

	order, err := service.PurchaseTickets(ctx, "user1", "concert123", 5)
	require.NoError(t, err)

	cancelled, err := service.CancelOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)

	stock, err := inventory.Stock(ctx, "concert123")
	require.NoError(t, err)
	assert.Equal(t, int64(100), stock.Remaining)
}

func TestReservationService_CancelOrder_Idempotent(t *testing.T) {
	service, inventory, _, _ := setupReservationService(t)
	ctx := context.Background()

	order, err := service.PurchaseTickets(ctx, "user1", "concert123", 5)
	require.NoError(t, err)

	_, err = service.CancelOrder(ctx, order.ID)
	require.NoError(t, err)

	// The second cancel must not release stock again.
	_, err = service.CancelOrder(ctx, order.ID)
	assert.ErrorIs(t, err, status.ErrAlreadyCancelled)

	stock, err := inventory.Stock(ctx, "concert123")
	require.NoError(t, err)
	assert.Equal(t, int64(100), stock.Remaining)
}

func TestReservationService_CancelOrder_UnknownOrder(t *testing.T) {
	service, _, _, _ := setupReservationService(t)

	_, err := service.CancelOrder(context.Background(), "ORD-nope")

	assert.ErrorIs(t, err, status.ErrOrderNotFound)
}

// failingLedger rejects every write so the purchase flow has to compensate.
type failingLedger struct {
	*MemoryOrderLedger
}

func (l *failingLedger) CreateOrder(ctx context.Context, order models.Order) error {
	return errors.New("disk full")
}

func TestReservationService_PurchaseTickets_CompensatesFailedLedgerWrite(t *testing.T) {
	service, inventory, _, releases := setupReservationService(t)
	service.Ledger = &failingLedger{MemoryOrderLedger: NewMemoryOrderLedger()}
	ctx := context.Background()

	_, err := service.PurchaseTickets(ctx, "user1", "concert123", 4)

	require.Error(t, err)

	// The reservation was rolled back, so nothing is owed.
	stock, err := inventory.Stock(ctx, "concert123")
	require.NoError(t, err)
	assert.Equal(t, int64(100), stock.Remaining)

	n, err := releases.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// blockedReleaseInventory fails Release until unblocked, simulating a stock
// store that comes back after an outage.
type blockedReleaseInventory struct {
	InventoryStore
	mu      sync.Mutex
	blocked bool
}

func (s *blockedReleaseInventory) Release(ctx context.Context, concertID string, quantity int64) error {
	s.mu.Lock()
	blocked := s.blocked
	s.mu.Unlock()
	if blocked {
		return status.ErrStoreUnavailable
	}
	return s.InventoryStore.Release(ctx, concertID, quantity)
}

func (s *blockedReleaseInventory) unblock() {
	s.mu.Lock()
	s.blocked = false
	s.mu.Unlock()
}

func TestReservationService_PurchaseTickets_QueuesCompensationWhenReleaseFails(t *testing.T) {
	service, inventory, _, releases := setupReservationService(t)
	blocked := &blockedReleaseInventory{InventoryStore: inventory, blocked: true}
	service.Inventory = blocked
	service.Ledger = &failingLedger{MemoryOrderLedger: NewMemoryOrderLedger()}
	ctx := context.Background()

	_, err := service.PurchaseTickets(ctx, "user1", "concert123", 4)
	require.Error(t, err)

	// The release could not land, so it must be parked as an obligation.
	release, ok, err := releases.Dequeue(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "concert123", release.ConcertID)
	assert.Equal(t, int64(4), release.Quantity)
	assert.Equal(t, "compensate", release.Reason)

	stock, err := inventory.Stock(ctx, "concert123")
	require.NoError(t, err)
	assert.Equal(t, int64(96), stock.Remaining)
}

func TestReservationService_CancelOrder_QueuesReleaseWhenStoreDown(t *testing.T) {
	service, inventory, _, releases := setupReservationService(t)
	blocked := &blockedReleaseInventory{InventoryStore: inventory}
	service.Inventory = blocked
	ctx := context.Background()

	order, err := service.PurchaseTickets(ctx, "user1", "concert123", 5)
	require.NoError(t, err)

	blocked.mu.Lock()
	blocked.blocked = true
	blocked.mu.Unlock()

	// The cancel itself still succeeds; only the stock release is deferred.
	cancelled, err := service.CancelOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)

	n, err := releases.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	// Once the store is back, the worker settles the obligation.
	blocked.unblock()
	catalog := NewMemoryConcertCatalog()
	catalog.AddConcert(models.Concert{ID: "concert123", TicketPrice: decimal.NewFromInt(49)})
	worker := NewReleaseWorker(blocked, catalog, releases, time.Millisecond)
	worker.DrainOnce(ctx)

	stock, err := inventory.Stock(ctx, "concert123")
	require.NoError(t, err)
	assert.Equal(t, int64(100), stock.Remaining)
}

func TestReservationService_PurchaseTickets_NeverOversells(t *testing.T) {
	service, inventory, _, _ := setupReservationService(t)
	ctx := context.Background()

	require.NoError(t, inventory.SeedStock(ctx, models.ConcertStock{
		ConcertID: "concert123",
		Total:     100,
		Remaining: 100,
	}))

	const (
		buyers   = 80
		perOrder = 2
	)

	var (
		wg        sync.WaitGroup
		successes int64
		soldOut   int64
		mu        sync.Mutex
	)

	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := service.PurchaseTickets(ctx, "user1", "concert123", perOrder)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, status.ErrInsufficientStock):
				soldOut++
			default:
				t.Errorf("buyer %d: unexpected error: %v", n, err)
			}
		}(i)
	}
	wg.Wait()

	// 80 buyers chasing 100 tickets at 2 each: exactly 50 can win.
	assert.Equal(t, int64(50), successes)
	assert.Equal(t, int64(30), soldOut)

	stock, err := inventory.Stock(ctx, "concert123")
	require.NoError(t, err)
	assert.Equal(t, int64(0), stock.Remaining)
	assert.True(t, stock.SoldOut())
}

func TestReservationService_CancelOrder_ConcurrentCancelsReleaseOnce(t *testing.T) {
	service, inventory, _, _ := setupReservationService(t)
	ctx := context.Background()

	order, err := service.PurchaseTickets(ctx, "user1", "concert123", 10)
	require.NoError(t, err)

	const callers = 20

	var (
		wg        sync.WaitGroup
		successes int64
		repeats   int64
		mu        sync.Mutex
	)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.CancelOrder(ctx, order.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, status.ErrAlreadyCancelled):
				repeats++
			default:
				t.Errorf("unexpected cancel error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), successes)
	assert.Equal(t, int64(callers-1), repeats)

	stock, err := inventory.Stock(ctx, "concert123")
	require.NoError(t, err)
	assert.Equal(t, int64(100), stock.Remaining)
}

func TestReservationService_ListOrders(t *testing.T) {
	service, _, _, _ := setupReservationService(t)
	ctx := context.Background()

	first, err := service.PurchaseTickets(ctx, "user1", "concert123", 1)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := service.PurchaseTickets(ctx, "user1", "concert123", 2)
	require.NoError(t, err)
	_, err = service.PurchaseTickets(ctx, "user2", "concert123", 3)
	require.NoError(t, err)

	orders, err := service.ListOrders(ctx, "user1", 10)
	require.NoError(t, err)
	require.Len(t, orders, 2)

	// Newest first.
	assert.Equal(t, second.ID, orders[0].ID)
	assert.Equal(t, first.ID, orders[1].ID)
}

func TestReservationService_ConcertStock(t *testing.T) {
	service, _, _, _ := setupReservationService(t)
	ctx := context.Background()

	_, err := service.PurchaseTickets(ctx, "user1", "concert123", 7)
	require.NoError(t, err)

	stock, err := service.ConcertStock(ctx, "concert123")
	require.NoError(t, err)
	assert.Equal(t, int64(100), stock.Total)
	assert.Equal(t, int64(93), stock.Remaining)
}
