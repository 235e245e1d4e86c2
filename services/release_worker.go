package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"concert-tickets/internal/status"
	"concert-tickets/models"

	"github.com/redis/go-redis/v9"
)

const pendingReleaseKey = "orders:pending_releases"

// ReleaseQueue records releases the inventory still owes. Obligations must
// survive until they land; dropping one corrupts the stock invariant.
type ReleaseQueue interface {
	Enqueue(ctx context.Context, release models.PendingRelease) error
	Dequeue(ctx context.Context) (models.PendingRelease, bool, error)
	Len(ctx context.Context) (int64, error)
}

type RedisReleaseQueue struct {
	Redis *redis.Client
}

func NewRedisReleaseQueue(redisClient *redis.Client) *RedisReleaseQueue {
	return &RedisReleaseQueue{Redis: redisClient}
}

func (q *RedisReleaseQueue) Enqueue(ctx context.Context, release models.PendingRelease) error {
	data, err := json.Marshal(release)
	if err != nil {
		return err
	}
	if err := q.Redis.LPush(ctx, pendingReleaseKey, data).Err(); err != nil {
		return fmt.Errorf("%w: %v", status.ErrStoreUnavailable, err)
	}
	return nil
}

func (q *RedisReleaseQueue) Dequeue(ctx context.Context) (models.PendingRelease, bool, error) {
	// An unreadable payload is dropped and the next entry popped; reporting
	// it as an empty queue would stall every obligation behind it.
	for {
		data, err := q.Redis.RPop(ctx, pendingReleaseKey).Result()
		if err == redis.Nil {
			return models.PendingRelease{}, false, nil
		}
		if err != nil {
			return models.PendingRelease{}, false, fmt.Errorf("%w: %v", status.ErrStoreUnavailable, err)
		}

		var release models.PendingRelease
		if err := json.Unmarshal([]byte(data), &release); err != nil {
			slog.Error("dropping unreadable pending release", "payload", data, "error", err)
			continue
		}
		return release, true, nil
	}
}

func (q *RedisReleaseQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.Redis.LLen(ctx, pendingReleaseKey).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", status.ErrStoreUnavailable, err)
	}
	return n, nil
}

// MemoryReleaseQueue backs the development environment and tests.
type MemoryReleaseQueue struct {
	mu       sync.Mutex
	releases []models.PendingRelease
}

func NewMemoryReleaseQueue() *MemoryReleaseQueue {
	return &MemoryReleaseQueue{}
}

func (q *MemoryReleaseQueue) Enqueue(ctx context.Context, release models.PendingRelease) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.releases = append(q.releases, release)
	return nil
}

func (q *MemoryReleaseQueue) Dequeue(ctx context.Context) (models.PendingRelease, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.releases) == 0 {
		return models.PendingRelease{}, false, nil
	}
	release := q.releases[0]
	q.releases = q.releases[1:]
	return release, true, nil
}

func (q *MemoryReleaseQueue) Len(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.releases)), nil
}

// ReleaseWorker drains the obligation queue in the background. One goroutine
// handles all concerts; an obligation that still cannot be applied goes back
// on the queue with its attempt count bumped.
type ReleaseWorker struct {
	inventory   InventoryStore
	catalog     ConcertCatalog
	queue       ReleaseQueue
	interval    time.Duration
	maxAttempts int // 0 means retry forever

	stopChan chan struct{}
	wg       sync.WaitGroup
	drained  int64 // atomic counter of applied releases
}

func NewReleaseWorker(inventory InventoryStore, catalog ConcertCatalog, queue ReleaseQueue, interval time.Duration) *ReleaseWorker {
	return &ReleaseWorker{
		inventory: inventory,
		catalog:   catalog,
		queue:     queue,
		interval:  interval,
		stopChan:  make(chan struct{}),
	}
}

// WithMaxAttempts bounds how often one obligation is retried. Past the bound
// it is dropped with an error log so an operator can reconcile by hand.
func (w *ReleaseWorker) WithMaxAttempts(n int) *ReleaseWorker {
	w.maxAttempts = n
	return w
}

func (w *ReleaseWorker) Start() {
	w.wg.Add(1)
	go w.run()
	log.Println("Pending release worker started")
}

func (w *ReleaseWorker) Stop() {
	close(w.stopChan)
	w.wg.Wait()
}

func (w *ReleaseWorker) Drained() int64 {
	return atomic.LoadInt64(&w.drained)
}

func (w *ReleaseWorker) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.DrainOnce(context.Background())
		case <-w.stopChan:
			log.Println("Pending release worker stopping")
			return
		}
	}
}

// DrainOnce makes one pass over the queued obligations, applying what it can
// and requeueing the rest with a bumped attempt count.
func (w *ReleaseWorker) DrainOnce(ctx context.Context) {
	n, err := w.queue.Len(ctx)
	if err != nil {
		slog.Warn("pending release queue length failed", "error", err)
		return
	}

	for i := int64(0); i < n; i++ {
		release, ok, err := w.queue.Dequeue(ctx)
		if err != nil {
			slog.Warn("pending release dequeue failed", "error", err)
			return
		}
		if !ok {
			return
		}

		if w.apply(ctx, release) {
			atomic.AddInt64(&w.drained, 1)
			continue
		}

		release.Attempts++
		if w.maxAttempts > 0 && release.Attempts >= w.maxAttempts {
			slog.Error("giving up on pending release, manual reconciliation needed",
				"order_id", release.OrderID,
				"concert_id", release.ConcertID,
				"quantity", release.Quantity,
				"attempts", release.Attempts,
			)
			continue
		}
		if err := w.queue.Enqueue(ctx, release); err != nil {
			slog.Error("requeue of pending release failed", "order_id", release.OrderID, "error", err)
		}
	}
}

func (w *ReleaseWorker) apply(ctx context.Context, release models.PendingRelease) bool {
	err := w.inventory.Release(ctx, release.ConcertID, release.Quantity)
	if err == nil {
		slog.Info("pending release applied",
			"order_id", release.OrderID,
			"concert_id", release.ConcertID,
			"quantity", release.Quantity,
			"attempts", release.Attempts,
		)
		return true
	}

	if errors.Is(err, status.ErrConcertNotFound) {
		// The stock key may have been evicted while the concert still
		// exists. Only drop the obligation once the catalog confirms the
		// concert itself is gone.
		if _, catErr := w.catalog.GetConcert(ctx, release.ConcertID); errors.Is(catErr, status.ErrConcertNotFound) {
			slog.Warn("dropping release for deleted concert", "order_id", release.OrderID, "concert_id", release.ConcertID)
			return true
		}
	}

	slog.Warn("pending release still owed",
		"order_id", release.OrderID,
		"concert_id", release.ConcertID,
		"attempts", release.Attempts,
		"error", err,
	)
	return false
}
