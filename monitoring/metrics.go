package monitoring

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var (
	orderOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_operations_total",
			Help: "Total purchase/cancel operations by outcome",
		},
		[]string{"operation", "outcome"},
	)

	ticketsRemaining = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tickets_remaining",
			Help: "Remaining ticket stock per concert",
		},
		[]string{"concert_id"},
	)

	pendingReleases = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pending_releases_total",
			Help: "Release obligations still owed to the inventory",
		},
	)

	compensations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "order_compensations_total",
			Help: "Reservations rolled back after a failed ledger write",
		},
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "order_operation_duration_seconds",
			Help:    "Duration of purchase/cancel operations",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"operation"},
	)
)

type Monitor struct {
	redis *redis.Client
}

func NewMonitor(redisClient *redis.Client) *Monitor {
	monitor := &Monitor{redis: redisClient}

	// Start metrics collection
	go monitor.collectMetrics()

	return monitor
}

func (m *Monitor) collectMetrics() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		ctx := context.Background()
		m.collectStockMetrics(ctx)
		m.collectReleaseMetrics(ctx)
	}
}

func (m *Monitor) collectStockMetrics(ctx context.Context) {
	stockKeys, _ := m.redis.Keys(ctx, "stock:*").Result()
	for _, key := range stockKeys {
		concertID := key[len("stock:"):]
		remaining, err := m.redis.HGet(ctx, key, "remaining").Int64()
		if err != nil {
			continue
		}
		ticketsRemaining.WithLabelValues(concertID).Set(float64(remaining))
	}
}

func (m *Monitor) collectReleaseMetrics(ctx context.Context) {
	length, err := m.redis.LLen(ctx, "orders:pending_releases").Result()
	if err != nil {
		return
	}
	pendingReleases.Set(float64(length))
}

// Track purchase/cancel outcomes
func (m *Monitor) TrackOrderOperation(operation, outcome string) {
	orderOperations.WithLabelValues(operation, outcome).Inc()
}

// Track compensating releases after failed ledger writes
func (m *Monitor) TrackCompensation() {
	compensations.Inc()
}

// Track operation latency
func (m *Monitor) TrackOperationDuration(operation string, duration time.Duration) {
	operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
