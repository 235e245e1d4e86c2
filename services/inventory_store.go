package services

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"concert-tickets/internal/status"
	"concert-tickets/models"

	"github.com/redis/go-redis/v9"
)

// InventoryStore holds the authoritative ticket count per concert and exposes
// the two atomic primitives every mutation of tickets_remaining must go
// through. Implementations must make TryReserve a single conditional update:
// no caller may read the count and write it back.
type InventoryStore interface {
	TryReserve(ctx context.Context, concertID string, quantity int64) error
	Release(ctx context.Context, concertID string, quantity int64) error
	Stock(ctx context.Context, concertID string) (models.ConcertStock, error)
	SeedStock(ctx context.Context, stock models.ConcertStock) error
	RemoveStock(ctx context.Context, concertID string) error
}

// Stock keys are hashes: stock:{concertID} -> {total, remaining}.
// The scripts run atomically on the Redis side, so concurrent reservations
// against the same concert serialize on the counter and nothing else.

const tryReserveScript = `
local key = KEYS[1]
local qty = tonumber(ARGV[1])
if redis.call("EXISTS", key) == 0 then
	return "not_found"
end
local remaining = tonumber(redis.call("HGET", key, "remaining"))
if remaining < qty then
	return "insufficient"
end
redis.call("HINCRBY", key, "remaining", -qty)
return "ok"
`

// Release only restores previously reserved units, so the cap against total
// can never trip when callers follow the reserve/release protocol. It is
// still enforced so a replayed obligation cannot push remaining past total.
const releaseScript = `
local key = KEYS[1]
local qty = tonumber(ARGV[1])
if redis.call("EXISTS", key) == 0 then
	return "not_found"
end
local total = tonumber(redis.call("HGET", key, "total"))
local remaining = tonumber(redis.call("HGET", key, "remaining"))
if remaining + qty > total then
	qty = total - remaining
end
if qty > 0 then
	redis.call("HINCRBY", key, "remaining", qty)
end
return "ok"
`

type RedisInventoryStore struct {
	Redis      *redis.Client
	maxRetries int
	backoff    time.Duration
	timeout    time.Duration
}

func NewRedisInventoryStore(redisClient *redis.Client, maxRetries int, backoff time.Duration, timeout time.Duration) *RedisInventoryStore {
	return &RedisInventoryStore{
		Redis:      redisClient,
		maxRetries: maxRetries,
		backoff:    backoff,
		timeout:    timeout,
	}
}

func stockKey(concertID string) string {
	return fmt.Sprintf("stock:%s", concertID)
}

func (s *RedisInventoryStore) TryReserve(ctx context.Context, concertID string, quantity int64) error {
	result, err := s.evalWithRetry(ctx, tryReserveScript, stockKey(concertID), quantity)
	if err != nil {
		return err
	}

	switch result {
	case "ok":
		return nil
	case "insufficient":
		return status.ErrInsufficientStock
	case "not_found":
		return status.ErrConcertNotFound
	default:
		return fmt.Errorf("%w: unexpected reserve result %q", status.ErrStoreUnavailable, result)
	}
}

func (s *RedisInventoryStore) Release(ctx context.Context, concertID string, quantity int64) error {
	result, err := s.evalWithRetry(ctx, releaseScript, stockKey(concertID), quantity)
	if err != nil {
		return err
	}

	switch result {
	case "ok":
		return nil
	case "not_found":
		return status.ErrConcertNotFound
	default:
		return fmt.Errorf("%w: unexpected release result %q", status.ErrStoreUnavailable, result)
	}
}

// evalWithRetry retries only transport-level failures, with linear backoff.
// Business outcomes come back as script results and are never retried. The
// whole attempt sequence shares one deadline so a buyer is never left waiting
// on a dead store.
func (s *RedisInventoryStore) evalWithRetry(ctx context.Context, script, key string, quantity int64) (string, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	var lastErr error
	attempts := s.maxRetries + 1

	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %v", status.ErrStoreUnavailable, ctx.Err())
			case <-time.After(time.Duration(i) * s.backoff):
			}
		}

		raw, err := s.Redis.Eval(ctx, script, []string{key}, quantity).Result()
		if err != nil {
			lastErr = err
			slog.Warn("inventory script failed", "key", key, "attempt", i+1, "error", err)
			continue
		}

		result, ok := raw.(string)
		if !ok {
			return "", fmt.Errorf("%w: unexpected script reply %T", status.ErrStoreUnavailable, raw)
		}
		return result, nil
	}

	return "", fmt.Errorf("%w: %v", status.ErrStoreUnavailable, lastErr)
}

func (s *RedisInventoryStore) Stock(ctx context.Context, concertID string) (models.ConcertStock, error) {
	fields, err := s.Redis.HGetAll(ctx, stockKey(concertID)).Result()
	if err != nil {
		return models.ConcertStock{}, fmt.Errorf("%w: %v", status.ErrStoreUnavailable, err)
	}
	if len(fields) == 0 {
		return models.ConcertStock{}, status.ErrConcertNotFound
	}

	total, err := strconv.ParseInt(fields["total"], 10, 64)
	if err != nil {
		return models.ConcertStock{}, fmt.Errorf("%w: corrupt total for %s", status.ErrStoreUnavailable, concertID)
	}
	remaining, err := strconv.ParseInt(fields["remaining"], 10, 64)
	if err != nil {
		return models.ConcertStock{}, fmt.Errorf("%w: corrupt remaining for %s", status.ErrStoreUnavailable, concertID)
	}

	return models.ConcertStock{ConcertID: concertID, Total: total, Remaining: remaining}, nil
}

// SeedStock writes the total and, only when the key is new, the remaining
// count. Re-seeding an existing concert must not clobber in-flight
// reservations.
func (s *RedisInventoryStore) SeedStock(ctx context.Context, stock models.ConcertStock) error {
	key := stockKey(stock.ConcertID)

	_, err := s.Redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, key, "remaining", stock.Remaining)
		pipe.HSet(ctx, key, "total", stock.Total)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", status.ErrStoreUnavailable, err)
	}

	return nil
}

func (s *RedisInventoryStore) RemoveStock(ctx context.Context, concertID string) error {
	if err := s.Redis.Del(ctx, stockKey(concertID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", status.ErrStoreUnavailable, err)
	}
	return nil
}
