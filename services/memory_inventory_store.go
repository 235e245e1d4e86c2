package services

import (
	"context"
	"sync"

	"concert-tickets/internal/status"
	"concert-tickets/models"
)

// MemoryInventoryStore keeps one guarded record per concert. The outer map
// lock covers lookups only; the check-and-decrement serializes on the record's
// own mutex, so unrelated concerts never contend.
type MemoryInventoryStore struct {
	mu      sync.RWMutex
	records map[string]*stockRecord
}

type stockRecord struct {
	mu        sync.Mutex
	total     int64
	remaining int64
}

func NewMemoryInventoryStore() *MemoryInventoryStore {
	return &MemoryInventoryStore{records: make(map[string]*stockRecord)}
}

func (s *MemoryInventoryStore) record(concertID string) (*stockRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[concertID]
	return rec, ok
}

func (s *MemoryInventoryStore) TryReserve(ctx context.Context, concertID string, quantity int64) error {
	rec, ok := s.record(concertID)
	if !ok {
		return status.ErrConcertNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.remaining < quantity {
		return status.ErrInsufficientStock
	}
	rec.remaining -= quantity
	return nil
}

func (s *MemoryInventoryStore) Release(ctx context.Context, concertID string, quantity int64) error {
	rec, ok := s.record(concertID)
	if !ok {
		return status.ErrConcertNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	rec.remaining += quantity
	if rec.remaining > rec.total {
		rec.remaining = rec.total
	}
	return nil
}

func (s *MemoryInventoryStore) Stock(ctx context.Context, concertID string) (models.ConcertStock, error) {
	rec, ok := s.record(concertID)
	if !ok {
		return models.ConcertStock{}, status.ErrConcertNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	return models.ConcertStock{
		ConcertID: concertID,
		Total:     rec.total,
		Remaining: rec.remaining,
	}, nil
}

func (s *MemoryInventoryStore) SeedStock(ctx context.Context, stock models.ConcertStock) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[stock.ConcertID]; ok {
		rec.mu.Lock()
		rec.total = stock.Total
		rec.mu.Unlock()
		return nil
	}

	s.records[stock.ConcertID] = &stockRecord{
		total:     stock.Total,
		remaining: stock.Remaining,
	}
	return nil
}

func (s *MemoryInventoryStore) RemoveStock(ctx context.Context, concertID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, concertID)
	return nil
}
