package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"concert-tickets/internal/status"
	"concert-tickets/models"

	"github.com/pocketbase/dbx"
	"github.com/shopspring/decimal"
)

// ConcertCatalog is a read-only collaborator: the reservation flow only needs
// existence and the price snapshot. Stock mutation never goes through here.
type ConcertCatalog interface {
	GetConcert(ctx context.Context, concertID string) (models.Concert, error)
}

type DBConcertCatalog struct {
	db dbx.Builder
}

func NewDBConcertCatalog(db dbx.Builder) *DBConcertCatalog {
	return &DBConcertCatalog{db: db}
}

type concertRow struct {
	ID           string `db:"id"`
	Name         string `db:"name"`
	Venue        string `db:"venue"`
	ArtistID     string `db:"artist_id"`
	StartTime    string `db:"start_time"`
	TicketPrice  string `db:"ticket_price"`
	TicketsTotal int64  `db:"tickets_total"`
	Status       string `db:"status"`
}

func (c *DBConcertCatalog) GetConcert(ctx context.Context, concertID string) (models.Concert, error) {
	var row concertRow
	err := c.db.Select("id", "name", "venue", "artist_id", "start_time", "ticket_price", "tickets_total", "status").
		From("concerts").
		Where(dbx.HashExp{"id": concertID}).
		WithContext(ctx).
		One(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Concert{}, status.ErrConcertNotFound
	}
	if err != nil {
		return models.Concert{}, fmt.Errorf("%w: %v", status.ErrStoreUnavailable, err)
	}

	price, err := decimal.NewFromString(row.TicketPrice)
	if err != nil {
		return models.Concert{}, fmt.Errorf("concert %s: bad ticket price %q", row.ID, row.TicketPrice)
	}

	concert := models.Concert{
		ID:           row.ID,
		Name:         row.Name,
		Venue:        row.Venue,
		ArtistID:     row.ArtistID,
		TicketPrice:  price,
		TicketsTotal: row.TicketsTotal,
		Status:       row.Status,
	}
	if row.StartTime != "" {
		if t, err := time.Parse(ledgerTimeLayout, row.StartTime); err == nil {
			concert.StartTime = t
		}
	}
	return concert, nil
}

// MemoryConcertCatalog backs the development environment and tests.
type MemoryConcertCatalog struct {
	mu       sync.RWMutex
	concerts map[string]models.Concert
}

func NewMemoryConcertCatalog() *MemoryConcertCatalog {
	return &MemoryConcertCatalog{concerts: make(map[string]models.Concert)}
}

func (c *MemoryConcertCatalog) AddConcert(concert models.Concert) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.concerts[concert.ID] = concert
}

func (c *MemoryConcertCatalog) GetConcert(ctx context.Context, concertID string) (models.Concert, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	concert, ok := c.concerts[concertID]
	if !ok {
		return models.Concert{}, status.ErrConcertNotFound
	}
	return concert, nil
}
