package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Concert struct {
	ID               string          `db:"id" json:"id"`
	Name             string          `db:"name" json:"name"`
	Venue            string          `db:"venue" json:"venue"`
	ArtistID         string          `db:"artist_id" json:"artist_id"`
	StartTime        time.Time       `db:"start_time" json:"start_time"`
	TicketPrice      decimal.Decimal `db:"ticket_price" json:"ticket_price"`
	TicketsTotal     int64           `db:"tickets_total" json:"tickets_total"`
	TicketsRemaining int64           `db:"tickets_remaining" json:"tickets_remaining"`
	Status           string          `db:"status" json:"status"` // draft, published, ended
}

// ConcertStock is the slice of a concert the inventory store works with.
// Remaining is the only field any component may mutate, and only through
// the store's atomic operations.
type ConcertStock struct {
	ConcertID string `json:"concert_id"`
	Total     int64  `json:"tickets_total"`
	Remaining int64  `json:"tickets_remaining"`
}

func (s ConcertStock) SoldOut() bool {
	return s.Remaining <= 0
}
