package status

import "errors"

var (
	ErrInvalidQuantity   = errors.New("order: quantity must be positive")
	ErrConcertNotFound   = errors.New("concert: concert not found")
	ErrInsufficientStock = errors.New("stock: insufficient tickets remaining")
	ErrOrderNotFound     = errors.New("order: order not found")
	ErrAlreadyCancelled  = errors.New("order: order already cancelled")
	ErrStoreUnavailable  = errors.New("store: temporarily unavailable, try again later")
	ErrRateLimitExceeded = errors.New("rate limit: too many purchase attempts")
)
