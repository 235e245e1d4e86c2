package handlers

import (
	"errors"
	"net/http"

	"concert-tickets/internal/status"
	"concert-tickets/services"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

type OrderHandler struct {
	app         *pocketbase.PocketBase
	reservation *services.ReservationService
}

func NewOrderHandler(app *pocketbase.PocketBase, reservation *services.ReservationService) *OrderHandler {
	return &OrderHandler{
		app:         app,
		reservation: reservation,
	}
}

// PurchaseTickets - Buy tickets for a concert
func (h *OrderHandler) PurchaseTickets(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	var req struct {
		ConcertID string `json:"concert_id"`
		Quantity  int64  `json:"quantity"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	ctx := e.Request.Context()

	order, err := h.reservation.PurchaseTickets(ctx, e.Auth.Id, req.ConcertID, req.Quantity)
	if err != nil {
		switch {
		case errors.Is(err, status.ErrInvalidQuantity):
			return apis.NewBadRequestError("Quantity must be positive", err)
		case errors.Is(err, status.ErrConcertNotFound):
			return apis.NewNotFoundError("Concert not found", err)
		case errors.Is(err, status.ErrInsufficientStock):
			return apis.NewApiError(http.StatusConflict, "Not enough tickets remaining", err)
		default:
			return apis.NewApiError(http.StatusServiceUnavailable, "Please try again later", err)
		}
	}

	return e.JSON(http.StatusOK, order)
}

// CancelOrder - Cancel an order and restore its tickets
func (h *OrderHandler) CancelOrder(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	orderID := e.Request.PathValue("orderId")
	if orderID == "" {
		return apis.NewBadRequestError("Order ID is required", nil)
	}

	ctx := e.Request.Context()

	existing, err := h.reservation.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, status.ErrOrderNotFound) {
			return apis.NewNotFoundError("Order not found", err)
		}
		return apis.NewApiError(http.StatusServiceUnavailable, "Please try again later", err)
	}
	if existing.UserID != e.Auth.Id {
		return apis.NewForbiddenError("Order belongs to another user", nil)
	}

	order, err := h.reservation.CancelOrder(ctx, orderID)
	if err != nil {
		switch {
		case errors.Is(err, status.ErrAlreadyCancelled):
			// The desired end state is already reached.
			return e.JSON(http.StatusOK, map[string]any{
				"order_id":          orderID,
				"status":            "cancelled",
				"already_cancelled": true,
			})
		case errors.Is(err, status.ErrOrderNotFound):
			return apis.NewNotFoundError("Order not found", err)
		default:
			return apis.NewApiError(http.StatusServiceUnavailable, "Please try again later", err)
		}
	}

	return e.JSON(http.StatusOK, order)
}

// GetOrderHistory - Get the authenticated user's orders
func (h *OrderHandler) GetOrderHistory(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	orders, err := h.reservation.ListOrders(e.Request.Context(), e.Auth.Id, 20)
	if err != nil {
		return apis.NewApiError(http.StatusServiceUnavailable, "Please try again later", err)
	}

	return e.JSON(http.StatusOK, orders)
}

// GetConcertStock - Remaining/total ticket counts for a concert
func (h *OrderHandler) GetConcertStock(e *core.RequestEvent) error {
	concertID := e.Request.PathValue("concertId")
	if concertID == "" {
		return apis.NewBadRequestError("Concert ID is required", nil)
	}

	stock, err := h.reservation.ConcertStock(e.Request.Context(), concertID)
	if err != nil {
		if errors.Is(err, status.ErrConcertNotFound) {
			return apis.NewNotFoundError("Concert not found", err)
		}
		return apis.NewApiError(http.StatusServiceUnavailable, "Please try again later", err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"concert_id":        stock.ConcertID,
		"tickets_total":     stock.Total,
		"tickets_remaining": stock.Remaining,
		"sold_out":          stock.SoldOut(),
	})
}
