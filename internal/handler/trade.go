package handler

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/pokearcanum/marketplace/internal/repository"
	"github.com/pokearcanum/marketplace/internal/service"
)

// How many trades the public storefront projections show.
const (
	recentTrades = 5
	statsTrades  = 30
)

// TradeReader is the trade history access the handlers need.  It is
// implemented by repository.TradeRepo.
type TradeReader interface {
	DetailByID(ctx context.Context, id uint64) (repository.TradeDetail, error)
	ListForUser(ctx context.Context, userID uint64) ([]repository.TradeDetail, error)
	Recent(ctx context.Context, n int) ([]repository.TradeDetail, error)
}

// TradeHandler exposes settlement and trade history over HTTP.
type TradeHandler struct {
	Settlement *service.Settlement
	Trades     TradeReader
}

func NewTradeHandler(s *service.Settlement, t TradeReader) *TradeHandler {
	return &TradeHandler{Settlement: s, Trades: t}
}

type settleReq struct {
	ListingID uint64 `json:"listing_id"`
}

// Settle buys a listing for the caller.  At most one buyer ever
// succeeds per listing; everyone else gets a conflict.
func (h *TradeHandler) Settle(c echo.Context) error {
	uid := currentUserID(c)
	if uid == 0 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req settleReq
	if err := c.Bind(&req); err != nil || req.ListingID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "listing_id required"})
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	t, err := h.Settlement.Settle(ctx, uid, req.ListingID)
	switch {
	case err == nil:
		return c.JSON(http.StatusCreated, echo.Map{
			"trade_id":     t.ID,
			"listing_id":   t.ListingID,
			"seller_id":    t.SellerID,
			"buyer_id":     t.BuyerID,
			"amount_cents": t.AmountCents,
			"traded_at":    t.TradedAt,
		})
	case errors.Is(err, service.ErrListingNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "listing not found"})
	case errors.Is(err, service.ErrSelfPurchase):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "cannot buy own listing"})
	case errors.Is(err, repository.ErrNotAvailable):
		return c.JSON(http.StatusConflict, echo.Map{"error": "listing not available"})
	case errors.Is(err, service.ErrBuyerUnknown):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unknown user"})
	default:
		// includes ErrOrphanListing, already logged by the service
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "settlement failed"})
	}
}

// Get returns one trade; only its buyer or seller may see it.
func (h *TradeHandler) Get(c echo.Context) error {
	uid := currentUserID(c)
	if uid == 0 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	d, err := h.Trades.DetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "trade not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	if d.SellerID != uid && d.BuyerID != uid {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not your trade"})
	}
	return c.JSON(http.StatusOK, d)
}

// Mine returns every trade the caller participated in, as buyer or
// seller, newest first.
func (h *TradeHandler) Mine(c echo.Context) error {
	uid := currentUserID(c)
	if uid == 0 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	items, err := h.Trades.ListForUser(ctx, uid)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"trades": items})
}

// Recent returns the latest settled trades for the storefront (public).
func (h *TradeHandler) Recent(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()

	items, err := h.Trades.Recent(ctx, recentTrades)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"trades": items})
}

// Stats returns the most recent trades joined with participant names
// and the card, plus aggregates over that window (public).
func (h *TradeHandler) Stats(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()

	items, err := h.Trades.Recent(ctx, statsTrades)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	var total uint64
	for _, t := range items {
		total += t.AmountCents
	}
	avg := uint64(0)
	if len(items) > 0 {
		avg = total / uint64(len(items))
	}
	return c.JSON(http.StatusOK, echo.Map{
		"trades":        items,
		"count":         len(items),
		"total_cents":   total,
		"average_cents": avg,
	})
}
