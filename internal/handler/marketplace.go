package handler

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/pokearcanum/marketplace/internal/model"
	"github.com/pokearcanum/marketplace/internal/repository"
	"github.com/pokearcanum/marketplace/internal/service"
	"github.com/pokearcanum/marketplace/internal/storage"
)

// topListings is how many listings the public storefront shows.
const topListings = 5

// maxImageBytes caps uploaded card images.
const maxImageBytes = 5 << 20

// MarketplaceHandler covers the seller side of the marketplace:
// creating, pricing and withdrawing listings, plus the public browse
// endpoints and the reservation flow.
type MarketplaceHandler struct {
	Listings   *repository.ListingRepo
	Cards      *repository.CardRepo
	Settlement *service.Settlement
	Blobs      storage.BlobStore
}

func NewMarketplaceHandler(l *repository.ListingRepo, cards *repository.CardRepo,
	settle *service.Settlement, blobs storage.BlobStore) *MarketplaceHandler {
	return &MarketplaceHandler{Listings: l, Cards: cards, Settlement: settle, Blobs: blobs}
}

type priceReq struct {
	PriceCents uint64 `json:"price_cents"`
}

// Create lists a card for sale.  The request is a multipart form
// carrying the card attributes, the asking price and an optional
// image.  Card and listing are inserted in one transaction so a
// failed listing never leaves a dangling card.
func (h *MarketplaceHandler) Create(c echo.Context) error {
	uid := currentUserID(c)
	if uid == 0 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	name := strings.TrimSpace(c.FormValue("name"))
	rarity := strings.TrimSpace(c.FormValue("rarity"))
	cardType := strings.TrimSpace(c.FormValue("type"))
	description := strings.TrimSpace(c.FormValue("description"))
	if name == "" || rarity == "" || cardType == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "name/rarity/type required"})
	}
	hp, err := strconv.Atoi(c.FormValue("hp"))
	if err != nil || hp < 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid hp"})
	}
	price, err := strconv.ParseUint(c.FormValue("price_cents"), 10, 64)
	if err != nil || price == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid price_cents"})
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	imageURL := ""
	if fh, ferr := c.FormFile("image"); ferr == nil {
		if fh.Size > maxImageBytes {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "image too large"})
		}
		f, oerr := fh.Open()
		if oerr != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "unreadable image"})
		}
		defer f.Close()
		imageURL, err = h.Blobs.Upload(ctx, f, fh.Filename)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "image upload failed"})
		}
	}

	card := model.Card{
		Name:        name,
		HP:          hp,
		Rarity:      rarity,
		Type:        cardType,
		ImageURL:    imageURL,
		Description: description,
	}
	listing := model.Listing{
		SellerID:   uid,
		PriceCents: price,
		Status:     model.ListingAvailable,
	}

	tx, err := h.Listings.DB().BeginTx(ctx, nil)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "create listing failed"})
	}
	if err := h.Cards.CreateTx(ctx, tx, &card); err != nil {
		_ = tx.Rollback()
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "create card failed"})
	}
	listing.CardID = card.ID
	if err := h.Listings.CreateTx(ctx, tx, &listing); err != nil {
		_ = tx.Rollback()
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "create listing failed"})
	}
	if err := tx.Commit(); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "create listing failed"})
	}

	return c.JSON(http.StatusCreated, echo.Map{
		"listing_id": listing.ID,
		"card_id":    card.ID,
		"status":     listing.Status,
	})
}

// Get returns one listing with its card and seller name (public).
func (h *MarketplaceHandler) Get(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	d, err := h.Listings.DetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "listing not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	return c.JSON(http.StatusOK, d)
}

// Mine returns the caller's listings in every status (protected).
func (h *MarketplaceHandler) Mine(c echo.Context) error {
	uid := currentUserID(c)
	if uid == 0 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	items, err := h.Listings.ListBySeller(ctx, uid)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"listings": items})
}

// All returns every listing currently open to buyers (public).
func (h *MarketplaceHandler) All(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()

	items, err := h.Listings.ListAvailable(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"listings": items})
}

// Top returns the newest available listings for the storefront (public).
func (h *MarketplaceHandler) Top(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()

	items, err := h.Listings.ListTop(ctx, topListings)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"listings": items})
}

// UpdatePrice changes the asking price of the caller's listing.  The
// status is never editable through this endpoint; only settlement
// moves a listing to SOLD.
func (h *MarketplaceHandler) UpdatePrice(c echo.Context) error {
	uid := currentUserID(c)
	if uid == 0 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}
	var req priceReq
	if err := c.Bind(&req); err != nil || req.PriceCents == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid price_cents"})
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	switch err := h.Listings.UpdatePrice(ctx, id, uid, req.PriceCents); {
	case err == nil:
		return c.NoContent(http.StatusNoContent)
	case errors.Is(err, sql.ErrNoRows):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "listing not found"})
	case errors.Is(err, repository.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not your listing"})
	case errors.Is(err, repository.ErrConflict):
		return c.JSON(http.StatusConflict, echo.Map{"error": "listing already sold"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "update failed"})
	}
}

// Delete withdraws the caller's unsold listing.
func (h *MarketplaceHandler) Delete(c echo.Context) error {
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

	switch err := h.Listings.Delete(ctx, id, uid); {
	case err == nil:
		return c.NoContent(http.StatusNoContent)
	case errors.Is(err, sql.ErrNoRows):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "listing not found"})
	case errors.Is(err, repository.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not your listing"})
	case errors.Is(err, repository.ErrConflict):
		return c.JSON(http.StatusConflict, echo.Map{"error": "listing already sold"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "delete failed"})
	}
}

// Reserve places a time-boxed hold on a listing for the caller.
func (h *MarketplaceHandler) Reserve(c echo.Context) error {
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

	until, err := h.Settlement.Reserve(ctx, uid, id)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, echo.Map{"reserved_until": until.Format(time.RFC3339)})
	case errors.Is(err, service.ErrListingNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "listing not found"})
	case errors.Is(err, service.ErrSelfPurchase):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "cannot reserve own listing"})
	case errors.Is(err, service.ErrBuyerUnknown):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unknown user"})
	case errors.Is(err, repository.ErrNotAvailable):
		return c.JSON(http.StatusConflict, echo.Map{"error": "listing not available"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "reserve failed"})
	}
}

// Release drops the caller's hold on a listing.
func (h *MarketplaceHandler) Release(c echo.Context) error {
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

	switch err := h.Settlement.Release(ctx, uid, id); {
	case err == nil:
		return c.NoContent(http.StatusNoContent)
	case errors.Is(err, service.ErrListingNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "listing not found"})
	case errors.Is(err, repository.ErrNotAvailable):
		return c.JSON(http.StatusConflict, echo.Map{"error": "not your reservation"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "release failed"})
	}
}
