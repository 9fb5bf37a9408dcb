package handler

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/pokearcanum/marketplace/internal/model"
	"github.com/pokearcanum/marketplace/internal/repository"
)

// CardStore is the catalog access the card handlers need.  It is
// implemented by repository.CardRepo.
type CardStore interface {
	ByID(ctx context.Context, id uint64) (model.Card, error)
	List(ctx context.Context) ([]model.Card, error)
	Update(ctx context.Context, c model.Card) error
	Delete(ctx context.Context, id uint64) error
}

// CardOwnership resolves which seller a card belongs to.  It is
// implemented by repository.ListingRepo.
type CardOwnership interface {
	SellerOfCard(ctx context.Context, cardID uint64) (uint64, error)
}

// CardHandler exposes the card catalog.  Reads are public; edits are
// restricted to the seller of the listing offering the card.
type CardHandler struct {
	Cards    CardStore
	Listings CardOwnership
}

func NewCardHandler(cards CardStore, listings CardOwnership) *CardHandler {
	return &CardHandler{Cards: cards, Listings: listings}
}

type cardReq struct {
	Name        string `json:"name"`
	HP          int    `json:"hp"`
	Rarity      string `json:"rarity"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// Get returns a single card (public).
func (h *CardHandler) Get(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	card, err := h.Cards.ByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "card not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	return c.JSON(http.StatusOK, card)
}

// List returns the whole catalog (public).
func (h *CardHandler) List(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()

	cards, err := h.Cards.List(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"cards": cards})
}

// ownerOf checks that uid is the seller behind the card's listing.
func (h *CardHandler) ownerOf(c echo.Context, cardID, uid uint64) error {
	ctx, cancel := reqCtx(c)
	defer cancel()

	sellerID, err := h.Listings.SellerOfCard(ctx, cardID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return repository.ErrForbidden
		}
		return err
	}
	if sellerID != uid {
		return repository.ErrForbidden
	}
	return nil
}

// Update edits the attributes of the caller's card (protected).
func (h *CardHandler) Update(c echo.Context) error {
	uid := currentUserID(c)
	if uid == 0 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}
	var req cardReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Rarity = strings.TrimSpace(req.Rarity)
	req.Type = strings.TrimSpace(req.Type)
	if req.Name == "" || req.Rarity == "" || req.Type == "" || req.HP < 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "name/rarity/type required"})
	}

	if err := h.ownerOf(c, id, uid); err != nil {
		if errors.Is(err, repository.ErrForbidden) {
			return c.JSON(http.StatusForbidden, echo.Map{"error": "not your card"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	err := h.Cards.Update(ctx, model.Card{
		ID:          id,
		Name:        req.Name,
		HP:          req.HP,
		Rarity:      req.Rarity,
		Type:        req.Type,
		Description: req.Description,
	})
	switch {
	case err == nil:
		return c.NoContent(http.StatusNoContent)
	case errors.Is(err, sql.ErrNoRows):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "card not found"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "update failed"})
	}
}

// Delete removes a card that is no longer listed (protected).  A card
// still referenced by a listing cannot be deleted, and a listed card
// may only be touched by its seller.  A card whose listing is gone has
// no owner left to consult; any authenticated user may clean it up.
func (h *CardHandler) Delete(c echo.Context) error {
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

	sellerID, err := h.Listings.SellerOfCard(ctx, id)
	switch {
	case err == nil && sellerID != uid:
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not your card"})
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}

	switch err := h.Cards.Delete(ctx, id); {
	case err == nil:
		return c.NoContent(http.StatusNoContent)
	case errors.Is(err, sql.ErrNoRows):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "card not found"})
	case errors.Is(err, repository.ErrConflict):
		return c.JSON(http.StatusConflict, echo.Map{"error": "card still listed"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "delete failed"})
	}
}
