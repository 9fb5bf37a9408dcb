// Package service holds the two cores of the marketplace: settlement of
// listings into trades and the access/refresh session lifecycle.  Both
// are written against narrow store interfaces so they can be exercised
// in tests without a database or an HTTP layer, and both receive the
// caller's identity as an explicit argument rather than reading it from
// ambient request state.
package service

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"github.com/pokearcanum/marketplace/internal/model"
	"github.com/pokearcanum/marketplace/internal/queue"
	"github.com/pokearcanum/marketplace/internal/repository"
)

// Sentinel errors for settlement; handlers map them to HTTP statuses.
var (
	ErrListingNotFound = errors.New("listing not found")
	ErrSelfPurchase    = errors.New("cannot buy own listing")
	ErrBuyerUnknown    = errors.New("buyer not found")
	// ErrOrphanListing means a listing references a seller that no
	// longer exists.  That breaks an invariant maintained elsewhere, so
	// it is logged loudly and reported as an internal error, never as a
	// user mistake.
	ErrOrphanListing = errors.New("listing references missing seller")
)

// ListingStore is the minimal listing access needed for settlement.
type ListingStore interface {
	ByID(ctx context.Context, id uint64) (model.Listing, error)
	Reserve(ctx context.Context, listingID, buyerID uint64, now, until time.Time) (bool, error)
	Release(ctx context.Context, listingID, buyerID uint64) (bool, error)
}

// TradeStore performs the atomic sold-flip plus trade insert.  The
// implementation must guarantee that for a given listing at most one
// call ever succeeds; all others return repository.ErrNotAvailable.
type TradeStore interface {
	Complete(ctx context.Context, listingID, buyerID uint64, at time.Time) (model.Trade, error)
}

// UserStore is the minimal user lookup needed for settlement.
type UserStore interface {
	ByID(ctx context.Context, id uint64) (model.User, error)
}

// Settlement owns the listing state machine.  It is the only component
// allowed to move a listing to SOLD, and the only one that creates
// trades.
type Settlement struct {
	listings   ListingStore
	trades     TradeStore
	users      UserStore
	reserveTTL time.Duration
	now        func() time.Time
	// publish is called after a successful settlement; nil disables
	// event publishing.  Failures are logged and ignored, the trade
	// stands either way.
	publish func(context.Context, queue.TradeSettledEvent) error
}

// NewSettlement wires a Settlement service.  reserveTTL bounds how long
// a reservation holds a listing.
func NewSettlement(listings ListingStore, trades TradeStore, users UserStore, reserveTTL time.Duration,
	publish func(context.Context, queue.TradeSettledEvent) error) *Settlement {
	return &Settlement{
		listings:   listings,
		trades:     trades,
		users:      users,
		reserveTTL: reserveTTL,
		now:        func() time.Time { return time.Now().UTC() },
		publish:    publish,
	}
}

// Settle sells the listing to buyerID.  Preconditions are checked in a
// fixed order, each with its own error: the listing must exist, must
// not belong to the buyer (checked before availability, so buying your
// own listing is rejected the same way whatever its status), must be
// available to this buyer, and both participants must exist.  The
// sold-flip and the trade insert then happen atomically in the store;
// losing a race there surfaces as repository.ErrNotAvailable exactly
// like a listing that was already sold.
func (s *Settlement) Settle(ctx context.Context, buyerID, listingID uint64) (model.Trade, error) {
	now := s.now()

	l, err := s.listings.ByID(ctx, listingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Trade{}, ErrListingNotFound
		}
		return model.Trade{}, err
	}
	if l.SellerID == buyerID {
		return model.Trade{}, ErrSelfPurchase
	}
	if !l.AvailableTo(buyerID, now) {
		return model.Trade{}, repository.ErrNotAvailable
	}

	buyer, err := s.users.ByID(ctx, buyerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Trade{}, ErrBuyerUnknown
		}
		return model.Trade{}, err
	}
	seller, err := s.users.ByID(ctx, l.SellerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Printf("ALERT: listing %d references missing seller %d", l.ID, l.SellerID)
			return model.Trade{}, ErrOrphanListing
		}
		return model.Trade{}, err
	}

	t, err := s.trades.Complete(ctx, listingID, buyerID, now)
	if err != nil {
		return model.Trade{}, err
	}

	if s.publish != nil {
		ev := queue.TradeSettledEvent{
			TradeID:     t.ID,
			ListingID:   t.ListingID,
			SellerID:    t.SellerID,
			BuyerID:     t.BuyerID,
			SellerName:  seller.Username,
			BuyerName:   buyer.Username,
			AmountCents: t.AmountCents,
			SettledAt:   t.TradedAt.Format(time.RFC3339),
		}
		if err := s.publish(ctx, ev); err != nil {
			log.Printf("settlement: publish trade.settled failed: %v", err)
		}
	}
	return t, nil
}

// Reserve places a time-boxed hold on a listing so the buyer can
// complete a purchase without losing it to another buyer.  The same
// self-dealing and existence rules as Settle apply.  It returns the
// instant the hold expires.
func (s *Settlement) Reserve(ctx context.Context, buyerID, listingID uint64) (time.Time, error) {
	now := s.now()

	l, err := s.listings.ByID(ctx, listingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, ErrListingNotFound
		}
		return time.Time{}, err
	}
	if l.SellerID == buyerID {
		return time.Time{}, ErrSelfPurchase
	}
	if _, err := s.users.ByID(ctx, buyerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, ErrBuyerUnknown
		}
		return time.Time{}, err
	}

	until := now.Add(s.reserveTTL)
	ok, err := s.listings.Reserve(ctx, listingID, buyerID, now, until)
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		return time.Time{}, repository.ErrNotAvailable
	}
	return until, nil
}

// Release gives up the caller's hold on a listing, returning it to the
// open market.  Releasing a listing the caller does not hold is a
// conflict.
func (s *Settlement) Release(ctx context.Context, buyerID, listingID uint64) error {
	if _, err := s.listings.ByID(ctx, listingID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrListingNotFound
		}
		return err
	}
	ok, err := s.listings.Release(ctx, listingID, buyerID)
	if err != nil {
		return err
	}
	if !ok {
		return repository.ErrNotAvailable
	}
	return nil
}
