package model

import "time"

// Listing status values.  A listing starts AVAILABLE, may pass
// through a time-boxed RESERVED hold, and ends SOLD.  SOLD is
// terminal: the transition to it happens exactly once and is only
// performed by the settlement service.
const (
	ListingAvailable = "AVAILABLE"
	ListingReserved  = "RESERVED"
	ListingSold      = "SOLD"
)

// Listing is a seller's offer to sell one card at a fixed price.
//
// ReservedBy and ReservedUntil are only set while Status is
// RESERVED. A reservation whose ReservedUntil has passed counts as
// available again; the columns are cleared on settlement.
//
// Fields:
//  ID            – primary key identifier.
//  SellerID      – user offering the card.
//  CardID        – card being sold.
//  PriceCents    – asking price in cents.
//  Status        – AVAILABLE, RESERVED or SOLD.
//  ReservedBy    – user holding the reservation (nullable).
//  ReservedUntil – expiry of the reservation (nullable).
//  CreatedAt     – timestamp of creation.
//  UpdatedAt     – timestamp of last update.
type Listing struct {
	ID            uint64     // listings.id
	SellerID      uint64     // listings.seller_id
	CardID        uint64     // listings.card_id
	PriceCents    uint64     // listings.price_cents
	Status        string     // listings.status
	ReservedBy    *uint64    // listings.reserved_by (nullable)
	ReservedUntil *time.Time // listings.reserved_until (nullable)
	CreatedAt     time.Time  // listings.created_at
	UpdatedAt     time.Time  // listings.updated_at
}

// AvailableTo reports whether the listing can be settled or
// reserved by the given user at the given instant.  A listing is
// available when it is AVAILABLE, when the user already holds its
// reservation, or when the reservation of another user has expired.
func (l Listing) AvailableTo(userID uint64, now time.Time) bool {
	switch l.Status {
	case ListingAvailable:
		return true
	case ListingReserved:
		if l.ReservedBy != nil && *l.ReservedBy == userID {
			return true
		}
		// A hold with no recorded expiry never lapses for other
		// buyers, matching the SQL guard where the comparison against
		// a NULL reserved_until is false.
		return l.ReservedUntil != nil && !now.Before(*l.ReservedUntil)
	default:
		return false
	}
}
