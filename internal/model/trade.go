package model

import "time"

// Trade is the immutable record of a completed sale.  Exactly one
// trade may exist per listing; the `trades.listing_id` column
// carries a UNIQUE constraint so the invariant holds even if the
// status guard on listings were ever bypassed.
//
// AmountCents is a snapshot of the listing price at settlement time
// and is never recomputed from the listing afterwards.
//
// Fields:
//  ID          – primary key identifier.
//  SellerID    – user who sold the card.
//  BuyerID     – user who bought the card; always differs from SellerID.
//  ListingID   – listing that was settled (unique).
//  AmountCents – price paid, in cents.
//  TradedAt    – settlement timestamp (UTC).
type Trade struct {
	ID          uint64    // trades.id
	SellerID    uint64    // trades.seller_id
	BuyerID     uint64    // trades.buyer_id
	ListingID   uint64    // trades.listing_id (UNIQUE)
	AmountCents uint64    // trades.amount_cents
	TradedAt    time.Time // trades.traded_at
}
