// Package queue defines message payloads exchanged over the message broker.
package queue

// TradeSettledEvent is published when a listing settles into a trade.
// It carries enough information for downstream consumers to log,
// notify, or feed analytics without querying the primary database.
type TradeSettledEvent struct {
	TradeID     uint64 `json:"trade_id"`
	ListingID   uint64 `json:"listing_id"`
	SellerID    uint64 `json:"seller_id"`
	BuyerID     uint64 `json:"buyer_id"`
	SellerName  string `json:"seller_name"`
	BuyerName   string `json:"buyer_name"`
	AmountCents uint64 `json:"amount_cents"`
	SettledAt   string `json:"settled_at"`
}
