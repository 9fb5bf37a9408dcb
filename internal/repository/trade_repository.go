package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/pokearcanum/marketplace/internal/model"
)

// TradeRepo manages persistence for trades and performs the atomic
// settlement write: flipping a listing to SOLD and inserting its trade
// inside one transaction.
type TradeRepo struct{ db *sql.DB }

func NewTradeRepo(db *sql.DB) *TradeRepo { return &TradeRepo{db: db} }

// Complete converts an available listing into a trade for buyerID.
//
// The availability check and the status flip are a single conditional
// UPDATE, so when many buyers race on one listing exactly one of them
// observes RowsAffected==1; everyone else gets ErrNotAvailable.  The
// trade amount is re-read inside the transaction so it snapshots the
// price that was current at the moment the listing sold.  The UNIQUE
// key on trades.listing_id backs the same invariant at the schema
// level.  Transient lock errors retry once via withTx.
func (r *TradeRepo) Complete(ctx context.Context, listingID, buyerID uint64, at time.Time) (model.Trade, error) {
	var t model.Trade
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE listings SET status=?, reserved_by=NULL, reserved_until=NULL
			 WHERE id=? AND (
			       status=?
			    OR (status=? AND reserved_by=?)
			    OR (status=? AND reserved_until <= ?))`,
			model.ListingSold,
			listingID,
			model.ListingAvailable,
			model.ListingReserved, buyerID,
			model.ListingReserved, at.UTC())
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n != 1 {
			return ErrNotAvailable
		}
		var sellerID, priceCents uint64
		if err := tx.QueryRowContext(ctx,
			"SELECT seller_id, price_cents FROM listings WHERE id=?", listingID).
			Scan(&sellerID, &priceCents); err != nil {
			return err
		}
		ins, err := tx.ExecContext(ctx,
			"INSERT INTO trades (seller_id, buyer_id, listing_id, amount_cents, traded_at) VALUES (?,?,?,?,?)",
			sellerID, buyerID, listingID, priceCents, at.UTC())
		if err != nil {
			if isDuplicate(err) {
				// A trade already exists for this listing; the status
				// guard was bypassed somehow.  Refuse the sale.
				return ErrNotAvailable
			}
			return err
		}
		id, err := ins.LastInsertId()
		if err != nil {
			return err
		}
		t = model.Trade{
			ID:          uint64(id),
			SellerID:    sellerID,
			BuyerID:     buyerID,
			ListingID:   listingID,
			AmountCents: priceCents,
			TradedAt:    at.UTC(),
		}
		return nil
	})
	if err != nil {
		return model.Trade{}, err
	}
	return t, nil
}

// TradeDetail is a trade joined with both participants' display names
// and the card that changed hands.
type TradeDetail struct {
	ID          uint64    `json:"id"`
	ListingID   uint64    `json:"listing_id"`
	SellerID    uint64    `json:"seller_id"`
	BuyerID     uint64    `json:"buyer_id"`
	SellerName  string    `json:"seller_name"`
	BuyerName   string    `json:"buyer_name"`
	CardName    string    `json:"card_name"`
	AmountCents uint64    `json:"amount_cents"`
	TradedAt    time.Time `json:"traded_at"`
}

const tradeDetailQuery = `SELECT t.id, t.listing_id, t.seller_id, t.buyer_id, s.username, b.username, c.name, t.amount_cents, t.traded_at
                          FROM trades t
                          JOIN users s ON s.id = t.seller_id
                          JOIN users b ON b.id = t.buyer_id
                          JOIN listings l ON l.id = t.listing_id
                          JOIN cards c ON c.id = l.card_id`

func (r *TradeRepo) queryDetails(ctx context.Context, q string, args ...any) ([]TradeDetail, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]TradeDetail, 0)
	for rows.Next() {
		var d TradeDetail
		if err := rows.Scan(&d.ID, &d.ListingID, &d.SellerID, &d.BuyerID,
			&d.SellerName, &d.BuyerName, &d.CardName, &d.AmountCents, &d.TradedAt); err != nil {
			return nil, err
		}
		d.TradedAt = d.TradedAt.UTC()
		out = append(out, d)
	}
	return out, rows.Err()
}

// DetailByID returns one trade with participant and card info.
func (r *TradeRepo) DetailByID(ctx context.Context, id uint64) (TradeDetail, error) {
	details, err := r.queryDetails(ctx, tradeDetailQuery+" WHERE t.id = ?", id)
	if err != nil {
		return TradeDetail{}, err
	}
	if len(details) == 0 {
		return TradeDetail{}, sql.ErrNoRows
	}
	return details[0], nil
}

// ListForUser returns all trades in which the user took part, as buyer
// or as seller, newest first.
func (r *TradeRepo) ListForUser(ctx context.Context, userID uint64) ([]TradeDetail, error) {
	return r.queryDetails(ctx,
		tradeDetailQuery+" WHERE t.buyer_id = ? OR t.seller_id = ? ORDER BY t.traded_at DESC, t.id DESC",
		userID, userID)
}

// Recent returns the n most recent trades for the public activity
// feed.
func (r *TradeRepo) Recent(ctx context.Context, n int) ([]TradeDetail, error) {
	return r.queryDetails(ctx,
		tradeDetailQuery+" ORDER BY t.traded_at DESC, t.id DESC LIMIT ?", n)
}
