package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/pokearcanum/marketplace/internal/model"
)

// ListingRepo manages persistence for marketplace listings.  Status
// transitions are never written here as unconditional updates: every
// write that moves a listing between AVAILABLE, RESERVED and SOLD
// carries the previous state in its WHERE clause so concurrent writers
// cannot both succeed.
type ListingRepo struct{ db *sql.DB }

func NewListingRepo(db *sql.DB) *ListingRepo { return &ListingRepo{db: db} }

// DB exposes the underlying sql.DB.  It allows handlers to begin
// transactions spanning multiple repositories, e.g. creating a card and
// its listing as one unit.
func (r *ListingRepo) DB() *sql.DB { return r.db }

const listingColumns = "id, seller_id, card_id, price_cents, status, reserved_by, reserved_until, created_at, updated_at"

func scanListing(sc interface{ Scan(...any) error }) (model.Listing, error) {
	var (
		l     model.Listing
		resBy sql.NullInt64
		resAt sql.NullTime
	)
	err := sc.Scan(&l.ID, &l.SellerID, &l.CardID, &l.PriceCents, &l.Status, &resBy, &resAt, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return model.Listing{}, err
	}
	if resBy.Valid {
		v := uint64(resBy.Int64)
		l.ReservedBy = &v
	}
	if resAt.Valid {
		t := resAt.Time.UTC()
		l.ReservedUntil = &t
	}
	return l, nil
}

// CreateTx inserts a listing within an existing transaction and
// populates the generated ID.  The caller must commit or roll back.
func (r *ListingRepo) CreateTx(ctx context.Context, tx *sql.Tx, l *model.Listing) error {
	res, err := tx.ExecContext(ctx,
		"INSERT INTO listings (seller_id, card_id, price_cents, status) VALUES (?,?,?,?)",
		l.SellerID, l.CardID, l.PriceCents, model.ListingAvailable)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	l.ID = uint64(id)
	l.Status = model.ListingAvailable
	return nil
}

// ByID fetches a listing by id.  sql.ErrNoRows is returned when absent.
func (r *ListingRepo) ByID(ctx context.Context, id uint64) (model.Listing, error) {
	return scanListing(r.db.QueryRowContext(ctx,
		"SELECT "+listingColumns+" FROM listings WHERE id=? LIMIT 1", id))
}

// ListingDetail is a listing joined with its card and the seller's
// display name, shaped for API responses.
type ListingDetail struct {
	ID          uint64    `json:"id"`
	SellerID    uint64    `json:"seller_id"`
	SellerName  string    `json:"seller_name"`
	PriceCents  uint64    `json:"price_cents"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	CardID      uint64    `json:"card_id"`
	CardName    string    `json:"card_name"`
	HP          int       `json:"hp"`
	Rarity      string    `json:"rarity"`
	Type        string    `json:"type"`
	ImageURL    string    `json:"image_url"`
	Description string    `json:"description"`
}

const detailQuery = `SELECT l.id, l.seller_id, u.username, l.price_cents, l.status, l.created_at,
                            c.id, c.name, c.hp, c.rarity, c.type, c.image_url, COALESCE(c.description, '')
                     FROM listings l
                     JOIN users u ON u.id = l.seller_id
                     JOIN cards c ON c.id = l.card_id`

func (r *ListingRepo) queryDetails(ctx context.Context, q string, args ...any) ([]ListingDetail, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]ListingDetail, 0)
	for rows.Next() {
		var d ListingDetail
		if err := rows.Scan(
			&d.ID, &d.SellerID, &d.SellerName, &d.PriceCents, &d.Status, &d.CreatedAt,
			&d.CardID, &d.CardName, &d.HP, &d.Rarity, &d.Type, &d.ImageURL, &d.Description,
		); err != nil {
			return nil, err
		}
		d.CreatedAt = d.CreatedAt.UTC()
		out = append(out, d)
	}
	return out, rows.Err()
}

// DetailByID returns a single listing with card and seller info.
func (r *ListingRepo) DetailByID(ctx context.Context, id uint64) (ListingDetail, error) {
	details, err := r.queryDetails(ctx, detailQuery+" WHERE l.id = ?", id)
	if err != nil {
		return ListingDetail{}, err
	}
	if len(details) == 0 {
		return ListingDetail{}, sql.ErrNoRows
	}
	return details[0], nil
}

// ListBySeller returns all listings owned by the given seller, newest
// first.
func (r *ListingRepo) ListBySeller(ctx context.Context, sellerID uint64) ([]ListingDetail, error) {
	return r.queryDetails(ctx, detailQuery+" WHERE l.seller_id = ? ORDER BY l.id DESC", sellerID)
}

// ListAvailable returns every listing currently open to buyers.
// Reserved listings are included so the storefront can display the
// hold; settlement enforces who may actually buy.
func (r *ListingRepo) ListAvailable(ctx context.Context) ([]ListingDetail, error) {
	return r.queryDetails(ctx, detailQuery+" WHERE l.status = ? ORDER BY l.id DESC", model.ListingAvailable)
}

// ListTop returns the n most recently created available listings,
// descending by id (creation order).
func (r *ListingRepo) ListTop(ctx context.Context, n int) ([]ListingDetail, error) {
	return r.queryDetails(ctx, detailQuery+" WHERE l.status = ? ORDER BY l.id DESC LIMIT ?", model.ListingAvailable, n)
}

// SellerOfCard returns the seller of the listing that offers the given
// card.  Cards are created one-per-listing, so a card has at most one
// seller; sql.ErrNoRows means the card is not listed.
func (r *ListingRepo) SellerOfCard(ctx context.Context, cardID uint64) (uint64, error) {
	var sellerID uint64
	err := r.db.QueryRowContext(ctx,
		"SELECT seller_id FROM listings WHERE card_id=? LIMIT 1", cardID).Scan(&sellerID)
	return sellerID, err
}

// checkOwned loads seller and status for an ownership-guarded write.
// It returns sql.ErrNoRows when the listing is absent, ErrForbidden
// when owned by someone else and ErrConflict when already sold.
func (r *ListingRepo) checkOwned(ctx context.Context, id, sellerID uint64) error {
	var owner uint64
	var status string
	err := r.db.QueryRowContext(ctx,
		"SELECT seller_id, status FROM listings WHERE id=? LIMIT 1", id).Scan(&owner, &status)
	if err != nil {
		return err
	}
	if owner != sellerID {
		return ErrForbidden
	}
	if status == model.ListingSold {
		return ErrConflict
	}
	return nil
}

// UpdatePrice changes the asking price of an unsold listing owned by
// sellerID.  Status is deliberately not editable here: transitions
// belong to the settlement flow alone.
func (r *ListingRepo) UpdatePrice(ctx context.Context, id, sellerID, priceCents uint64) error {
	if err := r.checkOwned(ctx, id, sellerID); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx,
		"UPDATE listings SET price_cents=? WHERE id=? AND seller_id=? AND status<>?",
		priceCents, id, sellerID, model.ListingSold)
	return err
}

// Delete removes an unsold listing owned by sellerID.  Sold listings
// are immutable because a trade references them.
func (r *ListingRepo) Delete(ctx context.Context, id, sellerID uint64) error {
	if err := r.checkOwned(ctx, id, sellerID); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx,
		"DELETE FROM listings WHERE id=? AND seller_id=? AND status<>?",
		id, sellerID, model.ListingSold)
	return err
}

// Reserve places a time-boxed hold on a listing for buyerID.  The
// guard admits listings that are AVAILABLE, already held by this
// buyer (extending the hold), or held by someone whose hold expired.
// It reports whether the hold was taken.
func (r *ListingRepo) Reserve(ctx context.Context, listingID, buyerID uint64, now, until time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE listings SET status=?, reserved_by=?, reserved_until=?
		 WHERE id=? AND (
		       status=?
		    OR (status=? AND reserved_by=?)
		    OR (status=? AND reserved_until <= ?))`,
		model.ListingReserved, buyerID, until.UTC(),
		listingID,
		model.ListingAvailable,
		model.ListingReserved, buyerID,
		model.ListingReserved, now.UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Release returns a reserved listing to AVAILABLE.  Only the holder of
// the reservation may release it; for anyone else the guard fails and
// false is reported.
func (r *ListingRepo) Release(ctx context.Context, listingID, buyerID uint64) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE listings SET status=?, reserved_by=NULL, reserved_until=NULL WHERE id=? AND status=? AND reserved_by=?",
		model.ListingAvailable, listingID, model.ListingReserved, buyerID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
