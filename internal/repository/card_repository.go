package repository

import (
	"context"
	"database/sql"

	"github.com/pokearcanum/marketplace/internal/model"
)

// CardRepo provides CRUD operations for catalog cards.  Cards are
// usually created inside the listing-creation transaction; the direct
// Create path exists for catalog maintenance.
type CardRepo struct{ db *sql.DB }

func NewCardRepo(db *sql.DB) *CardRepo { return &CardRepo{db: db} }

const cardColumns = "id, name, hp, rarity, type, image_url, description, created_at"

func scanCard(sc interface{ Scan(...any) error }) (model.Card, error) {
	var c model.Card
	var desc sql.NullString
	err := sc.Scan(&c.ID, &c.Name, &c.HP, &c.Rarity, &c.Type, &c.ImageURL, &desc, &c.CreatedAt)
	if err != nil {
		return model.Card{}, err
	}
	c.Description = desc.String
	return c, nil
}

// CreateTx inserts a card within the scope of an existing transaction
// and populates the generated ID.  The caller must commit or roll back.
func (r *CardRepo) CreateTx(ctx context.Context, tx *sql.Tx, c *model.Card) error {
	res, err := tx.ExecContext(ctx,
		"INSERT INTO cards (name, hp, rarity, type, image_url, description) VALUES (?,?,?,?,?,?)",
		c.Name, c.HP, c.Rarity, c.Type, c.ImageURL, c.Description)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	c.ID = uint64(id)
	return nil
}

// Create inserts a card outside of any transaction and returns its ID.
func (r *CardRepo) Create(ctx context.Context, c *model.Card) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		return r.CreateTx(ctx, tx, c)
	})
}

// ByID fetches a card by id.  sql.ErrNoRows is returned when absent.
func (r *CardRepo) ByID(ctx context.Context, id uint64) (model.Card, error) {
	return scanCard(r.db.QueryRowContext(ctx,
		"SELECT "+cardColumns+" FROM cards WHERE id=? LIMIT 1", id))
}

// List returns all cards ordered by id.
func (r *CardRepo) List(ctx context.Context) ([]model.Card, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+cardColumns+" FROM cards ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	cards := make([]model.Card, 0)
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

// Update overwrites the editable fields of a card.  sql.ErrNoRows is
// returned when the card does not exist.
func (r *CardRepo) Update(ctx context.Context, c model.Card) error {
	// image_url is set once at upload time and is not editable here.
	res, err := r.db.ExecContext(ctx,
		"UPDATE cards SET name=?, hp=?, rarity=?, type=?, description=? WHERE id=?",
		c.Name, c.HP, c.Rarity, c.Type, c.Description, c.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Either the card is absent or nothing changed; distinguish so
		// an idempotent update is not reported as missing.
		var exists int
		if err := r.db.QueryRowContext(ctx, "SELECT 1 FROM cards WHERE id=?", c.ID).Scan(&exists); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes a card.  A card still referenced by a listing cannot
// be deleted; the FK violation surfaces as ErrConflict.
func (r *CardRepo) Delete(ctx context.Context, id uint64) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM cards WHERE id=?", id)
	if err != nil {
		if isFKViolation(err) {
			return ErrConflict
		}
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
