package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pokearcanum/marketplace/internal/model"
)

// UserRepo manages persistence for users, including the refresh token
// columns that live on the users row.  Storing the hash and expiry
// directly on the user guarantees at most one live refresh token per
// user: every issue overwrites the previous one.
type UserRepo struct{ db *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{db: db} }

// DB exposes the underlying sql.DB for callers that need to begin
// transactions spanning multiple repositories.
func (r *UserRepo) DB() *sql.DB { return r.db }

const userColumns = "id, email, username, password_hash, refresh_token_hash, refresh_token_expires_at, created_at, updated_at"

func scanUser(row *sql.Row) (model.User, error) {
	var (
		u    model.User
		hash sql.NullString
		exp  sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Email, &u.Username, &u.PasswordHash, &hash, &exp, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return model.User{}, err
	}
	if hash.Valid {
		h := hash.String
		u.RefreshTokenHash = &h
	}
	if exp.Valid {
		t := exp.Time.UTC()
		u.RefreshExpiresAt = &t
	}
	return u, nil
}

// Create inserts a user and returns its ID.  The caller supplies an
// already-bcrypt-hashed password.  A duplicate email surfaces as
// ErrEmailExists.
func (r *UserRepo) Create(ctx context.Context, email, username, passwordHash string) (uint64, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	res, err := r.db.ExecContext(ctx,
		"INSERT INTO users (email, username, password_hash) VALUES (?,?,?)",
		email, username, passwordHash)
	if err != nil {
		if isDuplicate(err) {
			return 0, ErrEmailExists
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// ByEmail fetches a user by normalized email.
func (r *UserRepo) ByEmail(ctx context.Context, email string) (model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return scanUser(r.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email=? LIMIT 1", email))
}

// ByID fetches a user by id.
func (r *UserRepo) ByID(ctx context.Context, id uint64) (model.User, error) {
	return scanUser(r.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id))
}

// SaveRefresh stores the hash and expiry of a freshly minted refresh
// token on the user row, replacing whatever token was live before.
func (r *UserRepo) SaveRefresh(ctx context.Context, userID uint64, hash string, exp time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE users SET refresh_token_hash=?, refresh_token_expires_at=? WHERE id=?",
		hash, exp.UTC(), userID)
	return err
}

// RotateRefresh atomically swaps the stored refresh token hash.  It
// locates the user holding oldHash, checks the stored expiry against
// now, and overwrites hash and expiry in the same transaction with the
// old hash as a guard.  When two rotations race on the same stale
// token, the row lock serializes them and the loser sees zero affected
// rows.  All failure modes return sql.ErrNoRows so callers cannot
// distinguish an unknown token from an expired or already-rotated one.
func (r *UserRepo) RotateRefresh(ctx context.Context, oldHash, newHash string, now, exp time.Time) (model.User, error) {
	var u model.User
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		var storedExp sql.NullTime
		err := tx.QueryRowContext(ctx,
			"SELECT id, email, username, refresh_token_expires_at FROM users WHERE refresh_token_hash=? LIMIT 1 FOR UPDATE",
			oldHash).Scan(&u.ID, &u.Email, &u.Username, &storedExp)
		if err != nil {
			return err
		}
		if !storedExp.Valid || !now.Before(storedExp.Time.UTC()) {
			return sql.ErrNoRows
		}
		res, err := tx.ExecContext(ctx,
			"UPDATE users SET refresh_token_hash=?, refresh_token_expires_at=? WHERE id=? AND refresh_token_hash=?",
			newHash, exp.UTC(), u.ID, oldHash)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n != 1 {
			return sql.ErrNoRows
		}
		return nil
	})
	if err != nil {
		return model.User{}, err
	}
	return u, nil
}

// ClearRefresh revokes the user's live refresh token, if any.  Access
// tokens already issued stay valid until their own expiry.
func (r *UserRepo) ClearRefresh(ctx context.Context, userID uint64) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE users SET refresh_token_hash=NULL, refresh_token_expires_at=NULL WHERE id=?",
		userID)
	return err
}

// UpdateProfile changes the username and/or password hash of a user.
// Empty values leave the corresponding column untouched.
func (r *UserRepo) UpdateProfile(ctx context.Context, userID uint64, username, passwordHash string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET username = COALESCE(NULLIF(?, ''), username),
		     password_hash = COALESCE(NULLIF(?, ''), password_hash)
		 WHERE id=?`,
		username, passwordHash, userID)
	return err
}

// Count returns the number of registered users, exposed on a public
// statistics endpoint.
func (r *UserRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n)
	return n, err
}
