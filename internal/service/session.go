package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/pokearcanum/marketplace/internal/model"
	"github.com/pokearcanum/marketplace/internal/utils"
)

// Sentinel errors for session operations.  Every refresh failure mode
// (unknown token, expired, already rotated) collapses into
// ErrInvalidRefresh so the API leaks nothing about which check failed.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidRefresh     = errors.New("invalid refresh token")
)

// SessionStore is the user persistence needed by the session manager.
// It is implemented by repository.UserRepo.
type SessionStore interface {
	Create(ctx context.Context, email, username, passwordHash string) (uint64, error)
	ByEmail(ctx context.Context, email string) (model.User, error)
	ByID(ctx context.Context, id uint64) (model.User, error)
	SaveRefresh(ctx context.Context, userID uint64, hash string, exp time.Time) error
	// RotateRefresh swaps oldHash for newHash atomically, guarded by
	// oldHash, and returns the owning user.  It must fail with
	// sql.ErrNoRows when the hash is unknown, expired relative to now,
	// or concurrently rotated away.
	RotateRefresh(ctx context.Context, oldHash, newHash string, now, exp time.Time) (model.User, error)
	ClearRefresh(ctx context.Context, userID uint64) error
}

// TokenPair is what clients receive on login and refresh.  The raw
// refresh token appears here once and is never stored server-side.
type TokenPair struct {
	User         model.User
	AccessToken  utils.AccessToken
	RefreshToken utils.RefreshToken
}

// Sessions issues, rotates and revokes access/refresh token pairs.
// Access tokens are stateless HS256 JWTs; refresh tokens are opaque
// random strings whose SHA-256 hash lives on the user row.  There is
// no revocation list for access tokens: revoking only cuts the refresh
// path, and an issued access token stays valid until its short expiry.
type Sessions struct {
	store          SessionStore
	secret         string
	issuer         string
	audience       string
	accessTTLMin   int
	refreshTTLDays int
	bcryptCost     int
	now            func() time.Time
}

// NewSessions wires a session manager from configuration values.
func NewSessions(store SessionStore, secret, issuer, audience string, accessTTLMin, refreshTTLDays, bcryptCost int) *Sessions {
	return &Sessions{
		store:          store,
		secret:         secret,
		issuer:         issuer,
		audience:       audience,
		accessTTLMin:   accessTTLMin,
		refreshTTLDays: refreshTTLDays,
		bcryptCost:     bcryptCost,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// BcryptCost exposes the configured hashing cost so the profile
// endpoint can hash password changes the same way registration does.
func (s *Sessions) BcryptCost() int { return s.bcryptCost }

// Register creates a user.  Duplicate emails surface as
// repository.ErrEmailExists.
func (s *Sessions) Register(ctx context.Context, email, username, password string) (uint64, error) {
	hash, err := utils.HashPassword(password, s.bcryptCost)
	if err != nil {
		return 0, err
	}
	return s.store.Create(ctx, email, username, hash)
}

// Login verifies credentials and issues a token pair.  Unknown email
// and wrong password are indistinguishable to the caller.
func (s *Sessions) Login(ctx context.Context, email, password string) (TokenPair, error) {
	u, err := s.store.ByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TokenPair{}, ErrInvalidCredentials
		}
		return TokenPair{}, err
	}
	if !utils.VerifyPassword(u.PasswordHash, password) {
		return TokenPair{}, ErrInvalidCredentials
	}
	return s.issuePair(ctx, u)
}

// issuePair mints an access/refresh pair for u and persists the
// refresh hash, invalidating whatever refresh token was live before.
func (s *Sessions) issuePair(ctx context.Context, u model.User) (TokenPair, error) {
	access, err := utils.NewAccessToken(s.secret, s.issuer, s.audience, u.ID, u.Email, u.Username, s.accessTTLMin)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := utils.NewRefreshToken(s.refreshTTLDays)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.store.SaveRefresh(ctx, u.ID, utils.HashRefreshRaw(refresh.Raw), refresh.Exp); err != nil {
		return TokenPair{}, err
	}
	return TokenPair{User: u, AccessToken: access, RefreshToken: refresh}, nil
}

// Refresh rotates a refresh token: the presented token is looked up by
// hash, checked against its stored expiry, and atomically replaced by
// a new one.  The old token is permanently dead after the first
// successful rotation; presenting it again, or racing a second
// rotation of the same token, fails.
func (s *Sessions) Refresh(ctx context.Context, rawRefresh string) (TokenPair, error) {
	raw := strings.TrimSpace(rawRefresh)
	if raw == "" {
		return TokenPair{}, ErrInvalidRefresh
	}
	newRefresh, err := utils.NewRefreshToken(s.refreshTTLDays)
	if err != nil {
		return TokenPair{}, err
	}
	u, err := s.store.RotateRefresh(ctx,
		utils.HashRefreshRaw(raw), utils.HashRefreshRaw(newRefresh.Raw), s.now(), newRefresh.Exp)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TokenPair{}, ErrInvalidRefresh
		}
		return TokenPair{}, err
	}
	access, err := utils.NewAccessToken(s.secret, s.issuer, s.audience, u.ID, u.Email, u.Username, s.accessTTLMin)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{User: u, AccessToken: access, RefreshToken: newRefresh}, nil
}

// Logout revokes the user's live refresh token.
func (s *Sessions) Logout(ctx context.Context, userID uint64) error {
	return s.store.ClearRefresh(ctx, userID)
}
