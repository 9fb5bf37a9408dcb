package model

import "time"

// User represents an application user record as stored in the
// `users` table. Each field corresponds to a column in the
// database. The json tags are omitted here because these structs
// are used internally by the repository layer; handlers define
// separate response types with appropriate JSON tags.
//
// The refresh token is never stored in the clear: RefreshTokenHash
// holds the SHA-256 hex digest of the currently valid refresh token
// and RefreshExpiresAt its expiry. Both are nil when the user has no
// live session. At most one refresh token is live per user; a
// rotation overwrites both columns in a single conditional update.
//
// Fields:
//  ID               – primary key identifier of the user.
//  Email            – unique email address, stored lowercase.
//  Username         – display name shown in public trade feeds.
//  PasswordHash     – bcrypt hashed password.
//  RefreshTokenHash – SHA-256 hex digest of the live refresh token (nullable).
//  RefreshExpiresAt – expiry of the live refresh token (nullable).
//  CreatedAt        – timestamp of creation.
//  UpdatedAt        – timestamp of last update.
type User struct {
	ID               uint64     // users.id
	Email            string     // users.email
	Username         string     // users.username
	PasswordHash     string     // users.password_hash
	RefreshTokenHash *string    // users.refresh_token_hash (nullable)
	RefreshExpiresAt *time.Time // users.refresh_token_expires_at (nullable)
	CreatedAt        time.Time  // users.created_at
	UpdatedAt        time.Time  // users.updated_at
}
