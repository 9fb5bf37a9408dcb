package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pokearcanum/marketplace/internal/model"
	"github.com/pokearcanum/marketplace/internal/repository"
)

// memUsers is a mutex-guarded SessionStore mirroring the conditional
// refresh rotation the SQL repository performs, so single-use semantics
// can be raced in-process.
type memUsers struct {
	mu     sync.Mutex
	users  map[uint64]model.User
	nextID uint64
}

func newMemUsers() *memUsers {
	return &memUsers{users: map[uint64]model.User{}, nextID: 1}
}

func (m *memUsers) Create(_ context.Context, email, username, passwordHash string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return 0, repository.ErrEmailExists
		}
	}
	id := m.nextID
	m.nextID++
	m.users[id] = model.User{ID: id, Email: email, Username: username, PasswordHash: passwordHash}
	return id, nil
}

func (m *memUsers) ByEmail(_ context.Context, email string) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return model.User{}, sql.ErrNoRows
}

func (m *memUsers) ByID(_ context.Context, id uint64) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return model.User{}, sql.ErrNoRows
	}
	return u, nil
}

func (m *memUsers) SaveRefresh(_ context.Context, userID uint64, hash string, exp time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	u.RefreshTokenHash = &hash
	u.RefreshExpiresAt = &exp
	m.users[userID] = u
	return nil
}

func (m *memUsers) RotateRefresh(_ context.Context, oldHash, newHash string, now, exp time.Time) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, u := range m.users {
		if u.RefreshTokenHash == nil || *u.RefreshTokenHash != oldHash {
			continue
		}
		if u.RefreshExpiresAt == nil || !now.Before(*u.RefreshExpiresAt) {
			return model.User{}, sql.ErrNoRows
		}
		u.RefreshTokenHash = &newHash
		u.RefreshExpiresAt = &exp
		m.users[id] = u
		return u, nil
	}
	return model.User{}, sql.ErrNoRows
}

func (m *memUsers) ClearRefresh(_ context.Context, userID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil
	}
	u.RefreshTokenHash = nil
	u.RefreshExpiresAt = nil
	m.users[userID] = u
	return nil
}

func newTestSessions(store SessionStore) *Sessions {
	// MinCost keeps the bcrypt work factor out of the test runtime.
	return NewSessions(store, "test-secret", "marketplace", "marketplace-clients", 15, 30, 4)
}

func TestRegisterAndLogin(t *testing.T) {
	m := newMemUsers()
	s := newTestSessions(m)
	ctx := context.Background()

	uid, err := s.Register(ctx, "misty@example.com", "misty", "waterbadge1")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if uid == 0 {
		t.Fatal("zero user id")
	}
	if m.users[uid].PasswordHash == "waterbadge1" {
		t.Fatal("password stored in the clear")
	}

	if _, err := s.Register(ctx, "misty@example.com", "other", "whatever1"); !errors.Is(err, repository.ErrEmailExists) {
		t.Fatalf("duplicate email: err = %v", err)
	}

	pair, err := s.Login(ctx, "misty@example.com", "waterbadge1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if pair.AccessToken.Token == "" || pair.RefreshToken.Raw == "" {
		t.Fatal("missing tokens")
	}
	if pair.User.ID != uid {
		t.Fatalf("user = %d, want %d", pair.User.ID, uid)
	}

	// Only the hash is persisted.
	stored := m.users[uid]
	if stored.RefreshTokenHash == nil {
		t.Fatal("refresh hash not stored")
	}
	if strings.Contains(*stored.RefreshTokenHash, pair.RefreshToken.Raw) || *stored.RefreshTokenHash == pair.RefreshToken.Raw {
		t.Fatal("raw refresh token persisted")
	}
}

func TestLoginFailuresIndistinguishable(t *testing.T) {
	m := newMemUsers()
	s := newTestSessions(m)
	ctx := context.Background()

	if _, err := s.Register(ctx, "misty@example.com", "misty", "waterbadge1"); err != nil {
		t.Fatalf("register: %v", err)
	}

	_, badPass := s.Login(ctx, "misty@example.com", "wrong")
	_, badMail := s.Login(ctx, "nobody@example.com", "waterbadge1")
	if !errors.Is(badPass, ErrInvalidCredentials) || !errors.Is(badMail, ErrInvalidCredentials) {
		t.Fatalf("bad password: %v, bad email: %v; both want ErrInvalidCredentials", badPass, badMail)
	}
}

func TestRefreshRotationSingleUse(t *testing.T) {
	m := newMemUsers()
	s := newTestSessions(m)
	ctx := context.Background()

	if _, err := s.Register(ctx, "brock@example.com", "brock", "boulderbadge"); err != nil {
		t.Fatalf("register: %v", err)
	}
	first, err := s.Login(ctx, "brock@example.com", "boulderbadge")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	second, err := s.Refresh(ctx, first.RefreshToken.Raw)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if second.RefreshToken.Raw == first.RefreshToken.Raw {
		t.Fatal("refresh token not rotated")
	}

	// The old token is dead after the first rotation.
	if _, err := s.Refresh(ctx, first.RefreshToken.Raw); !errors.Is(err, ErrInvalidRefresh) {
		t.Fatalf("replayed refresh: err = %v", err)
	}
	// The new one still works.
	if _, err := s.Refresh(ctx, second.RefreshToken.Raw); err != nil {
		t.Fatalf("chained refresh: %v", err)
	}
}

func TestRefreshExpired(t *testing.T) {
	m := newMemUsers()
	s := newTestSessions(m)
	ctx := context.Background()

	if _, err := s.Register(ctx, "brock@example.com", "brock", "boulderbadge"); err != nil {
		t.Fatalf("register: %v", err)
	}
	pair, err := s.Login(ctx, "brock@example.com", "boulderbadge")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	// Move the clock past the refresh TTL.
	s.now = func() time.Time { return time.Now().UTC().Add(31 * 24 * time.Hour) }

	if _, err := s.Refresh(ctx, pair.RefreshToken.Raw); !errors.Is(err, ErrInvalidRefresh) {
		t.Fatalf("expired refresh: err = %v", err)
	}
}

func TestRefreshGarbageToken(t *testing.T) {
	m := newMemUsers()
	s := newTestSessions(m)
	ctx := context.Background()

	for _, raw := range []string{"", "   ", "not-a-token"} {
		if _, err := s.Refresh(ctx, raw); !errors.Is(err, ErrInvalidRefresh) {
			t.Fatalf("raw %q: err = %v, want ErrInvalidRefresh", raw, err)
		}
	}
}

func TestConcurrentRefreshSingleWinner(t *testing.T) {
	const attempts = 16

	m := newMemUsers()
	s := newTestSessions(m)
	ctx := context.Background()

	if _, err := s.Register(ctx, "brock@example.com", "brock", "boulderbadge"); err != nil {
		t.Fatalf("register: %v", err)
	}
	pair, err := s.Login(ctx, "brock@example.com", "boulderbadge")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Refresh(ctx, pair.RefreshToken.Raw)
		}(i)
	}
	wg.Wait()

	wins := 0
	for i, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrInvalidRefresh):
		default:
			t.Fatalf("attempt %d: unexpected error %v", i, err)
		}
	}
	if wins != 1 {
		t.Fatalf("winners = %d, want exactly 1", wins)
	}
}

func TestLogoutRevokesRefresh(t *testing.T) {
	m := newMemUsers()
	s := newTestSessions(m)
	ctx := context.Background()

	uid, err := s.Register(ctx, "brock@example.com", "brock", "boulderbadge")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	pair, err := s.Login(ctx, "brock@example.com", "boulderbadge")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if err := s.Logout(ctx, uid); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := s.Refresh(ctx, pair.RefreshToken.Raw); !errors.Is(err, ErrInvalidRefresh) {
		t.Fatalf("refresh after logout: err = %v", err)
	}
}

func TestLoginInvalidatesPreviousRefresh(t *testing.T) {
	// A single hash slot per user means each login replaces the live
	// refresh token.
	m := newMemUsers()
	s := newTestSessions(m)
	ctx := context.Background()

	if _, err := s.Register(ctx, "brock@example.com", "brock", "boulderbadge"); err != nil {
		t.Fatalf("register: %v", err)
	}
	first, err := s.Login(ctx, "brock@example.com", "boulderbadge")
	if err != nil {
		t.Fatalf("first login: %v", err)
	}
	if _, err := s.Login(ctx, "brock@example.com", "boulderbadge"); err != nil {
		t.Fatalf("second login: %v", err)
	}

	if _, err := s.Refresh(ctx, first.RefreshToken.Raw); !errors.Is(err, ErrInvalidRefresh) {
		t.Fatalf("stale refresh: err = %v", err)
	}
}
