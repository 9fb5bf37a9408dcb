package handler

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/pokearcanum/marketplace/internal/model"
	"github.com/pokearcanum/marketplace/internal/service"
	"github.com/pokearcanum/marketplace/internal/utils"
)

// fakeUserStore records profile updates so tests can assert whether
// and with what a handler wrote.
type fakeUserStore struct {
	user            model.User
	updates         int
	updatedUsername string
	updatedHash     string
}

func (f *fakeUserStore) ByID(_ context.Context, id uint64) (model.User, error) {
	if id != f.user.ID {
		return model.User{}, sql.ErrNoRows
	}
	return f.user, nil
}

func (f *fakeUserStore) UpdateProfile(_ context.Context, _ uint64, username, passwordHash string) error {
	f.updates++
	f.updatedUsername = username
	f.updatedHash = passwordHash
	return nil
}

func (f *fakeUserStore) Count(context.Context) (int64, error) { return 1, nil }

func newProfileFixture(t *testing.T) (*AuthHandler, *fakeUserStore) {
	t.Helper()
	hash, err := utils.HashPassword("oldsecret1", 4)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	f := &fakeUserStore{user: model.User{
		ID: 1, Email: "ash@example.com", Username: "ash", PasswordHash: hash,
	}}
	sessions := service.NewSessions(nil, "test-secret", "marketplace", "marketplace-clients", 15, 30, 4)
	return NewAuthHandler(sessions, f), f
}

func doUpdateProfile(t *testing.T, h *AuthHandler, uid uint64, body string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPut, "/v1/me", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("user_id", float64(uid))
	if err := h.UpdateProfile(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	return rec
}

func TestUpdateProfileRequiresCurrentPassword(t *testing.T) {
	h, f := newProfileFixture(t)

	rec := doUpdateProfile(t, h, 1, `{"password":"newsecret1"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if f.updates != 0 {
		t.Fatal("profile written without current password")
	}
}

func TestUpdateProfileWrongCurrentPassword(t *testing.T) {
	h, f := newProfileFixture(t)

	rec := doUpdateProfile(t, h, 1,
		`{"password":"newsecret1","current_password":"not-the-password"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if f.updates != 0 {
		t.Fatal("profile written despite wrong current password")
	}
}

func TestUpdateProfileChangesPassword(t *testing.T) {
	h, f := newProfileFixture(t)

	rec := doUpdateProfile(t, h, 1,
		`{"username":"red","password":"newsecret1","current_password":"oldsecret1"}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204: %s", rec.Code, rec.Body.String())
	}
	if f.updates != 1 || f.updatedUsername != "red" {
		t.Fatalf("update not recorded: %+v", f)
	}
	if f.updatedHash == "" || f.updatedHash == "newsecret1" {
		t.Fatalf("password not hashed: %q", f.updatedHash)
	}
	if !utils.VerifyPassword(f.updatedHash, "newsecret1") {
		t.Fatal("stored hash does not verify the new password")
	}
}

func TestUpdateProfileUsernameOnly(t *testing.T) {
	// A username change alone still demands the current password, and
	// leaves the password hash untouched.
	h, f := newProfileFixture(t)

	rec := doUpdateProfile(t, h, 1, `{"username":"red"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("without current password: status = %d, want 400", rec.Code)
	}

	rec = doUpdateProfile(t, h, 1, `{"username":"red","current_password":"oldsecret1"}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if f.updatedUsername != "red" || f.updatedHash != "" {
		t.Fatalf("unexpected update: %+v", f)
	}
}
