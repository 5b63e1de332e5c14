package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "auth.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	s, err := NewService(context.Background(), db, Config{
		Secret:          "test-secret",
		TokenTTL:        time.Hour,
		DefaultUsername: "admin",
		DefaultPassword: "changeme",
		BcryptCost:      bcrypt.MinCost,
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return s
}

func login(t *testing.T, s *Service, username, password string) Token {
	t.Helper()
	p, err := s.VerifyCredentials(context.Background(), username, password)
	if err != nil {
		t.Fatalf("VerifyCredentials() error = %v", err)
	}
	tok, err := s.IssueToken(context.Background(), p)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	return tok
}

func TestSeededUserCanLogIn(t *testing.T) {
	s := newTestService(t)
	tok := login(t, s, "admin", "changeme")

	p, err := s.ResolveToken(context.Background(), tok.Value)
	if err != nil {
		t.Fatalf("ResolveToken() error = %v", err)
	}
	if p.Username != "admin" {
		t.Fatalf("username = %q", p.Username)
	}

	var u User
	if err := s.db.Where("username = ?", "admin").Take(&u).Error; err != nil {
		t.Fatalf("load user: %v", err)
	}
	if u.LastToken != tok.Value {
		t.Fatal("expected last token to be recorded")
	}
}

func TestVerifyCredentialsRejectsBadPassword(t *testing.T) {
	s := newTestService(t)
	for _, tc := range []struct{ user, pass string }{
		{"admin", "wrong"},
		{"nobody", "changeme"},
	} {
		if _, err := s.VerifyCredentials(context.Background(), tc.user, tc.pass); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("VerifyCredentials(%q) = %v, want ErrInvalidCredentials", tc.user, err)
		}
	}
}

func TestResolveTokenRejectsInvalidTokens(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	s.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired := login(t, s, "admin", "changeme")
	s.now = time.Now

	other := *s
	other.secret = []byte("another-secret")
	p, _ := other.VerifyCredentials(ctx, "admin", "changeme")
	forged, err := other.IssueToken(ctx, p)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	for name, raw := range map[string]string{
		"empty":   "",
		"garbage": "not-a-jwt",
		"expired": expired.Value,
		"forged":  forged.Value,
	} {
		if _, err := s.ResolveToken(ctx, raw); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: ResolveToken() = %v, want ErrInvalidToken", name, err)
		}
	}
}

func TestUpdateProfileRenamesAndInvalidatesOldSubject(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	old := login(t, s, "admin", "changeme")
	p, _ := s.ResolveToken(ctx, old.Value)

	tok, err := s.UpdateProfile(ctx, p, ProfileUpdate{CurrentPassword: "changeme", NewUsername: "owner", NewPassword: "s3cret"})
	if err != nil {
		t.Fatalf("UpdateProfile() error = %v", err)
	}
	if tok.Username != "owner" {
		t.Fatalf("username = %q", tok.Username)
	}
	if _, err := s.ResolveToken(ctx, old.Value); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("old token resolved after rename: %v", err)
	}
	if _, err := s.VerifyCredentials(ctx, "owner", "s3cret"); err != nil {
		t.Fatalf("login with new credentials: %v", err)
	}
}

func TestUpdateProfileValidation(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	p, _ := s.VerifyCredentials(ctx, "admin", "changeme")
	if err := s.seed(ctx, "guest", "guest"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	cases := []struct {
		name string
		upd  ProfileUpdate
		want error
	}{
		{"nothing", ProfileUpdate{CurrentPassword: "changeme"}, ErrNothingToUpdate},
		{"wrong password", ProfileUpdate{CurrentPassword: "nope", NewPassword: "x"}, ErrInvalidCredentials},
		{"taken", ProfileUpdate{CurrentPassword: "changeme", NewUsername: "guest"}, ErrUsernameTaken},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := s.UpdateProfile(ctx, p, tc.upd); !errors.Is(err, tc.want) {
				t.Fatalf("UpdateProfile() = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestMiddleware(t *testing.T) {
	s := newTestService(t)
	tok := login(t, s, "admin", "changeme")

	h := s.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFrom(r.Context())
		if !ok || p.Username != "admin" {
			t.Errorf("principal = %+v, %v", p, ok)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		header string
		want   int
	}{
		{"", http.StatusUnauthorized},
		{"Basic abc", http.StatusUnauthorized},
		{"Bearer nope", http.StatusUnauthorized},
		{"Bearer " + tok.Value, http.StatusNoContent},
		{"bearer " + tok.Value, http.StatusNoContent},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("%q: status = %d, want %d", tc.header, rec.Code, tc.want)
		}
	}
}
