package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"folio/pkg/domain"
	jwt "github.com/golang-jwt/jwt/v5"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

func newTestSessionStore(t *testing.T, revoker TokenRevoker) (*JWTSessionStore, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s, err := NewJWTSessionStore(testSecret, 24*time.Hour, revoker, JWTOptions{Clock: clock.Now})
	if err != nil {
		t.Fatalf("new session store: %v", err)
	}
	return s, clock
}

func TestJWTSessionStoreGuestRoundTrip(t *testing.T) {
	s, _ := newTestSessionStore(t, nil)
	ctx := context.Background()

	issued, err := s.NewGuestSession()
	if err != nil {
		t.Fatalf("new guest session: %v", err)
	}
	if issued.Session.SubjectID == "" {
		t.Fatalf("expected anonymous id")
	}
	got := s.Resolve(ctx, issued.Token)
	if got == nil {
		t.Fatalf("expected guest token to resolve")
	}
	if !got.IsGuest() || got.SubjectID != issued.Session.SubjectID {
		t.Fatalf("unexpected session: %+v", got)
	}
	if want := issued.Session.IssuedAt.Add(24 * time.Hour); !got.ExpiresAt.Equal(want) {
		t.Fatalf("expires at = %v, want %v", got.ExpiresAt, want)
	}

	other, err := s.NewGuestSession()
	if err != nil {
		t.Fatalf("second guest session: %v", err)
	}
	if other.Session.SubjectID == issued.Session.SubjectID {
		t.Fatalf("guest identities must be unique")
	}
}

func TestJWTSessionStoreAdminRoundTrip(t *testing.T) {
	s, _ := newTestSessionStore(t, nil)
	issued, err := s.NewAdminSession()
	if err != nil {
		t.Fatalf("new admin session: %v", err)
	}
	got := s.Resolve(context.Background(), issued.Token)
	if got == nil || !got.IsAdmin() || got.IsGuest() {
		t.Fatalf("expected admin session, got %+v", got)
	}
}

func TestJWTSessionStoreRejectsTamperedPayload(t *testing.T) {
	s, _ := newTestSessionStore(t, nil)
	issued, err := s.NewGuestSession()
	if err != nil {
		t.Fatalf("new guest session: %v", err)
	}
	parts := strings.Split(issued.Token, ".")
	if len(parts) != 3 {
		t.Fatalf("unexpected token shape")
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	var claims map[string]any
	if err := json.Unmarshal(payload, &claims); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	claims["role"] = "admin"
	forged, _ := json.Marshal(claims)
	tampered := parts[0] + "." + base64.RawURLEncoding.EncodeToString(forged) + "." + parts[2]

	if got := s.Resolve(context.Background(), tampered); got != nil {
		t.Fatalf("tampered token must not resolve, got %+v", got)
	}
}

func TestJWTSessionStoreRejectsForeignSecret(t *testing.T) {
	s, _ := newTestSessionStore(t, nil)
	other, err := NewJWTSessionStore(strings.Repeat("z", 32), time.Hour, nil, JWTOptions{})
	if err != nil {
		t.Fatalf("new other store: %v", err)
	}
	issued, err := other.NewGuestSession()
	if err != nil {
		t.Fatalf("sign with other secret: %v", err)
	}
	if got := s.Resolve(context.Background(), issued.Token); got != nil {
		t.Fatalf("token signed with another secret must not resolve")
	}
}

func TestJWTSessionStoreRejectsExpired(t *testing.T) {
	s, clock := newTestSessionStore(t, nil)
	issued, err := s.NewGuestSession()
	if err != nil {
		t.Fatalf("new guest session: %v", err)
	}
	clock.now = issued.Session.ExpiresAt.Add(time.Second)
	if got := s.Resolve(context.Background(), issued.Token); got != nil {
		t.Fatalf("token one second past expiry must not resolve")
	}
}

func TestJWTSessionStoreHonorsConfiguredLeeway(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s, err := NewJWTSessionStore(testSecret, 24*time.Hour, nil, JWTOptions{Clock: clock.Now, Leeway: 10 * time.Second})
	if err != nil {
		t.Fatalf("new session store: %v", err)
	}
	issued, err := s.NewGuestSession()
	if err != nil {
		t.Fatalf("new guest session: %v", err)
	}
	clock.now = issued.Session.ExpiresAt.Add(5 * time.Second)
	if got := s.Resolve(context.Background(), issued.Token); got == nil {
		t.Fatalf("token inside configured leeway should resolve")
	}
	clock.now = issued.Session.ExpiresAt.Add(11 * time.Second)
	if got := s.Resolve(context.Background(), issued.Token); got != nil {
		t.Fatalf("token past configured leeway must not resolve")
	}
}

func TestJWTSessionStoreRejectsGarbage(t *testing.T) {
	s, _ := newTestSessionStore(t, nil)
	for _, token := range []string{"", "   ", "not-a-jwt", "a.b.c"} {
		if got := s.Resolve(context.Background(), token); got != nil {
			t.Fatalf("token %q must not resolve", token)
		}
	}
}

func TestJWTSessionStoreRejectsNoneAlgorithm(t *testing.T) {
	s, clock := newTestSessionStore(t, nil)
	token := jwt.NewWithClaims(jwt.SigningMethodNone, sessionClaims{
		Role: string(domain.RoleAdmin),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "admin",
			Issuer:    defaultJWTIssuer,
			IssuedAt:  jwt.NewNumericDate(clock.now),
			ExpiresAt: jwt.NewNumericDate(clock.now.Add(time.Hour)),
			ID:        "jti-none",
		},
	})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none token: %v", err)
	}
	if got := s.Resolve(context.Background(), signed); got != nil {
		t.Fatalf("alg=none token must not resolve")
	}
}

func TestJWTSessionStoreRejectsUnknownRole(t *testing.T) {
	s, clock := newTestSessionStore(t, nil)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{
		Role: "superuser",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "x",
			Issuer:    defaultJWTIssuer,
			IssuedAt:  jwt.NewNumericDate(clock.now),
			ExpiresAt: jwt.NewNumericDate(clock.now.Add(time.Hour)),
			ID:        "jti-role",
		},
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if got := s.Resolve(context.Background(), signed); got != nil {
		t.Fatalf("unknown role must not resolve")
	}
}

func TestJWTSessionStoreRefreshExtendsExpiry(t *testing.T) {
	s, clock := newTestSessionStore(t, nil)
	ctx := context.Background()
	issued, err := s.NewGuestSession()
	if err != nil {
		t.Fatalf("new guest session: %v", err)
	}
	clock.now = clock.now.Add(20 * time.Hour)
	refreshed, err := s.Refresh(ctx, issued.Token)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if refreshed.Session.SubjectID != issued.Session.SubjectID {
		t.Fatalf("refresh must keep the subject")
	}
	if !refreshed.Session.ExpiresAt.After(issued.Session.ExpiresAt) {
		t.Fatalf("refresh must extend expiry")
	}
	clock.now = clock.now.Add(10 * time.Hour)
	if s.Resolve(ctx, issued.Token) != nil {
		t.Fatalf("original token should now be expired")
	}
	if s.Resolve(ctx, refreshed.Token) == nil {
		t.Fatalf("refreshed token should still be valid")
	}
	if _, err := s.Refresh(ctx, "garbage"); err == nil {
		t.Fatalf("refresh of invalid token must fail")
	}
}

func TestJWTSessionStoreDeleteRevokesAdmin(t *testing.T) {
	revoker := NewMemoryTokenRevoker()
	s, _ := newTestSessionStore(t, revoker)
	ctx := context.Background()
	issued, err := s.NewAdminSession()
	if err != nil {
		t.Fatalf("new admin session: %v", err)
	}
	if err := s.DeleteSession(ctx, issued.Token); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if s.Resolve(ctx, issued.Token) != nil {
		t.Fatalf("revoked admin token must not resolve")
	}
}

type failingRevoker struct{}

func (failingRevoker) Revoke(context.Context, string, time.Duration) error {
	return errors.New("down")
}

func (failingRevoker) IsRevoked(context.Context, string) (bool, error) {
	return false, errors.New("down")
}

func TestJWTSessionStoreRevokerOutage(t *testing.T) {
	s, _ := newTestSessionStore(t, failingRevoker{})
	ctx := context.Background()
	guest, _ := s.NewGuestSession()
	admin, _ := s.NewAdminSession()
	if s.Resolve(ctx, guest.Token) == nil {
		t.Fatalf("guest sessions must not depend on the revoker")
	}
	if s.Resolve(ctx, admin.Token) != nil {
		t.Fatalf("admin sessions must fail closed when revocation cannot be checked")
	}
}

func TestNewJWTSessionStoreRequiresStrongSecret(t *testing.T) {
	if _, err := NewJWTSessionStore("short", time.Hour, nil, JWTOptions{}); !errors.Is(err, ErrSessionSecretTooShort) {
		t.Fatalf("expected ErrSessionSecretTooShort, got %v", err)
	}
}
