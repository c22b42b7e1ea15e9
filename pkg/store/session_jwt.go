package store

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"folio/internal/util"
	"folio/pkg/domain"
	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	defaultJWTIssuer = "folio"
	adminSubject     = "admin"
	minSecretLength  = 32
)

// ErrSessionSecretTooShort is returned when the HMAC secret is weaker than 256 bits.
var ErrSessionSecretTooShort = errors.New("session secret must be at least 32 bytes")

// JWTOptions configures JWT claim validation behavior.
type JWTOptions struct {
	Issuer string
	Leeway time.Duration
	// GuestTTL overrides the lifetime of guest tokens; zero uses the admin TTL.
	GuestTTL time.Duration
	Clock    func() time.Time
}

type sessionClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JWTSessionStore issues and validates HS256 session tokens for guests and
// the admin. Tokens are stateless; the optional revoker blocks logged-out ids.
type JWTSessionStore struct {
	secret   []byte
	ttl      time.Duration
	guestTTL time.Duration
	revoker  TokenRevoker
	issuer   string
	leeway   time.Duration
	now      func() time.Time
}

// NewJWTSessionStore builds a session store signing with secret.
func NewJWTSessionStore(secret string, ttl time.Duration, revoker TokenRevoker, opts JWTOptions) (*JWTSessionStore, error) {
	if len(secret) < minSecretLength {
		return nil, ErrSessionSecretTooShort
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	opts = normalizeJWTOptions(opts)
	guestTTL := opts.GuestTTL
	if guestTTL <= 0 {
		guestTTL = ttl
	}
	return &JWTSessionStore{
		secret:   []byte(secret),
		ttl:      ttl,
		guestTTL: guestTTL,
		revoker:  revoker,
		issuer:   opts.Issuer,
		leeway:   opts.Leeway,
		now:      opts.Clock,
	}, nil
}

// NewGuestSession mints a fresh anonymous identity and its token.
func (s *JWTSessionStore) NewGuestSession() (domain.IssuedSession, error) {
	return s.sign(domain.RoleGuest, util.NewAnonymousID())
}

// NewAdminSession mints an admin token. Callers must have checked the password.
func (s *JWTSessionStore) NewAdminSession() (domain.IssuedSession, error) {
	return s.sign(domain.RoleAdmin, adminSubject)
}

// Resolve verifies a token. Any failure (absent, malformed, expired, bad
// signature, revoked, unknown role) yields nil without an error.
func (s *JWTSessionStore) Resolve(ctx context.Context, token string) *domain.Session {
	claims, err := s.parseAndVerify(token)
	if err != nil {
		return nil
	}
	// Only admin tokens are ever revoked; guest lookups must not depend on
	// the revocation backend being reachable.
	if s.revoker != nil && domain.SessionRole(claims.Role) == domain.RoleAdmin {
		revoked, err := s.revoker.IsRevoked(ctx, claims.ID)
		if err != nil || revoked {
			return nil
		}
	}
	session := claimsToSession(claims)
	return &session
}

// Refresh re-signs the claims of a valid token with a new expiry.
func (s *JWTSessionStore) Refresh(ctx context.Context, token string) (domain.IssuedSession, error) {
	session := s.Resolve(ctx, token)
	if session == nil {
		return domain.IssuedSession{}, errors.New("invalid session")
	}
	return s.sign(session.Role, session.SubjectID)
}

// DeleteSession revokes the token until it expires. Invalid tokens are ignored.
func (s *JWTSessionStore) DeleteSession(ctx context.Context, token string) error {
	if s.revoker == nil {
		return nil
	}
	claims, err := s.parseAndVerify(token)
	if err != nil || claims.ExpiresAt == nil || domain.SessionRole(claims.Role) != domain.RoleAdmin {
		return nil
	}
	ttl := claims.ExpiresAt.Time.Sub(s.now())
	return s.revoker.Revoke(ctx, claims.ID, ttl)
}

// TTL returns the lifetime for tokens of role.
func (s *JWTSessionStore) TTL(role domain.SessionRole) time.Duration {
	if role == domain.RoleGuest {
		return s.guestTTL
	}
	return s.ttl
}

func (s *JWTSessionStore) sign(role domain.SessionRole, subject string) (domain.IssuedSession, error) {
	now := s.now().UTC().Truncate(time.Second)
	claims := sessionClaims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.TTL(role))),
			ID:        randomHexID(12),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return domain.IssuedSession{}, fmt.Errorf("sign session: %w", err)
	}
	return domain.IssuedSession{Token: token, Session: claimsToSession(claims)}, nil
}

func (s *JWTSessionStore) parseAndVerify(token string) (sessionClaims, error) {
	claims := sessionClaims{}
	token = strings.TrimSpace(token)
	if token == "" {
		return claims, errors.New("invalid token format")
	}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(s.leeway),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		if err == nil {
			err = errors.New("invalid token")
		}
		return claims, err
	}
	if strings.TrimSpace(claims.ID) == "" {
		return claims, errors.New("token jti missing")
	}
	switch domain.SessionRole(claims.Role) {
	case domain.RoleGuest:
		if strings.TrimSpace(claims.Subject) == "" {
			return claims, errors.New("guest token subject missing")
		}
	case domain.RoleAdmin:
	default:
		return claims, errors.New("unknown session role")
	}
	return claims, nil
}

func claimsToSession(claims sessionClaims) domain.Session {
	session := domain.Session{
		Role:    domain.SessionRole(claims.Role),
		TokenID: claims.ID,
	}
	if session.Role == domain.RoleGuest {
		session.SubjectID = claims.Subject
	}
	if claims.IssuedAt != nil {
		session.IssuedAt = claims.IssuedAt.Time.UTC()
	}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	return session
}

func randomHexID(nBytes int) string {
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("%x", buf)
}

func normalizeJWTOptions(opts JWTOptions) JWTOptions {
	opts.Issuer = strings.TrimSpace(opts.Issuer)
	if opts.Issuer == "" {
		opts.Issuer = defaultJWTIssuer
	}
	// Tokens are signed and verified by the same process, so expiry is exact
	// unless a leeway is configured.
	if opts.Leeway < 0 {
		opts.Leeway = 0
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return opts
}
