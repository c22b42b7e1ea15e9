package store

import (
	"context"
	"time"

	"folio/pkg/domain"
)

// Store defines persistence operations for anonymous readers, their ebook
// progress and contact messages.
type Store interface {
	// users
	GetOrCreateUser(ctx context.Context, anonymousID string) (int64, error)
	FindUserID(ctx context.Context, anonymousID string) (int64, bool, error)

	// progress
	GetProgress(ctx context.Context, userID int64, ebookID string) (domain.Progress, bool, error)
	ListProgress(ctx context.Context, userID int64) ([]domain.Progress, error)
	UpsertProgress(ctx context.Context, userID int64, ebookID string, delta domain.ProgressDelta, now time.Time) (domain.Progress, error)
	ProgressStats(ctx context.Context, userID int64) (domain.ReadingStats, error)

	// contact
	CreateContactMessage(ctx context.Context, msg domain.ContactMessage) (domain.ContactMessage, error)
	ListContactMessages(ctx context.Context) ([]domain.ContactMessage, error)
	DeleteContactMessage(ctx context.Context, id int64) (bool, error)

	Ping(ctx context.Context) error
	Close() error
}

// SessionStore issues and resolves session tokens.
type SessionStore interface {
	NewGuestSession() (domain.IssuedSession, error)
	NewAdminSession() (domain.IssuedSession, error)
	Resolve(ctx context.Context, token string) *domain.Session
	Refresh(ctx context.Context, token string) (domain.IssuedSession, error)
	DeleteSession(ctx context.Context, token string) error
	TTL(role domain.SessionRole) time.Duration
}

var emptyJSONArray = []byte("[]")
