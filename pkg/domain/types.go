package domain

import (
	"encoding/json"
	"time"
)

type SessionRole string

const (
	RoleGuest SessionRole = "guest"
	RoleAdmin SessionRole = "admin"
)

// Session is the verified identity carried by a session token.
type Session struct {
	Role      SessionRole `json:"role"`
	SubjectID string      `json:"subjectId,omitempty"`
	TokenID   string      `json:"-"`
	IssuedAt  time.Time   `json:"issuedAt"`
	ExpiresAt time.Time   `json:"expiresAt"`
}

// IsGuest reports whether the session belongs to an anonymous reader.
func (s *Session) IsGuest() bool {
	return s != nil && s.Role == RoleGuest && s.SubjectID != ""
}

// IsAdmin reports whether the session was issued through admin login.
func (s *Session) IsAdmin() bool {
	return s != nil && s.Role == RoleAdmin
}

// IssuedSession is a freshly signed token together with its claims.
type IssuedSession struct {
	Token   string
	Session Session
}

type Progress struct {
	ID             int64           `json:"id"`
	UserID         int64           `json:"userId"`
	EbookID        string          `json:"ebookId"`
	ChapterID      *string         `json:"chapterId"`
	ScrollPosition float64         `json:"scrollPosition"`
	TimeSpent      int64           `json:"timeSpent"`
	IsCompleted    bool            `json:"isCompleted"`
	Bookmarks      json.RawMessage `json:"bookmarks"`
	Notes          json.RawMessage `json:"notes"`
	LastRead       time.Time       `json:"lastRead"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// ProgressDelta is one sync from a reader. Nil pointers mean the field was
// omitted by the client.
type ProgressDelta struct {
	ChapterID      *string
	ScrollPosition float64
	TimeSpent      int64
	IsCompleted    bool
	Bookmarks      json.RawMessage
	Notes          json.RawMessage
}

type ReadingStats struct {
	TotalBooksStarted int64 `json:"totalBooksStarted"`
	BooksCompleted    int64 `json:"booksCompleted"`
	TotalTimeRead     int64 `json:"totalTimeRead"`
	StreakDays        int64 `json:"streakDays"`
}

type ContactMessage struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Subject   *string   `json:"subject"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}
