package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"unicode/utf8"

	"folio/pkg/domain"
)

const (
	maxChapterIDLength = 100
	maxScrollPosition  = 100
	maxTimeSpent       = math.MaxInt32
)

var ebookIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,50}$`)

// ProgressInput is one sync from a reader as decoded from the request body.
// Nil fields were omitted; a JSON null for an optional field counts as
// omitted too.
type ProgressInput struct {
	ChapterID      *string
	ScrollPosition *float64
	TimeSpent      *float64
	IsCompleted    *bool
	Bookmarks      json.RawMessage
	Notes          json.RawMessage
}

// UpsertResult is the stored record plus the guest session minted for a
// caller that had none.
type UpsertResult struct {
	Progress domain.Progress
	Minted   *domain.IssuedSession
}

// ValidateEbookID rejects anything outside ^[a-zA-Z0-9_-]{1,50}$.
func ValidateEbookID(ebookID string) error {
	if !ebookIDPattern.MatchString(ebookID) {
		return invalid("invalid ebook id")
	}
	return nil
}

// GetProgress returns the caller's record for ebookID, or nil when the
// caller has no identity or no record yet.
func (a *App) GetProgress(ctx context.Context, session *domain.Session, ebookID string) (*domain.Progress, error) {
	if err := ValidateEbookID(ebookID); err != nil {
		return nil, err
	}
	userID, ok, err := a.lookupUser(ctx, session)
	if err != nil || !ok {
		return nil, err
	}
	progress, found, err := a.store.GetProgress(ctx, userID, ebookID)
	if err != nil {
		return nil, fmt.Errorf("get progress: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &progress, nil
}

// ListProgress returns all of the caller's records, most recently read first.
func (a *App) ListProgress(ctx context.Context, session *domain.Session) ([]domain.Progress, error) {
	userID, ok, err := a.lookupUser(ctx, session)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []domain.Progress{}, nil
	}
	items, err := a.store.ListProgress(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	return items, nil
}

// UpsertProgress validates input and applies it to the caller's record,
// minting a guest identity first when the caller has none.
func (a *App) UpsertProgress(ctx context.Context, session *domain.Session, ebookID string, input ProgressInput) (UpsertResult, error) {
	result := UpsertResult{}
	if err := ValidateEbookID(ebookID); err != nil {
		return result, err
	}
	delta, err := validateProgressInput(input)
	if err != nil {
		return result, err
	}

	subject := ""
	if session.IsGuest() {
		subject = session.SubjectID
	} else {
		issued, err := a.sessions.NewGuestSession()
		if err != nil {
			return result, fmt.Errorf("mint guest session: %w", err)
		}
		result.Minted = &issued
		subject = issued.Session.SubjectID
	}

	userID, err := a.store.GetOrCreateUser(ctx, subject)
	if err != nil {
		return result, fmt.Errorf("ensure user: %w", err)
	}
	progress, err := a.store.UpsertProgress(ctx, userID, ebookID, delta, a.now())
	if err != nil {
		return result, fmt.Errorf("upsert progress: %w", err)
	}
	result.Progress = progress
	return result, nil
}

// Analytics aggregates the caller's rows. Streak days are not tracked and
// always report 0.
func (a *App) Analytics(ctx context.Context, session *domain.Session) (domain.ReadingStats, error) {
	userID, ok, err := a.lookupUser(ctx, session)
	if err != nil || !ok {
		return domain.ReadingStats{}, err
	}
	stats, err := a.store.ProgressStats(ctx, userID)
	if err != nil {
		return domain.ReadingStats{}, fmt.Errorf("progress stats: %w", err)
	}
	stats.StreakDays = 0
	return stats, nil
}

func (a *App) lookupUser(ctx context.Context, session *domain.Session) (int64, bool, error) {
	if !session.IsGuest() {
		return 0, false, nil
	}
	userID, ok, err := a.store.FindUserID(ctx, session.SubjectID)
	if err != nil {
		return 0, false, fmt.Errorf("find user: %w", err)
	}
	return userID, ok, nil
}

func validateProgressInput(in ProgressInput) (domain.ProgressDelta, error) {
	delta := domain.ProgressDelta{}
	if in.ScrollPosition == nil {
		return delta, invalid("scrollPosition is required")
	}
	scroll := *in.ScrollPosition
	if math.IsNaN(scroll) || scroll < 0 || scroll > maxScrollPosition {
		return delta, invalid("scrollPosition must be between 0 and 100")
	}
	if in.TimeSpent == nil {
		return delta, invalid("timeSpent is required")
	}
	spent := *in.TimeSpent
	if math.IsNaN(spent) || spent < 0 {
		return delta, invalid("timeSpent must be a non-negative number")
	}
	if spent > maxTimeSpent {
		return delta, invalid("timeSpent is too large")
	}
	if in.ChapterID != nil {
		if utf8.RuneCountInString(*in.ChapterID) > maxChapterIDLength {
			return delta, invalid("chapterId must be at most 100 characters")
		}
		chapter := *in.ChapterID
		delta.ChapterID = &chapter
	}
	bookmarks, err := optionalArray("bookmarks", in.Bookmarks)
	if err != nil {
		return delta, err
	}
	notes, err := optionalArray("notes", in.Notes)
	if err != nil {
		return delta, err
	}
	delta.ScrollPosition = scroll
	delta.TimeSpent = int64(math.Round(spent))
	if in.IsCompleted != nil {
		delta.IsCompleted = *in.IsCompleted
	}
	delta.Bookmarks = bookmarks
	delta.Notes = notes
	return delta, nil
}

// optionalArray returns nil for an omitted or null field and the compacted
// array otherwise.
func optionalArray(field string, raw json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] != '[' || !json.Valid(trimmed) {
		return nil, invalid(field + " must be an array")
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return nil, invalid(field + " must be an array")
	}
	return buf.Bytes(), nil
}
