package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"folio/pkg/domain"
	"golang.org/x/sync/singleflight"
)

// LazyStore defers opening the backing store until the first call. Concurrent
// first calls share one open attempt; a failed attempt is not cached, so the
// next request retries.
type LazyStore struct {
	open  func() (Store, error)
	group singleflight.Group

	mu    sync.RWMutex
	store Store
}

// NewLazyStore wraps open, which is called at most once successfully.
func NewLazyStore(open func() (Store, error)) *LazyStore {
	return &LazyStore{open: open}
}

func (l *LazyStore) current() Store {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.store
}

func (l *LazyStore) get(ctx context.Context) (Store, error) {
	if s := l.current(); s != nil {
		return s, nil
	}
	ch := l.group.DoChan("open", func() (any, error) {
		if s := l.current(); s != nil {
			return s, nil
		}
		s, err := l.open()
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		l.store = s
		l.mu.Unlock()
		return s, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("open store: %w", res.Err)
		}
		return res.Val.(Store), nil
	}
}

func (l *LazyStore) GetOrCreateUser(ctx context.Context, anonymousID string) (int64, error) {
	s, err := l.get(ctx)
	if err != nil {
		return 0, err
	}
	return s.GetOrCreateUser(ctx, anonymousID)
}

func (l *LazyStore) FindUserID(ctx context.Context, anonymousID string) (int64, bool, error) {
	s, err := l.get(ctx)
	if err != nil {
		return 0, false, err
	}
	return s.FindUserID(ctx, anonymousID)
}

func (l *LazyStore) GetProgress(ctx context.Context, userID int64, ebookID string) (domain.Progress, bool, error) {
	s, err := l.get(ctx)
	if err != nil {
		return domain.Progress{}, false, err
	}
	return s.GetProgress(ctx, userID, ebookID)
}

func (l *LazyStore) ListProgress(ctx context.Context, userID int64) ([]domain.Progress, error) {
	s, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return s.ListProgress(ctx, userID)
}

func (l *LazyStore) UpsertProgress(ctx context.Context, userID int64, ebookID string, delta domain.ProgressDelta, now time.Time) (domain.Progress, error) {
	s, err := l.get(ctx)
	if err != nil {
		return domain.Progress{}, err
	}
	return s.UpsertProgress(ctx, userID, ebookID, delta, now)
}

func (l *LazyStore) ProgressStats(ctx context.Context, userID int64) (domain.ReadingStats, error) {
	s, err := l.get(ctx)
	if err != nil {
		return domain.ReadingStats{}, err
	}
	return s.ProgressStats(ctx, userID)
}

func (l *LazyStore) CreateContactMessage(ctx context.Context, msg domain.ContactMessage) (domain.ContactMessage, error) {
	s, err := l.get(ctx)
	if err != nil {
		return domain.ContactMessage{}, err
	}
	return s.CreateContactMessage(ctx, msg)
}

func (l *LazyStore) ListContactMessages(ctx context.Context) ([]domain.ContactMessage, error) {
	s, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return s.ListContactMessages(ctx)
}

func (l *LazyStore) DeleteContactMessage(ctx context.Context, id int64) (bool, error) {
	s, err := l.get(ctx)
	if err != nil {
		return false, err
	}
	return s.DeleteContactMessage(ctx, id)
}

// Ping opens the store if needed and checks it.
func (l *LazyStore) Ping(ctx context.Context) error {
	s, err := l.get(ctx)
	if err != nil {
		return err
	}
	return s.Ping(ctx)
}

// Close closes the backing store if it was ever opened.
func (l *LazyStore) Close() error {
	l.mu.Lock()
	s := l.store
	l.store = nil
	l.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.Close()
}
