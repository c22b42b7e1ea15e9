package store

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"folio/pkg/domain"
)

type progressKey struct {
	userID  int64
	ebookID string
}

// MemoryStore keeps readers, progress and messages in-process. It is used in
// development when no database is configured and by tests.
type MemoryStore struct {
	mu         sync.RWMutex
	nextUserID int64
	nextRowID  int64
	nextMsgID  int64
	users      map[string]int64 // anonymous id -> internal id
	progress   map[progressKey]domain.Progress
	messages   map[int64]domain.ContactMessage
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]int64),
		progress: make(map[progressKey]domain.Progress),
		messages: make(map[int64]domain.ContactMessage),
	}
}

// GetOrCreateUser returns the internal id for anonymousID, creating it once.
func (m *MemoryStore) GetOrCreateUser(_ context.Context, anonymousID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.users[anonymousID]; ok {
		return id, nil
	}
	m.nextUserID++
	m.users[anonymousID] = m.nextUserID
	return m.nextUserID, nil
}

// FindUserID looks up an existing user without creating one.
func (m *MemoryStore) FindUserID(_ context.Context, anonymousID string) (int64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.users[anonymousID]
	return id, ok, nil
}

// GetProgress returns one progress row owned by userID.
func (m *MemoryStore) GetProgress(_ context.Context, userID int64, ebookID string) (domain.Progress, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.progress[progressKey{userID, ebookID}]
	if !ok {
		return domain.Progress{}, false, nil
	}
	return cloneProgress(p), true, nil
}

// ListProgress returns userID's rows, most recently read first.
func (m *MemoryStore) ListProgress(_ context.Context, userID int64) ([]domain.Progress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Progress, 0)
	for key, p := range m.progress {
		if key.userID == userID {
			res = append(res, cloneProgress(p))
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].LastRead.Equal(res[j].LastRead) {
			return res[i].ID > res[j].ID
		}
		return res[i].LastRead.After(res[j].LastRead)
	})
	return res, nil
}

// UpsertProgress mirrors the SQL upsert: time adds up, completion is OR'd and
// omitted optional fields are kept.
func (m *MemoryStore) UpsertProgress(_ context.Context, userID int64, ebookID string, delta domain.ProgressDelta, now time.Time) (domain.Progress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now = now.UTC()
	key := progressKey{userID, ebookID}
	p, ok := m.progress[key]
	if !ok {
		m.nextRowID++
		p = domain.Progress{
			ID:        m.nextRowID,
			UserID:    userID,
			EbookID:   ebookID,
			Bookmarks: emptyJSONArray,
			Notes:     emptyJSONArray,
			CreatedAt: now,
		}
	}
	p.ScrollPosition = delta.ScrollPosition
	p.TimeSpent += delta.TimeSpent
	p.IsCompleted = p.IsCompleted || delta.IsCompleted
	if delta.ChapterID != nil {
		chapter := *delta.ChapterID
		p.ChapterID = &chapter
	}
	if delta.Bookmarks != nil {
		p.Bookmarks = bytes.Clone(jsonOrEmpty(delta.Bookmarks))
	}
	if delta.Notes != nil {
		p.Notes = bytes.Clone(jsonOrEmpty(delta.Notes))
	}
	p.LastRead = now
	p.UpdatedAt = now
	m.progress[key] = p
	return cloneProgress(p), nil
}

// ProgressStats aggregates userID's rows.
func (m *MemoryStore) ProgressStats(_ context.Context, userID int64) (domain.ReadingStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var stats domain.ReadingStats
	for key, p := range m.progress {
		if key.userID != userID {
			continue
		}
		stats.TotalBooksStarted++
		if p.IsCompleted {
			stats.BooksCompleted++
		}
		stats.TotalTimeRead += p.TimeSpent
	}
	return stats, nil
}

// CreateContactMessage stores msg and assigns its id.
func (m *MemoryStore) CreateContactMessage(_ context.Context, msg domain.ContactMessage) (domain.ContactMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextMsgID++
	msg.ID = m.nextMsgID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	m.messages[msg.ID] = msg
	return msg, nil
}

// ListContactMessages returns all messages, newest first.
func (m *MemoryStore) ListContactMessages(_ context.Context) ([]domain.ContactMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.ContactMessage, 0, len(m.messages))
	for _, msg := range m.messages {
		res = append(res, msg)
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].ID > res[j].ID
		}
		return res[i].CreatedAt.After(res[j].CreatedAt)
	})
	return res, nil
}

// DeleteContactMessage removes a message; false means it did not exist.
func (m *MemoryStore) DeleteContactMessage(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.messages[id]; !ok {
		return false, nil
	}
	delete(m.messages, id)
	return true, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

func cloneProgress(p domain.Progress) domain.Progress {
	if p.ChapterID != nil {
		chapter := *p.ChapterID
		p.ChapterID = &chapter
	}
	p.Bookmarks = bytes.Clone(p.Bookmarks)
	p.Notes = bytes.Clone(p.Notes)
	return p
}
