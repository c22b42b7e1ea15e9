package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"folio/pkg/domain"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

const migrateLockID int64 = 51270412

const defaultQueryTimeout = 5 * time.Second

type GormStoreOptions struct {
	QueryTimeout time.Duration
	MaxOpenConns int
}

type GormStoreOption func(*GormStoreOptions)

// WithQueryTimeout bounds every statement issued by the store.
func WithQueryTimeout(d time.Duration) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.QueryTimeout = d
	}
}

// WithMaxOpenConns caps the connection pool.
func WithMaxOpenConns(n int) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.MaxOpenConns = n
	}
}

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db      *gorm.DB
	timeout time.Duration
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string, options ...GormStoreOption) (*GormStore, error) {
	opts := GormStoreOptions{QueryTimeout: defaultQueryTimeout}
	for _, option := range options {
		if option != nil {
			option(&opts)
		}
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = defaultQueryTimeout
	}

	gormLog := gormlogger.New(
		slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
		}
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &ProgressModel{}, &ContactMessageModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if err := tx.Exec(`
			DO $$
			BEGIN
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'ebook_progress'
					AND constraint_name = 'ebook_progress_user_id_fkey'
				) THEN
					ALTER TABLE ebook_progress
					ADD CONSTRAINT ebook_progress_user_id_fkey
					FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE;
				END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("ensure progress foreign key: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db, timeout: opts.QueryTimeout}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

func (s *GormStore) session(ctx context.Context) (*gorm.DB, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	return s.db.WithContext(ctx), cancel
}

// GetOrCreateUser returns the internal id for anonymousID, inserting the row
// if needed. The no-op conflict update makes RETURNING yield the existing row,
// so concurrent first writes converge on one id.
func (s *GormStore) GetOrCreateUser(ctx context.Context, anonymousID string) (int64, error) {
	db, cancel := s.session(ctx)
	defer cancel()
	model := UserModel{AnonymousID: anonymousID, CreatedAt: time.Now().UTC()}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "anonymous_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"anonymous_id"}),
	}, clause.Returning{Columns: []clause.Column{{Name: "id"}}}).Create(&model).Error
	if err != nil {
		return 0, fmt.Errorf("upsert user: %w", err)
	}
	return model.ID, nil
}

// FindUserID looks up an existing user without creating one.
func (s *GormStore) FindUserID(ctx context.Context, anonymousID string) (int64, bool, error) {
	db, cancel := s.session(ctx)
	defer cancel()
	var model UserModel
	if err := db.Where("anonymous_id = ?", anonymousID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return model.ID, true, nil
}

// GetProgress returns one progress row owned by userID.
func (s *GormStore) GetProgress(ctx context.Context, userID int64, ebookID string) (domain.Progress, bool, error) {
	db, cancel := s.session(ctx)
	defer cancel()
	var model ProgressModel
	if err := db.Where("user_id = ? AND ebook_id = ?", userID, ebookID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Progress{}, false, nil
		}
		return domain.Progress{}, false, err
	}
	return progressFromModel(model), true, nil
}

// ListProgress returns every progress row owned by userID, most recent first.
func (s *GormStore) ListProgress(ctx context.Context, userID int64) ([]domain.Progress, error) {
	db, cancel := s.session(ctx)
	defer cancel()
	var models []ProgressModel
	if err := db.Where("user_id = ?", userID).Order("last_read DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Progress, 0, len(models))
	for _, m := range models {
		res = append(res, progressFromModel(m))
	}
	return res, nil
}

// UpsertProgress applies delta in a single INSERT ... ON CONFLICT statement.
// Time spent accumulates and completion never reverts; omitted optional
// fields keep their stored value.
func (s *GormStore) UpsertProgress(ctx context.Context, userID int64, ebookID string, delta domain.ProgressDelta, now time.Time) (domain.Progress, error) {
	db, cancel := s.session(ctx)
	defer cancel()
	now = now.UTC()
	model := ProgressModel{
		UserID:         userID,
		EbookID:        ebookID,
		ChapterID:      delta.ChapterID,
		ScrollPosition: delta.ScrollPosition,
		TimeSpent:      delta.TimeSpent,
		IsCompleted:    delta.IsCompleted,
		Bookmarks:      jsonOrEmpty(delta.Bookmarks),
		Notes:          jsonOrEmpty(delta.Notes),
		LastRead:       now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "ebook_id"}},
		DoUpdates: progressAssignments(delta),
	}, clause.Returning{}).Create(&model).Error
	if err != nil {
		return domain.Progress{}, fmt.Errorf("upsert progress: %w", err)
	}
	return progressFromModel(model), nil
}

func progressAssignments(delta domain.ProgressDelta) clause.Set {
	set := clause.Set{
		{Column: clause.Column{Name: "scroll_position"}, Value: gorm.Expr("excluded.scroll_position")},
		{Column: clause.Column{Name: "time_spent"}, Value: gorm.Expr("ebook_progress.time_spent + excluded.time_spent")},
		{Column: clause.Column{Name: "is_completed"}, Value: gorm.Expr("ebook_progress.is_completed OR excluded.is_completed")},
		{Column: clause.Column{Name: "last_read"}, Value: gorm.Expr("excluded.last_read")},
		{Column: clause.Column{Name: "updated_at"}, Value: gorm.Expr("excluded.updated_at")},
	}
	if delta.ChapterID != nil {
		set = append(set, clause.Assignment{Column: clause.Column{Name: "chapter_id"}, Value: gorm.Expr("excluded.chapter_id")})
	}
	if delta.Bookmarks != nil {
		set = append(set, clause.Assignment{Column: clause.Column{Name: "bookmarks"}, Value: gorm.Expr("excluded.bookmarks")})
	}
	if delta.Notes != nil {
		set = append(set, clause.Assignment{Column: clause.Column{Name: "notes"}, Value: gorm.Expr("excluded.notes")})
	}
	return set
}

// ProgressStats aggregates the caller's rows.
func (s *GormStore) ProgressStats(ctx context.Context, userID int64) (domain.ReadingStats, error) {
	db, cancel := s.session(ctx)
	defer cancel()
	var row struct {
		Started   int64
		Completed int64
		TimeRead  int64
	}
	err := db.Model(&ProgressModel{}).
		Select("COUNT(*) AS started, COALESCE(SUM(CASE WHEN is_completed THEN 1 ELSE 0 END), 0) AS completed, COALESCE(SUM(time_spent), 0) AS time_read").
		Where("user_id = ?", userID).
		Scan(&row).Error
	if err != nil {
		return domain.ReadingStats{}, err
	}
	return domain.ReadingStats{
		TotalBooksStarted: row.Started,
		BooksCompleted:    row.Completed,
		TotalTimeRead:     row.TimeRead,
	}, nil
}

// CreateContactMessage inserts a message and returns it with id/createdAt set.
func (s *GormStore) CreateContactMessage(ctx context.Context, msg domain.ContactMessage) (domain.ContactMessage, error) {
	db, cancel := s.session(ctx)
	defer cancel()
	model := contactToModel(msg)
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	if err := db.Create(&model).Error; err != nil {
		return domain.ContactMessage{}, fmt.Errorf("insert contact message: %w", err)
	}
	return contactFromModel(model), nil
}

// ListContactMessages returns all messages, newest first.
func (s *GormStore) ListContactMessages(ctx context.Context) ([]domain.ContactMessage, error) {
	db, cancel := s.session(ctx)
	defer cancel()
	var models []ContactMessageModel
	if err := db.Order("created_at DESC").Order("id DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.ContactMessage, 0, len(models))
	for _, m := range models {
		res = append(res, contactFromModel(m))
	}
	return res, nil
}

// DeleteContactMessage removes a message; false means it did not exist.
func (s *GormStore) DeleteContactMessage(ctx context.Context, id int64) (bool, error) {
	db, cancel := s.session(ctx)
	defer cancel()
	res := db.Delete(&ContactMessageModel{}, "id = ?", id)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Ping checks database connectivity.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func jsonOrEmpty(raw []byte) datatypes.JSON {
	if len(raw) == 0 {
		return datatypes.JSON(emptyJSONArray)
	}
	return datatypes.JSON(raw)
}

func progressFromModel(m ProgressModel) domain.Progress {
	return domain.Progress{
		ID:             m.ID,
		UserID:         m.UserID,
		EbookID:        m.EbookID,
		ChapterID:      m.ChapterID,
		ScrollPosition: m.ScrollPosition,
		TimeSpent:      m.TimeSpent,
		IsCompleted:    m.IsCompleted,
		Bookmarks:      []byte(jsonOrEmpty(m.Bookmarks)),
		Notes:          []byte(jsonOrEmpty(m.Notes)),
		LastRead:       m.LastRead.UTC(),
		CreatedAt:      m.CreatedAt.UTC(),
		UpdatedAt:      m.UpdatedAt.UTC(),
	}
}

func contactToModel(msg domain.ContactMessage) ContactMessageModel {
	return ContactMessageModel{
		ID:        msg.ID,
		Name:      msg.Name,
		Email:     msg.Email,
		Subject:   msg.Subject,
		Message:   msg.Message,
		CreatedAt: msg.CreatedAt,
	}
}

func contactFromModel(m ContactMessageModel) domain.ContactMessage {
	return domain.ContactMessage{
		ID:        m.ID,
		Name:      m.Name,
		Email:     m.Email,
		Subject:   m.Subject,
		Message:   m.Message,
		CreatedAt: m.CreatedAt.UTC(),
	}
}
