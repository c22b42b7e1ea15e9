package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	AnonymousID string    `gorm:"column:anonymous_id;uniqueIndex;size:64;not null"`
	CreatedAt   time.Time `gorm:"not null"`
}

func (UserModel) TableName() string { return "users" }

type ProgressModel struct {
	ID             int64          `gorm:"primaryKey;autoIncrement"`
	UserID         int64          `gorm:"not null;uniqueIndex:idx_ebook_progress_user_ebook,priority:1"`
	EbookID        string         `gorm:"size:50;not null;uniqueIndex:idx_ebook_progress_user_ebook,priority:2"`
	ChapterID      *string        `gorm:"size:100"`
	ScrollPosition float64        `gorm:"not null"`
	TimeSpent      int64          `gorm:"not null"`
	IsCompleted    bool           `gorm:"not null"`
	Bookmarks      datatypes.JSON `gorm:"type:jsonb;not null"`
	Notes          datatypes.JSON `gorm:"type:jsonb;not null"`
	LastRead       time.Time      `gorm:"not null;index"`
	CreatedAt      time.Time      `gorm:"not null"`
	UpdatedAt      time.Time      `gorm:"not null"`
}

func (ProgressModel) TableName() string { return "ebook_progress" }

type ContactMessageModel struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	Name      string    `gorm:"size:100;not null"`
	Email     string    `gorm:"size:254;not null"`
	Subject   *string   `gorm:"size:200"`
	Message   string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null;index"`
}

func (ContactMessageModel) TableName() string { return "contact_messages" }
