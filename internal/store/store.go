// Package store implements the client's local persistence, backed by GORM on
// SQLite (pure Go driver). It plays the role browser storage plays in a web
// frontend: it carries the pending-verification email across process
// restarts and keeps a cached copy of the conversation list for instant
// display before the first network load completes.
package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/unizar-ia/thesis-assistant-client/internal/domain"
)

// pendingVerification holds the single email awaiting a verification code.
// At most one row exists (fixed primary key).
type pendingVerification struct {
	ID        int    `gorm:"primaryKey"`
	Email     string `gorm:"type:varchar(254);not null"`
	UpdatedAt time.Time
}

func (pendingVerification) TableName() string { return "pending_verification" }

// cachedConversation is a local snapshot of one conversation-list entry.
// Position preserves the server's ordering (most recent first).
type cachedConversation struct {
	ID          string `gorm:"type:char(36);primaryKey"`
	OwnerUserID string `gorm:"type:varchar(64)"`
	Title       string `gorm:"type:varchar(255)"`
	CreatedAt   time.Time
	ClosedAt    *time.Time
	Position    int `gorm:"index"`
	CachedAt    time.Time
}

func (cachedConversation) TableName() string { return "cached_conversations" }

// Store is the local cache handle. Safe for concurrent use.
type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the SQLite cache, applies PRAGMAs, and migrates
// the schema.
func Open(path string) (*Store, error) {
	// Fail early if the parent directory does not exist (instead of a
	// confusing sqlite "out of memory (14)").
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// PRAGMAs
	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA synchronous=NORMAL;")
	db.Exec("PRAGMA busy_timeout=5000;")

	// Pool: a single local client needs very little.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(4)
		sqlDB.SetMaxIdleConns(4)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	}

	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&pendingVerification{}, &cachedConversation{}); err != nil {
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SavePendingVerification records the email awaiting a one-time code. It
// overwrites any previous value; only one verification is pending at a time.
func (s *Store) SavePendingVerification(ctx context.Context, email string) error {
	row := pendingVerification{ID: 1, Email: email, UpdatedAt: time.Now().UTC()}
	return s.db.WithContext(ctx).Save(&row).Error
}

// PendingVerification returns the stored email, or "" when none is pending.
func (s *Store) PendingVerification(ctx context.Context) (string, error) {
	var row pendingVerification
	err := s.db.WithContext(ctx).First(&row, 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return row.Email, nil
}

// ClearPendingVerification removes the stored email. Called once
// verification succeeds.
func (s *Store) ClearPendingVerification(ctx context.Context) error {
	return s.db.WithContext(ctx).Delete(&pendingVerification{}, 1).Error
}

// ReplaceConversations swaps the cached conversation list for the given one,
// preserving its order. The whole swap is transactional so readers never see
// a half-replaced list.
func (s *Store) ReplaceConversations(ctx context.Context, convs []domain.Conversation) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&cachedConversation{}).Error; err != nil {
			return err
		}
		now := time.Now().UTC()
		for i, c := range convs {
			row := cachedConversation{
				ID:          c.ID,
				OwnerUserID: c.OwnerUserID,
				Title:       c.Title,
				CreatedAt:   c.CreatedAt,
				ClosedAt:    c.ClosedAt,
				Position:    i,
				CachedAt:    now,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// CachedConversations returns the locally cached list in its stored order.
func (s *Store) CachedConversations(ctx context.Context) ([]domain.Conversation, error) {
	var rows []cachedConversation
	if err := s.db.WithContext(ctx).Order("position asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Conversation, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.Conversation{
			ID:          r.ID,
			OwnerUserID: r.OwnerUserID,
			Title:       r.Title,
			CreatedAt:   r.CreatedAt,
			ClosedAt:    r.ClosedAt,
		})
	}
	return out, nil
}
