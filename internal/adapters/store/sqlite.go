package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/dkeye/ProximityVoice/internal/core"
	"github.com/dkeye/ProximityVoice/internal/domain"
)

type attachmentRecord struct {
	Scope       string  `gorm:"primaryKey;size:512"`
	ConnID      string  `gorm:"primaryKey;size:64"`
	SessionID   string  `gorm:"size:128;index"`
	TrackID     string  `gorm:"size:256"`
	Path        *string `gorm:"size:4096"`
	PrettyPath  string  `gorm:"size:4096"`
	Name        string  `gorm:"size:64"`
	ConnectedAt time.Time
	UpdatedAt   time.Time
}

func (attachmentRecord) TableName() string { return "attachments" }

func recordOf(a core.Attachment) attachmentRecord {
	return attachmentRecord{
		Scope:       string(a.Scope),
		ConnID:      string(a.ConnID),
		SessionID:   a.SessionID,
		TrackID:     a.TrackID,
		Path:        a.Path,
		PrettyPath:  a.PrettyPath,
		Name:        a.Name,
		ConnectedAt: a.ConnectedAt,
	}
}

func (r attachmentRecord) attachment() core.Attachment {
	return core.Attachment{
		ConnID:      core.ConnID(r.ConnID),
		Scope:       domain.Scope(r.Scope),
		SessionID:   r.SessionID,
		TrackID:     r.TrackID,
		Path:        r.Path,
		PrettyPath:  r.PrettyPath,
		Name:        r.Name,
		ConnectedAt: r.ConnectedAt,
	}
}

// SQLite persists attachments through gorm so they outlive the registry's memory.
type SQLite struct {
	db *gorm.DB
}

// OpenSQLite opens (creating if needed) the database at path. An empty path or
// ":memory:" opens a private in-memory database.
func OpenSQLite(path string) (*SQLite, error) {
	var dsn string
	switch path = strings.TrimSpace(path); {
	case path == "", strings.EqualFold(path, ":memory:"):
		dsn = "file::memory:"
	default:
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("store: create dir: %w", err)
			}
		}
		dsn = fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", filepath.ToSlash(path))
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("store: sql handle: %w", err)
	}
	// one connection keeps an in-memory database alive and serializes writers
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&attachmentRecord{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Put(ctx context.Context, a core.Attachment) error {
	rec := recordOf(a)
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "scope"}, {Name: "conn_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"session_id", "track_id", "path", "pretty_path", "name", "connected_at", "updated_at"}),
		}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("store: put %s/%s: %w", a.Scope, a.ConnID, err)
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, scope domain.Scope, conn core.ConnID) (core.Attachment, bool, error) {
	var rec attachmentRecord
	err := s.db.WithContext(ctx).Take(&rec, "scope = ? AND conn_id = ?", string(scope), string(conn)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return core.Attachment{}, false, nil
	}
	if err != nil {
		return core.Attachment{}, false, fmt.Errorf("store: get %s/%s: %w", scope, conn, err)
	}
	return rec.attachment(), true, nil
}

func (s *SQLite) Delete(ctx context.Context, scope domain.Scope, conn core.ConnID) error {
	err := s.db.WithContext(ctx).
		Where("scope = ? AND conn_id = ?", string(scope), string(conn)).
		Delete(&attachmentRecord{}).Error
	if err != nil {
		return fmt.Errorf("store: delete %s/%s: %w", scope, conn, err)
	}
	return nil
}

func (s *SQLite) List(ctx context.Context, scope domain.Scope) ([]core.Attachment, error) {
	var recs []attachmentRecord
	err := s.db.WithContext(ctx).
		Where("scope = ?", string(scope)).
		Order("connected_at ASC, session_id ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("store: list %s: %w", scope, err)
	}
	out := make([]core.Attachment, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.attachment())
	}
	return out, nil
}

// Purge drops every attachment. Connections do not survive a process restart,
// so the server purges on startup.
func (s *SQLite) Purge(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&attachmentRecord{}).Error; err != nil {
		return fmt.Errorf("store: purge: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
