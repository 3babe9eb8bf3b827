package cachestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/cryguy/swkit/internal/core"
)

// cacheRow is one stored response. Headers and Vary are JSON objects.
type cacheRow struct {
	CacheName  string `gorm:"primaryKey"`
	RequestKey string `gorm:"primaryKey"`
	Status     int
	StatusText string
	Headers    string
	Vary       string
	Body       []byte
	StoredAt   time.Time
}

func (cacheRow) TableName() string { return "cache_entries" }

// SQLite is a CacheStore persisted in a SQLite database, so cached
// responses survive a restart the way browser Cache Storage does.
type SQLite struct {
	db *gorm.DB
}

// OpenSQLite opens (or creates) the database at path. Use ":memory:" for
// an ephemeral store.
func OpenSQLite(path string) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening cache database %q: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("opening cache database %q: %w", path, err)
	}
	if path == ":memory:" {
		// Each connection to :memory: is a separate database.
		sqlDB.SetMaxOpenConns(1)
	} else {
		_ = db.Exec("PRAGMA journal_mode=WAL").Error
	}

	if err := db.AutoMigrate(&cacheRow{}); err != nil {
		return nil, fmt.Errorf("migrating cache database: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Match(ctx context.Context, cacheName, key string) (*core.CacheEntry, error) {
	var row cacheRow
	err := s.db.WithContext(ctx).
		Where("cache_name = ? AND request_key = ?", cacheName, key).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("matching %s in %s: %w", key, cacheName, err)
	}

	entry := &core.CacheEntry{
		Status:     row.Status,
		StatusText: row.StatusText,
		Headers:    make(http.Header),
		Body:       row.Body,
		StoredAt:   row.StoredAt,
	}
	if row.Headers != "" {
		_ = json.Unmarshal([]byte(row.Headers), &entry.Headers)
	}
	if row.Vary != "" {
		_ = json.Unmarshal([]byte(row.Vary), &entry.Vary)
	}
	return entry, nil
}

func (s *SQLite) Put(ctx context.Context, cacheName, key string, entry *core.CacheEntry) error {
	headers, err := json.Marshal(entry.Headers)
	if err != nil {
		return fmt.Errorf("encoding headers: %w", err)
	}
	var vary []byte
	if len(entry.Vary) > 0 {
		if vary, err = json.Marshal(entry.Vary); err != nil {
			return fmt.Errorf("encoding vary: %w", err)
		}
	}
	row := cacheRow{
		CacheName:  cacheName,
		RequestKey: key,
		Status:     entry.Status,
		StatusText: entry.StatusText,
		Headers:    string(headers),
		Vary:       string(vary),
		Body:       entry.Body,
		StoredAt:   entry.StoredAt,
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("storing %s in %s: %w", key, cacheName, err)
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, cacheName, key string) (bool, error) {
	res := s.db.WithContext(ctx).
		Where("cache_name = ? AND request_key = ?", cacheName, key).
		Delete(&cacheRow{})
	if res.Error != nil {
		return false, fmt.Errorf("deleting %s from %s: %w", key, cacheName, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// CacheNames returns the distinct bucket names in sorted order.
func (s *SQLite) CacheNames(ctx context.Context) ([]string, error) {
	var names []string
	err := s.db.WithContext(ctx).Model(&cacheRow{}).
		Distinct("cache_name").
		Order("cache_name").
		Pluck("cache_name", &names).Error
	if err != nil {
		return nil, fmt.Errorf("listing caches: %w", err)
	}
	return names, nil
}

func (s *SQLite) DeleteCache(ctx context.Context, cacheName string) (bool, error) {
	res := s.db.WithContext(ctx).Where("cache_name = ?", cacheName).Delete(&cacheRow{})
	if res.Error != nil {
		return false, fmt.Errorf("deleting cache %s: %w", cacheName, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
