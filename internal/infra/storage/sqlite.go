package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"tpsl_monitor/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Storage is the SQLite-backed trigger journal
type Storage struct {
	db *gorm.DB
}

var _ domain.TriggerJournal = (*Storage)(nil)

// NewStorage opens (or creates) the journal database at path.
// An empty path resolves to the per-user config directory.
func NewStorage(path string) (*Storage, error) {
	dbPath := path
	if dbPath == "" {
		var err error
		dbPath, err = getDBPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve DB path: %w", err)
		}
	}

	// Ensure directory exists
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&domain.TriggerRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// getDBPath resolves the database file path based on OS
func getDBPath() (string, error) {
	var configDir string
	var err error

	if runtime.GOOS == "windows" {
		configDir = os.Getenv("LOCALAPPDATA")
		if configDir == "" {
			configDir, err = os.UserConfigDir()
		}
	} else {
		configDir, err = os.UserConfigDir()
	}

	if err != nil {
		return "", err
	}

	return filepath.Join(configDir, "TPSLMonitor", "data", "triggers.db"), nil
}

// SaveTrigger appends a fired trigger to the journal
func (s *Storage) SaveTrigger(rec *domain.TriggerRecord) error {
	return s.db.Create(rec).Error
}

// ListTriggers returns the most recent triggers of a wallet, newest first.
// limit <= 0 returns every row.
func (s *Storage) ListTriggers(wallet string, limit int) ([]domain.TriggerRecord, error) {
	var recs []domain.TriggerRecord
	q := s.db.Where("wallet_address = ?", domain.NormalizeWallet(wallet)).
		Order("triggered_at DESC").
		Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&recs).Error
	return recs, err
}

// GetTriggerByOrder retrieves the journal row of an order
func (s *Storage) GetTriggerByOrder(orderID string) (*domain.TriggerRecord, error) {
	var rec domain.TriggerRecord
	err := s.db.First(&rec, "order_id = ?", orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil // Not found is not an error
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Close releases the underlying connection pool
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
