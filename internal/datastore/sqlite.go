package datastore

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/safetrack/safetrack/internal/errors"
	"github.com/safetrack/safetrack/internal/logger"
)

// Row is one entry of the records table
type Row struct {
	Key       string `gorm:"primaryKey;size:128"`
	Payload   []byte
	UpdatedAt time.Time
}

// TableName pins the table name
func (Row) TableName() string { return "records" }

// SQLiteStore is a KV in a single SQLite table
type SQLiteStore struct {
	db   *gorm.DB
	path string
	log  logger.Logger
}

// OpenSQLite opens or creates the database at path and migrates the schema
func OpenSQLite(path string, log logger.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = logger.Global().Module("datastore")
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, dbError(err, "create_directory").Context("path", path).Build()
		}
	}

	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000&_journal_mode=WAL"), &gorm.Config{
		Logger: NewGormLogger(log, DefaultSlowQueryThreshold),
	})
	if err != nil {
		return nil, dbError(err, "open").Context("path", path).Build()
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, dbError(err, "open").Build()
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Row{}); err != nil {
		_ = sqlDB.Close()
		return nil, dbError(err, "migrate").Build()
	}

	log.Info("datastore opened", logger.String("path", path))
	return &SQLiteStore{db: db, path: path, log: log}, nil
}

// Get returns the payload stored under key
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var row Row
	err := s.db.WithContext(ctx).Where(clause.Eq{Column: clause.Column{Name: "key"}, Value: key}).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, dbError(err, "get").Context("key", key).Build()
	}
	return row.Payload, nil
}

// Put inserts or replaces the payload under key
func (s *SQLiteStore) Put(ctx context.Context, key string, value []byte) error {
	row := Row{Key: key, Payload: value, UpdatedAt: time.Now()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return dbError(err, "put").Context("key", key).Build()
	}
	return nil
}

// Close closes the underlying connection
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func dbError(err error, op string) *errors.ErrorBuilder {
	return errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", op)
}
