package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// record is the persisted row for one key.
type record struct {
	Key   string `gorm:"primaryKey;column:key"`
	Value []byte `gorm:"column:value"`
}

func (record) TableName() string { return "kv_entries" }

// GormStore implements Store on an embedded SQLite database via GORM.
// It gives the job queue and disk cache single-file durability without an
// external service.
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewSQLiteStore opens (or creates) the SQLite database at path and
// migrates the key-value table.
func NewSQLiteStore(path string, logger *zap.Logger) (*GormStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.AutoMigrate(&record{}); err != nil {
		return nil, fmt.Errorf("migrate kv table: %w", err)
	}

	return &GormStore{
		db:     db,
		logger: logger.With(zap.String("component", "kv_sqlite")),
	}, nil
}

// Put implements Store.
func (s *GormStore) Put(ctx context.Context, key string, value []byte) error {
	rec := record{Key: key, Value: value}
	err := s.db.WithContext(ctx).Save(&rec).Error
	if err != nil {
		return fmt.Errorf("sqlite put: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *GormStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var rec record
	err := s.db.WithContext(ctx).First(&rec, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sqlite get: %w", err)
	}
	return rec.Value, true, nil
}

// Remove implements Store.
func (s *GormStore) Remove(ctx context.Context, key string) error {
	err := s.db.WithContext(ctx).Delete(&record{}, "key = ?", key).Error
	if err != nil {
		return fmt.Errorf("sqlite remove: %w", err)
	}
	return nil
}

// Keys implements Store.
func (s *GormStore) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := s.db.WithContext(ctx).Model(&record{}).Pluck("key", &keys).Error
	if err != nil {
		return nil, fmt.Errorf("sqlite keys: %w", err)
	}
	return keys, nil
}

// Clear implements Store.
func (s *GormStore) Clear(ctx context.Context) error {
	err := s.db.WithContext(ctx).Where("1 = 1").Delete(&record{}).Error
	if err != nil {
		return fmt.Errorf("sqlite clear: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
