// Package gormkv stores blobs in a relational database through GORM.
package gormkv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/surrealdb/surrealtodo/pkg/kv"
)

// Blob is one stored key.
type Blob struct {
	Key       string `gorm:"primaryKey;size:255"`
	Value     []byte `gorm:"not null"`
	UpdatedAt time.Time
}

func (Blob) TableName() string { return "surrealtodo_blobs" }

type Store struct {
	db *gorm.DB
}

var _ kv.Store = (*Store)(nil)

// Open connects to postgres using dsn and migrates the blob table.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return New(db)
}

// New uses an already opened database, whatever its dialect.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Blob{}); err != nil {
		return nil, fmt.Errorf("failed to migrate blob table: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var b Blob
	err := s.db.WithContext(ctx).First(&b, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("gorm get %q: %w", key, err)
	}
	return b.Value, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	b := Blob{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&b).Error
	if err != nil {
		return fmt.Errorf("gorm put %q: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Delete(&Blob{}, "key = ?", key).Error; err != nil {
		return fmt.Errorf("gorm delete %q: %w", key, err)
	}
	return nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
