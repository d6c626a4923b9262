package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arunvm123/voyagecache/config"
	"github.com/arunvm123/voyagecache/store"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// KVEntry represents one key-value row
type KVEntry struct {
	Key       string `gorm:"primaryKey;type:varchar(255)"`
	Value     string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

// TableName sets the table name for GORM
func (KVEntry) TableName() string {
	return "kv_entries"
}

type KVRepository struct {
	db *gorm.DB
}

var _ store.Store = (*KVRepository)(nil)

func NewKVRepository(cfg *config.Database) (*KVRepository, error) {
	db, err := gorm.Open(postgres.Open(cfg.GetDatabaseURL()), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Minute)

	return NewKVRepositoryWithDB(db)
}

// NewKVRepositoryWithDB wraps an open connection and migrates the kv table
func NewKVRepositoryWithDB(db *gorm.DB) (*KVRepository, error) {
	if err := db.AutoMigrate(&KVEntry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &KVRepository{db: db}, nil
}

func (r *KVRepository) Get(ctx context.Context, key string) (string, error) {
	var entry KVEntry
	err := r.db.WithContext(ctx).Where("key = ?", key).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", store.ErrNotFound
		}
		return "", fmt.Errorf("failed to get kv entry: %w", err)
	}
	return entry.Value, nil
}

// Set upserts the row so a write is never partial
func (r *KVRepository) Set(ctx context.Context, key, value string) error {
	entry := KVEntry{Key: key, Value: value, UpdatedAt: time.Now()}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("failed to set kv entry: %w", err)
	}
	return nil
}

func (r *KVRepository) Remove(ctx context.Context, key string) error {
	if err := r.db.WithContext(ctx).Where("key = ?", key).Delete(&KVEntry{}).Error; err != nil {
		return fmt.Errorf("failed to remove kv entry: %w", err)
	}
	return nil
}

func (r *KVRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying connection pool
func (r *KVRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
