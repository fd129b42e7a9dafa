package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ana-joker/FULLSTUDY/internal/repositories"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// KVRecord is one logical store. Values are JSON documents kept as jsonb.
type KVRecord struct {
	Key       string         `gorm:"primaryKey;size:128"`
	Value     datatypes.JSON `gorm:"type:jsonb;not null"`
	UpdatedAt time.Time
}

func (KVRecord) TableName() string { return "study_kv" }

type BlobRecord struct {
	ID        string `gorm:"primaryKey;size:128"`
	Digest    string `gorm:"size:64;not null;index"`
	Data      []byte `gorm:"type:bytea;not null"`
	CreatedAt time.Time
}

func (BlobRecord) TableName() string { return "study_blob" }

type StorePostgreSQL struct {
	db *gorm.DB
}

var _ repositories.Backend = (*StorePostgreSQL)(nil)

func NewStorePostgreSQL(db *gorm.DB) *StorePostgreSQL {
	return &StorePostgreSQL{db: db}
}

// AutoMigrate creates the kv and blob tables.
func (s *StorePostgreSQL) AutoMigrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&KVRecord{}, &BlobRecord{}); err != nil {
		return fmt.Errorf("failed to migrate study tables: %w", err)
	}
	return nil
}

func (s *StorePostgreSQL) Save(ctx context.Context, key string, value []byte) error {
	if !json.Valid(value) {
		return fmt.Errorf("value for %s is not a JSON document", key)
	}
	record := KVRecord{Key: key, Value: datatypes.JSON(value), UpdatedAt: time.Now()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&record).Error
}

func (s *StorePostgreSQL) Load(ctx context.Context, key string) ([]byte, error) {
	var record KVRecord
	if err := s.db.WithContext(ctx).Where("key = ?", key).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, err
	}
	return []byte(record.Value), nil
}

func (s *StorePostgreSQL) Remove(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Where("key = ?", key).Delete(&KVRecord{}).Error
}

func (s *StorePostgreSQL) Put(ctx context.Context, id string, data []byte) (string, error) {
	record := BlobRecord{ID: id, Digest: repositories.Digest(data), Data: data, CreatedAt: time.Now()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"digest", "data"}),
	}).Create(&record).Error
	if err != nil {
		return "", err
	}
	return record.Digest, nil
}

func (s *StorePostgreSQL) Get(ctx context.Context, id string) ([]byte, error) {
	var record BlobRecord
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, err
	}
	if repositories.Digest(record.Data) != record.Digest {
		return nil, repositories.ErrBlobCorrupt
	}
	return record.Data, nil
}

func (s *StorePostgreSQL) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Where("id = ?", id).Delete(&BlobRecord{}).Error
}

func (s *StorePostgreSQL) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
