package repository

import (
	"fmt"

	"github.com/cepro/gpio2mqtt/telemetry"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Repository stores measurements to the local file system (sqlite) before they are uploaded to Supabase.
type Repository struct {
	db *gorm.DB
}

func New(path string) (*Repository, error) {

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Migrate the schema
	err = db.AutoMigrate(&StoredMeasurement{})
	if err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return &Repository{
		db: db,
	}, nil
}

func (r *Repository) AddMeasurement(m telemetry.Measurement) error {
	stored := newStoredMeasurement(m)
	result := r.db.Create(&stored)
	return result.Error
}

// GetMeasurements returns up to `limit` measurements, newest first. When `fresh` is true only measurements that
// have never been part of an upload attempt are returned, otherwise only those that have failed at least once.
func (r *Repository) GetMeasurements(limit int, fresh bool) ([]StoredMeasurement, error) {
	var measurements []StoredMeasurement

	query := r.db.Limit(limit).Order("upload_attempt_count asc, time desc")
	if fresh {
		query = query.Where("upload_attempt_count = ?", 0)
	} else {
		query = query.Where("upload_attempt_count > ?", 0)
	}
	result := query.Find(&measurements)
	if result.Error != nil {
		return nil, result.Error
	}
	return measurements, nil
}

func (r *Repository) DeleteMeasurements(measurements []StoredMeasurement) error {
	if len(measurements) == 0 {
		return nil
	}
	result := r.db.Delete(&measurements)
	return result.Error
}

func (r *Repository) IncrementUploadAttemptCount(measurements []StoredMeasurement) error {
	if len(measurements) == 0 {
		return nil
	}
	result := r.db.Model(&measurements).UpdateColumn("upload_attempt_count", gorm.Expr("upload_attempt_count + ?", 1))
	return result.Error
}

// Count returns the number of stored measurements.
func (r *Repository) Count() (int64, error) {
	var count int64
	result := r.db.Model(&StoredMeasurement{}).Count(&count)
	return count, result.Error
}

func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	return sqlDB.Close()
}
