package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/jgirmay/pulse/pkg/models"
)

// AttendanceRepositoryImpl implements AttendanceRepository
type AttendanceRepositoryImpl struct {
	db *gorm.DB
}

// NewAttendanceRepository creates a new attendance repository
func NewAttendanceRepository(db *gorm.DB) AttendanceRepository {
	return &AttendanceRepositoryImpl{db: db}
}

// WithTx binds the repository to tx
func (r *AttendanceRepositoryImpl) WithTx(tx *gorm.DB) AttendanceRepository {
	return &AttendanceRepositoryImpl{db: tx}
}

// Create appends an entry
func (r *AttendanceRepositoryImpl) Create(ctx context.Context, entry *models.AttendanceEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// Latest returns the newest entry by insertion order
func (r *AttendanceRepositoryImpl) Latest(ctx context.Context, userID, orgID string) (*models.AttendanceEntry, error) {
	var entry models.AttendanceEntry
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND organization_id = ?", userID, orgID).
		Order("id DESC").
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// List returns entries newest first
func (r *AttendanceRepositoryImpl) List(ctx context.Context, userID, orgID string, limit int) ([]*models.AttendanceEntry, error) {
	var entries []*models.AttendanceEntry
	query := r.db.WithContext(ctx).
		Where("user_id = ? AND organization_id = ?", userID, orgID).
		Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
