package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jgirmay/pulse/pkg/models"
)

// Lock creates or bumps the user's clock row. Inside a transaction the row stays
// locked until commit; concurrent writers for the same user wait here.
func (r *AttendanceRepositoryImpl) Lock(ctx context.Context, userID, orgID string) (int64, error) {
	lock := &models.AttendanceLock{
		UserID:         userID,
		OrganizationID: orgID,
		Version:        1,
		AcquiredAt:     time.Now().UTC(),
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "organization_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"version":     gorm.Expr("attendance_locks.version + 1"),
			"acquired_at": lock.AcquiredAt,
		}),
	}).Create(lock).Error
	if err != nil {
		return 0, err
	}

	var current models.AttendanceLock
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND organization_id = ?", userID, orgID).
		First(&current).Error; err != nil {
		return 0, err
	}
	return current.Version, nil
}
