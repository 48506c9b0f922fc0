package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/jgirmay/pulse/pkg/models"
)

// PresenceUpsert is one heartbeat as written to the presence store
type PresenceUpsert struct {
	UserID         string
	OrganizationID string
	Signals        models.Signals
	// Manual is nil to leave the override untouched; a pointer to ManualNone clears it
	Manual *models.ManualStatus
	Now    time.Time
}

// PresenceStore holds one expiring record per (user, organization).
// A record that is not returned does not exist; expiry is the only liveness proof.
type PresenceStore interface {
	// Upsert atomically writes the heartbeat, resets the TTL and returns the stored record
	Upsert(ctx context.Context, u PresenceUpsert) (*models.PresenceRecord, error)

	// SetManualStatus changes only the override. The TTL is left untouched.
	// Returns nil when the record does not exist.
	SetManualStatus(ctx context.Context, userID, orgID string, status models.ManualStatus) (*models.PresenceRecord, error)

	// Get returns nil, nil for an absent record
	Get(ctx context.Context, userID, orgID string) (*models.PresenceRecord, error)

	// GetMany returns only the records that exist, keyed by user id
	GetMany(ctx context.Context, orgID string, userIDs []string) (map[string]*models.PresenceRecord, error)

	// ListOrg returns every live record in the organization
	ListOrg(ctx context.Context, orgID string, now time.Time) ([]*models.PresenceRecord, error)
}

// AttendanceRepository defines operations for attendance entries
type AttendanceRepository interface {
	// Lock serializes writers for one user's clock and returns its new version
	Lock(ctx context.Context, userID, orgID string) (int64, error)

	// Create appends an entry
	Create(ctx context.Context, entry *models.AttendanceEntry) error

	// Latest returns the most recent entry, or nil when the user has none
	Latest(ctx context.Context, userID, orgID string) (*models.AttendanceEntry, error)

	// List returns entries newest first
	List(ctx context.Context, userID, orgID string, limit int) ([]*models.AttendanceEntry, error)

	// WithTx binds the repository to a running transaction
	WithTx(tx *gorm.DB) AttendanceRepository
}
