// Package attendance records punch and break events as txid-bearing durable mutations
package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/jgirmay/pulse/pkg/logging"
	"github.com/jgirmay/pulse/pkg/models"
	"github.com/jgirmay/pulse/pkg/repository"
	"github.com/jgirmay/pulse/pkg/visibility"
)

var (
	// ErrInvalidTransition is returned when the entry does not follow from the current state
	ErrInvalidTransition = errors.New("invalid attendance transition")
	// ErrInvalidInput is returned before any transaction is opened
	ErrInvalidInput = errors.New("invalid attendance input")
)

// Mutation is a committed entry with the state it produced and its visibility marker
type Mutation struct {
	Entry *models.AttendanceEntry `json:"entry"`
	State models.AttendanceState  `json:"state"`
	TxID  int64                   `json:"txid"`
}

// Service is the attendance API used by the HTTP layer
type Service interface {
	Record(ctx context.Context, userID, orgID string, kind models.AttendanceKind) (*Mutation, error)
	State(ctx context.Context, userID, orgID string) (models.AttendanceState, error)
}

// AttendanceService implements Service
type AttendanceService struct {
	repo     repository.AttendanceRepository
	protocol *visibility.Protocol
	now      func() time.Time
	logger   *zap.Logger
}

// NewAttendanceService creates a new attendance service
func NewAttendanceService(repo repository.AttendanceRepository, protocol *visibility.Protocol, logger *zap.Logger) *AttendanceService {
	return &AttendanceService{
		repo:     repo,
		protocol: protocol,
		now:      time.Now,
		logger:   logging.OrNop(logger).Named("attendance"),
	}
}

// Record validates the transition and appends the entry in one marked transaction
func (s *AttendanceService) Record(ctx context.Context, userID, orgID string, kind models.AttendanceKind) (*Mutation, error) {
	if err := validateKey(userID, orgID); err != nil {
		return nil, err
	}

	res, err := visibility.WithMarker(ctx, s.protocol, func(tx *gorm.DB) (*Mutation, error) {
		repo := s.repo.WithTx(tx)

		if _, err := repo.Lock(ctx, userID, orgID); err != nil {
			return nil, fmt.Errorf("failed to lock attendance: %w", err)
		}
		latest, err := repo.Latest(ctx, userID, orgID)
		if err != nil {
			return nil, fmt.Errorf("failed to load attendance: %w", err)
		}
		current := models.StateAfter(userID, orgID, latest)
		if !current.Allows(kind) {
			return nil, fmt.Errorf("%w: cannot %s when punched_in=%t on_break=%t",
				ErrInvalidTransition, kind, current.PunchedIn, current.OnBreak)
		}

		entry := &models.AttendanceEntry{
			EntryID:        uuid.New(),
			UserID:         userID,
			OrganizationID: orgID,
			Kind:           kind,
			OccurredAt:     s.now().UTC(),
		}
		if err := repo.Create(ctx, entry); err != nil {
			return nil, fmt.Errorf("failed to record attendance: %w", err)
		}
		return &Mutation{Entry: entry, State: models.StateAfter(userID, orgID, entry)}, nil
	})
	if err != nil {
		return nil, err
	}

	res.Value.TxID = res.TxID
	s.logger.Info("attendance recorded",
		zap.String("user_id", userID),
		zap.String("org_id", orgID),
		zap.String("kind", string(kind)),
		zap.Int64("txid", res.TxID))
	return res.Value, nil
}

// State returns the current clock state
func (s *AttendanceService) State(ctx context.Context, userID, orgID string) (models.AttendanceState, error) {
	if err := validateKey(userID, orgID); err != nil {
		return models.AttendanceState{}, err
	}
	latest, err := s.repo.Latest(ctx, userID, orgID)
	if err != nil {
		return models.AttendanceState{}, fmt.Errorf("failed to load attendance: %w", err)
	}
	return models.StateAfter(userID, orgID, latest), nil
}

func validateKey(userID, orgID string) error {
	if err := models.ValidateID("user id", userID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := models.ValidateID("organization id", orgID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}
