// Package presence derives live availability from client heartbeats held in an expiring store
package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jgirmay/pulse/pkg/logging"
	"github.com/jgirmay/pulse/pkg/metrics"
	"github.com/jgirmay/pulse/pkg/models"
	"github.com/jgirmay/pulse/pkg/repository"
)

var (
	// ErrStoreUnavailable means the expiring key store could not be reached. Callers may retry.
	ErrStoreUnavailable = errors.New("presence store unavailable")
	// ErrInvalidInput is returned before any store write
	ErrInvalidInput = errors.New("invalid presence input")
)

// Publisher fans presence changes out to watchers
type Publisher interface {
	PublishPresence(ctx context.Context, event models.PresenceEvent) error
}

// Service is the presence engine as seen by the HTTP layer
type Service interface {
	RecordHeartbeat(ctx context.Context, userID, orgID string, signals models.Signals, manual *models.ManualStatus) (*models.PresenceRecord, error)
	SetManualOverride(ctx context.Context, userID, orgID string, status models.ManualStatus) (bool, error)
	GetStatus(ctx context.Context, userID, orgID string) (models.PresenceStatus, error)
	GetBulkStatus(ctx context.Context, orgID string, userIDs []string) (map[string]models.PresenceStatus, error)
	GetOrgPresence(ctx context.Context, orgID string) (map[string]*models.PresenceRecord, error)
}

// Engine implements Service. It keeps no presence state of its own.
type Engine struct {
	store     repository.PresenceStore
	policy    Policy
	now       func() time.Time
	publisher Publisher
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// Option configures an Engine
type Option func(*Engine)

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates a presence engine over store
func NewEngine(store repository.PresenceStore, policy Policy, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		policy: policy,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.OrNop(e.logger).Named("presence")
	return e
}

var _ Service = (*Engine)(nil)

// RecordHeartbeat upserts the caller's full signal snapshot and returns the record with its derived status.
// A nil manual leaves any override in place.
func (e *Engine) RecordHeartbeat(ctx context.Context, userID, orgID string, signals models.Signals, manual *models.ManualStatus) (*models.PresenceRecord, error) {
	if err := validateKey(userID, orgID); err != nil {
		return nil, err
	}
	if manual != nil && !manual.Valid() {
		return nil, fmt.Errorf("%w: unknown manual status %q", ErrInvalidInput, *manual)
	}

	now := e.now().UTC()
	rec, err := e.store.Upsert(ctx, repository.PresenceUpsert{
		UserID:         userID,
		OrganizationID: orgID,
		Signals:        signals,
		Manual:         manual,
		Now:            now,
	})
	if err != nil {
		return nil, e.storeFailure("upsert", err, zap.String("user_id", userID), zap.String("org_id", orgID))
	}

	rec.Status = Derive(e.policy, FactsAt(rec, now))
	e.metrics.ObserveHeartbeat(string(rec.Status))
	e.publish(ctx, models.PresenceEventHeartbeat, rec, now)
	return rec, nil
}

// SetManualOverride sets or clears the override on a live record.
// It reports false when the user has no live record; nothing is created in that case.
func (e *Engine) SetManualOverride(ctx context.Context, userID, orgID string, status models.ManualStatus) (bool, error) {
	if err := validateKey(userID, orgID); err != nil {
		return false, err
	}
	if !status.Valid() {
		return false, fmt.Errorf("%w: unknown manual status %q", ErrInvalidInput, status)
	}

	rec, err := e.store.SetManualStatus(ctx, userID, orgID, status)
	if err != nil {
		return false, e.storeFailure("override", err, zap.String("user_id", userID), zap.String("org_id", orgID))
	}
	if rec == nil {
		e.metrics.ObserveOverride("no_record")
		return false, nil
	}

	now := e.now().UTC()
	rec.Status = Derive(e.policy, FactsAt(rec, now))
	e.metrics.ObserveOverride("applied")
	e.publish(ctx, models.PresenceEventOverride, rec, now)
	return true, nil
}

// GetStatus resolves an absent or expired record to offline
func (e *Engine) GetStatus(ctx context.Context, userID, orgID string) (models.PresenceStatus, error) {
	if err := validateKey(userID, orgID); err != nil {
		return "", err
	}
	rec, err := e.store.Get(ctx, userID, orgID)
	if err != nil {
		return "", e.storeFailure("get", err, zap.String("user_id", userID), zap.String("org_id", orgID))
	}
	return Derive(e.policy, FactsAt(rec, e.now().UTC())), nil
}

// GetBulkStatus returns an entry for every requested user
func (e *Engine) GetBulkStatus(ctx context.Context, orgID string, userIDs []string) (map[string]models.PresenceStatus, error) {
	if err := validateID("organization id", orgID); err != nil {
		return nil, err
	}
	for _, userID := range userIDs {
		if err := validateID("user id", userID); err != nil {
			return nil, err
		}
	}

	unique := dedupe(userIDs)
	records, err := e.store.GetMany(ctx, orgID, unique)
	if err != nil {
		return nil, e.storeFailure("get_many", err, zap.String("org_id", orgID), zap.Int("users", len(unique)))
	}

	now := e.now().UTC()
	out := make(map[string]models.PresenceStatus, len(unique))
	for _, userID := range unique {
		out[userID] = Derive(e.policy, FactsAt(records[userID], now))
	}
	return out, nil
}

// GetOrgPresence returns every live record in the organization with its derived status
func (e *Engine) GetOrgPresence(ctx context.Context, orgID string) (map[string]*models.PresenceRecord, error) {
	if err := validateID("organization id", orgID); err != nil {
		return nil, err
	}

	now := e.now().UTC()
	records, err := e.store.ListOrg(ctx, orgID, now)
	if err != nil {
		return nil, e.storeFailure("list_org", err, zap.String("org_id", orgID))
	}

	out := make(map[string]*models.PresenceRecord, len(records))
	for _, rec := range records {
		facts := FactsAt(rec, now)
		if !facts.Present {
			continue
		}
		rec.Status = Derive(e.policy, facts)
		out[rec.UserID] = rec
	}
	return out, nil
}

func (e *Engine) storeFailure(op string, err error, fields ...zap.Field) error {
	e.metrics.ObserveStoreError(op)
	e.logger.Error("presence store call failed", append(fields, zap.String("op", op), zap.Error(err))...)
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

// publish is best effort; the write already succeeded
func (e *Engine) publish(ctx context.Context, kind models.PresenceEventType, rec *models.PresenceRecord, now time.Time) {
	if e.publisher == nil {
		return
	}
	event := models.PresenceEvent{
		Type:           kind,
		OrganizationID: rec.OrganizationID,
		UserID:         rec.UserID,
		Status:         rec.Status,
		Record:         rec,
		At:             now,
	}
	if err := e.publisher.PublishPresence(ctx, event); err != nil {
		e.logger.Warn("failed to publish presence event",
			zap.String("user_id", rec.UserID),
			zap.String("org_id", rec.OrganizationID),
			zap.Error(err))
	}
}

func validateKey(userID, orgID string) error {
	if err := validateID("user id", userID); err != nil {
		return err
	}
	return validateID("organization id", orgID)
}

func validateID(name, id string) error {
	if err := models.ValidateID(name, id); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
