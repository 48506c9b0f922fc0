// Package visibility attaches a commit-ordered transaction marker to every durable mutation,
// so a client can tell when its write has reached the replicated read path.
package visibility

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/jgirmay/pulse/pkg/logging"
	"github.com/jgirmay/pulse/pkg/metrics"
)

// ErrMarkerUnavailable means no marker could be captured; the transaction was rolled back
var ErrMarkerUnavailable = errors.New("visibility marker unavailable")

// MarkerSource captures the marker of the transaction tx belongs to
type MarkerSource interface {
	Capture(ctx context.Context, tx *gorm.DB) (int64, error)
}

// MarkerFunc adapts a function to MarkerSource
type MarkerFunc func(ctx context.Context, tx *gorm.DB) (int64, error)

func (f MarkerFunc) Capture(ctx context.Context, tx *gorm.DB) (int64, error) {
	return f(ctx, tx)
}

// PostgresMarker reads the current transaction id, truncated to the 32-bit xid
// the logical replication stream tags its changes with.
type PostgresMarker struct{}

const currentTxIDQuery = "SELECT pg_current_xact_id()::xid::text"

func (PostgresMarker) Capture(ctx context.Context, tx *gorm.DB) (int64, error) {
	var raw string
	if err := tx.WithContext(ctx).Raw(currentTxIDQuery).Scan(&raw).Error; err != nil {
		return 0, err
	}
	return parseMarker(raw)
}

func parseMarker(raw string) (int64, error) {
	txid, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse txid %q: %w", raw, err)
	}
	return txid, nil
}

// markerSequence backs SequenceMarker
type markerSequence struct {
	ID        int64 `gorm:"primaryKey;autoIncrement"`
	CreatedAt time.Time
}

func (markerSequence) TableName() string {
	return "visibility_markers"
}

// SequenceMarker issues markers from an autoincrement table written inside the transaction.
// It serves stores without transaction ids, such as SQLite, where writers are serialized.
type SequenceMarker struct{}

// NewSequenceMarker creates the sequence table on db
func NewSequenceMarker(db *gorm.DB) (*SequenceMarker, error) {
	if err := db.AutoMigrate(&markerSequence{}); err != nil {
		return nil, fmt.Errorf("failed to create marker sequence: %w", err)
	}
	return &SequenceMarker{}, nil
}

func (*SequenceMarker) Capture(ctx context.Context, tx *gorm.DB) (int64, error) {
	row := markerSequence{}
	if err := tx.WithContext(ctx).Create(&row).Error; err != nil {
		return 0, err
	}
	return row.ID, nil
}

// Result is a committed mutation's value together with its marker
type Result[T any] struct {
	Value T
	TxID  int64
}

// Protocol runs mutations in a transaction and returns the commit's marker
type Protocol struct {
	db      *gorm.DB
	source  MarkerSource
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewProtocol creates a protocol over db. A nil source reads Postgres transaction ids.
func NewProtocol(db *gorm.DB, source MarkerSource, logger *zap.Logger, m *metrics.Metrics) *Protocol {
	if source == nil {
		source = PostgresMarker{}
	}
	return &Protocol{db: db, source: source, logger: logging.OrNop(logger).Named("visibility"), metrics: m}
}

// WithMarker runs fn in one transaction and captures the marker from that same transaction.
// The transaction commits only when both fn and the capture succeed.
func WithMarker[T any](ctx context.Context, p *Protocol, fn func(tx *gorm.DB) (T, error)) (Result[T], error) {
	var out Result[T]
	var markerErr error

	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		value, err := fn(tx)
		if err != nil {
			return err
		}

		txid, err := p.source.Capture(ctx, tx)
		if err == nil && txid <= 0 {
			err = fmt.Errorf("non-positive txid %d", txid)
		}
		if err != nil {
			markerErr = fmt.Errorf("%w: %w", ErrMarkerUnavailable, err)
			return markerErr
		}

		out = Result[T]{Value: value, TxID: txid}
		return nil
	})
	if markerErr != nil {
		p.metrics.ObserveMarker(markerErr)
		p.logger.Error("rolled back mutation without marker", zap.Error(markerErr))
	}
	if err != nil {
		return Result[T]{}, err
	}

	p.metrics.ObserveMarker(nil)
	return out, nil
}
