package models

import (
	"time"

	"github.com/google/uuid"
)

// AttendanceKind is the type of an attendance log entry
type AttendanceKind string

const (
	AttendancePunchIn    AttendanceKind = "punch_in"
	AttendancePunchOut   AttendanceKind = "punch_out"
	AttendanceBreakStart AttendanceKind = "break_start"
	AttendanceBreakEnd   AttendanceKind = "break_end"
)

// AttendanceEntry is one durable, append-only attendance event
type AttendanceEntry struct {
	ID             uint           `json:"-" gorm:"primaryKey"`
	EntryID        uuid.UUID      `json:"id" gorm:"type:uuid;uniqueIndex"`
	UserID         string         `json:"userId" gorm:"type:varchar(255);index:idx_attendance_user_org"`
	OrganizationID string         `json:"organizationId" gorm:"type:varchar(255);index:idx_attendance_user_org"`
	Kind           AttendanceKind `json:"kind" gorm:"type:varchar(32)"`
	OccurredAt     time.Time      `json:"occurredAt" gorm:"index"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// TableName specifies the table name for GORM
func (AttendanceEntry) TableName() string {
	return "attendance_entries"
}

// AttendanceState is the current clock state of a user, folded from the latest entry
type AttendanceState struct {
	UserID         string     `json:"userId"`
	OrganizationID string     `json:"organizationId"`
	PunchedIn      bool       `json:"punchedIn"`
	OnBreak        bool       `json:"onBreak"`
	Since          *time.Time `json:"since,omitempty"`
}

// StateAfter returns the state produced by the latest entry, or the
// punched-out state when there is none.
func StateAfter(userID, orgID string, latest *AttendanceEntry) AttendanceState {
	state := AttendanceState{UserID: userID, OrganizationID: orgID}
	if latest == nil {
		return state
	}
	at := latest.OccurredAt
	state.Since = &at
	switch latest.Kind {
	case AttendancePunchIn, AttendanceBreakEnd:
		state.PunchedIn = true
	case AttendanceBreakStart:
		state.PunchedIn = true
		state.OnBreak = true
	}
	return state
}

// Allows reports whether kind is a valid next entry from this state
func (s AttendanceState) Allows(kind AttendanceKind) bool {
	switch kind {
	case AttendancePunchIn:
		return !s.PunchedIn
	case AttendancePunchOut:
		return s.PunchedIn
	case AttendanceBreakStart:
		return s.PunchedIn && !s.OnBreak
	case AttendanceBreakEnd:
		return s.OnBreak
	default:
		return false
	}
}

// AttendanceLock is the per-user clock row every attendance writer updates first.
// The row lock it takes is held until commit, so transitions for one user apply in order.
type AttendanceLock struct {
	UserID         string    `json:"userId" gorm:"type:varchar(255);primaryKey"`
	OrganizationID string    `json:"organizationId" gorm:"type:varchar(255);primaryKey"`
	Version        int64     `json:"version" gorm:"not null;default:1"`
	AcquiredAt     time.Time `json:"acquiredAt"`
}

// TableName specifies the table name for GORM
func (AttendanceLock) TableName() string {
	return "attendance_locks"
}
