package models

import (
	"time"
)

// PresenceStatus is the availability shown to other members of an organization
type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusAway    PresenceStatus = "away"
	StatusBusy    PresenceStatus = "busy"
	StatusOnBreak PresenceStatus = "on_break"
	StatusDND     PresenceStatus = "dnd"
	StatusOffline PresenceStatus = "offline"
)

// ManualStatus is an explicit override chosen by the user.
// The zero value means no override is set.
type ManualStatus string

const (
	ManualNone    ManualStatus = ""
	ManualOnline  ManualStatus = "online"
	ManualAway    ManualStatus = "away"
	ManualBusy    ManualStatus = "busy"
	ManualDND     ManualStatus = "dnd"
	ManualOffline ManualStatus = "offline"
)

// ManualStatuses lists every accepted override value
var ManualStatuses = []ManualStatus{ManualOnline, ManualAway, ManualBusy, ManualDND, ManualOffline}

// Valid reports whether m is a known override. ManualNone is valid and clears the override.
func (m ManualStatus) Valid() bool {
	if m == ManualNone {
		return true
	}
	for _, s := range ManualStatuses {
		if m == s {
			return true
		}
	}
	return false
}

// Status maps the override onto the status it displays as
func (m ManualStatus) Status() PresenceStatus {
	return PresenceStatus(m)
}

// Signals is the full activity snapshot sent by one client on every heartbeat
type Signals struct {
	PunchedIn    bool `json:"punchedIn"`
	OnBreak      bool `json:"onBreak"`
	InCall       bool `json:"inCall"`
	InMeeting    bool `json:"inMeeting"`
	IsTabFocused bool `json:"isTabFocused"`
	IsIdle       bool `json:"isIdle"`
}

// PresenceRecord is the ephemeral presence state of one user in one organization.
// Status is recomputed on every read and is never the source of truth.
type PresenceRecord struct {
	UserID         string `json:"userId"`
	OrganizationID string `json:"organizationId"`
	Signals
	ManualStatus    ManualStatus   `json:"manualStatus,omitempty"`
	Status          PresenceStatus `json:"status"`
	LastHeartbeatAt time.Time      `json:"lastHeartbeatAt"`
	ExpiresAt       time.Time      `json:"expiresAt"`
	IdleSince       *time.Time     `json:"idleSince,omitempty"`
	UnfocusedSince  *time.Time     `json:"unfocusedSince,omitempty"`
}

// PresenceEventType names a change on the presence feed
type PresenceEventType string

const (
	PresenceEventHeartbeat PresenceEventType = "heartbeat"
	PresenceEventOverride  PresenceEventType = "override"
)

// PresenceEvent is published to watchers of an organization after every accepted write
type PresenceEvent struct {
	Type           PresenceEventType `json:"type"`
	OrganizationID string            `json:"organizationId"`
	UserID         string            `json:"userId"`
	Status         PresenceStatus    `json:"status"`
	Record         *PresenceRecord   `json:"record,omitempty"`
	At             time.Time         `json:"at"`
}
