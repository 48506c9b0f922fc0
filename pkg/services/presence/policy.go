package presence

import (
	"time"

	"github.com/jgirmay/pulse/pkg/models"
)

// Facts is everything derivation looks at, captured from one record at one instant
type Facts struct {
	Present      bool
	Signals      models.Signals
	Manual       models.ManualStatus
	IdleFor      time.Duration
	UnfocusedFor time.Duration
}

// Rule maps a signal condition to a status. Rules are evaluated in order; the first match wins.
type Rule struct {
	Name   string
	When   func(f Facts, p Policy) bool
	Status models.PresenceStatus
}

// Policy is the derivation table
type Policy struct {
	IdleGrace      time.Duration
	UnfocusedGrace time.Duration
	Rules          []Rule
	// Fallback applies to a live record that matches no rule
	Fallback models.PresenceStatus
}

// DefaultRules is the signal precedence: busy, then break, then away, then online
var DefaultRules = []Rule{
	{
		Name:   "in-call-or-meeting",
		When:   func(f Facts, _ Policy) bool { return f.Signals.InCall || f.Signals.InMeeting },
		Status: models.StatusBusy,
	},
	{
		Name:   "on-break",
		When:   func(f Facts, _ Policy) bool { return f.Signals.OnBreak },
		Status: models.StatusOnBreak,
	},
	{
		Name:   "idle",
		When:   func(f Facts, p Policy) bool { return f.Signals.IsIdle && f.IdleFor >= p.IdleGrace },
		Status: models.StatusAway,
	},
	{
		Name:   "tab-unfocused",
		When:   func(f Facts, p Policy) bool { return !f.Signals.IsTabFocused && f.UnfocusedFor >= p.UnfocusedGrace },
		Status: models.StatusAway,
	},
	{
		Name:   "punched-in",
		When:   func(f Facts, _ Policy) bool { return f.Signals.PunchedIn },
		Status: models.StatusOnline,
	},
}

// DefaultPolicy returns the standard table with the given grace periods
func DefaultPolicy(idleGrace, unfocusedGrace time.Duration) Policy {
	return Policy{
		IdleGrace:      idleGrace,
		UnfocusedGrace: unfocusedGrace,
		Rules:          DefaultRules,
		Fallback:       models.StatusAway,
	}
}

// Derive computes the displayed status.
// Absent record > manual override > first matching rule > fallback.
func Derive(p Policy, f Facts) models.PresenceStatus {
	if !f.Present {
		return models.StatusOffline
	}
	if f.Manual != models.ManualNone {
		return f.Manual.Status()
	}
	for _, rule := range p.Rules {
		if rule.When(f, p) {
			return rule.Status
		}
	}
	return p.Fallback
}

// FactsAt reads rec as of now. A nil record or one past its expiry is not present.
func FactsAt(rec *models.PresenceRecord, now time.Time) Facts {
	if rec == nil || (!rec.ExpiresAt.IsZero() && !now.Before(rec.ExpiresAt)) {
		return Facts{}
	}
	return Facts{
		Present:      true,
		Signals:      rec.Signals,
		Manual:       rec.ManualStatus,
		IdleFor:      since(rec.IdleSince, now),
		UnfocusedFor: since(rec.UnfocusedSince, now),
	}
}

func since(start *time.Time, now time.Time) time.Duration {
	if start == nil || now.Before(*start) {
		return 0
	}
	return now.Sub(*start)
}
