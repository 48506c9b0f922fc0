package presence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jgirmay/pulse/pkg/models"
)

func signalsFromBits(bits int) models.Signals {
	return models.Signals{
		PunchedIn:    bits&1 != 0,
		OnBreak:      bits&2 != 0,
		InCall:       bits&4 != 0,
		InMeeting:    bits&8 != 0,
		IsTabFocused: bits&16 != 0,
		IsIdle:       bits&32 != 0,
	}
}

func TestDeriveIsDeterministicOverAllSignalCombinations(t *testing.T) {
	policy := DefaultPolicy(0, 2*time.Minute)
	for bits := 0; bits < 64; bits++ {
		f := Facts{Present: true, Signals: signalsFromBits(bits)}
		first := Derive(policy, f)
		assert.Equal(t, first, Derive(policy, f), "bits=%06b", bits)
		assert.NotEqual(t, models.StatusOffline, first, "a live record is never offline without an override")
	}
}

func TestDeriveSignalPrecedence(t *testing.T) {
	policy := DefaultPolicy(0, 2*time.Minute)

	tests := []struct {
		name  string
		facts Facts
		want  models.PresenceStatus
	}{
		{"absent", Facts{}, models.StatusOffline},
		{"absent ignores override", Facts{Manual: models.ManualBusy}, models.StatusOffline},
		{"active", Facts{Present: true, Signals: models.Signals{PunchedIn: true, IsTabFocused: true}}, models.StatusOnline},
		{"idle", Facts{Present: true, Signals: models.Signals{PunchedIn: true, IsTabFocused: true, IsIdle: true}}, models.StatusAway},
		{"call suppresses idle", Facts{Present: true, Signals: models.Signals{PunchedIn: true, InCall: true, IsIdle: true}}, models.StatusBusy},
		{"meeting suppresses unfocused", Facts{Present: true, Signals: models.Signals{InMeeting: true}, UnfocusedFor: time.Hour}, models.StatusBusy},
		{"break is not away", Facts{Present: true, Signals: models.Signals{PunchedIn: true, OnBreak: true, IsIdle: true}}, models.StatusOnBreak},
		{"unfocused within grace", Facts{Present: true, Signals: models.Signals{PunchedIn: true}, UnfocusedFor: time.Minute}, models.StatusOnline},
		{"unfocused past grace", Facts{Present: true, Signals: models.Signals{PunchedIn: true}, UnfocusedFor: 2 * time.Minute}, models.StatusAway},
		{"not punched in", Facts{Present: true, Signals: models.Signals{IsTabFocused: true}}, models.StatusAway},
		{"override wins", Facts{Present: true, Manual: models.ManualBusy, Signals: models.Signals{PunchedIn: true, IsTabFocused: true}}, models.StatusBusy},
		{"dnd override", Facts{Present: true, Manual: models.ManualDND, Signals: models.Signals{InCall: true}}, models.StatusDND},
		{"appear offline", Facts{Present: true, Manual: models.ManualOffline, Signals: models.Signals{PunchedIn: true, IsTabFocused: true}}, models.StatusOffline},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Derive(policy, tt.facts))
		})
	}
}

func TestDeriveHonoursIdleGrace(t *testing.T) {
	policy := DefaultPolicy(30*time.Second, 2*time.Minute)
	idle := models.Signals{PunchedIn: true, IsTabFocused: true, IsIdle: true}

	assert.Equal(t, models.StatusOnline, Derive(policy, Facts{Present: true, Signals: idle, IdleFor: 10 * time.Second}))
	assert.Equal(t, models.StatusAway, Derive(policy, Facts{Present: true, Signals: idle, IdleFor: 30 * time.Second}))
}

func TestDeriveCustomTable(t *testing.T) {
	policy := Policy{
		Rules: []Rule{{
			Name:   "always-busy",
			When:   func(Facts, Policy) bool { return true },
			Status: models.StatusBusy,
		}},
		Fallback: models.StatusOnline,
	}
	assert.Equal(t, models.StatusBusy, Derive(policy, Facts{Present: true}))
	assert.Equal(t, models.StatusOnline, Derive(Policy{Fallback: models.StatusOnline}, Facts{Present: true}))
}

func TestFactsAt(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	idleSince := now.Add(-45 * time.Second)
	rec := &models.PresenceRecord{
		Signals:      models.Signals{IsIdle: true},
		ManualStatus: models.ManualAway,
		ExpiresAt:    now.Add(time.Minute),
		IdleSince:    &idleSince,
	}

	f := FactsAt(rec, now)
	assert.True(t, f.Present)
	assert.Equal(t, models.ManualAway, f.Manual)
	assert.Equal(t, 45*time.Second, f.IdleFor)
	assert.Zero(t, f.UnfocusedFor)

	assert.False(t, FactsAt(nil, now).Present)
	assert.False(t, FactsAt(rec, now.Add(time.Minute)).Present, "expired at exactly ExpiresAt")

	future := now.Add(time.Second)
	rec.IdleSince = &future
	assert.Zero(t, FactsAt(rec, now).IdleFor)
}
