package presence

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jgirmay/pulse/pkg/metrics"
	"github.com/jgirmay/pulse/pkg/models"
	"github.com/jgirmay/pulse/pkg/repository"
)

const testTTL = 60 * time.Second

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.PresenceEvent
	err    error
}

func (p *recordingPublisher) PublishPresence(_ context.Context, event models.PresenceEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

type testEngine struct {
	*Engine
	mr    *miniredis.Miniredis
	clock *fakeClock
	pub   *recordingPublisher
}

// advance moves the engine clock and the store's TTL clock together
func (te *testEngine) advance(d time.Duration) {
	te.clock.mu.Lock()
	te.clock.now = te.clock.now.Add(d)
	te.clock.mu.Unlock()
	te.mr.FastForward(d)
}

func setupEngine(t *testing.T) *testEngine {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	pub := &recordingPublisher{}
	engine := NewEngine(
		repository.NewRedisPresenceStore(client, testTTL),
		DefaultPolicy(0, 2*time.Minute),
		WithClock(clock.Now),
		WithPublisher(pub),
		WithMetrics(metrics.New()),
	)
	return &testEngine{Engine: engine, mr: mr, clock: clock, pub: pub}
}

func manual(m models.ManualStatus) *models.ManualStatus { return &m }

var activeSignals = models.Signals{PunchedIn: true, IsTabFocused: true}

func TestHeartbeatScenario(t *testing.T) {
	te := setupEngine(t)
	ctx := context.Background()
	idle := activeSignals
	idle.IsIdle = true

	rec, err := te.RecordHeartbeat(ctx, "u", "org", activeSignals, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOnline, rec.Status)

	te.advance(10 * time.Second)
	rec, err = te.RecordHeartbeat(ctx, "u", "org", idle, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAway, rec.Status)

	ok, err := te.SetManualOverride(ctx, "u", "org", models.ManualBusy)
	require.NoError(t, err)
	require.True(t, ok)

	status, err := te.GetStatus(ctx, "u", "org")
	require.NoError(t, err)
	assert.Equal(t, models.StatusBusy, status)

	for _, s := range []models.Signals{activeSignals, idle, activeSignals} {
		te.advance(10 * time.Second)
		rec, err = te.RecordHeartbeat(ctx, "u", "org", s, nil)
		require.NoError(t, err)
		assert.Equal(t, models.StatusBusy, rec.Status)
	}

	ok, err = te.SetManualOverride(ctx, "u", "org", models.ManualNone)
	require.NoError(t, err)
	require.True(t, ok)
	status, err = te.GetStatus(ctx, "u", "org")
	require.NoError(t, err)
	assert.Equal(t, models.StatusOnline, status)
}

func TestOverrideExpiresWithRecord(t *testing.T) {
	te := setupEngine(t)
	ctx := context.Background()

	_, err := te.RecordHeartbeat(ctx, "u", "org", activeSignals, manual(models.ManualBusy))
	require.NoError(t, err)

	te.advance(testTTL + time.Second)
	status, err := te.GetStatus(ctx, "u", "org")
	require.NoError(t, err)
	assert.Equal(t, models.StatusOffline, status)

	// a fresh heartbeat after expiry starts without the old override
	rec, err := te.RecordHeartbeat(ctx, "u", "org", activeSignals, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOnline, rec.Status)
}

func TestNeverHeartbeatedIsOffline(t *testing.T) {
	te := setupEngine(t)
	status, err := te.GetStatus(context.Background(), "nobody", "org")
	require.NoError(t, err)
	assert.Equal(t, models.StatusOffline, status)
}

func TestExpiryResolvesOffline(t *testing.T) {
	te := setupEngine(t)
	ctx := context.Background()

	_, err := te.RecordHeartbeat(ctx, "u", "org", activeSignals, nil)
	require.NoError(t, err)

	te.advance(testTTL - time.Second)
	status, err := te.GetStatus(ctx, "u", "org")
	require.NoError(t, err)
	assert.Equal(t, models.StatusOnline, status)

	te.advance(2 * time.Second)
	status, err = te.GetStatus(ctx, "u", "org")
	require.NoError(t, err)
	assert.Equal(t, models.StatusOffline, status)
}

func TestOverrideDoesNotExtendTTL(t *testing.T) {
	te := setupEngine(t)
	ctx := context.Background()

	_, err := te.RecordHeartbeat(ctx, "u", "org", activeSignals, nil)
	require.NoError(t, err)
	te.advance(50 * time.Second)

	ok, err := te.SetManualOverride(ctx, "u", "org", models.ManualDND)
	require.NoError(t, err)
	require.True(t, ok)

	te.advance(11 * time.Second)
	status, err := te.GetStatus(ctx, "u", "org")
	require.NoError(t, err)
	assert.Equal(t, models.StatusOffline, status)
}

func TestOverrideWithoutRecord(t *testing.T) {
	te := setupEngine(t)

	ok, err := te.SetManualOverride(context.Background(), "u", "org", models.ManualBusy)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, te.mr.Keys())
	assert.Empty(t, te.pub.events)
}

func TestBulkStatusIsTotal(t *testing.T) {
	te := setupEngine(t)
	ctx := context.Background()

	_, err := te.RecordHeartbeat(ctx, "A", "org", activeSignals, nil)
	require.NoError(t, err)

	got, err := te.GetBulkStatus(ctx, "org", []string{"A", "B", "C", "B"})
	require.NoError(t, err)
	assert.Equal(t, map[string]models.PresenceStatus{
		"A": models.StatusOnline,
		"B": models.StatusOffline,
		"C": models.StatusOffline,
	}, got)

	empty, err := te.GetBulkStatus(ctx, "org", nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestHeartbeatDerivationMatchesPolicyForAllSignals(t *testing.T) {
	te := setupEngine(t)
	ctx := context.Background()

	for bits := 0; bits < 64; bits++ {
		signals := signalsFromBits(bits)
		userID := fmt.Sprintf("u%02d", bits)
		want := Derive(te.policy, Facts{Present: true, Signals: signals})

		rec, err := te.RecordHeartbeat(ctx, userID, "org", signals, nil)
		require.NoError(t, err)
		assert.Equal(t, want, rec.Status, "bits=%06b", bits)

		status, err := te.GetStatus(ctx, userID, "org")
		require.NoError(t, err)
		assert.Equal(t, want, status, "bits=%06b", bits)
	}
}

func TestUnfocusedGraceUsesFirstUnfocusedHeartbeat(t *testing.T) {
	te := setupEngine(t)
	ctx := context.Background()
	unfocused := models.Signals{PunchedIn: true}

	for _, step := range []struct {
		after time.Duration
		want  models.PresenceStatus
	}{
		{0, models.StatusOnline},
		{50 * time.Second, models.StatusOnline},
		{50 * time.Second, models.StatusOnline},
		{50 * time.Second, models.StatusAway},
	} {
		te.advance(step.after)
		rec, err := te.RecordHeartbeat(ctx, "u", "org", unfocused, nil)
		require.NoError(t, err)
		assert.Equal(t, step.want, rec.Status)
	}

	rec, err := te.RecordHeartbeat(ctx, "u", "org", activeSignals, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOnline, rec.Status)
}

func TestOrgPresence(t *testing.T) {
	te := setupEngine(t)
	ctx := context.Background()

	_, err := te.RecordHeartbeat(ctx, "a", "org", activeSignals, nil)
	require.NoError(t, err)
	_, err = te.RecordHeartbeat(ctx, "b", "org", models.Signals{PunchedIn: true, InCall: true}, nil)
	require.NoError(t, err)
	_, err = te.RecordHeartbeat(ctx, "c", "elsewhere", activeSignals, nil)
	require.NoError(t, err)

	presence, err := te.GetOrgPresence(ctx, "org")
	require.NoError(t, err)
	require.Len(t, presence, 2)
	assert.Equal(t, models.StatusOnline, presence["a"].Status)
	assert.Equal(t, models.StatusBusy, presence["b"].Status)
	assert.True(t, presence["b"].InCall)

	te.advance(testTTL + time.Second)
	presence, err = te.GetOrgPresence(ctx, "org")
	require.NoError(t, err)
	assert.Empty(t, presence)
}

func TestStoreUnavailableFailsLoudly(t *testing.T) {
	te := setupEngine(t)
	te.mr.Close()
	ctx := context.Background()

	_, err := te.RecordHeartbeat(ctx, "u", "org", activeSignals, nil)
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	_, err = te.SetManualOverride(ctx, "u", "org", models.ManualBusy)
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	status, err := te.GetStatus(ctx, "u", "org")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Empty(t, status, "no status is fabricated")

	_, err = te.GetBulkStatus(ctx, "org", []string{"u"})
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	_, err = te.GetOrgPresence(ctx, "org")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestInvalidInputRejectedBeforeWrite(t *testing.T) {
	te := setupEngine(t)
	ctx := context.Background()

	_, err := te.RecordHeartbeat(ctx, "u", "org", activeSignals, manual("sleeping"))
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = te.RecordHeartbeat(ctx, "", "org", activeSignals, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = te.RecordHeartbeat(ctx, "u", "{org}", activeSignals, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = te.SetManualOverride(ctx, "u", "org", "sleeping")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = te.GetBulkStatus(ctx, "org", []string{"ok", " "})
	assert.ErrorIs(t, err, ErrInvalidInput)

	assert.Empty(t, te.mr.Keys())
}

func TestPublishesEventsAndToleratesPublishFailure(t *testing.T) {
	te := setupEngine(t)
	ctx := context.Background()

	_, err := te.RecordHeartbeat(ctx, "u", "org", activeSignals, nil)
	require.NoError(t, err)
	_, err = te.SetManualOverride(ctx, "u", "org", models.ManualDND)
	require.NoError(t, err)

	require.Len(t, te.pub.events, 2)
	assert.Equal(t, models.PresenceEventHeartbeat, te.pub.events[0].Type)
	assert.Equal(t, models.StatusOnline, te.pub.events[0].Status)
	assert.Equal(t, models.PresenceEventOverride, te.pub.events[1].Type)
	assert.Equal(t, models.StatusDND, te.pub.events[1].Status)
	assert.Equal(t, "org", te.pub.events[1].OrganizationID)

	te.pub.err = assert.AnError
	rec, err := te.RecordHeartbeat(ctx, "u", "org", activeSignals, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDND, rec.Status)
}
