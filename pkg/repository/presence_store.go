package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/jgirmay/pulse/pkg/models"
)

// Hash fields of a presence record
const (
	fieldUserID         = "user_id"
	fieldPunchedIn      = "punched_in"
	fieldOnBreak        = "on_break"
	fieldInCall         = "in_call"
	fieldInMeeting      = "in_meeting"
	fieldTabFocused     = "tab_focused"
	fieldIdle           = "idle"
	fieldManualStatus   = "manual_status"
	fieldHeartbeatAt    = "heartbeat_at"
	fieldExpiresAt      = "expires_at"
	fieldIdleSince      = "idle_since"
	fieldUnfocusedSince = "unfocused_since"
)

// heartbeatScript writes the full signal snapshot and refreshes the TTL in one step.
// idle_since and unfocused_since keep the first heartbeat that reported the condition.
//
// KEYS[1] record, KEYS[2] org index
// ARGV[1] now ms, ARGV[2] ttl ms, ARGV[3] expires ms, ARGV[4] user id,
// ARGV[5..10] punched_in on_break in_call in_meeting tab_focused idle,
// ARGV[11] "set" or "keep", ARGV[12] manual status
var heartbeatScript = redis.NewScript(`
local key = KEYS[1]
local now = ARGV[1]
redis.call('HSET', key,
  'user_id', ARGV[4],
  'punched_in', ARGV[5], 'on_break', ARGV[6], 'in_call', ARGV[7],
  'in_meeting', ARGV[8], 'tab_focused', ARGV[9], 'idle', ARGV[10],
  'heartbeat_at', now, 'expires_at', ARGV[3])
if ARGV[10] == '1' then
  if redis.call('HEXISTS', key, 'idle_since') == 0 then
    redis.call('HSET', key, 'idle_since', now)
  end
else
  redis.call('HDEL', key, 'idle_since')
end
if ARGV[9] == '0' then
  if redis.call('HEXISTS', key, 'unfocused_since') == 0 then
    redis.call('HSET', key, 'unfocused_since', now)
  end
else
  redis.call('HDEL', key, 'unfocused_since')
end
if ARGV[11] == 'set' then
  if ARGV[12] == '' then
    redis.call('HDEL', key, 'manual_status')
  else
    redis.call('HSET', key, 'manual_status', ARGV[12])
  end
end
redis.call('PEXPIRE', key, ARGV[2])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[4])
redis.call('ZREMRANGEBYSCORE', KEYS[2], '-inf', '(' .. now)
redis.call('PEXPIRE', KEYS[2], ARGV[2])
return redis.call('HGETALL', key)
`)

// overrideScript touches only manual_status and never creates or extends a record.
//
// KEYS[1] record, ARGV[1] manual status ("" clears)
var overrideScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {}
end
if ARGV[1] == '' then
  redis.call('HDEL', KEYS[1], 'manual_status')
else
  redis.call('HSET', KEYS[1], 'manual_status', ARGV[1])
end
return redis.call('HGETALL', KEYS[1])
`)

// RedisPresenceStore implements PresenceStore on redis hashes with per-key TTL
type RedisPresenceStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisPresenceStore creates a presence store whose records live for ttl after each heartbeat
func NewRedisPresenceStore(client redis.UniversalClient, ttl time.Duration) *RedisPresenceStore {
	return &RedisPresenceStore{client: client, ttl: ttl}
}

var _ PresenceStore = (*RedisPresenceStore)(nil)

// The {org} hash tag keeps a record and its org index in one cluster slot.
func recordKey(orgID, userID string) string {
	return fmt.Sprintf("presence:{%s}:user:%s", orgID, userID)
}

func indexKey(orgID string) string {
	return fmt.Sprintf("presence:{%s}:index", orgID)
}

// EventsChannel is the pub/sub channel carrying presence changes for an organization
func EventsChannel(orgID string) string {
	return fmt.Sprintf("presence:{%s}:events", orgID)
}

// Upsert writes a heartbeat
func (s *RedisPresenceStore) Upsert(ctx context.Context, u PresenceUpsert) (*models.PresenceRecord, error) {
	now := u.Now.UnixMilli()
	expires := u.Now.Add(s.ttl).UnixMilli()

	mode, manual := "keep", ""
	if u.Manual != nil {
		mode, manual = "set", string(*u.Manual)
	}

	fields, err := heartbeatScript.Run(ctx, s.client,
		[]string{recordKey(u.OrganizationID, u.UserID), indexKey(u.OrganizationID)},
		now, s.ttl.Milliseconds(), expires, u.UserID,
		flag(u.Signals.PunchedIn), flag(u.Signals.OnBreak), flag(u.Signals.InCall),
		flag(u.Signals.InMeeting), flag(u.Signals.IsTabFocused), flag(u.Signals.IsIdle),
		mode, manual,
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("presence upsert: %w", err)
	}
	return decodeRecord(u.OrganizationID, u.UserID, pairsToMap(fields))
}

// SetManualStatus sets or clears the override on an existing record
func (s *RedisPresenceStore) SetManualStatus(ctx context.Context, userID, orgID string, status models.ManualStatus) (*models.PresenceRecord, error) {
	fields, err := overrideScript.Run(ctx, s.client, []string{recordKey(orgID, userID)}, string(status)).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("presence override: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return decodeRecord(orgID, userID, pairsToMap(fields))
}

// Get reads one record
func (s *RedisPresenceStore) Get(ctx context.Context, userID, orgID string) (*models.PresenceRecord, error) {
	fields, err := s.client.HGetAll(ctx, recordKey(orgID, userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("presence get: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return decodeRecord(orgID, userID, fields)
}

// GetMany reads many records in one round trip
func (s *RedisPresenceStore) GetMany(ctx context.Context, orgID string, userIDs []string) (map[string]*models.PresenceRecord, error) {
	out := make(map[string]*models.PresenceRecord, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(userIDs))
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, userID := range userIDs {
			cmds[i] = pipe.HGetAll(ctx, recordKey(orgID, userID))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("presence get many: %w", err)
	}

	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		rec, err := decodeRecord(orgID, userIDs[i], fields)
		if err != nil {
			return nil, err
		}
		out[userIDs[i]] = rec
	}
	return out, nil
}

// ListOrg reads candidates from the org index and keeps those whose record still exists
func (s *RedisPresenceStore) ListOrg(ctx context.Context, orgID string, now time.Time) ([]*models.PresenceRecord, error) {
	userIDs, err := s.client.ZRangeByScore(ctx, indexKey(orgID), &redis.ZRangeBy{
		Min: strconv.FormatInt(now.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("presence list: %w", err)
	}

	byUser, err := s.GetMany(ctx, orgID, userIDs)
	if err != nil {
		return nil, err
	}

	records := make([]*models.PresenceRecord, 0, len(byUser))
	for _, userID := range userIDs {
		if rec, ok := byUser[userID]; ok {
			records = append(records, rec)
		}
	}
	return records, nil
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func pairsToMap(pairs []string) map[string]string {
	m := make(map[string]string, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		m[pairs[i]] = pairs[i+1]
	}
	return m
}

func decodeRecord(orgID, userID string, fields map[string]string) (*models.PresenceRecord, error) {
	rec := &models.PresenceRecord{
		UserID:         userID,
		OrganizationID: orgID,
		Signals: models.Signals{
			PunchedIn:    fields[fieldPunchedIn] == "1",
			OnBreak:      fields[fieldOnBreak] == "1",
			InCall:       fields[fieldInCall] == "1",
			InMeeting:    fields[fieldInMeeting] == "1",
			IsTabFocused: fields[fieldTabFocused] == "1",
			IsIdle:       fields[fieldIdle] == "1",
		},
		ManualStatus: models.ManualStatus(fields[fieldManualStatus]),
	}

	var err error
	if rec.LastHeartbeatAt, err = parseMillis(fields, fieldHeartbeatAt); err != nil {
		return nil, err
	}
	if rec.ExpiresAt, err = parseMillis(fields, fieldExpiresAt); err != nil {
		return nil, err
	}
	if rec.IdleSince, err = parseOptionalMillis(fields, fieldIdleSince); err != nil {
		return nil, err
	}
	if rec.UnfocusedSince, err = parseOptionalMillis(fields, fieldUnfocusedSince); err != nil {
		return nil, err
	}
	return rec, nil
}

func parseMillis(fields map[string]string, name string) (time.Time, error) {
	raw, ok := fields[name]
	if !ok {
		return time.Time{}, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("presence record field %s: %w", name, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

func parseOptionalMillis(fields map[string]string, name string) (*time.Time, error) {
	if _, ok := fields[name]; !ok {
		return nil, nil
	}
	t, err := parseMillis(fields, name)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
