package repository

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryInitialize(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	db := setupTestDB(t)

	reg := NewRegistry(db, rdb)
	assert.Error(t, reg.Initialize(0))

	require.NoError(t, reg.Initialize(time.Minute))
	assert.NotNil(t, reg.PresenceStore)
	assert.NotNil(t, reg.AttendanceRepository)
	assert.Same(t, db, reg.GetDB())
	assert.Equal(t, rdb, reg.GetRedis())

	require.NoError(t, reg.Close())
}

func TestRegistryRequiresBothStores(t *testing.T) {
	assert.Error(t, NewRegistry(nil, nil).Initialize(time.Minute))
}
