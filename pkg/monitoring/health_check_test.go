package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupChecker(t *testing.T) (*HealthChecker, *miniredis.Miniredis) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewHealthChecker(db, rdb, "test"), mr
}

func TestCheckHealthy(t *testing.T) {
	hc, _ := setupChecker(t)

	health := hc.Check(context.Background())
	assert.Equal(t, HealthStatusHealthy, health.Status)
	require.Len(t, health.Components, 2)
	assert.Equal(t, "database", health.Components[0].Name)
	assert.Equal(t, "presence_store", health.Components[1].Name)
	assert.Equal(t, "test", health.Version)
}

func TestCheckRedisDown(t *testing.T) {
	hc, mr := setupChecker(t)
	mr.Close()

	health := hc.Check(context.Background())
	assert.Equal(t, HealthStatusUnhealthy, health.Status)
	assert.Equal(t, HealthStatusHealthy, health.Components[0].Status)
	assert.Equal(t, HealthStatusUnhealthy, health.Components[1].Status)
}

func TestCheckIsCached(t *testing.T) {
	hc, mr := setupChecker(t)

	first := hc.Check(context.Background())
	mr.Close()
	assert.Same(t, first, hc.Check(context.Background()))

	hc.cacheDuration = 0
	assert.Equal(t, HealthStatusUnhealthy, hc.Check(context.Background()).Status)
}

func TestHandlerStatusCodes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hc, mr := setupChecker(t)
	hc.cacheDuration = time.Nanosecond
	router := gin.New()
	router.GET("/healthz", hc.Handler())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body ServiceHealth
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, HealthStatusHealthy, body.Status)

	mr.Close()
	time.Sleep(time.Millisecond)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
