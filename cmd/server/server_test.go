package main

import (
	"bytes"
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
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/jgirmay/pulse/pkg/auth"
	"github.com/jgirmay/pulse/pkg/database"
	"github.com/jgirmay/pulse/pkg/metrics"
	"github.com/jgirmay/pulse/pkg/monitoring"
	"github.com/jgirmay/pulse/pkg/realtime"
	"github.com/jgirmay/pulse/pkg/replication"
	"github.com/jgirmay/pulse/pkg/repository"
	"github.com/jgirmay/pulse/pkg/services/attendance"
	"github.com/jgirmay/pulse/pkg/services/presence"
	"github.com/jgirmay/pulse/pkg/visibility"
)

func setupApp(t *testing.T) (*app, *gin.Engine) {
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	registry := repository.NewRegistry(db, rdb)
	require.NoError(t, registry.Initialize(time.Minute))

	seq, err := visibility.NewSequenceMarker(db)
	require.NoError(t, err)

	m := metrics.New()
	logger := zap.NewNop()
	broadcaster := realtime.NewBroadcaster(rdb, logger)
	engine := presence.NewEngine(registry.PresenceStore, presence.DefaultPolicy(0, 2*time.Minute),
		presence.WithPublisher(broadcaster), presence.WithMetrics(m))
	proxy, err := replication.NewProxy(replication.ProxyConfig{UpstreamURL: "http://127.0.0.1:1/v1/shape"}, nil, logger, m)
	require.NoError(t, err)

	a := &app{
		presence:   engine,
		attendance: attendance.NewAttendanceService(registry.AttendanceRepository, visibility.NewProtocol(db, seq, logger, m), logger),
		proxy:      proxy,
		watch:      realtime.NewWatchHandler(broadcaster, engine, logger, m),
		tokens:     auth.NewTokenManager("test-secret", "pulse"),
		health:     monitoring.NewHealthChecker(db, rdb, "test"),
		metrics:    m,
		logger:     logger,
	}
	return a, newRouter(a)
}

func call(t *testing.T, router http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestServerPresenceFlow(t *testing.T) {
	a, router := setupApp(t)
	alice, err := a.tokens.GenerateToken("alice", "", time.Hour)
	require.NoError(t, err)
	bob, err := a.tokens.GenerateToken("bob", "", time.Hour)
	require.NoError(t, err)

	rec := call(t, router, http.MethodPost, "/api/presence/acme/heartbeat", alice,
		`{"punchedIn":true,"onBreak":false,"inCall":true,"inMeeting":false,"isTabFocused":true,"isIdle":false}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = call(t, router, http.MethodGet, "/api/presence/acme/users/alice", bob, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"userId":"alice","status":"busy"}`, rec.Body.String())

	rec = call(t, router, http.MethodPut, "/api/presence/acme/manual-status", bob, `{"status":"dnd"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":false}`, rec.Body.String())

	rec = call(t, router, http.MethodPost, "/api/presence/acme/bulk", bob, `{"userIds":["alice","bob"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"statuses":{"alice":"busy","bob":"offline"}}`, rec.Body.String())
}

func TestServerAttendanceFlow(t *testing.T) {
	a, router := setupApp(t)
	token, err := a.tokens.GenerateToken("alice", "", time.Hour)
	require.NoError(t, err)

	rec := call(t, router, http.MethodPost, "/api/attendance/acme/punch-in", token, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var m attendance.Mutation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.Positive(t, m.TxID)

	rec = call(t, router, http.MethodPost, "/api/attendance/acme/punch-in", token, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestServerRequiresAuth(t *testing.T) {
	_, router := setupApp(t)

	for _, path := range []string{"/api/presence/acme", "/api/attendance/acme/me", "/v1/shape?table=attendance_entries"} {
		rec := call(t, router, http.MethodGet, path, "", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestServerOpsEndpoints(t *testing.T) {
	_, router := setupApp(t)

	rec := call(t, router, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = call(t, router, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pulse_http_requests_total")
}

func TestMaskDSN(t *testing.T) {
	assert.Equal(t, "***", maskDSN("redis://x"))
	assert.Equal(t, "postgres:/...de=disable", maskDSN("postgres://u:p@db:5432/pulse?sslmode=disable"))
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("PRESENCE_CONFIG", "does-not-exist.yaml")
	t.Setenv("PRESENCE_AUTH_JWT_SECRET", "cli-secret")

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"token", "--user", "alice", "--ttl", "1m"})
	require.NoError(t, cmd.Execute())

	claims, err := auth.NewTokenManager("cli-secret", "pulse").ValidateToken(string(bytes.TrimSpace(out.Bytes())))
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
}
