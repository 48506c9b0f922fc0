package monitoring

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

const probeTimeout = 2 * time.Second

// ComponentHealth represents the health of a single dependency
type ComponentHealth struct {
	Name       string                 `json:"name"`
	Status     HealthStatus           `json:"status"`
	Message    string                 `json:"message"`
	LastCheck  time.Time              `json:"last_check"`
	ResponseMs int64                  `json:"response_ms"`
	Metrics    map[string]interface{} `json:"metrics,omitempty"`
}

// ServiceHealth is the aggregate served on /healthz
type ServiceHealth struct {
	Status     HealthStatus      `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components []ComponentHealth `json:"components"`
	Uptime     int64             `json:"uptime_seconds"`
	Version    string            `json:"version"`
}

// HealthChecker probes the durable database and the presence store.
// Results are cached briefly so a busy load balancer does not hammer either.
type HealthChecker struct {
	mu            sync.Mutex
	db            *gorm.DB
	redis         redis.UniversalClient
	version       string
	startTime     time.Time
	lastCheckTime time.Time
	cachedHealth  *ServiceHealth
	cacheDuration time.Duration
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(db *gorm.DB, rdb redis.UniversalClient, version string) *HealthChecker {
	return &HealthChecker{
		db:            db,
		redis:         rdb,
		version:       version,
		startTime:     time.Now(),
		cacheDuration: 5 * time.Second,
	}
}

// Check runs every probe, or returns the cached result while it is fresh
func (hc *HealthChecker) Check(ctx context.Context) *ServiceHealth {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	if hc.cachedHealth != nil && time.Since(hc.lastCheckTime) < hc.cacheDuration {
		return hc.cachedHealth
	}

	health := &ServiceHealth{
		Timestamp: time.Now(),
		Components: []ComponentHealth{
			hc.checkDatabase(ctx),
			hc.checkRedis(ctx),
		},
		Uptime:  int64(time.Since(hc.startTime).Seconds()),
		Version: hc.version,
	}

	health.Status = HealthStatusHealthy
	for _, comp := range health.Components {
		if comp.Status == HealthStatusUnhealthy {
			health.Status = HealthStatusUnhealthy
		} else if comp.Status == HealthStatusDegraded && health.Status != HealthStatusUnhealthy {
			health.Status = HealthStatusDegraded
		}
	}

	hc.cachedHealth = health
	hc.lastCheckTime = time.Now()
	return health
}

// Handler serves Check, answering 503 when any dependency is unhealthy
func (hc *HealthChecker) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		health := hc.Check(c.Request.Context())
		code := http.StatusOK
		if health.Status == HealthStatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, health)
	}
}

func (hc *HealthChecker) checkDatabase(ctx context.Context) ComponentHealth {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	health := ComponentHealth{Name: "database", Status: HealthStatusHealthy, LastCheck: start}

	sqlDB, err := hc.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		health.Status = HealthStatusUnhealthy
		health.Message = fmt.Sprintf("ping failed: %v", err)
		health.ResponseMs = time.Since(start).Milliseconds()
		return health
	}

	stats := sqlDB.Stats()
	health.Metrics = map[string]interface{}{
		"open_connections": stats.OpenConnections,
		"in_use":           stats.InUse,
		"idle":             stats.Idle,
	}
	if stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections {
		health.Status = HealthStatusDegraded
		health.Message = fmt.Sprintf("connection pool saturated: %d/%d", stats.InUse, stats.MaxOpenConnections)
	} else {
		health.Message = "database healthy"
	}
	health.ResponseMs = time.Since(start).Milliseconds()
	return health
}

func (hc *HealthChecker) checkRedis(ctx context.Context) ComponentHealth {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	health := ComponentHealth{Name: "presence_store", Status: HealthStatusHealthy, LastCheck: start}

	if err := hc.redis.Ping(ctx).Err(); err != nil {
		health.Status = HealthStatusUnhealthy
		health.Message = fmt.Sprintf("ping failed: %v", err)
		health.ResponseMs = time.Since(start).Milliseconds()
		return health
	}

	pool := hc.redis.PoolStats()
	health.Metrics = map[string]interface{}{
		"total_conns": pool.TotalConns,
		"idle_conns":  pool.IdleConns,
		"timeouts":    pool.Timeouts,
	}
	health.Message = "presence store healthy"
	health.ResponseMs = time.Since(start).Milliseconds()
	return health
}
