// Package repository provides data access layer abstractions and registry
package repository

import (
	"errors"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Registry provides centralized access to all repositories
type Registry struct {
	PresenceStore        PresenceStore
	AttendanceRepository AttendanceRepository

	db    *gorm.DB
	redis redis.UniversalClient

	mu sync.RWMutex
}

// NewRegistry creates a new repository registry
func NewRegistry(db *gorm.DB, rdb redis.UniversalClient) *Registry {
	return &Registry{
		db:    db,
		redis: rdb,
	}
}

// Initialize initializes all repositories
func (r *Registry) Initialize(presenceTTL time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.db == nil || r.redis == nil {
		return errors.New("registry requires both a database and a redis client")
	}
	if presenceTTL <= 0 {
		return fmt.Errorf("presence ttl must be positive, got %s", presenceTTL)
	}

	r.PresenceStore = NewRedisPresenceStore(r.redis, presenceTTL)
	r.AttendanceRepository = NewAttendanceRepository(r.db)
	return nil
}

// GetDB returns the database connection
func (r *Registry) GetDB() *gorm.DB {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.db
}

// GetRedis returns the redis client
func (r *Registry) GetRedis() redis.UniversalClient {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.redis
}

// Close closes the registry and all resources
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	if r.db != nil {
		sqlDB, err := r.db.DB()
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to get database connection: %w", err))
		} else if err := sqlDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database connection: %w", err))
		}
	}
	if r.redis != nil {
		if err := r.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis connection: %w", err))
		}
	}
	return errors.Join(errs...)
}
