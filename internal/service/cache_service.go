package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/erp-registration-api/pkg/errors"
)

// CacheRepository abstracts persistence for shared cached payloads.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// CacheOptions tunes the two cache tiers.
type CacheOptions struct {
	LocalTTL        time.Duration
	SharedTTL       time.Duration
	CleanupInterval time.Duration
	SharedEnabled   bool
}

// CacheService reads through an in-process tier before the shared Redis tier.
// Both tiers hold JSON payloads so callers decode into their own types.
type CacheService struct {
	local     *gocache.Cache
	repo      CacheRepository
	metrics   *MetricsService
	sharedTTL time.Duration
	shared    bool
	logger    *zap.Logger
}

// NewCacheService constructs a cache service. A nil repo disables the shared tier.
func NewCacheService(repo CacheRepository, metrics *MetricsService, opts CacheOptions, logger *zap.Logger) *CacheService {
	if opts.LocalTTL <= 0 {
		opts.LocalTTL = time.Minute
	}
	if opts.SharedTTL <= 0 {
		opts.SharedTTL = 10 * time.Minute
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheService{
		local:     gocache.New(opts.LocalTTL, opts.CleanupInterval),
		repo:      repo,
		metrics:   metrics,
		sharedTTL: opts.SharedTTL,
		shared:    opts.SharedEnabled && repo != nil,
		logger:    logger,
	}
}

// SharedEnabled indicates whether the Redis tier is active.
func (s *CacheService) SharedEnabled() bool {
	return s != nil && s.shared
}

// Get decodes the cached entry for key into dest. It returns true on a hit in either tier.
// A shared tier failure is logged and reported as a miss.
func (s *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if s == nil {
		return false, nil
	}
	start := time.Now()
	if raw, ok := s.local.Get(key); ok {
		if payload, ok := raw.([]byte); ok {
			if err := json.Unmarshal(payload, dest); err == nil {
				s.metrics.RecordCacheOperation(true, time.Since(start))
				return true, nil
			}
			s.local.Delete(key)
		}
	}

	if !s.shared {
		s.metrics.RecordCacheOperation(false, time.Since(start))
		return false, nil
	}

	err := s.repo.Get(ctx, key, dest)
	duration := time.Since(start)
	if err != nil {
		s.metrics.RecordCacheOperation(false, duration)
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		}
		return false, nil
	}
	s.metrics.RecordCacheOperation(true, duration)

	if payload, err := json.Marshal(dest); err == nil {
		s.local.SetDefault(key, payload)
	}
	return true, nil
}

// Set stores value in both tiers.
func (s *CacheService) Set(ctx context.Context, key string, value interface{}) error {
	if s == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value for %s: %w", key, err)
	}
	s.local.SetDefault(key, payload)

	if !s.shared {
		return nil
	}
	start := time.Now()
	err = s.repo.Set(ctx, key, json.RawMessage(payload), s.sharedTTL)
	s.metrics.ObserveCacheWrite(time.Since(start))
	if err != nil {
		s.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
	return err
}

// Invalidate removes every entry whose key starts with prefix.
func (s *CacheService) Invalidate(ctx context.Context, prefix string) error {
	if s == nil {
		return nil
	}
	for key := range s.local.Items() {
		if strings.HasPrefix(key, prefix) {
			s.local.Delete(key)
		}
	}
	if !s.shared {
		return nil
	}
	if err := s.repo.DeleteByPattern(ctx, prefix+"*"); err != nil {
		s.logger.Warn("cache invalidate failed", zap.String("prefix", prefix), zap.Error(err))
		return err
	}
	return nil
}
