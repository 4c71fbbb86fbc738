package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mathieu-neron/BookGuard/bookguard-go/internal/model"
)

// Redis key TTLs. Entries are also invalidated on every commit, so the TTL
// only bounds staleness across instances that share a database but not Redis.
const (
	RunCacheTTL     = 10 * time.Minute
	RunListCacheTTL = 2 * time.Minute
)

// CacheService provides a Redis cache-aside layer for recorded runs.
type CacheService struct {
	rdb *redis.Client
	log zerolog.Logger

	// OnLookup, when set, is told whether each read was a hit.
	OnLookup func(kind string, hit bool)
}

// NewCacheService creates a new CacheService. If redisURL is empty or connection
// fails, it returns a CacheService with a nil client (cache operations become no-ops).
func NewCacheService(redisURL string, log zerolog.Logger) *CacheService {
	log = log.With().Str("component", "cache").Logger()
	if redisURL == "" {
		log.Info().Msg("no redis URL configured, caching disabled")
		return &CacheService{log: log}
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Warn().Err(err).Msg("invalid redis URL, caching disabled")
		return &CacheService{log: log}
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Msg("redis connection failed, caching disabled")
		rdb.Close()
		return &CacheService{log: log}
	}

	log.Info().Msg("redis connected, caching enabled")
	return &CacheService{rdb: rdb, log: log}
}

// NewCacheServiceWithClient wraps an existing client.
func NewCacheServiceWithClient(rdb *redis.Client, log zerolog.Logger) *CacheService {
	return &CacheService{rdb: rdb, log: log.With().Str("component", "cache").Logger()}
}

// Client returns the underlying Redis client (for health checks). May be nil.
func (c *CacheService) Client() *redis.Client {
	if c == nil {
		return nil
	}
	return c.rdb
}

// Enabled reports whether a Redis client is configured.
func (c *CacheService) Enabled() bool {
	return c != nil && c.rdb != nil
}

// GetRun returns the cached run, or nil when not cached or caching is disabled.
func (c *CacheService) GetRun(ctx context.Context, bookID, modelName string) (*model.ModerationRun, error) {
	if !c.Enabled() {
		return nil, nil
	}
	var run model.ModerationRun
	hit, err := c.get(ctx, runKey(bookID, modelName), &run)
	c.observe("run", hit)
	if err != nil || !hit {
		return nil, err
	}
	return &run, nil
}

// SetRun stores a run in cache.
func (c *CacheService) SetRun(ctx context.Context, run *model.ModerationRun) error {
	if !c.Enabled() {
		return nil
	}
	return c.set(ctx, runKey(run.BookID, run.Model), run, RunCacheTTL)
}

// GetRuns returns every cached run for a book, or nil when not cached.
func (c *CacheService) GetRuns(ctx context.Context, bookID string) ([]*model.ModerationRun, error) {
	if !c.Enabled() {
		return nil, nil
	}
	var runs []*model.ModerationRun
	hit, err := c.get(ctx, runListKey(bookID), &runs)
	c.observe("runs", hit)
	if err != nil || !hit {
		return nil, err
	}
	if runs == nil {
		runs = []*model.ModerationRun{}
	}
	return runs, nil
}

// SetRuns stores the run list of a book.
func (c *CacheService) SetRuns(ctx context.Context, bookID string, runs []*model.ModerationRun) error {
	if !c.Enabled() {
		return nil
	}
	return c.set(ctx, runListKey(bookID), runs, RunListCacheTTL)
}

// InvalidateRun removes a (book, model) run and the book's run list.
func (c *CacheService) InvalidateRun(ctx context.Context, bookID, modelName string) error {
	if !c.Enabled() {
		return nil
	}
	return c.rdb.Del(ctx, runKey(bookID, modelName), runListKey(bookID)).Err()
}

// Close shuts down the Redis connection.
func (c *CacheService) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.rdb.Close()
}

func (c *CacheService) get(ctx context.Context, key string, dest any) (bool, error) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		// A corrupt entry is a miss; the next write replaces it.
		c.log.Warn().Err(err).Str("key", key).Msg("dropping undecodable cache entry")
		c.rdb.Del(ctx, key)
		return false, nil
	}
	return true, nil
}

func (c *CacheService) set(ctx context.Context, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, b, ttl).Err()
}

func (c *CacheService) observe(kind string, hit bool) {
	if c.OnLookup != nil {
		c.OnLookup(kind, hit)
	}
}

func runKey(bookID, modelName string) string {
	return fmt.Sprintf("run:%s:%s", bookID, modelName)
}

func runListKey(bookID string) string {
	return fmt.Sprintf("runs:%s", bookID)
}
