package trivia

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/trivia-backend/internal/config"
	"github.com/stemsi/trivia-backend/internal/model"
	"golang.org/x/sync/singleflight"
)

// CategoryFetcher loads the category list from the upstream provider.
type CategoryFetcher interface {
	FetchCategories(ctx context.Context) ([]model.Category, error)
}

// CategoryCache keeps the provider's category list in Redis.
// Concurrent misses share a single upstream call.
type CategoryCache struct {
	fetcher CategoryFetcher
	rdb     *redis.Client
	ttl     time.Duration
	sf      singleflight.Group
	log     zerolog.Logger
}

// NewCategoryCache creates a CategoryCache. rdb may be nil, in which case every
// call goes upstream.
func NewCategoryCache(fetcher CategoryFetcher, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *CategoryCache {
	return &CategoryCache{
		fetcher: fetcher,
		rdb:     rdb,
		ttl:     ttl,
		log:     log.With().Str("component", "category_cache").Logger(),
	}
}

// List returns all categories, from cache when possible.
func (c *CategoryCache) List(ctx context.Context) ([]model.Category, error) {
	if cached, ok := c.fromCache(ctx); ok {
		return cached, nil
	}

	result, err, _ := c.sf.Do("categories", func() (interface{}, error) {
		if cached, ok := c.fromCache(ctx); ok {
			return cached, nil
		}

		categories, err := c.fetcher.FetchCategories(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch categories: %w", err)
		}

		if c.rdb != nil && len(categories) > 0 {
			raw, _ := json.Marshal(categories)
			if err := c.rdb.Set(ctx, config.CacheKey.TriviaCategoriesKey(), raw, c.ttl).Err(); err != nil {
				c.log.Warn().Err(err).Msg("Failed to cache categories")
			}
		}
		return categories, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]model.Category), nil
}

// ResolveName returns the label for a category id. Any failure yields ("", false).
func (c *CategoryCache) ResolveName(ctx context.Context, id int) (string, bool) {
	categories, err := c.List(ctx)
	if err != nil {
		c.log.Warn().Err(err).Int("category_id", id).Msg("Category lookup failed")
		return "", false
	}
	for _, cat := range categories {
		if cat.ID == id {
			return cat.Name, true
		}
	}
	return "", false
}

func (c *CategoryCache) fromCache(ctx context.Context) ([]model.Category, bool) {
	if c.rdb == nil {
		return nil, false
	}
	raw, err := c.rdb.Get(ctx, config.CacheKey.TriviaCategoriesKey()).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn().Err(err).Msg("Category cache read failed")
		}
		return nil, false
	}
	var categories []model.Category
	if err := json.Unmarshal(raw, &categories); err != nil {
		c.log.Warn().Err(err).Msg("Dropping corrupt category cache entry")
		_ = c.rdb.Del(ctx, config.CacheKey.TriviaCategoriesKey()).Err()
		return nil, false
	}
	return categories, true
}

