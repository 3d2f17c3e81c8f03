package trivia

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/trivia-backend/internal/config"
	"github.com/stemsi/trivia-backend/internal/model"
)

type fakeFetcher struct {
	calls atomic.Int32
	delay time.Duration
	err   error
}

func (f *fakeFetcher) FetchCategories(ctx context.Context) ([]model.Category, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	return []model.Category{{ID: 9, Name: "General Knowledge"}, {ID: 23, Name: "History"}}, nil
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestCategoryCacheStoresAndReuses(t *testing.T) {
	mr, rdb := newTestRedis(t)
	fetcher := &fakeFetcher{}
	cache := NewCategoryCache(fetcher, rdb, time.Hour, zerolog.Nop())

	for i := 0; i < 3; i++ {
		cats, err := cache.List(context.Background())
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(cats) != 2 {
			t.Fatalf("unexpected categories %v", cats)
		}
	}
	if got := fetcher.calls.Load(); got != 1 {
		t.Fatalf("expected 1 upstream call, got %d", got)
	}
	if !mr.Exists(config.CacheKey.TriviaCategoriesKey()) {
		t.Fatalf("expected categories key in redis")
	}
	if ttl := mr.TTL(config.CacheKey.TriviaCategoriesKey()); ttl != time.Hour {
		t.Fatalf("unexpected ttl %s", ttl)
	}
}

func TestCategoryCacheSharesConcurrentMisses(t *testing.T) {
	_, rdb := newTestRedis(t)
	fetcher := &fakeFetcher{delay: 50 * time.Millisecond}
	cache := NewCategoryCache(fetcher, rdb, time.Hour, zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cache.List(context.Background()); err != nil {
				t.Errorf("list: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := fetcher.calls.Load(); got != 1 {
		t.Fatalf("expected concurrent misses to share one call, got %d", got)
	}
}

func TestCategoryCacheDropsCorruptEntry(t *testing.T) {
	mr, rdb := newTestRedis(t)
	if err := mr.Set(config.CacheKey.TriviaCategoriesKey(), "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	fetcher := &fakeFetcher{}
	cache := NewCategoryCache(fetcher, rdb, time.Hour, zerolog.Nop())

	if _, err := cache.List(context.Background()); err != nil {
		t.Fatalf("list: %v", err)
	}
	if got := fetcher.calls.Load(); got != 1 {
		t.Fatalf("expected refetch after corrupt entry, got %d calls", got)
	}
}

func TestResolveName(t *testing.T) {
	cache := NewCategoryCache(&fakeFetcher{}, nil, time.Hour, zerolog.Nop())

	name, ok := cache.ResolveName(context.Background(), 23)
	if !ok || name != "History" {
		t.Fatalf("expected History, got %q %v", name, ok)
	}
	if _, ok := cache.ResolveName(context.Background(), 999); ok {
		t.Fatalf("expected unknown id to be unresolved")
	}
}

func TestResolveNameSwallowsUpstreamFailure(t *testing.T) {
	cache := NewCategoryCache(&fakeFetcher{err: errors.New("boom")}, nil, time.Hour, zerolog.Nop())

	if name, ok := cache.ResolveName(context.Background(), 9); ok || name != "" {
		t.Fatalf("expected failed lookup to yield empty, got %q %v", name, ok)
	}
}
