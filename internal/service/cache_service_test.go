package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/unisubmit-api/internal/models"
)

type failingCacheRepo struct {
	calls int
}

func (f *failingCacheRepo) Get(ctx context.Context, key string, dest interface{}) error {
	f.calls++
	return errors.New("redis down")
}

func (f *failingCacheRepo) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	f.calls++
	return errors.New("redis down")
}

func (f *failingCacheRepo) Delete(ctx context.Context, keys ...string) error {
	f.calls++
	return errors.New("redis down")
}

func TestCacheServiceDisabledSkipsRepository(t *testing.T) {
	repo := &failingCacheRepo{}
	cache := NewCacheService(repo, nil, 0, nil, false)

	var out []models.Department
	assert.False(t, cache.Enabled())
	assert.False(t, cache.Get(context.Background(), "k", &out))
	cache.Set(context.Background(), "k", out, 0)
	cache.Invalidate(context.Background(), "k")
	assert.Zero(t, repo.calls)

	var nilCache *CacheService
	assert.False(t, nilCache.Enabled())
}

func TestCacheServiceFailuresAreMisses(t *testing.T) {
	repo := &failingCacheRepo{}
	cache := NewCacheService(repo, NewMetricsService(), time.Minute, nil, true)

	var out []models.Department
	assert.False(t, cache.Get(context.Background(), "k", &out))
	cache.Set(context.Background(), "k", out, 0)
	cache.Invalidate(context.Background(), "k")
	assert.Equal(t, 3, repo.calls)
}

func TestCacheServiceHit(t *testing.T) {
	repo := &mapCacheRepo{entries: map[string]interface{}{
		"departments": []models.Department{{Name: "Physics", Slug: "physics"}},
	}}
	cache := NewCacheService(repo, NewMetricsService(), time.Minute, nil, true)

	var out []models.Department
	assert.True(t, cache.Get(context.Background(), "departments", &out))
	assert.Len(t, out, 1)
	assert.Equal(t, "physics", out[0].Slug)
}
