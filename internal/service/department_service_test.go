package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/unisubmit-api/internal/models"
	appErrors "github.com/noah-isme/unisubmit-api/pkg/errors"
)

type mapCacheRepo struct {
	entries map[string]interface{}
	deleted []string
}

func (m *mapCacheRepo) Get(ctx context.Context, key string, dest interface{}) error {
	value, ok := m.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	target := dest.(*[]models.Department)
	*target = value.([]models.Department)
	return nil
}

func (m *mapCacheRepo) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	m.entries[key] = value
	return nil
}

func (m *mapCacheRepo) Delete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		delete(m.entries, key)
	}
	m.deleted = append(m.deleted, keys...)
	return nil
}

type uniqueViolationDepartments struct {
	memoryDepartments
}

func (u *uniqueViolationDepartments) Create(ctx context.Context, department *models.Department) error {
	return &pq.Error{Code: pqUniqueViolation}
}

func TestDepartmentServiceCreate(t *testing.T) {
	repo := &memoryDepartments{}
	svc := NewDepartmentService(repo, nil, nil)
	ctx := context.Background()

	created, err := svc.Create(ctx, "  Computer   Science ")
	require.NoError(t, err)
	assert.Equal(t, "Computer Science", created.Name)
	assert.Equal(t, "computer_science", created.Slug)

	_, err = svc.Create(ctx, "computer science")
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))

	_, err = svc.Create(ctx, "   ")
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	_, err = svc.Create(ctx, "!!!")
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestDepartmentServiceCreateMapsUniqueViolation(t *testing.T) {
	svc := NewDepartmentService(&uniqueViolationDepartments{}, nil, nil)

	_, err := svc.Create(context.Background(), "Physics")
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))
}

func TestDepartmentServiceListUsesCache(t *testing.T) {
	repo := &memoryDepartments{items: []models.Department{{ID: uuid.NewString(), Name: "Physics", Slug: "physics"}}}
	cacheRepo := &mapCacheRepo{entries: make(map[string]interface{})}
	cache := NewCacheService(cacheRepo, NewMetricsService(), time.Minute, nil, true)
	svc := NewDepartmentService(repo, cache, nil)
	ctx := context.Background()

	first, err := svc.List(ctx)
	require.NoError(t, err)
	second, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, repo.calls)

	created, err := svc.Create(ctx, "Biology")
	require.NoError(t, err)
	assert.Contains(t, cacheRepo.deleted, departmentsCacheKey)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Biology", list[0].Name)
	assert.Equal(t, 2, repo.calls)

	require.NoError(t, svc.Delete(ctx, created.ID))
	err = svc.Delete(ctx, created.ID)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
	err = svc.Delete(ctx, "x")
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}
