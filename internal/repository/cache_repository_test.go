package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/unisubmit-api/pkg/errors"
)

func TestCacheRepositoryWithoutClient(t *testing.T) {
	repo := NewCacheRepository(nil, "unisubmit", nil)
	ctx := context.Background()

	var dest []string
	err := repo.Get(ctx, "departments", &dest)
	assert.True(t, appErrors.Is(err, appErrors.ErrCacheMiss))

	require.NoError(t, repo.Set(ctx, "departments", []string{"cs"}, time.Minute))
	require.NoError(t, repo.Delete(ctx, "departments"))
	require.NoError(t, repo.Ping(ctx))
	require.NoError(t, repo.Close())
}

func TestCacheRepositoryKeyNamespace(t *testing.T) {
	assert.Equal(t, "unisubmit:departments", NewCacheRepository(nil, "unisubmit", nil).key("departments"))
	assert.Equal(t, "departments", NewCacheRepository(nil, "", nil).key("departments"))
}
