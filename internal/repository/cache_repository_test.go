package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/sma-timetable-engine/pkg/errors"
)

func TestCacheRepositoryNamespacesKeys(t *testing.T) {
	repo := NewCacheRepository(nil, nil, CacheRepositoryConfig{})
	assert.Equal(t, "timetable:templates:inst-1:*", repo.key("templates:inst-1:*"))

	repo = NewCacheRepository(nil, nil, CacheRepositoryConfig{Namespace: "school-a:"})
	assert.Equal(t, "school-a:conflict-notifications", repo.key("conflict-notifications"))
}

func TestCacheRepositoryCapsTTL(t *testing.T) {
	repo := NewCacheRepository(nil, nil, CacheRepositoryConfig{MaxTTL: 30 * time.Minute})

	assert.Equal(t, 10*time.Minute, repo.ttl(10*time.Minute))
	assert.Equal(t, 30*time.Minute, repo.ttl(2*time.Hour))
	assert.Equal(t, 30*time.Minute, repo.ttl(0))

	defaults := NewCacheRepository(nil, nil, CacheRepositoryConfig{})
	assert.Equal(t, time.Hour, defaults.ttl(-time.Second))
}

func TestCacheRepositoryWithoutClient(t *testing.T) {
	repo := NewCacheRepository(nil, nil, CacheRepositoryConfig{ListLimit: 10})
	ctx := context.Background()

	var dest map[string]string
	assert.ErrorIs(t, repo.Get(ctx, "templates:inst-1:abc", &dest), appErrors.ErrCacheMiss)
	require.NoError(t, repo.Set(ctx, "templates:inst-1:abc", map[string]string{"a": "b"}, time.Minute))
	require.NoError(t, repo.DeleteByPattern(ctx, "templates:*"))
	require.NoError(t, repo.Push(ctx, "conflict-notifications", map[string]string{"id": "c-1"}))
	assert.False(t, repo.Enabled())
	assert.NoError(t, repo.Close())
}
