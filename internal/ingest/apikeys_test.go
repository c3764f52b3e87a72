package ingest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaadipranav/lynex-sub000/internal/storage"
)

// countingResolver tracks how often the backing store is actually hit.
type countingResolver struct {
	mu    sync.Mutex
	calls int
	next  ProjectResolver
}

func (r *countingResolver) Lookup(ctx context.Context, apiKey string) (*storage.Project, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	return r.next.Lookup(ctx, apiKey)
}

func (r *countingResolver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func TestKeyCacheCachesBothVerdicts(t *testing.T) {
	backing := &countingResolver{next: &fakeResolver{projects: map[string]*storage.Project{
		"key-valid": {ID: "proj-1", Name: "one"},
	}}}
	cache := NewKeyCache(backing, time.Minute, time.Minute)

	for i := 0; i < 3; i++ {
		p, err := cache.Lookup(context.Background(), "key-valid")
		require.NoError(t, err)
		assert.Equal(t, "proj-1", p.ID)
	}
	for i := 0; i < 3; i++ {
		_, err := cache.Lookup(context.Background(), "key-bogus")
		require.ErrorIs(t, err, storage.ErrUnknownKey)
	}

	assert.Equal(t, 2, backing.count(), "one backing hit per distinct key")
}

func TestKeyCacheSweepsExpiredEntries(t *testing.T) {
	backing := &fakeResolver{projects: map[string]*storage.Project{}}
	// Negative verdicts expire immediately, so the sweep can reclaim them.
	cache := NewKeyCache(backing, time.Minute, time.Nanosecond)

	for i := 0; i < keyCacheMaxEntries+50; i++ {
		_, err := cache.Lookup(context.Background(), fmt.Sprintf("probe-key-%06d", i))
		require.ErrorIs(t, err, storage.ErrUnknownKey)
	}

	cache.mu.RLock()
	size := len(cache.entries)
	cache.mu.RUnlock()
	assert.LessOrEqual(t, size, keyCacheMaxEntries,
		"a stream of unknown keys must not grow the cache without bound")
}
