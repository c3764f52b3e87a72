package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kaadipranav/lynex-sub000/internal/storage"
)

// ProjectResolver maps an API key to its project. The postgres KeyRepo
// satisfies this; the gate wraps it in KeyCache.
type ProjectResolver interface {
	Lookup(ctx context.Context, apiKey string) (*storage.Project, error)
}

// keyCacheMaxEntries bounds the cache so a stream of random invalid keys
// cannot grow it without limit.
const keyCacheMaxEntries = 10000

// KeyCache fronts a ProjectResolver with a TTL cache so the hot path pays
// the bcrypt verification at most once per key per TTL. Misses and revoked
// keys are cached too (shorter TTL) to blunt brute-force probing.
type KeyCache struct {
	next   ProjectResolver
	ttl    time.Duration
	negTTL time.Duration

	mu      sync.RWMutex
	entries map[string]keyCacheEntry
}

type keyCacheEntry struct {
	project *storage.Project
	err     error
	expires time.Time
}

func NewKeyCache(next ProjectResolver, ttl, negTTL time.Duration) *KeyCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if negTTL <= 0 {
		negTTL = 30 * time.Second
	}
	return &KeyCache{
		next:    next,
		ttl:     ttl,
		negTTL:  negTTL,
		entries: make(map[string]keyCacheEntry),
	}
}

func (c *KeyCache) Lookup(ctx context.Context, apiKey string) (*storage.Project, error) {
	c.mu.RLock()
	e, ok := c.entries[apiKey]
	c.mu.RUnlock()
	if ok && time.Now().Before(e.expires) {
		return e.project, e.err
	}

	project, err := c.next.Lookup(ctx, apiKey)
	if err != nil && !errors.Is(err, storage.ErrUnknownKey) && !errors.Is(err, storage.ErrRevokedKey) {
		// Infrastructure errors are not cacheable verdicts.
		return nil, err
	}

	ttl := c.ttl
	if err != nil {
		ttl = c.negTTL
	}
	c.mu.Lock()
	if len(c.entries) >= keyCacheMaxEntries {
		now := time.Now()
		for k, ent := range c.entries {
			if now.After(ent.expires) {
				delete(c.entries, k)
			}
		}
	}
	// A cache still full after the sweep holds only live verdicts; skipping
	// the insert then just costs one extra lookup later.
	if len(c.entries) < keyCacheMaxEntries {
		c.entries[apiKey] = keyCacheEntry{project: project, err: err, expires: time.Now().Add(ttl)}
	}
	c.mu.Unlock()

	return project, err
}
