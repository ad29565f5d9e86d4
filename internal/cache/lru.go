package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// LRUConfig sizes the in-process cache.
type LRUConfig struct {
	Size   int
	MaxTTL time.Duration
}

type lruEntry struct {
	value     []byte
	expiresAt time.Time
}

// LRUProvider is a bounded in-process Provider. Entries expire after the
// smaller of their own TTL and MaxTTL.
type LRUProvider struct {
	mu     sync.Mutex
	cache  *expirable.LRU[string, lruEntry]
	maxTTL time.Duration
	now    func() time.Time
}

// NewLRUProvider builds an LRUProvider.
func NewLRUProvider(cfg LRUConfig) (*LRUProvider, error) {
	if cfg.Size <= 0 {
		return nil, errors.New("lru cache size must be positive")
	}
	if cfg.MaxTTL <= 0 {
		cfg.MaxTTL = 5 * time.Minute
	}
	return &LRUProvider{
		cache:  expirable.NewLRU[string, lruEntry](cfg.Size, nil, cfg.MaxTTL),
		maxTTL: cfg.MaxTTL,
		now:    time.Now,
	}, nil
}

// Get fetches bytes by key, returning ErrCacheMiss when absent or expired.
func (p *LRUProvider) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.cache.Get(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	if !entry.expiresAt.IsZero() && !p.now().Before(entry.expiresAt) {
		p.cache.Remove(key)
		return nil, ErrCacheMiss
	}
	return append([]byte(nil), entry.value...), nil
}

// Set stores a copy of value.
func (p *LRUProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache.Add(key, p.entry(value, ttl))
	return nil
}

// SetNX stores value only when key holds no live entry.
func (p *LRUProvider) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if entry, ok := p.cache.Peek(key); ok {
		if entry.expiresAt.IsZero() || p.now().Before(entry.expiresAt) {
			return false, nil
		}
	}
	p.cache.Add(key, p.entry(value, ttl))
	return true, nil
}

// Del removes a key.
func (p *LRUProvider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache.Remove(key)
	return nil
}

// Close purges the cache.
func (p *LRUProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache.Purge()
	return nil
}

// Len reports the number of stored entries, expired ones included until evicted.
func (p *LRUProvider) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cache.Len()
}

func (p *LRUProvider) entry(value []byte, ttl time.Duration) lruEntry {
	if ttl <= 0 || ttl > p.maxTTL {
		ttl = p.maxTTL
	}
	return lruEntry{
		value:     append([]byte(nil), value...),
		expiresAt: p.now().Add(ttl),
	}
}
