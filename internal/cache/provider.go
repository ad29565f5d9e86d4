package cache

import (
	"context"
	"errors"
	"time"
)

// Provider stores encoded upstream responses keyed by request. SetNX doubles
// as a short-lived lock so only one caller refills an expired key.
type Provider interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
	Close() error
}

// ErrCacheMiss is returned by Get when key holds no live value.
var ErrCacheMiss = errors.New("cache miss")

// FillLockKey names the lock guarding the refill of key.
func FillLockKey(key string) string { return key + ":fill" }

// NoopProvider is used when caching is disabled. Every read misses and every
// lock is granted, so callers always go upstream.
type NoopProvider struct{}

func (NoopProvider) Get(context.Context, string) ([]byte, error) { return nil, ErrCacheMiss }

func (NoopProvider) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (NoopProvider) SetNX(context.Context, string, []byte, time.Duration) (bool, error) {
	return true, nil
}

func (NoopProvider) Del(context.Context, string) error { return nil }

func (NoopProvider) Close() error { return nil }
