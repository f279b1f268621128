package cache

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto"
)

const (
	defaultNumCounters = 1e6 // 1M counters for admission policy
	defaultMaxCost     = 1e8 // 100MB max cache size
	defaultBufferItems = 64  // buffer for async writes
)

// Backend is the key-value layer behind the session cache. The default is
// in-process ristretto; a remote backend can plug in here, which is why Ping
// takes a context with a deadline.
type Backend interface {
	Get(key string) (any, bool)
	Set(key string, value any, cost int64, ttl time.Duration) bool
	Del(key string)
	Ping(ctx context.Context) error
	Close()
}

// RistrettoBackend is the in-process default backend.
type RistrettoBackend struct {
	cache *ristretto.Cache
}

func NewRistrettoBackend() (*RistrettoBackend, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: defaultNumCounters,
		MaxCost:     defaultMaxCost,
		BufferItems: defaultBufferItems,
	})
	if err != nil {
		return nil, err
	}
	return &RistrettoBackend{cache: c}, nil
}

func (b *RistrettoBackend) Get(key string) (any, bool) {
	return b.cache.Get(key)
}

func (b *RistrettoBackend) Set(key string, value any, cost int64, ttl time.Duration) bool {
	ok := b.cache.SetWithTTL(key, value, cost, ttl)
	// Ristretto applies sets asynchronously; wait so the entry is visible to
	// the next read. Callers rely on read-your-write for invalidation.
	b.cache.Wait()
	return ok
}

func (b *RistrettoBackend) Del(key string) {
	b.cache.Del(key)
	b.cache.Wait()
}

func (b *RistrettoBackend) Ping(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

func (b *RistrettoBackend) Close() {
	b.cache.Close()
}
