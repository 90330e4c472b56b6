package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// DefaultLocalMaxCost is the default byte budget of the in-process cache
const DefaultLocalMaxCost = 64 << 20

// Local is an in-process cache backed by ristretto. Values are charged by
// their size in bytes against maxCost.
type Local struct {
	c *ristretto.Cache[string, []byte]
}

// NewLocal creates an in-process cache holding at most maxCost bytes
func NewLocal(maxCost int64) (*Local, error) {
	if maxCost <= 0 {
		maxCost = DefaultLocalMaxCost
	}

	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: maxCost / 100 * 10,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create local cache: %w", err)
	}
	return &Local{c: c}, nil
}

func (l *Local) Get(_ context.Context, key string) ([]byte, bool, error) {
	val, found := l.c.Get(key)
	if !found {
		return nil, false, nil
	}
	return val, true, nil
}

// Set stores value and waits for ristretto's write buffer so that the next
// Get observes it.
func (l *Local) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	l.c.SetWithTTL(key, value, int64(len(value)), ttl)
	l.c.Wait()
	return nil
}

func (l *Local) Delete(_ context.Context, key string) error {
	l.c.Del(key)
	return nil
}

// Close stops ristretto's background goroutines
func (l *Local) Close() {
	l.c.Close()
}
