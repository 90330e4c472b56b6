package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// window tracks one fixed window for a key
type window struct {
	mu    sync.Mutex
	count int64
	ends  time.Time
	// swept is set when cleanup removed the window from the map
	swept bool
}

// LocalStore is an in-process Store. Each key has its own mutex; stale
// windows are removed by a cleanup goroutine.
type LocalStore struct {
	windows sync.Map
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once

	totalAllowed  uint64
	totalRejected uint64
}

// NewLocalStore creates a LocalStore that sweeps expired windows every cleanupInterval
func NewLocalStore(cleanupInterval time.Duration) *LocalStore {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}
	s := &LocalStore{
		now:  time.Now,
		stop: make(chan struct{}),
	}
	go s.cleanup(cleanupInterval)
	return s
}

// Take admits a request for key if the current window has capacity
func (s *LocalStore) Take(_ context.Context, key string, limit int64, period time.Duration) (Decision, error) {
	now := s.now()

	w := s.lock(key, now.Add(period))
	defer w.mu.Unlock()

	if !now.Before(w.ends) {
		w.count = 0
		w.ends = now.Add(period)
	}

	d := Decision{Limit: limit, ResetIn: w.ends.Sub(now)}
	if w.count >= limit {
		d.Count = w.count
		atomic.AddUint64(&s.totalRejected, 1)
		return d, nil
	}

	w.count++
	d.Allowed = true
	d.Count = w.count
	atomic.AddUint64(&s.totalAllowed, 1)
	return d, nil
}

// lock returns the live window for key, locked
func (s *LocalStore) lock(key string, ends time.Time) *window {
	for {
		entry, _ := s.windows.LoadOrStore(key, &window{ends: ends})
		w := entry.(*window)
		w.mu.Lock()
		if !w.swept {
			return w
		}
		w.mu.Unlock()
	}
}

// Stats returns how many requests were admitted and rejected
func (s *LocalStore) Stats() (allowed, rejected uint64) {
	return atomic.LoadUint64(&s.totalAllowed), atomic.LoadUint64(&s.totalRejected)
}

func (s *LocalStore) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stop:
			return
		}
	}
}

func (s *LocalStore) sweep() {
	now := s.now()
	s.windows.Range(func(key, value interface{}) bool {
		w := value.(*window)
		w.mu.Lock()
		if !now.Before(w.ends) {
			w.swept = true
			s.windows.CompareAndDelete(key, w)
		}
		w.mu.Unlock()
		return true
	})
}

// Stop stops the cleanup goroutine
func (s *LocalStore) Stop() {
	s.once.Do(func() { close(s.stop) })
}
