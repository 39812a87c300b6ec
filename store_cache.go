package passwordless

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// CacheStore is a TokenStore backed by a ttlcache. The cache hides entries
// once their expiry passes, so a consume attempt on an expired token usually
// reports ErrTokenNotFound rather than ErrTokenExpired.
type CacheStore struct {
	// mut serialises check-and-consume and every eviction; the cache only
	// locks single calls.
	mut         sync.Mutex
	cache       *ttlcache.Cache[string, *Token]
	capacity    int
	now         Clock
	quitCleaner chan struct{}
	released    bool
}

// NewCacheStore creates a CacheStore holding at most `capacity` tokens (zero
// means unbounded) that purges expired tokens every `cleanInterval`. A
// non-positive interval disables the background cleaner.
func NewCacheStore(capacity int, cleanInterval time.Duration, now Clock) *CacheStore {
	if now == nil {
		now = time.Now
	}
	s := &CacheStore{
		cache: ttlcache.New(
			ttlcache.WithDisableTouchOnHit[string, *Token](),
		),
		capacity:    capacity,
		now:         now,
		quitCleaner: make(chan struct{}),
	}
	if cleanInterval > 0 {
		go s.clean(time.NewTicker(cleanInterval), s.quitCleaner)
	}
	return s
}

func (s *CacheStore) clean(ct *time.Ticker, quit chan struct{}) {
	for {
		select {
		case <-ct.C:
			s.PurgeExpired(context.Background(), s.now())
		case <-quit:
			ct.Stop()
			return
		}
	}
}

func (s *CacheStore) Insert(ctx context.Context, token *Token) error {
	if err := token.validate(); err != nil {
		return err
	}
	key := hashToken(token.Value)
	ttl := token.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		// ttlcache treats zero as "default TTL"; keep the entry briefly so
		// the usual expiry path rejects it.
		ttl = time.Millisecond
	}

	s.mut.Lock()
	defer s.mut.Unlock()
	if s.released {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, ErrStoreClosed)
	}
	if s.cache.Has(key) {
		return ErrDuplicateToken
	}
	// Len skips entries the cache considers expired; drop them so they
	// stop holding memory.
	s.cache.DeleteExpired()
	if s.capacity > 0 && s.cache.Len() >= s.capacity {
		return fmt.Errorf("%w: capacity of %d tokens reached",
			ErrStoreUnavailable, s.capacity)
	}
	s.cache.Set(key, token.clone(), ttl)
	return nil
}

func (s *CacheStore) ConsumeIfValid(ctx context.Context, value string) (*Token, error) {
	key := hashToken(value)

	s.mut.Lock()
	defer s.mut.Unlock()
	item := s.cache.Get(key)
	if item == nil {
		return nil, ErrTokenNotFound
	}
	t := item.Value()
	if t.Consumed {
		s.cache.Delete(key)
		return nil, ErrTokenUsed
	} else if t.Expired(s.now()) {
		s.cache.Delete(key)
		return nil, ErrTokenExpired
	}
	t.Consumed = true
	return t.clone(), nil
}

// PurgeExpired removes entries the cache has expired and entries whose own
// expiry is before `now`. Every eviction happens under the store lock, so
// the eviction counter gives an exact count.
func (s *CacheStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	s.mut.Lock()
	defer s.mut.Unlock()
	before := s.cache.Metrics().Evictions
	s.cache.DeleteExpired()
	for key, item := range s.cache.Items() {
		if item.Value().ExpiresAt.Before(now) {
			s.cache.Delete(key)
		}
	}
	return int(s.cache.Metrics().Evictions - before), nil
}

// Len returns the number of unexpired entries held by the cache.
func (s *CacheStore) Len() int {
	return s.cache.Len()
}

// Release stops the background cleaner and drops all entries.
func (s *CacheStore) Release() {
	s.mut.Lock()
	defer s.mut.Unlock()
	if s.released {
		return
	}
	s.released = true
	close(s.quitCleaner)
	s.cache.DeleteAll()
}
