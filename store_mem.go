package passwordless

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultCleanInterval is how often stores purge expired tokens in the
// background.
const DefaultCleanInterval = time.Minute

// MemStore is a TokenStore that keeps tokens in memory, purging them
// periodically once they expire.
type MemStore struct {
	mut         sync.Mutex
	data        map[string]*Token
	capacity    int
	now         Clock
	cleaner     *time.Ticker
	quitCleaner chan struct{}
	released    bool
}

// MemStoreOption configures a MemStore.
type MemStoreOption func(*MemStore)

// WithCapacity bounds the number of tokens held at once. Zero means
// unbounded.
func WithCapacity(n int) MemStoreOption {
	return func(s *MemStore) {
		s.capacity = n
	}
}

// WithStoreClock sets the time source used for expiry checks.
func WithStoreClock(c Clock) MemStoreOption {
	return func(s *MemStore) {
		s.now = c
	}
}

// NewMemStore creates and returns a new `MemStore` that purges expired
// tokens every `cleanInterval`. A non-positive interval disables the
// background cleaner.
func NewMemStore(cleanInterval time.Duration, opts ...MemStoreOption) *MemStore {
	ms := &MemStore{
		data:        make(map[string]*Token),
		now:         time.Now,
		quitCleaner: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(ms)
	}
	if cleanInterval > 0 {
		ms.cleaner = time.NewTicker(cleanInterval)
		go ms.clean(ms.cleaner, ms.quitCleaner)
	}
	return ms
}

func (s *MemStore) clean(ct *time.Ticker, quit chan struct{}) {
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

func (s *MemStore) Insert(ctx context.Context, token *Token) error {
	if err := token.validate(); err != nil {
		return err
	}
	key := hashToken(token.Value)

	s.mut.Lock()
	defer s.mut.Unlock()
	if s.released {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, ErrStoreClosed)
	}
	if _, ok := s.data[key]; ok {
		return ErrDuplicateToken
	}
	if s.capacity > 0 && len(s.data) >= s.capacity {
		// Make room from expired leftovers before giving up
		s.purgeLocked(s.now())
		if len(s.data) >= s.capacity {
			return fmt.Errorf("%w: capacity of %d tokens reached",
				ErrStoreUnavailable, s.capacity)
		}
	}
	s.data[key] = token.clone()
	return nil
}

func (s *MemStore) ConsumeIfValid(ctx context.Context, value string) (*Token, error) {
	key := hashToken(value)

	s.mut.Lock()
	defer s.mut.Unlock()
	t, ok := s.data[key]
	if !ok {
		return nil, ErrTokenNotFound
	} else if t.Consumed {
		delete(s.data, key)
		return nil, ErrTokenUsed
	} else if t.Expired(s.now()) {
		delete(s.data, key)
		return nil, ErrTokenExpired
	}
	// Keep the consumed entry so a replay reports ErrTokenUsed; it is
	// purged once it expires.
	t.Consumed = true
	return t.clone(), nil
}

// PurgeExpired removes expired entries from the store.
func (s *MemStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	s.mut.Lock()
	defer s.mut.Unlock()
	return s.purgeLocked(now), nil
}

func (s *MemStore) purgeLocked(now time.Time) int {
	n := 0
	for key, t := range s.data {
		if t.ExpiresAt.Before(now) {
			delete(s.data, key)
			n++
		}
	}
	return n
}

// Len returns the number of entries currently held, including consumed
// entries that have not expired yet.
func (s *MemStore) Len() int {
	s.mut.Lock()
	defer s.mut.Unlock()
	return len(s.data)
}

// Release disposes of the MemStore and any released resources.
func (s *MemStore) Release() {
	s.mut.Lock()
	defer s.mut.Unlock()
	if s.released {
		return
	}
	s.released = true
	close(s.quitCleaner)
	s.data = make(map[string]*Token)
}
