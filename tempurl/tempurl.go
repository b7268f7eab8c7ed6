// Package tempurl issues short-lived share tokens for stored images.
//
// Tokens live only in process memory: a restart invalidates all of them.
package tempurl

import (
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Entry is what a token resolves to.
type Entry struct {
	SubDirectory string
	Filename     string
	ExpiresAt    time.Time
}

// Store maps tokens to stored images for a fixed TTL.  When more than
// capacity tokens are live the least recently used one is dropped early.
// Safe for concurrent use.
type Store struct {
	ttl   time.Duration
	cache *expirable.LRU[string, Entry]
	now   func() time.Time
}

// New returns a Store.  A non-positive capacity means 1024.
func New(capacity int, ttl time.Duration) *Store {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Store{
		ttl:   ttl,
		cache: expirable.NewLRU[string, Entry](capacity, nil, ttl),
		now:   time.Now,
	}
}

// TTL returns how long issued tokens stay valid.
func (s *Store) TTL() time.Duration { return s.ttl }

// Issue creates a token for subDir/filename.
func (s *Store) Issue(subDir, filename string) (string, Entry) {
	token := uuid.NewString()
	e := Entry{SubDirectory: subDir, Filename: filename, ExpiresAt: s.now().Add(s.ttl)}
	s.cache.Add(token, e)
	return token, e
}

// Resolve returns the entry for token if it has not expired.
func (s *Store) Resolve(token string) (Entry, bool) {
	e, ok := s.cache.Get(token)
	if !ok || !s.now().Before(e.ExpiresAt) {
		return Entry{}, false
	}
	return e, true
}

// Revoke drops token.  It reports whether the token was live.
func (s *Store) Revoke(token string) bool { return s.cache.Remove(token) }

// Len returns the number of live tokens.
func (s *Store) Len() int { return s.cache.Len() }
