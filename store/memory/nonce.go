package memory

import (
	"context"
	"sync"
	"time"

	"github.com/marwen-abid/offramp-go/errors"
)

// NonceStore tracks issued SEP-10 challenge nonces. A nonce can be consumed once
// before it expires; consumed and expired nonces are dropped.
type NonceStore struct {
	mu     sync.Mutex
	nonces map[string]time.Time
	now    func() time.Time
}

func NewNonceStore() *NonceStore {
	return &NonceStore{nonces: make(map[string]time.Time), now: time.Now}
}

// Add registers an issued nonce until expiresAt.
func (s *NonceStore) Add(_ context.Context, nonce string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nonces[nonce]; ok {
		return errors.NewStoreError(errors.STORE_ERROR, "nonce already issued", nil)
	}
	s.nonces[nonce] = expiresAt
	return nil
}

// Consume reports whether nonce was live and removes it.
func (s *NonceStore) Consume(_ context.Context, nonce string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweep()
	if _, ok := s.nonces[nonce]; !ok {
		return false, nil
	}
	delete(s.nonces, nonce)
	return true, nil
}

// Len is the number of live nonces.
func (s *NonceStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep()
	return len(s.nonces)
}

func (s *NonceStore) sweep() {
	now := s.now()
	for n, exp := range s.nonces {
		if now.After(exp) {
			delete(s.nonces, n)
		}
	}
}
