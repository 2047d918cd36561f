// Package memory provides in-memory implementations of the module's stores.
// The WithdrawalStore keeps records and remittance claims in maps guarded by a
// sync.RWMutex. It is suitable for tests and single-process deployments; claims do not
// survive a restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/marwen-abid/offramp-go"
	"github.com/marwen-abid/offramp-go/errors"
)

type remittanceClaim struct {
	result *offramp.RemittanceResult
}

// WithdrawalStore is an in-memory implementation of offramp.WithdrawalStore.
// Records are copied on the way in and out so callers never share state with the store.
type WithdrawalStore struct {
	withdrawals map[string]*offramp.Withdrawal
	claims      map[string]*remittanceClaim
	mu          sync.RWMutex
}

// NewWithdrawalStore creates a new in-memory withdrawal store.
func NewWithdrawalStore() *WithdrawalStore {
	return &WithdrawalStore{
		withdrawals: make(map[string]*offramp.Withdrawal),
		claims:      make(map[string]*remittanceClaim),
	}
}

// Save persists a new withdrawal record.
// Returns an error if a withdrawal with the same ID already exists.
func (s *WithdrawalStore) Save(ctx context.Context, w *offramp.Withdrawal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.withdrawals[w.ID]; exists {
		return errors.NewStoreError(errors.STORE_ERROR, fmt.Sprintf("withdrawal %s already exists", w.ID), nil)
	}

	cp := *w
	now := time.Now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	s.withdrawals[w.ID] = &cp
	return nil
}

// FindByID retrieves a withdrawal by its anchor transaction id.
func (s *WithdrawalStore) FindByID(ctx context.Context, id string) (*offramp.Withdrawal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, exists := s.withdrawals[id]
	if !exists {
		return nil, errors.NewStoreError(errors.NOT_FOUND, fmt.Sprintf("withdrawal %s not found", id), nil)
	}

	cp := *w
	return &cp, nil
}

// Update applies partial updates to an existing withdrawal.
// Only non-nil fields in the update are applied.
func (s *WithdrawalStore) Update(ctx context.Context, id string, update *offramp.WithdrawalUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, exists := s.withdrawals[id]
	if !exists {
		return errors.NewStoreError(errors.NOT_FOUND, fmt.Sprintf("withdrawal %s not found", id), nil)
	}

	applyUpdate(w, update)
	return nil
}

func applyUpdate(w *offramp.Withdrawal, update *offramp.WithdrawalUpdate) {
	if update.Status != nil {
		w.Status = *update.Status
	}
	if update.StellarTxHash != nil {
		w.StellarTxHash = *update.StellarTxHash
	}
	if update.SettlementAccount != nil {
		w.SettlementAccount = *update.SettlementAccount
	}
	if update.WithdrawMemo != nil {
		w.WithdrawMemo = *update.WithdrawMemo
	}
	if update.ExternalTransactionID != nil {
		w.ExternalTransactionID = *update.ExternalTransactionID
	}
	if update.MoreInfoURL != nil {
		w.MoreInfoURL = *update.MoreInfoURL
	}
	if update.Message != nil {
		w.Message = *update.Message
	}
	if update.CompletedAt != nil {
		w.CompletedAt = update.CompletedAt
	}

	w.UpdatedAt = time.Now()
}

// List returns withdrawals matching the given filters, newest first.
func (s *WithdrawalStore) List(ctx context.Context, filters offramp.WithdrawalFilters) ([]*offramp.Withdrawal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*offramp.Withdrawal
	for _, w := range s.withdrawals {
		if filters.UserID != "" && w.UserID != filters.UserID {
			continue
		}
		if filters.Status != nil && w.Status != *filters.Status {
			continue
		}
		cp := *w
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if filters.Limit > 0 && len(result) > filters.Limit {
		result = result[:filters.Limit]
	}

	return result, nil
}

// ClaimRemittance reserves the session for payment. Only the first caller wins.
func (s *WithdrawalStore) ClaimRemittance(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, claimed := s.claims[id]; claimed {
		return false, nil
	}
	s.claims[id] = &remittanceClaim{}
	return true, nil
}

// CompleteRemittance records the payment for a claimed session and copies the hash onto
// the withdrawal record when one exists.
func (s *WithdrawalStore) CompleteRemittance(ctx context.Context, id string, result offramp.RemittanceResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	claim, claimed := s.claims[id]
	if !claimed {
		return errors.NewStoreError(errors.NOT_FOUND, fmt.Sprintf("no remittance claim for %s", id), nil)
	}
	claim.result = &result

	if w, exists := s.withdrawals[id]; exists {
		hash := result.LedgerTransactionID
		applyUpdate(w, &offramp.WithdrawalUpdate{StellarTxHash: &hash})
	}
	return nil
}

// ReleaseRemittance drops an unfinished claim. Completed claims are kept.
func (s *WithdrawalStore) ReleaseRemittance(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if claim, claimed := s.claims[id]; claimed && claim.result == nil {
		delete(s.claims, id)
	}
	return nil
}

// FindRemittance returns the recorded payment, or nil if none was completed.
func (s *WithdrawalStore) FindRemittance(ctx context.Context, id string) (*offramp.RemittanceResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	claim, claimed := s.claims[id]
	if !claimed || claim.result == nil {
		return nil, nil
	}
	res := *claim.result
	return &res, nil
}

// Verify that WithdrawalStore implements offramp.WithdrawalStore
var _ offramp.WithdrawalStore = (*WithdrawalStore)(nil)
