// Package redisstore is a Redis-backed offramp.WithdrawalStore. Records are JSON values, a
// sorted set indexes them by creation time, and the remittance claim is a SETNX key so
// that separate processes share the at-most-one-payment guarantee.
package redisstore

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/marwen-abid/offramp-go"
	"github.com/marwen-abid/offramp-go/errors"
)

const (
	defaultPrefix   = "offramp:"
	claimPending    = "pending"
	maxWatchRetries = 5
)

// releaseScript deletes a claim only while it is still pending.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// WithdrawalStore is a Redis implementation of offramp.WithdrawalStore.
type WithdrawalStore struct {
	client *redis.Client
	prefix string
}

// Option configures a WithdrawalStore.
type Option func(*WithdrawalStore)

// WithPrefix sets the key prefix (default "offramp:").
func WithPrefix(prefix string) Option {
	return func(s *WithdrawalStore) {
		s.prefix = prefix
	}
}

// NewWithdrawalStore creates a store on client.
func NewWithdrawalStore(client *redis.Client, opts ...Option) *WithdrawalStore {
	s := &WithdrawalStore{
		client: client,
		prefix: defaultPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *WithdrawalStore) recordKey(id string) string { return s.prefix + "withdrawal:" + id }
func (s *WithdrawalStore) indexKey() string           { return s.prefix + "withdrawals" }
func (s *WithdrawalStore) claimKey(id string) string  { return s.prefix + "remit:" + id }

// Save persists a new withdrawal record.
func (s *WithdrawalStore) Save(ctx context.Context, w *offramp.Withdrawal) error {
	cp := *w
	now := time.Now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now

	data, err := json.Marshal(&cp)
	if err != nil {
		return errors.NewStoreError(errors.STORE_ERROR, "failed to encode withdrawal", err)
	}

	created, err := s.client.SetNX(ctx, s.recordKey(cp.ID), data, 0).Result()
	if err != nil {
		return errors.NewStoreError(errors.STORE_ERROR, "failed to save withdrawal", err)
	}
	if !created {
		return errors.NewStoreError(errors.STORE_ERROR, fmt.Sprintf("withdrawal %s already exists", cp.ID), nil)
	}

	if err := s.client.ZAdd(ctx, s.indexKey(), redis.Z{
		Score:  float64(cp.CreatedAt.UnixNano()),
		Member: cp.ID,
	}).Err(); err != nil {
		return errors.NewStoreError(errors.STORE_ERROR, "failed to index withdrawal", err)
	}
	return nil
}

// FindByID retrieves a withdrawal by its anchor transaction id.
func (s *WithdrawalStore) FindByID(ctx context.Context, id string) (*offramp.Withdrawal, error) {
	data, err := s.client.Get(ctx, s.recordKey(id)).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, errors.NewStoreError(errors.NOT_FOUND, fmt.Sprintf("withdrawal %s not found", id), nil)
	}
	if err != nil {
		return nil, errors.NewStoreError(errors.STORE_ERROR, "failed to load withdrawal", err)
	}
	return decode(data)
}

func decode(data []byte) (*offramp.Withdrawal, error) {
	var w offramp.Withdrawal
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, errors.NewStoreError(errors.STORE_ERROR, "failed to decode withdrawal", err)
	}
	return &w, nil
}

// Update applies partial updates under optimistic locking (WATCH/MULTI).
func (s *WithdrawalStore) Update(ctx context.Context, id string, update *offramp.WithdrawalUpdate) error {
	key := s.recordKey(id)

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if stderrors.Is(err, redis.Nil) {
			return errors.NewStoreError(errors.NOT_FOUND, fmt.Sprintf("withdrawal %s not found", id), nil)
		}
		if err != nil {
			return err
		}
		w, err := decode(data)
		if err != nil {
			return err
		}
		applyUpdate(w, update)
		out, err := json.Marshal(w)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if stderrors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !errors.HasCode(err, errors.NOT_FOUND) {
			return errors.NewStoreError(errors.STORE_ERROR, "failed to update withdrawal", err)
		}
		return err
	}
	return errors.NewStoreError(errors.STORE_ERROR, fmt.Sprintf("withdrawal %s updated concurrently", id), redis.TxFailedErr)
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

// List returns withdrawals matching the filters, newest first.
func (s *WithdrawalStore) List(ctx context.Context, filters offramp.WithdrawalFilters) ([]*offramp.Withdrawal, error) {
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, errors.NewStoreError(errors.STORE_ERROR, "failed to list withdrawals", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.recordKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.NewStoreError(errors.STORE_ERROR, "failed to load withdrawals", err)
	}

	var result []*offramp.Withdrawal
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		w, err := decode([]byte(raw))
		if err != nil {
			return nil, err
		}
		if filters.UserID != "" && w.UserID != filters.UserID {
			continue
		}
		if filters.Status != nil && w.Status != *filters.Status {
			continue
		}
		result = append(result, w)
		if filters.Limit > 0 && len(result) == filters.Limit {
			break
		}
	}
	return result, nil
}

// ClaimRemittance reserves the session with SETNX. Only the first caller wins.
func (s *WithdrawalStore) ClaimRemittance(ctx context.Context, id string) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.claimKey(id), claimPending, 0).Result()
	if err != nil {
		return false, errors.NewStoreError(errors.STORE_ERROR, "failed to claim remittance", err)
	}
	return ok, nil
}

// CompleteRemittance stores the result on an existing claim.
func (s *WithdrawalStore) CompleteRemittance(ctx context.Context, id string, result offramp.RemittanceResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return errors.NewStoreError(errors.STORE_ERROR, "failed to encode remittance", err)
	}

	ok, err := s.client.SetXX(ctx, s.claimKey(id), data, 0).Result()
	if err != nil {
		return errors.NewStoreError(errors.STORE_ERROR, "failed to record remittance", err)
	}
	if !ok {
		return errors.NewStoreError(errors.NOT_FOUND, fmt.Sprintf("no remittance claim for %s", id), nil)
	}

	hash := result.LedgerTransactionID
	err = s.Update(ctx, id, &offramp.WithdrawalUpdate{StellarTxHash: &hash})
	if err != nil && !errors.HasCode(err, errors.NOT_FOUND) {
		return err
	}
	return nil
}

// ReleaseRemittance drops a pending claim. Completed claims are kept.
func (s *WithdrawalStore) ReleaseRemittance(ctx context.Context, id string) error {
	if err := releaseScript.Run(ctx, s.client, []string{s.claimKey(id)}, claimPending).Err(); err != nil {
		return errors.NewStoreError(errors.STORE_ERROR, "failed to release remittance claim", err)
	}
	return nil
}

// FindRemittance returns the recorded payment, or nil if none was completed.
func (s *WithdrawalStore) FindRemittance(ctx context.Context, id string) (*offramp.RemittanceResult, error) {
	raw, err := s.client.Get(ctx, s.claimKey(id)).Result()
	if stderrors.Is(err, redis.Nil) || raw == claimPending {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewStoreError(errors.STORE_ERROR, "failed to load remittance", err)
	}

	var res offramp.RemittanceResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return nil, errors.NewStoreError(errors.STORE_ERROR, "failed to decode remittance", err)
	}
	return &res, nil
}

var _ offramp.WithdrawalStore = (*WithdrawalStore)(nil)
