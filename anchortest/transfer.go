package anchortest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/marwen-abid/offramp-go"
	"github.com/marwen-abid/offramp-go/core/crypto"
)

const interactiveTokenLength = 32

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	s.mu.Lock()
	fail := s.failInitiates > 0
	if fail {
		s.failInitiates--
	}
	s.mu.Unlock()
	if fail {
		writeError(w, http.StatusBadRequest, "withdrawal temporarily unavailable")
		return
	}

	var req Withdrawal
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.AssetCode) == "" || strings.TrimSpace(req.Account) == "" {
		writeError(w, http.StatusBadRequest, "asset_code and account are required")
		return
	}
	if req.AssetCode != s.cfg.AssetCode {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported asset %s", req.AssetCode))
		return
	}

	token, err := crypto.GenerateNonce(interactiveTokenLength)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	req.ID = uuid.NewString()
	req.Subject = subjectFrom(r.Context())
	started := time.Now().UTC()

	s.mu.Lock()
	tx, ok := s.txs[req.ID]
	if !ok {
		tx = &scripted{steps: append([]Step(nil), s.cfg.Script...)}
		s.txs[req.ID] = tx
	}
	tx.current = Step{
		ID:        req.ID,
		Kind:      "withdrawal",
		Status:    offramp.StatusIncomplete,
		StartedAt: &started,
	}
	s.withdrawals = append(s.withdrawals, req)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{
		"type": "interactive_customer_info_needed",
		"url":  fmt.Sprintf("%s/interactive?transaction_id=%s&token=%s", s.srv.URL, req.ID, token),
		"id":   req.ID,
	})
}

func (s *Server) handleTransaction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := r.URL.Query().Get("id")

	s.mu.Lock()
	fail := s.failLookups > 0
	if fail {
		s.failLookups--
	}
	tx, ok := s.txs[id]
	var snapshot Step
	if ok && !fail {
		tx.lookups++
		if tx.next < len(tx.steps) {
			tx.current = merge(tx.current, tx.steps[tx.next])
			tx.next++
		}
		snapshot = tx.current
	}
	s.mu.Unlock()

	switch {
	case fail:
		writeError(w, http.StatusBadGateway, "upstream unavailable")
	case !ok:
		writeError(w, http.StatusNotFound, "transaction not found")
	default:
		writeJSON(w, http.StatusOK, map[string]any{"transaction": snapshot})
	}
}

// merge applies a scripted step on top of the current snapshot. Identity fields are kept.
func merge(current, step Step) Step {
	step.ID = current.ID
	step.Kind = current.Kind
	if step.StartedAt == nil {
		step.StartedAt = current.StartedAt
	}
	if step.Status == offramp.StatusCompleted && step.CompletedAt == nil {
		now := time.Now().UTC()
		step.CompletedAt = &now
	}
	return step
}
