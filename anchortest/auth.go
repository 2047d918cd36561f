package anchortest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/txnbuild"

	"github.com/marwen-abid/offramp-go/core/crypto"
)

const (
	challengeNonceLength = 48
	challengeTimeout     = 5 * time.Minute
	challengeBaseFee     = int64(100)
)

type subjectKey struct{}

func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		account := r.URL.Query().Get("account")
		challenge, err := s.createChallenge(r.Context(), account, r.URL.Query().Get("home_domain"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.mu.Lock()
		s.challenges++
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]string{
			"transaction":        challenge,
			"network_passphrase": s.passphrase,
		})
	case http.MethodPost:
		var body struct {
			Transaction string `json:"transaction"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		token, err := s.verifyChallenge(r.Context(), body.Transaction)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		s.mu.Lock()
		s.authCount++
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]string{"token": token})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// createChallenge builds a server-signed SEP-10 challenge for account.
func (s *Server) createChallenge(ctx context.Context, account, homeDomain string) (string, error) {
	if _, err := keypair.ParseAddress(account); err != nil {
		return "", fmt.Errorf("invalid account address: %w", err)
	}
	if homeDomain == "" {
		return "", fmt.Errorf("home_domain is required")
	}

	nonce, err := crypto.GenerateNonce(challengeNonceLength)
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	if err := s.nonces.Add(ctx, nonce, now.Add(challengeTimeout)); err != nil {
		return "", err
	}

	server := s.signer.PublicKey()
	tx, err := txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount:        &txnbuild.SimpleAccount{AccountID: server, Sequence: 0},
		IncrementSequenceNum: false,
		Operations: []txnbuild.Operation{
			&txnbuild.ManageData{Name: homeDomain + " auth", Value: []byte(nonce), SourceAccount: account},
			&txnbuild.ManageData{Name: "web_auth_domain", Value: []byte(s.host()), SourceAccount: server},
		},
		BaseFee: challengeBaseFee,
		Preconditions: txnbuild.Preconditions{
			TimeBounds: txnbuild.NewTimebounds(now.Unix(), now.Add(challengeTimeout).Unix()),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to build challenge: %w", err)
	}
	envelope, err := tx.Base64()
	if err != nil {
		return "", err
	}
	return s.signer.SignTransaction(ctx, envelope, s.passphrase)
}

// verifyChallenge checks the client-signed challenge and issues a token for the client
// account. Only master-key signatures are accepted.
func (s *Server) verifyChallenge(ctx context.Context, challengeXDR string) (string, error) {
	if strings.TrimSpace(challengeXDR) == "" {
		return "", fmt.Errorf("transaction is required")
	}
	parsed, err := txnbuild.TransactionFromXDR(challengeXDR)
	if err != nil {
		return "", fmt.Errorf("failed to parse challenge: %w", err)
	}
	tx, ok := parsed.Transaction()
	if !ok {
		return "", fmt.Errorf("challenge must not be a fee bump")
	}
	if tx.SourceAccount().AccountID != s.signer.PublicKey() {
		return "", fmt.Errorf("challenge source account must be the server signing key")
	}

	ops := tx.Operations()
	if len(ops) < 2 {
		return "", fmt.Errorf("challenge must have at least two operations")
	}
	first, ok := ops[0].(*txnbuild.ManageData)
	if !ok || !strings.HasSuffix(first.Name, " auth") || first.Value == nil {
		return "", fmt.Errorf("first operation must be the auth manage_data")
	}
	second, ok := ops[1].(*txnbuild.ManageData)
	if !ok || second.Name != "web_auth_domain" || !bytes.Equal(second.Value, []byte(s.host())) {
		return "", fmt.Errorf("web_auth_domain operation missing or mismatched")
	}

	consumed, err := s.nonces.Consume(ctx, string(first.Value))
	if err != nil {
		return "", err
	}
	if !consumed {
		return "", fmt.Errorf("nonce already used or expired")
	}

	account := first.SourceAccount
	hash, err := tx.Hash(s.passphrase)
	if err != nil {
		return "", err
	}

	var serverSigned, clientSigned bool
	for _, sig := range tx.Signatures() {
		if crypto.SignedBy(s.signer.PublicKey(), hash[:], sig.Signature) {
			serverSigned = true
			continue
		}
		if crypto.SignedBy(account, hash[:], sig.Signature) {
			clientSigned = true
			continue
		}
		return "", fmt.Errorf("transaction has unrecognized signatures")
	}
	if !serverSigned {
		return "", fmt.Errorf("challenge not signed by server")
	}
	if !clientSigned {
		return "", fmt.Errorf("challenge not signed by client")
	}

	return s.tokens.issue(account)
}

// requireAuth checks the bearer token and stores its subject in the request context.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		reject := s.rejectTokens > 0
		if reject {
			s.rejectTokens--
		}
		s.mu.Unlock()
		if reject {
			writeError(w, http.StatusUnauthorized, "token rejected")
			return
		}

		header := strings.TrimSpace(r.Header.Get("Authorization"))
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if !strings.HasPrefix(header, "Bearer ") || token == "" {
			writeError(w, http.StatusForbidden, "missing bearer token")
			return
		}
		subject, err := s.tokens.verify(token)
		if err != nil {
			writeError(w, http.StatusForbidden, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), subjectKey{}, subject)))
	})
}

func subjectFrom(ctx context.Context) string {
	sub, _ := ctx.Value(subjectKey{}).(string)
	return sub
}

func (s *Server) host() string {
	return strings.TrimPrefix(s.srv.URL, "http://")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
