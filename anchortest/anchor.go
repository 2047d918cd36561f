// Package anchortest runs an in-process SEP-1/SEP-10/SEP-24 anchor for tests.
//
// The anchor publishes a stellar.toml, issues and verifies SEP-10 challenges, opens
// interactive withdrawals and answers transaction lookups from a per-transaction script
// of status snapshots. Each lookup advances the script by one step and the last step
// repeats.
//
//	a := anchortest.New(t, anchortest.Config{
//	    Script: []anchortest.Step{
//	        {Status: offramp.StatusIncomplete},
//	        anchortest.Ready(settlement, "memo-1", "10"),
//	    },
//	})
//	client := sdk.NewClient(a.NetworkPassphrase())
//	token, err := client.Authenticate(ctx, a.Domain(), signer)
package anchortest

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/network"

	"github.com/marwen-abid/offramp-go"
	"github.com/marwen-abid/offramp-go/core/toml"
	"github.com/marwen-abid/offramp-go/signers"
	"github.com/marwen-abid/offramp-go/store/memory"
)

// Default asset advertised by the anchor.
const (
	DefaultAssetCode   = "USDC"
	DefaultAssetIssuer = "GBBD47IF6LWK7P7MDEVSCWR7DPUWV3NY3DTQEVFL4NAT4AQH3ZLLFLA5"
)

// Step is one scripted snapshot of an anchor transaction. ID and Kind are filled in.
type Step = offramp.AnchorTransaction

// Ready returns a pending_user_transfer_start step carrying payment instructions.
func Ready(account, memo, amount string) Step {
	return Step{
		Status:                offramp.StatusPendingUserTransferStart,
		WithdrawAnchorAccount: account,
		WithdrawMemo:          memo,
		WithdrawMemoType:      "text",
		AmountIn:              amount,
	}
}

// Config customises the anchor. Zero values pick testnet defaults.
type Config struct {
	NetworkPassphrase string
	AssetCode         string
	AssetIssuer       string
	// Script is copied to every new withdrawal.
	Script []Step
	// TokenLifetime is the exp of issued tokens (default 1h).
	TokenLifetime time.Duration
	// OmitWebAuth leaves WEB_AUTH_ENDPOINT out of the stellar.toml.
	OmitWebAuth bool
}

// Withdrawal is a recorded POST /transactions/withdraw/interactive body.
type Withdrawal struct {
	ID          string `json:"-"`
	AssetCode   string `json:"asset_code"`
	AssetIssuer string `json:"asset_issuer"`
	Account     string `json:"account"`
	Amount      string `json:"amount"`
	Lang        string `json:"lang"`
	Country     string `json:"country"`
	State       string `json:"state"`
	UserID      string `json:"user_id"`
	// Subject is the authenticated account of the request.
	Subject string `json:"-"`
}

type scripted struct {
	steps   []Step
	next    int
	lookups int
	current Step
}

// Server is a running test anchor.
type Server struct {
	srv        *httptest.Server
	cfg        Config
	signer     offramp.Signer
	nonces     *memory.NonceStore
	tokens     *tokenIssuer
	publisher  *toml.Publisher
	passphrase string

	mu            sync.Mutex
	txs           map[string]*scripted
	withdrawals   []Withdrawal
	challenges    int
	authCount     int
	rejectTokens  int
	failLookups   int
	failInitiates int
	failToml      int
}

// New starts an anchor and stops it when the test ends.
func New(t testing.TB, cfg Config) *Server {
	t.Helper()
	s, err := start(cfg)
	if err != nil {
		t.Fatalf("anchortest: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func start(cfg Config) (*Server, error) {
	if cfg.NetworkPassphrase == "" {
		cfg.NetworkPassphrase = network.TestNetworkPassphrase
	}
	if cfg.AssetCode == "" {
		cfg.AssetCode = DefaultAssetCode
	}
	if cfg.AssetIssuer == "" {
		cfg.AssetIssuer = DefaultAssetIssuer
	}
	if cfg.TokenLifetime <= 0 {
		cfg.TokenLifetime = time.Hour
	}

	signer, err := signers.FromSecret(keypair.MustRandom().Seed())
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:        cfg,
		signer:     signer,
		nonces:     memory.NewNonceStore(),
		passphrase: cfg.NetworkPassphrase,
		txs:        make(map[string]*scripted),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/stellar.toml", s.serveToml)
	mux.HandleFunc("/auth", s.handleAuth)
	mux.Handle("/sep24/transactions/withdraw/interactive", s.requireAuth(http.HandlerFunc(s.handleWithdraw)))
	mux.Handle("/sep24/transaction", s.requireAuth(http.HandlerFunc(s.handleTransaction)))

	s.srv = httptest.NewServer(mux)

	// The host is only known once the listener is up.
	s.tokens = newTokenIssuer([]byte(signer.PublicKey()), s.Domain(), cfg.TokenLifetime)
	info := &toml.AnchorInfo{
		NetworkPassphrase:   cfg.NetworkPassphrase,
		SigningKey:          signer.PublicKey(),
		TransferServerSep24: s.srv.URL + "/sep24",
		Currencies: []toml.CurrencyInfo{{
			Code:            cfg.AssetCode,
			Issuer:          cfg.AssetIssuer,
			Status:          "test",
			DisplayDecimals: 2,
			AnchorAssetType: "fiat",
			IsAssetAnchored: true,
		}},
	}
	if !cfg.OmitWebAuth {
		info.WebAuthEndpoint = s.srv.URL + "/auth"
	}
	s.publisher = toml.NewPublisher(info)
	return s, nil
}

// Close shuts the anchor down.
func (s *Server) Close() {
	s.srv.Close()
}

// Domain is the home domain to pass to the client (an http:// origin).
func (s *Server) Domain() string {
	return s.srv.URL
}

// NetworkPassphrase is the passphrase the anchor signs challenges for.
func (s *Server) NetworkPassphrase() string {
	return s.passphrase
}

// SigningKey is the anchor's SEP-10 signing key.
func (s *Server) SigningKey() string {
	return s.signer.PublicKey()
}

// Asset is the asset the anchor supports.
func (s *Server) Asset() offramp.Asset {
	return offramp.Asset{Code: s.cfg.AssetCode, Issuer: s.cfg.AssetIssuer}
}

// SetScript replaces the remaining script of transaction id.
func (s *Server) SetScript(id string, steps ...Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[id]
	if !ok {
		tx = &scripted{}
		s.txs[id] = tx
	}
	tx.steps = append([]Step(nil), steps...)
	tx.next = 0
}

// RejectTokens makes the next n authenticated requests fail with 401.
func (s *Server) RejectTokens(n int) {
	s.mu.Lock()
	s.rejectTokens = n
	s.mu.Unlock()
}

// FailLookups makes the next n transaction lookups fail with 502.
func (s *Server) FailLookups(n int) {
	s.mu.Lock()
	s.failLookups = n
	s.mu.Unlock()
}

// FailToml makes the next n stellar.toml requests fail with 503.
func (s *Server) FailToml(n int) {
	s.mu.Lock()
	s.failToml = n
	s.mu.Unlock()
}

// FailInitiations makes the next n withdrawal initiations fail with 400.
func (s *Server) FailInitiations(n int) {
	s.mu.Lock()
	s.failInitiates = n
	s.mu.Unlock()
}

// Withdrawals returns the initiation requests received so far.
func (s *Server) Withdrawals() []Withdrawal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Withdrawal(nil), s.withdrawals...)
}

// Lookups returns how many times transaction id was fetched.
func (s *Server) Lookups(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx, ok := s.txs[id]; ok {
		return tx.lookups
	}
	return 0
}

// Authentications returns how many tokens were issued.
func (s *Server) Authentications() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authCount
}

// Challenges returns how many challenges were issued.
func (s *Server) Challenges() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.challenges
}

func (s *Server) serveToml(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	fail := s.failToml > 0
	if fail {
		s.failToml--
	}
	s.mu.Unlock()
	if fail {
		writeError(w, http.StatusServiceUnavailable, "stellar.toml unavailable")
		return
	}
	s.publisher.Handler().ServeHTTP(w, r)
}
