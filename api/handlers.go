package api

import (
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/marwen-abid/offramp-go"
	"github.com/marwen-abid/offramp-go/errors"
	"github.com/marwen-abid/offramp-go/signers"
	"github.com/marwen-abid/offramp-go/wallet"
	"github.com/marwen-abid/offramp-go/withdraw"
)

const maxListLimit = 100

// withdrawalView is the JSON form of a stored withdrawal.
type withdrawalView struct {
	ID                    string                    `json:"id"`
	UserID                string                    `json:"user_id"`
	AnchorDomain          string                    `json:"anchor_domain"`
	Asset                 string                    `json:"asset"`
	Amount                string                    `json:"amount"`
	Account               string                    `json:"account"`
	InteractiveURL        string                    `json:"url,omitempty"`
	Status                offramp.TransactionStatus `json:"status"`
	StellarTxHash         string                    `json:"stellar_transaction_id,omitempty"`
	ExternalTransactionID string                    `json:"external_transaction_id,omitempty"`
	MoreInfoURL           string                    `json:"more_info_url,omitempty"`
	Message               string                    `json:"message,omitempty"`
	CreatedAt             time.Time                 `json:"created_at"`
	UpdatedAt             time.Time                 `json:"updated_at"`
	CompletedAt           *time.Time                `json:"completed_at,omitempty"`
}

func viewOf(w *offramp.Withdrawal) withdrawalView {
	asset := offramp.Asset{Code: w.AssetCode, Issuer: w.AssetIssuer}
	return withdrawalView{
		ID:                    w.ID,
		UserID:                w.UserID,
		AnchorDomain:          w.AnchorDomain,
		Asset:                 asset.String(),
		Amount:                w.Amount,
		Account:               w.Account,
		InteractiveURL:        w.InteractiveURL,
		Status:                w.Status,
		StellarTxHash:         w.StellarTxHash,
		ExternalTransactionID: w.ExternalTransactionID,
		MoreInfoURL:           w.MoreInfoURL,
		Message:               w.Message,
		CreatedAt:             w.CreatedAt,
		UpdatedAt:             w.UpdatedAt,
		CompletedAt:           w.CompletedAt,
	}
}

// fundsRequest optionally names a custodial funds account opened with a PIN.
type fundsRequest struct {
	SealedSecret string `json:"sealed_secret"`
	Pin          string `json:"pin"`
}

// signer opens the sealed secret. Nil means the orchestrator's own funds identity.
func (f fundsRequest) signer() (offramp.Signer, error) {
	if f.SealedSecret == "" {
		return nil, nil
	}
	s, err := signers.FromSealedSecret(f.SealedSecret, f.Pin)
	if err != nil {
		return nil, errors.NewFlowError(errors.INVALID_REQUEST, fmt.Sprintf("cannot open funds account: %v", err), nil)
	}
	return s, nil
}

// WithdrawalHandlers serves the withdrawal endpoints.
type WithdrawalHandlers struct {
	orch *withdraw.Orchestrator
}

// NewWithdrawalHandlers creates withdrawal handlers.
func NewWithdrawalHandlers(orch *withdraw.Orchestrator) *WithdrawalHandlers {
	return &WithdrawalHandlers{orch: orch}
}

type createRequest struct {
	Amount string `json:"amount" binding:"required"`
	UserID string `json:"user_id" binding:"required"`
	fundsRequest
}

func (h *WithdrawalHandlers) bindCreate(c *gin.Context) (withdraw.Request, bool) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "amount and user_id are required")
		return withdraw.Request{}, false
	}
	funds, err := req.signer()
	if err != nil {
		writeError(c, err, nil)
		return withdraw.Request{}, false
	}
	return withdraw.Request{Amount: req.Amount, UserID: req.UserID, Funds: funds}, true
}

// Create opens a withdrawal and watches it in the background. The response carries the
// interactive URL the user must complete.
func (h *WithdrawalHandlers) Create(c *gin.Context) {
	req, ok := h.bindCreate(c)
	if !ok {
		return
	}

	session, _, err := h.orch.Launch(c.Request.Context(), req)
	if err != nil {
		writeError(c, err, nil)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"id":      session.ID,
		"url":     session.InteractiveURL,
		"status":  offramp.StatusIncomplete,
	})
}

// CreateSync runs the whole withdrawal and responds once it resolves.
func (h *WithdrawalHandlers) CreateSync(c *gin.Context) {
	req, ok := h.bindCreate(c)
	if !ok {
		return
	}

	res, err := h.orch.Withdraw(c.Request.Context(), req)
	if err != nil {
		extra := gin.H{}
		if res != nil {
			extra["result"] = res
		}
		writeError(c, err, extra)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "result": res})
}

// Remit resumes an existing session: watch it until ready, then pay once.
func (h *WithdrawalHandlers) Remit(c *gin.Context) {
	// Optional body. Chunked requests carry no ContentLength.
	var req fundsRequest
	if body := c.Request.Body; body != nil && body != http.NoBody {
		if err := c.ShouldBindJSON(&req); err != nil && !stderrors.Is(err, io.EOF) {
			badRequest(c, "invalid request body")
			return
		}
	}
	funds, err := req.signer()
	if err != nil {
		writeError(c, err, nil)
		return
	}

	res, err := h.orch.Resume(c.Request.Context(), c.Param("id"), funds)
	if err != nil {
		extra := gin.H{}
		if res != nil {
			extra["result"] = res
		}
		writeError(c, err, extra)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "result": res})
}

// Get returns the stored record.
func (h *WithdrawalHandlers) Get(c *gin.Context) {
	w, err := h.orch.Store().FindByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err, nil)
		return
	}
	view := viewOf(w)
	_, running := h.orch.Task(w.ID)
	c.JSON(http.StatusOK, gin.H{"success": true, "withdrawal": view, "watching": running})
}

// List returns stored records, newest first. Filters: user_id, status, limit.
func (h *WithdrawalHandlers) List(c *gin.Context) {
	filters := offramp.WithdrawalFilters{UserID: c.Query("user_id"), Limit: maxListLimit}
	if s := c.Query("status"); s != "" {
		status := offramp.TransactionStatus(s)
		filters.Status = &status
	}
	if l := c.Query("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			badRequest(c, "limit must be a positive integer")
			return
		}
		if n < maxListLimit {
			filters.Limit = n
		}
	}

	records, err := h.orch.Store().List(c.Request.Context(), filters)
	if err != nil {
		writeError(c, err, nil)
		return
	}
	views := make([]withdrawalView, 0, len(records))
	for _, w := range records {
		views = append(views, viewOf(w))
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "withdrawals": views})
}

// Status re-queries the anchor. It never pays.
func (h *WithdrawalHandlers) Status(c *gin.Context) {
	report, err := h.orch.CheckStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "report": report})
}

// AccountHandlers serves custodial account endpoints.
type AccountHandlers struct {
	creator *wallet.Creator
}

// NewAccountHandlers creates account handlers. A nil creator answers CONFIG_INVALID.
func NewAccountHandlers(creator *wallet.Creator) *AccountHandlers {
	return &AccountHandlers{creator: creator}
}

func (h *AccountHandlers) configured(c *gin.Context) bool {
	if h.creator == nil {
		writeError(c, errors.NewClientError(errors.CONFIG_INVALID, "account provisioning is not configured", nil), nil)
		return false
	}
	return true
}

// Create opens a funded account with the asset trustline and returns its sealed secret.
func (h *AccountHandlers) Create(c *gin.Context) {
	if !h.configured(c) {
		return
	}
	var req struct {
		Pin string `json:"pin" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "pin is required")
		return
	}

	account, err := h.creator.CreateAccount(c.Request.Context(), req.Pin)
	if err != nil {
		extra := gin.H{}
		if account != nil {
			extra["account"] = account
		}
		writeError(c, err, extra)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "account": account})
}

// Balances lists an account's balances.
func (h *AccountHandlers) Balances(c *gin.Context) {
	if !h.configured(c) {
		return
	}
	balances, err := h.creator.Balances(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err, nil)
		return
	}
	out := make([]gin.H, 0, len(balances))
	for _, b := range balances {
		out = append(out, gin.H{
			"asset_type":   b.AssetType,
			"asset_code":   b.AssetCode,
			"asset_issuer": b.AssetIssuer,
			"balance":      b.Balance,
			"limit":        b.Limit,
		})
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "account": c.Param("id"), "balances": out})
}
