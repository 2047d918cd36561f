package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/marwen-abid/offramp-go"
	"github.com/marwen-abid/offramp-go/core/net"
	"github.com/marwen-abid/offramp-go/errors"
)

// WithdrawalRequest describes one SEP-24 interactive withdrawal.
// Lang, Country and State are per-deployment locale defaults forwarded to the anchor.
type WithdrawalRequest struct {
	AssetCode string
	Amount    string
	UserID    string
	// Account is the funds account that will pay the anchor.
	Account string
	Lang    string
	Country string
	State   string
}

type withdrawPayload struct {
	AssetCode   string `json:"asset_code"`
	AssetIssuer string `json:"asset_issuer,omitempty"`
	Account     string `json:"account"`
	Lang        string `json:"lang,omitempty"`
	Amount      string `json:"amount,omitempty"`
	Country     string `json:"country,omitempty"`
	State       string `json:"state,omitempty"`
	UserID      string `json:"user_id,omitempty"`
}

// InitiateWithdrawal opens an interactive withdrawal with the token's anchor.
//
// The call is not idempotent: each successful call creates a new anchor transaction, so
// it is sent exactly once with no transport-level retry. Unsupported assets fail with
// ASSET_UNSUPPORTED before any request is made; 401/403 is AUTH_FAILED; every other
// failure is ANCHOR_PROTOCOL_ERROR.
func (c *Client) InitiateWithdrawal(ctx context.Context, token *offramp.AuthToken, req WithdrawalRequest) (*offramp.WithdrawalSession, error) {
	if token == nil || token.Token == "" {
		return nil, errors.NewClientError(errors.AUTH_FAILED, "withdrawal requires an auth token", nil)
	}

	asset, err := c.ResolveAsset(ctx, token.HomeDomain, req.AssetCode)
	if err != nil {
		return nil, err
	}

	server, err := c.transferServer(ctx, token.HomeDomain)
	if err != nil {
		return nil, err
	}

	account := req.Account
	if account == "" {
		account = token.Account
	}

	payloadBytes, err := json.Marshal(withdrawPayload{
		AssetCode:   asset.Code,
		AssetIssuer: asset.Issuer,
		Account:     account,
		Lang:        req.Lang,
		Amount:      req.Amount,
		Country:     req.Country,
		State:       req.State,
		UserID:      req.UserID,
	})
	if err != nil {
		return nil, errors.NewClientError(errors.ANCHOR_PROTOCOL_ERROR, "failed to marshal withdrawal request payload", err)
	}

	endpoint := fmt.Sprintf("%s/transactions/withdraw/interactive", server)
	resp, err := c.httpClient.Post(ctx, endpoint, bytes.NewReader(payloadBytes), net.WithBearer(token.Token), net.WithoutRetry())
	if err != nil {
		return nil, errors.NewClientError(errors.ANCHOR_PROTOCOL_ERROR, "failed to initiate withdrawal", err)
	}
	defer resp.Body.Close()

	if err := statusError(resp, "withdrawal request"); err != nil {
		return nil, err
	}

	var interactiveResp struct {
		Type string `json:"type"`
		URL  string `json:"url"`
		ID   string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&interactiveResp); err != nil {
		return nil, errors.NewClientError(errors.ANCHOR_PROTOCOL_ERROR, "failed to decode withdrawal response JSON", err)
	}
	if interactiveResp.ID == "" || interactiveResp.URL == "" {
		return nil, errors.NewClientError(errors.ANCHOR_PROTOCOL_ERROR, "withdrawal response is missing id or url", nil)
	}

	c.logger.WithFields(logrus.Fields{
		"anchor":     token.HomeDomain,
		"session_id": interactiveResp.ID,
		"asset":      asset.Code,
	}).Info("withdrawal session opened")

	return &offramp.WithdrawalSession{
		ID:             interactiveResp.ID,
		InteractiveURL: interactiveResp.URL,
	}, nil
}

// statusError maps a non-200 anchor response to a coded error.
func statusError(resp *net.Response, what string) error {
	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return errors.NewClientError(
			errors.AUTH_FAILED,
			fmt.Sprintf("%s rejected the token (status %d): %s", what, resp.StatusCode, resp.ReadBody(maxErrorBody)),
			nil,
		).With("status", resp.StatusCode)
	default:
		return errors.NewClientError(
			errors.ANCHOR_PROTOCOL_ERROR,
			fmt.Sprintf("%s returned status %d: %s", what, resp.StatusCode, resp.ReadBody(maxErrorBody)),
			nil,
		).With("status", resp.StatusCode)
	}
}
