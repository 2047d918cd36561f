package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"github.com/marwen-abid/offramp-go"
	"github.com/marwen-abid/offramp-go/core/net"
	"github.com/marwen-abid/offramp-go/errors"
)

// defaultTokenLifetime applies when the anchor's token carries no readable exp claim.
const defaultTokenLifetime = 24 * time.Hour

const maxErrorBody = 512

// Authenticate performs SEP-10 Web Authentication against homeDomain for the signer's
// account and returns the bearer token.
//
// Steps:
//  1. Discovers the anchor's WEB_AUTH_ENDPOINT via stellar.toml
//  2. Fetches a challenge for the account and home domain
//  3. Signs the challenge with the signer
//  4. Submits the signed challenge and reads the token
//
// Nothing is retried. A nil signer is CONFIG_INVALID; every other failure is AUTH_FAILED.
func (c *Client) Authenticate(ctx context.Context, homeDomain string, signer offramp.Signer) (*offramp.AuthToken, error) {
	if signer == nil || signer.PublicKey() == "" {
		return nil, errors.NewClientError(errors.CONFIG_INVALID, "authentication signer is not configured", nil)
	}
	account := signer.PublicKey()
	log := c.logger.WithFields(logrus.Fields{"anchor": homeDomain, "account": account})

	anchorInfo, err := c.tomlResolver.Resolve(ctx, homeDomain)
	if err != nil {
		return nil, errors.NewClientError(
			errors.AUTH_FAILED,
			fmt.Sprintf("failed to resolve stellar.toml for %s", homeDomain),
			err,
		)
	}

	if anchorInfo.WebAuthEndpoint == "" {
		return nil, errors.NewClientError(
			errors.AUTH_FAILED,
			fmt.Sprintf("anchor %s does not provide WEB_AUTH_ENDPOINT in stellar.toml", homeDomain),
			nil,
		)
	}

	query := url.Values{}
	query.Set("account", account)
	query.Set("home_domain", hostOf(homeDomain))
	challengeURL := anchorInfo.WebAuthEndpoint + "?" + query.Encode()

	resp, err := c.httpClient.Get(ctx, challengeURL, net.WithoutRetry())
	if err != nil {
		return nil, errors.NewClientError(
			errors.AUTH_FAILED,
			fmt.Sprintf("failed to fetch challenge from %s", anchorInfo.WebAuthEndpoint),
			err,
		)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.NewClientError(
			errors.AUTH_FAILED,
			fmt.Sprintf("challenge request returned status %d: %s", resp.StatusCode, resp.ReadBody(maxErrorBody)),
			nil,
		).With("status", resp.StatusCode)
	}

	var challengeResp struct {
		Transaction       string `json:"transaction"`
		NetworkPassphrase string `json:"network_passphrase"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&challengeResp); err != nil {
		return nil, errors.NewClientError(errors.AUTH_FAILED, "failed to decode challenge response JSON", err)
	}
	if challengeResp.Transaction == "" {
		return nil, errors.NewClientError(errors.AUTH_FAILED, "challenge response has no transaction", nil)
	}

	if challengeResp.NetworkPassphrase != "" && challengeResp.NetworkPassphrase != c.networkPassphrase {
		return nil, errors.NewClientError(
			errors.AUTH_FAILED,
			fmt.Sprintf("network passphrase mismatch: expected %s, got %s", c.networkPassphrase, challengeResp.NetworkPassphrase),
			nil,
		)
	}

	signedXDR, err := signer.SignTransaction(ctx, challengeResp.Transaction, c.networkPassphrase)
	if err != nil {
		return nil, errors.NewClientError(errors.AUTH_FAILED, "failed to sign challenge transaction", err)
	}

	submitBody, err := json.Marshal(map[string]string{"transaction": signedXDR})
	if err != nil {
		return nil, errors.NewClientError(errors.AUTH_FAILED, "failed to marshal submit payload", err)
	}

	submitResp, err := c.httpClient.Post(ctx, anchorInfo.WebAuthEndpoint, bytes.NewReader(submitBody), net.WithoutRetry())
	if err != nil {
		return nil, errors.NewClientError(errors.AUTH_FAILED, "failed to submit signed challenge", err)
	}
	defer submitResp.Body.Close()

	if submitResp.StatusCode != http.StatusOK {
		return nil, errors.NewClientError(
			errors.AUTH_FAILED,
			fmt.Sprintf("auth submission returned status %d: %s", submitResp.StatusCode, submitResp.ReadBody(maxErrorBody)),
			nil,
		).With("status", submitResp.StatusCode)
	}

	var tokenResp struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(submitResp.Body).Decode(&tokenResp); err != nil {
		return nil, errors.NewClientError(errors.AUTH_FAILED, "failed to decode token response JSON", err)
	}
	if tokenResp.Token == "" {
		return nil, errors.NewClientError(errors.AUTH_FAILED, "anchor returned an empty token", nil)
	}

	expiresAt, ok := tokenExpiry(tokenResp.Token)
	if !ok {
		log.Debug("token has no readable exp claim, assuming default lifetime")
		expiresAt = time.Now().Add(defaultTokenLifetime)
	}

	log.WithField("expires_at", expiresAt).Info("authenticated with anchor")

	return &offramp.AuthToken{
		Token:      tokenResp.Token,
		HomeDomain: homeDomain,
		Account:    account,
		ExpiresAt:  expiresAt,
	}, nil
}

// tokenExpiry reads the exp claim without verifying the signature. Verification is the
// anchor's job; the client only uses exp as a hint.
func tokenExpiry(token string) (time.Time, bool) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

func hostOf(homeDomain string) string {
	host := strings.TrimPrefix(strings.TrimPrefix(homeDomain, "https://"), "http://")
	return strings.TrimSuffix(host, "/")
}
