// Package sdk provides client-side integration with Stellar anchors.
// It handles SEP-10 authentication, SEP-24 interactive withdrawals and transaction
// status lookups, discovering endpoints through stellar.toml (SEP-1).
package sdk

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/marwen-abid/offramp-go"
	"github.com/marwen-abid/offramp-go/core/net"
	"github.com/marwen-abid/offramp-go/core/toml"
	"github.com/marwen-abid/offramp-go/errors"
)

// Client is the entry point for integrating with Stellar anchors.
// It discovers anchor endpoints via stellar.toml (SEP-1) and issues
// SEP-10 and SEP-24 requests.
type Client struct {
	networkPassphrase string
	httpClient        *net.Client
	tomlResolver      *toml.Resolver
	tomlOpts          []toml.ResolverOption
	logger            logrus.FieldLogger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the underlying HTTP client for network requests.
func WithHTTPClient(client *net.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTomlCacheTTL sets how long stellar.toml lookups are cached.
func WithTomlCacheTTL(d time.Duration) ClientOption {
	return func(c *Client) {
		c.tomlOpts = append(c.tomlOpts, toml.WithCacheTTL(d))
	}
}

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a new anchor client.
// The networkPassphrase identifies the Stellar network (e.g., "Test SDF Network ; September 2015").
func NewClient(networkPassphrase string, opts ...ClientOption) *Client {
	client := &Client{
		networkPassphrase: networkPassphrase,
		httpClient:        net.NewClient(),
		logger:            logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(client)
	}
	client.tomlResolver = toml.NewResolver(client.httpClient, client.tomlOpts...)
	return client
}

// NetworkPassphrase returns the passphrase challenges are signed for.
func (c *Client) NetworkPassphrase() string {
	return c.networkPassphrase
}

// AnchorInfo resolves the stellar.toml of homeDomain.
func (c *Client) AnchorInfo(ctx context.Context, homeDomain string) (*toml.AnchorInfo, error) {
	return c.tomlResolver.Resolve(ctx, homeDomain)
}

// ResolveAsset checks that homeDomain lists assetCode with an issuer and returns it.
// A missing currency or issuer is ASSET_UNSUPPORTED.
func (c *Client) ResolveAsset(ctx context.Context, homeDomain, assetCode string) (offramp.Asset, error) {
	info, err := c.tomlResolver.Resolve(ctx, homeDomain)
	if err != nil {
		return offramp.Asset{}, errors.NewClientError(
			errors.ANCHOR_PROTOCOL_ERROR,
			fmt.Sprintf("failed to resolve stellar.toml for %s", homeDomain),
			err,
		)
	}

	currency := info.FindCurrency(assetCode)
	if currency == nil || currency.Code == "" || currency.Issuer == "" {
		return offramp.Asset{}, errors.NewClientError(
			errors.ASSET_UNSUPPORTED,
			fmt.Sprintf("anchor %s does not support %s", homeDomain, assetCode),
			nil,
		).With("anchor", homeDomain).With("asset_code", assetCode)
	}

	return offramp.Asset{Code: currency.Code, Issuer: currency.Issuer}, nil
}

// transferServer resolves the SEP-24 endpoint. A transport failure while refreshing
// stellar.toml keeps its NETWORK_ERROR without a kind, like any other lookup failure.
func (c *Client) transferServer(ctx context.Context, homeDomain string) (string, error) {
	info, err := c.tomlResolver.Resolve(ctx, homeDomain)
	if err != nil {
		if errors.HasCode(err, errors.NETWORK_ERROR) {
			return "", err
		}
		return "", errors.NewClientError(
			errors.ANCHOR_PROTOCOL_ERROR,
			fmt.Sprintf("failed to resolve stellar.toml for %s", homeDomain),
			err,
		)
	}
	if info.TransferServerSep24 == "" {
		return "", errors.NewClientError(
			errors.ANCHOR_PROTOCOL_ERROR,
			fmt.Sprintf("anchor %s does not provide TRANSFER_SERVER_SEP0024 in stellar.toml", homeDomain),
			nil,
		)
	}
	return info.TransferServerSep24, nil
}
