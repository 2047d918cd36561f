// Package config loads the offramp service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/stellar/go/network"

	"github.com/marwen-abid/offramp-go"
	"github.com/marwen-abid/offramp-go/errors"
	"github.com/marwen-abid/offramp-go/signers"
	"github.com/marwen-abid/offramp-go/withdraw"
)

const (
	sdfTestAnchor     = "testanchor.stellar.org"
	testnetHorizon    = "https://horizon-testnet.stellar.org"
	publicHorizon     = "https://horizon.stellar.org"
	testnetUSDCIssuer = "GBBD47IF6LWK7P7MDEVSCWR7DPUWV3NY3DTQEVFL4NAT4AQH3ZLLFLA5"
	publicUSDCIssuer  = "GA5ZSEJYB37JRC5AVCIA5MOP4RHTM335X2KGX3IHOJAPP5RE34K4KZVN"
	networkTestnet    = "testnet"
	networkPublic     = "public"
)

// Config contains all configuration parameters for the service.
// Secrets are optional here; operations that need a missing one fail with CONFIG_INVALID.
type Config struct {
	Network           string `envconfig:"STELLAR_NETWORK" default:"testnet"`
	HorizonURL        string `envconfig:"STELLAR_HORIZON_URL"`
	NetworkPassphrase string `envconfig:"NETWORK_PASSPHRASE"`

	AccessHost   string `envconfig:"MGI_ACCESS_HOST" default:"extmgxanchor.moneygram.com"`
	UseSDFAnchor bool   `envconfig:"MONEYGRAM_USE_SDF_ANCHOR" default:"false"`
	AssetCode    string `envconfig:"ASSET_CODE" default:"USDC"`
	USDCIssuer   string `envconfig:"USDC_ISSUER"`

	AuthSecret        string `envconfig:"MONEYGRAM_AUTH_SECRET_KEY"`
	FundsSecret       string `envconfig:"MONEYGRAM_FUNDS_SECRET_KEY"`
	FundsSealedSecret string `envconfig:"MONEYGRAM_FUNDS_SEALED_SECRET"`
	FundsPin          string `envconfig:"MONEYGRAM_FUNDS_PIN"`
	FunderSecret      string `envconfig:"STELLAR_FUNDER_SECRET_KEY"`

	Lang    string `envconfig:"ANCHOR_LANG" default:"en"`
	Country string `envconfig:"ANCHOR_COUNTRY" default:"TR"`
	State   string `envconfig:"ANCHOR_STATE" default:"IST"`

	PollInterval    time.Duration `envconfig:"POLL_INTERVAL" default:"2s"`
	MaxPollAttempts int           `envconfig:"MAX_POLL_ATTEMPTS" default:"150"`
	PaymentBaseFee  int64         `envconfig:"PAYMENT_BASE_FEE" default:"100"`
	PaymentTimeout  time.Duration `envconfig:"PAYMENT_TIMEOUT" default:"180s"`

	Port            string `envconfig:"PORT" default:"8080"`
	RedisURL        string `envconfig:"REDIS_URL"`
	EventsTopic     string `envconfig:"EVENTS_TOPIC" default:"offramp.withdrawals"`
	ObservePayments bool   `envconfig:"OBSERVE_PAYMENTS" default:"true"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`
}

// Load reads .env files (missing files are ignored; the environment wins) and then the
// environment, and fills derived defaults.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, errors.NewCoreError(errors.CONFIG_INVALID, fmt.Sprintf("failed to load %s", f), err)
		}
	}

	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, errors.NewCoreError(errors.CONFIG_INVALID, "failed to process config", err)
	}
	if err := cfg.fill(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) fill() error {
	c.Network = strings.ToLower(strings.TrimSpace(c.Network))
	switch c.Network {
	case networkTestnet:
		c.setDefaults(network.TestNetworkPassphrase, testnetHorizon, testnetUSDCIssuer)
	case networkPublic, "mainnet":
		c.Network = networkPublic
		c.setDefaults(network.PublicNetworkPassphrase, publicHorizon, publicUSDCIssuer)
	default:
		return errors.NewCoreError(errors.CONFIG_INVALID, fmt.Sprintf("unknown STELLAR_NETWORK %q", c.Network), nil)
	}
	if c.MaxPollAttempts <= 0 {
		return errors.NewCoreError(errors.CONFIG_INVALID, "MAX_POLL_ATTEMPTS must be positive", nil)
	}
	if c.PollInterval <= 0 {
		return errors.NewCoreError(errors.CONFIG_INVALID, "POLL_INTERVAL must be positive", nil)
	}
	return nil
}

func (c *Config) setDefaults(passphrase, horizon, issuer string) {
	if c.NetworkPassphrase == "" {
		c.NetworkPassphrase = passphrase
	}
	if c.HorizonURL == "" {
		c.HorizonURL = horizon
	}
	if c.USDCIssuer == "" {
		c.USDCIssuer = issuer
	}
}

// AnchorDomain is the anchor home domain: the SDF test anchor when enabled, otherwise
// the MoneyGram Access host.
func (c *Config) AnchorDomain() string {
	if c.UseSDFAnchor {
		return sdfTestAnchor
	}
	return c.AccessHost
}

// Asset is the withdrawal asset as held by custodial accounts.
func (c *Config) Asset() offramp.Asset {
	return offramp.Asset{Code: c.AssetCode, Issuer: c.USDCIssuer}
}

// Withdraw returns the flow configuration.
func (c *Config) Withdraw() withdraw.Config {
	return withdraw.Config{
		AnchorDomain:    c.AnchorDomain(),
		AssetCode:       c.AssetCode,
		Lang:            c.Lang,
		Country:         c.Country,
		State:           c.State,
		PollInterval:    c.PollInterval,
		MaxPollAttempts: c.MaxPollAttempts,
		BaseFee:         c.PaymentBaseFee,
		PaymentTimeout:  c.PaymentTimeout,
	}
}

// AuthSigner is the SEP-10 identity.
func (c *Config) AuthSigner() (offramp.Signer, error) {
	return signers.FromSecret(c.AuthSecret)
}

// FundsSigner is the identity that pays the anchor. A plain secret wins over a sealed one.
func (c *Config) FundsSigner() (offramp.Signer, error) {
	if c.FundsSecret == "" && c.FundsSealedSecret != "" {
		return signers.FromSealedSecret(c.FundsSealedSecret, c.FundsPin)
	}
	return signers.FromSecret(c.FundsSecret)
}

// FunderSigner is the operator account that funds new custodial accounts.
func (c *Config) FunderSigner() (offramp.Signer, error) {
	return signers.FromSecret(c.FunderSecret)
}
