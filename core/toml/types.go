// Package toml resolves and publishes SEP-1 stellar.toml files. The Resolver finds an
// anchor's auth and SEP-24 endpoints and the assets it lists; the Publisher renders
// the file the test anchor serves.
package toml

// AnchorInfo holds the stellar.toml fields a SEP-24 wallet needs.
type AnchorInfo struct {
	NetworkPassphrase   string         `toml:"NETWORK_PASSPHRASE,omitempty"`
	SigningKey          string         `toml:"SIGNING_KEY,omitempty"`
	WebAuthEndpoint     string         `toml:"WEB_AUTH_ENDPOINT,omitempty"`
	TransferServerSep24 string         `toml:"TRANSFER_SERVER_SEP0024,omitempty"`
	Currencies          []CurrencyInfo `toml:"CURRENCIES,omitempty"`
}

// CurrencyInfo is one [[CURRENCIES]] entry.
type CurrencyInfo struct {
	Code            string `toml:"code"`
	Issuer          string `toml:"issuer,omitempty"`
	Status          string `toml:"status,omitempty"` // live, dead, test or private
	DisplayDecimals int    `toml:"display_decimals,omitempty"`
	AnchorAssetType string `toml:"anchor_asset_type,omitempty"`
	IsAssetAnchored bool   `toml:"is_asset_anchored,omitempty"`
	Description     string `toml:"desc,omitempty"`
}

// FindCurrency returns the entry for code, or nil.
func (a *AnchorInfo) FindCurrency(code string) *CurrencyInfo {
	for i := range a.Currencies {
		if a.Currencies[i].Code == code {
			return &a.Currencies[i]
		}
	}
	return nil
}
