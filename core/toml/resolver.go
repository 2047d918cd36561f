package toml

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	gotoml "github.com/pelletier/go-toml/v2"

	"github.com/marwen-abid/offramp-go/core/crypto"
	"github.com/marwen-abid/offramp-go/core/net"
	"github.com/marwen-abid/offramp-go/errors"
)

const (
	defaultCacheTTL = 5 * time.Minute
	wellKnownPath   = "/.well-known/stellar.toml"
	maxCurrencies   = 100
	maxTomlSize     = 1024 * 1024
)

type cacheEntry struct {
	info      *AnchorInfo
	fetchedAt time.Time
}

// Resolver fetches stellar.toml files and caches them per domain.
type Resolver struct {
	client   *net.Client
	cache    map[string]*cacheEntry
	cacheTTL time.Duration
	mu       sync.RWMutex
}

type ResolverOption func(*Resolver)

// WithCacheTTL sets how long a fetched stellar.toml is reused (default 5m). Zero
// fetches on every call.
func WithCacheTTL(d time.Duration) ResolverOption {
	return func(r *Resolver) { r.cacheTTL = d }
}

// NewResolver creates a Resolver that fetches through client.
func NewResolver(client *net.Client, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		client:   client,
		cache:    make(map[string]*cacheEntry),
		cacheTTL: defaultCacheTTL,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// BaseURL returns the origin for domain. A bare host gets https://; an explicit
// scheme is kept.
func BaseURL(domain string) string {
	base := domain
	if !strings.HasPrefix(base, "https://") && !strings.HasPrefix(base, "http://") {
		base = "https://" + base
	}
	return strings.TrimSuffix(base, "/")
}

// Resolve returns the anchor info published by domain.
func (r *Resolver) Resolve(ctx context.Context, domain string) (*AnchorInfo, error) {
	r.mu.RLock()
	entry, exists := r.cache[domain]
	r.mu.RUnlock()

	if exists && time.Since(entry.fetchedAt) < r.cacheTTL {
		return entry.info, nil
	}

	resp, err := r.client.Get(ctx, BaseURL(domain)+wellKnownPath)
	if err != nil {
		return nil, errors.NewCoreError(errors.TOML_FETCH_FAILED, fmt.Sprintf("failed to fetch stellar.toml from %s", domain), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.NewCoreError(errors.TOML_FETCH_FAILED, fmt.Sprintf("stellar.toml fetch returned status %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTomlSize))
	if err != nil {
		return nil, errors.NewCoreError(errors.TOML_FETCH_FAILED, "failed to read stellar.toml response", err)
	}

	info, err := Parse(body)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[domain] = &cacheEntry{
		info:      info,
		fetchedAt: time.Now(),
	}
	r.mu.Unlock()

	return info, nil
}

// Invalidate drops the cached entry for domain.
func (r *Resolver) Invalidate(domain string) {
	r.mu.Lock()
	delete(r.cache, domain)
	r.mu.Unlock()
}

// Parse decodes stellar.toml content and checks the fields this module relies on.
func Parse(content []byte) (*AnchorInfo, error) {
	info := &AnchorInfo{}
	if err := gotoml.Unmarshal(content, info); err != nil {
		return nil, errors.NewCoreError(errors.TOML_INVALID, "failed to parse stellar.toml", err)
	}

	if len(info.Currencies) > maxCurrencies {
		info.Currencies = info.Currencies[:maxCurrencies]
	}

	if info.SigningKey != "" && !crypto.IsPublicKey(info.SigningKey) {
		return nil, errors.NewCoreError(errors.TOML_INVALID, fmt.Sprintf("invalid SIGNING_KEY format: %s", info.SigningKey), nil)
	}

	return info, nil
}
