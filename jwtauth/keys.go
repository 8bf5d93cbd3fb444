package jwtauth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultKeyCacheTTL is how long discovery and JWKS documents stay fresh
	DefaultKeyCacheTTL = 300 * time.Second

	// staleRetention keeps documents around past their TTL so a failed
	// refresh can fall back to the last good copy.
	staleRetention = time.Hour

	// forcedRefreshInterval bounds how often an unknown kid may bypass the
	// cache for one URL.
	forcedRefreshInterval = time.Minute

	maxDocumentBytes = 1 << 20
)

// JWKS represents the JSON Web Key Set
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWK represents a JSON Web Key
type JWK struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// KeySource yields RSA verification keys by key id
type KeySource interface {
	Key(ctx context.Context, kid string) (*rsa.PublicKey, error)
}

// KeyResolverConfig holds configuration for a KeyResolver
type KeyResolverConfig struct {
	Issuer      string
	JWKSURL     string // skips discovery when set
	CacheTTL    time.Duration
	HTTPTimeout time.Duration
}

// KeyResolver finds RSA keys through OIDC discovery and the issuer's JWKS
type KeyResolver struct {
	issuer     string
	jwksURL    string
	ttl        time.Duration
	httpClient *http.Client
	cache      DocumentCache
	logger     *zap.Logger
	now        func() time.Time
}

// NewKeyResolver creates a resolver. A nil client gets a plain client bounded
// by HTTPTimeout; a nil cache gets a process-local one.
func NewKeyResolver(cfg KeyResolverConfig, cache DocumentCache, client *http.Client, logger *zap.Logger) *KeyResolver {
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = DefaultKeyCacheTTL
	}
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &KeyResolver{
		issuer:     strings.TrimRight(cfg.Issuer, "/"),
		jwksURL:    cfg.JWKSURL,
		ttl:        cfg.CacheTTL,
		httpClient: client,
		cache:      cache,
		logger:     logger,
		now:        time.Now,
	}
}

type cachedDocument struct {
	FetchedAt   time.Time       `json:"fetched_at"`
	RefreshedAt time.Time       `json:"refreshed_at,omitempty"`
	Body        json.RawMessage `json:"body"`
}

// JWKSURL returns the configured JWKS URL or the one advertised by discovery
func (r *KeyResolver) JWKSURL(ctx context.Context) (string, error) {
	if r.jwksURL != "" {
		return r.jwksURL, nil
	}
	if r.issuer == "" {
		return "", fmt.Errorf("%w: AUTH_ISSUER or AUTH_JWKS_URL must be configured", ErrNotConfigured)
	}

	discoveryURL := r.issuer + "/.well-known/openid-configuration"
	body, err := r.document(ctx, "jwtauth:oidc:"+r.issuer, discoveryURL, false)
	if err != nil {
		return "", fmt.Errorf("OIDC discovery failed: %w", err)
	}

	var discovery struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := json.Unmarshal(body, &discovery); err != nil {
		return "", fmt.Errorf("%w: OIDC discovery invalid JSON: %v", ErrKeyUnavailable, err)
	}
	if discovery.JWKSURI == "" {
		return "", fmt.Errorf("%w: OIDC discovery missing jwks_uri", ErrKeyUnavailable)
	}
	return discovery.JWKSURI, nil
}

// Key returns the RSA key for kid. With an empty kid the sole key of a
// single-key set is used. An unknown kid triggers one refresh of the set,
// at most once per forcedRefreshInterval; otherwise it fails from cache.
func (r *KeyResolver) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	url, err := r.JWKSURL(ctx)
	if err != nil {
		return nil, err
	}

	jwk, err := r.findKey(ctx, url, kid, false)
	if errors.Is(err, errKidNotFound) {
		jwk, err = r.findKey(ctx, url, kid, true)
	}
	if err != nil {
		return nil, err
	}
	return jwkToRSAPublicKey(jwk)
}

var errKidNotFound = errors.New("key id not found")

func (r *KeyResolver) findKey(ctx context.Context, url, kid string, refresh bool) (*JWK, error) {
	body, err := r.document(ctx, "jwtauth:jwks:"+url, url, refresh)
	if err != nil {
		return nil, fmt.Errorf("JWKS fetch failed: %w", err)
	}

	var jwks JWKS
	if err := json.Unmarshal(body, &jwks); err != nil {
		return nil, fmt.Errorf("%w: JWKS invalid JSON: %v", ErrKeyUnavailable, err)
	}

	keys := make([]JWK, 0, len(jwks.Keys))
	for _, k := range jwks.Keys {
		if k.Kty == "" || k.Kty == "RSA" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: JWKS is empty", ErrKeyUnavailable)
	}

	if kid != "" {
		for i := range keys {
			if keys[i].Kid == kid {
				return &keys[i], nil
			}
		}
		if refresh {
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, errKidNotFound)
		}
		return nil, errKidNotFound
	}

	if len(keys) == 1 {
		return &keys[0], nil
	}
	return nil, fmt.Errorf("%w: missing kid", ErrInvalidToken)
}

// document returns a fresh cached copy of url or fetches it. When the fetch
// fails a stale copy is served if one is still retained. A forced refresh
// inside forcedRefreshInterval of the previous one serves the cached copy.
func (r *KeyResolver) document(ctx context.Context, cacheKey, url string, refresh bool) ([]byte, error) {
	now := r.now()
	var stale *cachedDocument
	if raw, err := r.cache.Get(ctx, cacheKey); err == nil {
		var doc cachedDocument
		if json.Unmarshal([]byte(raw), &doc) == nil {
			fresh := now.Before(doc.FetchedAt.Add(r.ttl))
			if fresh && (!refresh || now.Before(doc.RefreshedAt.Add(forcedRefreshInterval))) {
				return doc.Body, nil
			}
			stale = &doc
		}
	} else if !errors.Is(err, ErrCacheMiss) {
		r.logger.Warn("key cache read failed", zap.String("key", cacheKey), zap.Error(err))
	}

	next := cachedDocument{FetchedAt: now}
	if refresh {
		next.RefreshedAt = now
	}

	body, err := r.fetch(ctx, url)
	if err != nil {
		if stale == nil {
			return nil, err
		}
		r.logger.Warn("serving stale key document after fetch failure",
			zap.String("url", url),
			zap.Time("fetched_at", stale.FetchedAt),
			zap.Error(err))
		if refresh {
			stale.RefreshedAt = now
			r.store(ctx, cacheKey, stale)
		}
		return stale.Body, nil
	}

	next.Body = body
	r.store(ctx, cacheKey, &next)
	return body, nil
}

func (r *KeyResolver) store(ctx context.Context, cacheKey string, doc *cachedDocument) {
	encoded, err := json.Marshal(doc)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, cacheKey, string(encoded), r.ttl+staleRetention); err != nil {
		r.logger.Warn("key cache write failed", zap.String("key", cacheKey), zap.Error(err))
	}
}

func (r *KeyResolver) fetch(ctx context.Context, url string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %v", ErrKeyUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status code %d from %s", ErrKeyUnavailable, resp.StatusCode, url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read body: %v", ErrKeyUnavailable, err)
	}

	var object map[string]interface{}
	if err := json.Unmarshal(body, &object); err != nil {
		return nil, fmt.Errorf("%w: document from %s is not a JSON object", ErrKeyUnavailable, url)
	}
	return body, nil
}

// jwkToRSAPublicKey converts a JWK to an RSA public key
func jwkToRSAPublicKey(jwk *JWK) (*rsa.PublicKey, error) {
	if jwk.N == "" || jwk.E == "" {
		return nil, fmt.Errorf("%w: jwk missing n/e", ErrInvalidToken)
	}

	nBytes, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(jwk.N, "="))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode modulus: %v", ErrInvalidToken, err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(jwk.E, "="))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode exponent: %v", ErrInvalidToken, err)
	}

	var e int
	for _, b := range eBytes {
		e = e*256 + int(b)
	}
	if e == 0 {
		return nil, fmt.Errorf("%w: invalid exponent", ErrInvalidToken)
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: e,
	}, nil
}
