package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hivematrix/helm/pkg/types"
)

const (
	jwksFetchTimeout = 5 * time.Second
	jwksMaxBytes     = 1 << 20

	// A kid miss forces a refetch, but not more often than this, so a
	// flood of garbage tokens cannot hammer the identity service.
	defaultMinRefresh = 30 * time.Second
)

// KeySet caches the identity service's JWKS and resolves signing keys
// by kid. Unknown kids trigger one rate-limited refetch before failing,
// which covers key rotation without a restart.
type KeySet struct {
	url        string
	httpClient *http.Client
	minRefresh time.Duration
	logger     zerolog.Logger

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

// NewKeySet builds a KeySet for the given JWKS URL.
func NewKeySet(url string, logger zerolog.Logger) *KeySet {
	return &KeySet{
		url:        url,
		httpClient: &http.Client{Timeout: jwksFetchTimeout},
		minRefresh: defaultMinRefresh,
		logger:     logger.With().Str("component", "auth").Logger(),
		keys:       make(map[string]*rsa.PublicKey),
	}
}

// Key returns the RSA public key for kid, refetching the JWKS once when
// the kid is unknown.
func (ks *KeySet) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	ks.mu.RLock()
	key, ok := ks.keys[kid]
	ks.mu.RUnlock()
	if ok {
		return key, nil
	}

	if err := ks.refresh(ctx); err != nil {
		return nil, err
	}

	ks.mu.RLock()
	key, ok = ks.keys[kid]
	ks.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("signing key %q not in JWKS: %w", kid, types.ErrUnauthorized)
	}
	return key, nil
}

func (ks *KeySet) refresh(ctx context.Context) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if time.Since(ks.fetchedAt) < ks.minRefresh && len(ks.keys) > 0 {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ks.url, nil)
	if err != nil {
		return fmt.Errorf("auth: build JWKS request: %w", err)
	}
	resp, err := ks.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch JWKS: %w: %w", types.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch JWKS: %w: status %d", types.ErrUpstreamUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, jwksMaxBytes))
	if err != nil {
		return fmt.Errorf("fetch JWKS: read body: %w", err)
	}

	var doc struct {
		Keys []jwksKey `json:"keys"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("fetch JWKS: parse document: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		pub, err := k.publicKey()
		if err != nil {
			ks.logger.Warn().Err(err).Str("kid", k.Kid).Msg("Skipping unparseable JWKS key")
			continue
		}
		keys[k.Kid] = pub
	}
	if len(keys) == 0 {
		return fmt.Errorf("fetch JWKS: document carried no usable RSA keys")
	}

	ks.keys = keys
	ks.fetchedAt = time.Now()
	ks.logger.Debug().Int("keys", len(keys)).Msg("Refreshed JWKS")
	return nil
}

type jwksKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (k jwksKey) publicKey() (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("modulus: %w", err)
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("exponent: %w", err)
	}
	if len(n) == 0 || len(e) == 0 {
		return nil, fmt.Errorf("empty modulus or exponent")
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(n),
		E: int(new(big.Int).SetBytes(e).Int64()),
	}, nil
}
