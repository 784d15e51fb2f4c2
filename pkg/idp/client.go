package idp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hivematrix/helm/pkg/types"
)

const (
	defaultRequestTimeout = 15 * time.Second
	defaultRetries        = 3
	defaultRetryDelay     = time.Second

	// Refresh the cached admin token this long before it expires.
	tokenExpirySkew = 10 * time.Second

	maxResponseBytes = 4 << 20
)

// Config describes how to reach the identity provider's admin API.
type Config struct {
	// BaseURL is the direct backend address, e.g. http://localhost:8080.
	BaseURL string
	// Realm is the platform realm reconciled by Bootstrap. Admin tokens
	// are always obtained against the built-in master realm.
	Realm string
	// AdminUsername and AdminPassword are the IDP's own administrator
	// credentials used for the password grant.
	AdminUsername string
	AdminPassword string
	// ProtectedUsername is the platform account DeleteUser refuses to
	// remove. Defaults to "admin".
	ProtectedUsername string

	HTTPClient *http.Client
	Logger     zerolog.Logger

	// Retries is the total number of attempts for a single admin call
	// when the transport fails or the IDP answers 502/503/504. Backoff
	// between attempts grows linearly by RetryDelay.
	Retries    int
	RetryDelay time.Duration
}

// Client talks to the identity provider's admin REST API. It caches the
// admin token across calls and refreshes it shortly before expiry.
type Client struct {
	baseURL       string
	realm         string
	adminUser     string
	adminPass     string
	protectedUser string
	httpClient    *http.Client
	logger        zerolog.Logger
	retries       int
	retryDelay    time.Duration

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// APIError is a non-2xx answer from the admin API that is not a plain
// not-found. Status carries the upstream code for callers that forward it.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("identity provider returned %d", e.Status)
	}
	return fmt.Sprintf("identity provider returned %d: %s", e.Status, e.Body)
}

// NewClient validates cfg and builds a Client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("idp: base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("idp: invalid base URL %q: %w", cfg.BaseURL, err)
	}
	if cfg.Realm == "" {
		return nil, fmt.Errorf("idp: realm is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	retries := cfg.Retries
	if retries <= 0 {
		retries = defaultRetries
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}
	protected := cfg.ProtectedUsername
	if protected == "" {
		protected = "admin"
	}
	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		realm:         cfg.Realm,
		adminUser:     cfg.AdminUsername,
		adminPass:     cfg.AdminPassword,
		protectedUser: protected,
		httpClient:    httpClient,
		logger:        cfg.Logger.With().Str("component", "idp").Logger(),
		retries:       retries,
		retryDelay:    retryDelay,
	}, nil
}

// Realm returns the platform realm this client reconciles.
func (c *Client) Realm() string { return c.realm }

// BaseURL returns the direct backend address of the IDP.
func (c *Client) BaseURL() string { return c.baseURL }

// WaitReady polls the IDP until its public endpoint answers or ctx
// expires. Bootstrap requires a reachable admin API; the identity
// provider takes a while to come up after a cold start.
func (c *Client) WaitReady(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/realms/master", nil)
		if err != nil {
			return fmt.Errorf("idp: build readiness request: %w", err)
		}
		resp, err := c.httpClient.Do(req)
		if err == nil {
			io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("identity provider not ready: %w: %w", types.ErrUpstreamUnavailable, ctx.Err())
		case <-ticker.C:
		}
	}
}

// adminToken returns a cached admin access token, fetching a fresh one
// through the password grant when the cache is empty or near expiry.
func (c *Client) adminToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && time.Now().Add(tokenExpirySkew).Before(c.tokenExpiry) {
		return c.token, nil
	}

	form := url.Values{
		"grant_type": {"password"},
		"client_id":  {"admin-cli"},
		"username":   {c.adminUser},
		"password":   {c.adminPass},
	}
	body, _, err := c.send(ctx, http.MethodPost, c.baseURL+"/realms/master/protocol/openid-connect/token",
		"application/x-www-form-urlencoded", "", []byte(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("admin token: %w", err)
	}

	var grant struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &grant); err != nil {
		return "", fmt.Errorf("admin token: parse response: %w", err)
	}
	if grant.AccessToken == "" {
		return "", fmt.Errorf("admin token: response carried no access_token")
	}
	c.token = grant.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(grant.ExpiresIn) * time.Second)
	return c.token, nil
}

// get issues an authenticated GET under /admin/realms and decodes the
// JSON body into out.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	body, _, err := c.admin(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("idp: parse %s response: %w", path, err)
	}
	return nil
}

// post issues an authenticated POST and returns the id of the created
// resource when the IDP supplies a Location header.
func (c *Client) post(ctx context.Context, path string, payload any) (string, error) {
	_, header, err := c.adminJSON(ctx, http.MethodPost, path, payload)
	if err != nil {
		return "", err
	}
	return createdID(header), nil
}

func (c *Client) put(ctx context.Context, path string, payload any) error {
	_, _, err := c.adminJSON(ctx, http.MethodPut, path, payload)
	return err
}

func (c *Client) delete(ctx context.Context, path string) error {
	_, _, err := c.admin(ctx, http.MethodDelete, path, nil, nil)
	return err
}

func (c *Client) adminJSON(ctx context.Context, method, path string, payload any) ([]byte, http.Header, error) {
	var encoded []byte
	if payload != nil {
		var err error
		encoded, err = json.Marshal(payload)
		if err != nil {
			return nil, nil, fmt.Errorf("idp: encode %s payload: %w", path, err)
		}
	}
	return c.admin(ctx, method, path, nil, encoded)
}

// admin performs an authenticated call against the admin API.
func (c *Client) admin(ctx context.Context, method, path string, query url.Values, payload []byte) ([]byte, http.Header, error) {
	token, err := c.adminToken(ctx)
	if err != nil {
		return nil, nil, err
	}
	requestURL := c.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}
	contentType := ""
	if payload != nil {
		contentType = "application/json"
	}
	return c.send(ctx, method, requestURL, contentType, token, payload)
}

// send is the retrying transport core. Transport failures and
// 502/503/504 answers are retried with linear backoff; other statuses
// return immediately. 404 maps to the platform not-found sentinel.
func (c *Client) send(ctx context.Context, method, requestURL, contentType, token string, payload []byte) ([]byte, http.Header, error) {
	var lastErr error
	for attempt := 1; attempt <= c.retries; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			case <-time.After(time.Duration(attempt-1) * c.retryDelay):
			}
		}

		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
		if err != nil {
			return nil, nil, fmt.Errorf("idp: build request: %w", err)
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			c.logger.Warn().Err(err).Str("method", method).Str("url", requestURL).
				Int("attempt", attempt).Msg("IDP request failed")
			continue
		}
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return body, resp.Header, nil
		case resp.StatusCode == http.StatusNotFound:
			return nil, nil, fmt.Errorf("%s %s: %w", method, requestURL, types.ErrNotFound)
		case resp.StatusCode == http.StatusBadGateway,
			resp.StatusCode == http.StatusServiceUnavailable,
			resp.StatusCode == http.StatusGatewayTimeout:
			lastErr = &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
			c.logger.Warn().Int("status", resp.StatusCode).Str("method", method).
				Str("url", requestURL).Int("attempt", attempt).Msg("IDP temporarily unavailable")
		default:
			return nil, nil, &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		}
	}
	return nil, nil, fmt.Errorf("idp: %s %s gave up after %d attempts: %w: %v",
		method, requestURL, c.retries, types.ErrUpstreamUnavailable, lastErr)
}

// createdID extracts the trailing path segment of a Location header.
func createdID(header http.Header) string {
	loc := header.Get("Location")
	if loc == "" {
		return ""
	}
	if i := strings.LastIndex(loc, "/"); i >= 0 {
		return loc[i+1:]
	}
	return loc
}

func (c *Client) realmPath(suffix string) string {
	return "/admin/realms/" + c.realm + suffix
}
