package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hivematrix/helm/pkg/types"
)

const sessionCheckTimeout = 5 * time.Second

// SessionClient validates user sessions against the identity service,
// so a logged-out token dies before its exp.
type SessionClient struct {
	url        string
	httpClient *http.Client
}

// NewSessionClient points at the identity service's session-validation
// endpoint.
func NewSessionClient(validateURL string) *SessionClient {
	return &SessionClient{
		url:        validateURL,
		httpClient: &http.Client{Timeout: sessionCheckTimeout},
	}
}

// ValidateSession implements SessionChecker.
func (s *SessionClient) ValidateSession(ctx context.Context, rawToken string) error {
	payload, err := json.Marshal(map[string]string{"token": rawToken})
	if err != nil {
		return fmt.Errorf("auth: encode session check: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("auth: build session check: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("session check: %w: %w", types.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	switch resp.StatusCode {
	case http.StatusOK:
		var result struct {
			Valid bool `json:"valid"`
		}
		if err := json.Unmarshal(body, &result); err != nil {
			return fmt.Errorf("session check: parse response: %w", err)
		}
		if !result.Valid {
			return fmt.Errorf("session revoked: %w", types.ErrUnauthorized)
		}
		return nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("session rejected: %w", types.ErrUnauthorized)
	default:
		return fmt.Errorf("session check: %w: status %d", types.ErrUpstreamUnavailable, resp.StatusCode)
	}
}
