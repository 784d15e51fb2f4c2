package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/hivematrix/helm/pkg/types"
)

// MaxServiceTokenLifetime bounds service-to-service tokens. Anything
// minted with a longer window is rejected outright.
const MaxServiceTokenLifetime = 5 * time.Minute

// Identity is the authenticated caller derived from a bearer token.
type Identity struct {
	Subject         string
	Username        string
	Email           string
	PermissionLevel string
	Groups          []string
	TokenID         string

	// Service marks a service-to-service call. CallingService names the
	// originator when set.
	Service        bool
	CallingService string
}

// IsAdmin reports whether the identity may hit mutating endpoints.
// Service tokens bypass the permission-level gate.
func (id *Identity) IsAdmin() bool {
	return id.Service || id.PermissionLevel == "admin"
}

// RequireAdmin returns forbidden for authenticated callers without
// administrative rights.
func RequireAdmin(id *Identity) error {
	if id == nil {
		return fmt.Errorf("no identity: %w", types.ErrUnauthorized)
	}
	if !id.IsAdmin() {
		return fmt.Errorf("administrator permission required: %w", types.ErrForbidden)
	}
	return nil
}

// SessionChecker asks the identity service whether a user token's
// session is still live. Revoked sessions must be rejected before exp.
type SessionChecker interface {
	ValidateSession(ctx context.Context, rawToken string) error
}

// claims covers both token kinds; Type discriminates.
type claims struct {
	Username          string   `json:"username"`
	PreferredUsername string   `json:"preferred_username"`
	Email             string   `json:"email"`
	PermissionLevel   string   `json:"permission_level"`
	Groups            []string `json:"groups"`
	Type              string   `json:"type"`
	CallingService    string   `json:"calling_service"`
	TargetService     string   `json:"target_service"`
	jwt.RegisteredClaims
}

// Verifier validates bearer tokens issued by the identity service.
type Verifier struct {
	keys     *KeySet
	sessions SessionChecker
	logger   zerolog.Logger
}

// NewVerifier wires a Verifier. A nil sessions checker disables the
// revocation lookup; user tokens then pass on signature and exp alone,
// which is only acceptable for local tooling.
func NewVerifier(keys *KeySet, sessions SessionChecker, logger zerolog.Logger) *Verifier {
	v := &Verifier{
		keys:     keys,
		sessions: sessions,
		logger:   logger.With().Str("component", "auth").Logger(),
	}
	if sessions == nil {
		v.logger.Warn().Msg("Session validation disabled; revoked user sessions will be accepted until expiry")
	}
	return v
}

// Verify checks the token signature against the JWKS, enforces the
// per-kind claim rules and returns the caller identity.
func (v *Verifier) Verify(ctx context.Context, rawToken string) (*Identity, error) {
	if rawToken == "" {
		return nil, fmt.Errorf("missing bearer token: %w", types.ErrUnauthorized)
	}

	parsed, err := jwt.ParseWithClaims(rawToken, &claims{}, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("token has no kid header")
		}
		return v.keys.Key(ctx, kid)
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, types.ErrUpstreamUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("token rejected: %w: %w", types.ErrUnauthorized, err)
	}

	tokenClaims, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("token rejected: %w", types.ErrUnauthorized)
	}

	if tokenClaims.Type == "service" {
		return v.serviceIdentity(tokenClaims)
	}
	return v.userIdentity(ctx, rawToken, tokenClaims)
}

func (v *Verifier) serviceIdentity(c *claims) (*Identity, error) {
	if err := checkServiceLifetime(c, time.Now()); err != nil {
		return nil, err
	}
	return &Identity{
		Subject:        c.Subject,
		Service:        true,
		CallingService: c.CallingService,
	}, nil
}

// checkServiceLifetime enforces the short-lived contract. Tokens
// without iat are judged by how far exp lies in the future.
func checkServiceLifetime(c *claims, now time.Time) error {
	if c.ExpiresAt == nil {
		return fmt.Errorf("service token has no exp: %w", types.ErrUnauthorized)
	}
	issued := now
	if c.IssuedAt != nil {
		issued = c.IssuedAt.Time
	}
	if c.ExpiresAt.Sub(issued) > MaxServiceTokenLifetime+time.Minute {
		return fmt.Errorf("service token lifetime exceeds %s: %w", MaxServiceTokenLifetime, types.ErrUnauthorized)
	}
	return nil
}

func (v *Verifier) userIdentity(ctx context.Context, rawToken string, c *claims) (*Identity, error) {
	if v.sessions != nil {
		if err := v.sessions.ValidateSession(ctx, rawToken); err != nil {
			return nil, err
		}
	}

	username := c.PreferredUsername
	if username == "" {
		username = c.Username
	}
	return &Identity{
		Subject:         c.Subject,
		Username:        username,
		Email:           c.Email,
		PermissionLevel: c.PermissionLevel,
		Groups:          append([]string(nil), c.Groups...),
		TokenID:         c.ID,
	}, nil
}
