package framework

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const signingKid = "platform-signing-key"

// The signing key is shared across stubs; 2048-bit keygen per test run
// adds seconds for no coverage.
var (
	signingKey     *rsa.PrivateKey
	signingKeyErr  error
	signingKeyOnce sync.Once
)

func sharedSigningKey() (*rsa.PrivateKey, error) {
	signingKeyOnce.Do(func() {
		signingKey, signingKeyErr = rsa.GenerateKey(rand.Reader, 2048)
	})
	return signingKey, signingKeyErr
}

// IdentityStub impersonates the slice of the identity service the
// orchestrator consults for authorization: the JWKS document and the
// session validation endpoint. Tokens minted here verify against it.
type IdentityStub struct {
	srv *httptest.Server
	key *rsa.PrivateKey

	mu      sync.Mutex
	revoked bool
}

// NewIdentityStub starts the stub on a loopback listener.
func NewIdentityStub() (*IdentityStub, error) {
	key, err := sharedSigningKey()
	if err != nil {
		return nil, fmt.Errorf("generating signing key: %w", err)
	}

	s := &IdentityStub{key: key}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/jwks.json", s.handleJWKS)
	mux.HandleFunc("/api/auth/validate-session", s.handleValidateSession)
	s.srv = httptest.NewServer(mux)
	return s, nil
}

// URL is the stub's base URL, suitable for the runtime's
// core_service_url.
func (s *IdentityStub) URL() string { return s.srv.URL }

func (s *IdentityStub) Close() { s.srv.Close() }

// RevokeSessions flips whether session validation succeeds, as if the
// user logged out everywhere. Already-cached validations stay good
// until their TTL expires.
func (s *IdentityStub) RevokeSessions(revoked bool) {
	s.mu.Lock()
	s.revoked = revoked
	s.mu.Unlock()
}

func (s *IdentityStub) handleJWKS(w http.ResponseWriter, r *http.Request) {
	doc := map[string]any{
		"keys": []map[string]string{
			{
				"kty": "RSA",
				"kid": signingKid,
				"use": "sig",
				"alg": "RS256",
				"n":   base64.RawURLEncoding.EncodeToString(s.key.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(s.key.E)).Bytes()),
			},
		},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(doc)
}

func (s *IdentityStub) handleValidateSession(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	valid := !s.revoked
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]bool{"valid": valid})
}

// MintUserToken signs a token for a user at the given permission
// level, valid for an hour.
func (s *IdentityStub) MintUserToken(username, level string) (string, error) {
	now := time.Now()
	return s.sign(jwt.MapClaims{
		"sub":                username,
		"preferred_username": username,
		"email":              username + "@example.com",
		"permission_level":   level,
		"groups":             []string{level + "s"},
		"jti":                "session-" + username,
		"iat":                now.Unix(),
		"exp":                now.Add(time.Hour).Unix(),
	})
}

// MintAdminToken is MintUserToken at the admin level.
func (s *IdentityStub) MintAdminToken(username string) (string, error) {
	return s.MintUserToken(username, "admin")
}

// MintServiceToken signs a short-lived service-to-service token from
// the named caller.
func (s *IdentityStub) MintServiceToken(calling string) (string, error) {
	now := time.Now()
	return s.sign(jwt.MapClaims{
		"sub":             calling,
		"type":            "service",
		"calling_service": calling,
		"target_service":  "helm",
		"iat":             now.Unix(),
		"exp":             now.Add(2 * time.Minute).Unix(),
	})
}

func (s *IdentityStub) sign(claims jwt.MapClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = signingKid
	return token.SignedString(s.key)
}
