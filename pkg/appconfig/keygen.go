package appconfig

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hivematrix/helm/pkg/paths"
)

// EnsureJWTKeypair generates the RS256 signing keypair under
// <serviceDir>/keys if it does not already exist. Existing keys are
// never rotated; deleting both files forces regeneration.
func EnsureJWTKeypair(serviceDir string) error {
	keysDir := filepath.Join(serviceDir, "keys")
	privPath := filepath.Join(keysDir, "jwt_private.pem")
	pubPath := filepath.Join(keysDir, "jwt_public.pem")

	if fileExists(privPath) && fileExists(pubPath) {
		return nil
	}

	if err := os.MkdirAll(keysDir, 0o700); err != nil {
		return fmt.Errorf("creating keys dir: %w", err)
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return fmt.Errorf("generating RSA key: %w", err)
	}

	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return fmt.Errorf("encoding public key: %w", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: pubDER,
	})

	if err := paths.WriteFileAtomic(privPath, privPEM, 0o600); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}
	if err := paths.WriteFileAtomic(pubPath, pubPEM, 0o644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
