package config

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/hivematrix/helm/pkg/log"
	"github.com/hivematrix/helm/pkg/paths"
	"github.com/hivematrix/helm/pkg/types"
)

// Store owns the master configuration document. All mutations go
// through it; readers receive deep-copied snapshots. The on-disk file
// is replaced atomically on every save.
type Store struct {
	mu     sync.RWMutex
	path   string
	config *types.MasterConfig
	logger zerolog.Logger
}

// NewStore creates a store bound to the given file path.
func NewStore(path string) *Store {
	return &Store{
		path:   path,
		logger: log.WithComponent("config"),
	}
}

// DefaultConfig builds the configuration used on a fresh install. The
// secret key is generated per installation.
func DefaultConfig() *types.MasterConfig {
	return &types.MasterConfig{
		System: types.SystemConfig{
			Hostname:    "localhost",
			Environment: "development",
			SecretKey:   generateSecretKey(),
			LogLevel:    "INFO",
		},
		IdentityProvider: types.IdentityProviderConfig{
			URL:           "http://localhost:8080",
			Realm:         "hivematrix",
			ClientID:      "core-client",
			AdminUsername: "admin",
			AdminPassword: "admin",
		},
		Databases: types.DatabasesConfig{
			Relational: types.RelationalDBConfig{
				Host:      "localhost",
				Port:      5432,
				AdminUser: "postgres",
			},
			Graph: &types.GraphDBConfig{
				URI:      "bolt://localhost:7687",
				User:     "neo4j",
				Password: "password",
			},
		},
		Apps: map[string]types.AppConfig{},
	}
}

// Load reads the document from disk, creating it with defaults when
// absent. A malformed file is a fatal error; we never overwrite or
// silently repair operator data.
func (s *Store) Load() (*types.MasterConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := s.persistLocked(cfg); err != nil {
			return nil, err
		}
		s.logger.Info().Str("path", s.path).Msg("created default master config")
		return cfg.Clone(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading master config: %w", err)
	}

	cfg, err := decodeConfig(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", s.path, err)
	}
	s.config = cfg
	return cfg.Clone(), nil
}

// decodeConfig parses raw JSON into a typed config. Legacy section
// names are migrated first, then unknown fields are rejected so typos
// in operator edits surface immediately. Fields absent from the file
// keep their install defaults.
func decodeConfig(data []byte) (*types.MasterConfig, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	raw = migrateLegacy(raw)

	migrated, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	dec := json.NewDecoder(bytes.NewReader(migrated))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Current returns a snapshot of the loaded configuration, or nil when
// Load has not run yet.
func (s *Store) Current() *types.MasterConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config.Clone()
}

// Save atomically replaces the document on disk and the in-memory
// copy.
func (s *Store) Save(cfg *types.MasterConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked(cfg.Clone())
}

func (s *Store) persistLocked(cfg *types.MasterConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding master config: %w", err)
	}
	data = append(data, '\n')
	if err := paths.WriteFileAtomic(s.path, data, 0o600); err != nil {
		return fmt.Errorf("writing master config: %w", err)
	}
	s.config = cfg
	return nil
}

// Update deep-merges a JSON patch into the current document. Deleting
// or replacing the system and identity_provider sections with
// non-objects is refused.
func (s *Store) Update(patch map[string]any) (*types.MasterConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config == nil {
		return nil, fmt.Errorf("master config not loaded")
	}
	for _, protected := range []string{"system", "identity_provider"} {
		value, present := patch[protected]
		if !present {
			continue
		}
		if _, ok := value.(map[string]any); !ok {
			return nil, fmt.Errorf("%w: section %q must be an object", types.ErrInvalidInput, protected)
		}
	}

	currentJSON, err := json.Marshal(s.config)
	if err != nil {
		return nil, fmt.Errorf("encoding current config: %w", err)
	}
	var current map[string]any
	if err := json.Unmarshal(currentJSON, &current); err != nil {
		return nil, fmt.Errorf("decoding current config: %w", err)
	}

	merged := deepMerge(current, patch)
	mergedJSON, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encoding merged config: %w", err)
	}

	cfg, err := decodeConfig(mergedJSON)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidInput, err)
	}
	if err := s.persistLocked(cfg); err != nil {
		return nil, err
	}
	return cfg.Clone(), nil
}

// ClearClientSecret removes the identity provider client secret,
// forcing a full re-bootstrap on the next reconcile.
func (s *Store) ClearClientSecret() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.config == nil {
		return fmt.Errorf("master config not loaded")
	}
	cfg := s.config.Clone()
	cfg.IdentityProvider.ClientSecret = ""
	return s.persistLocked(cfg)
}

// SetClientSecret persists the secret fetched during IDP bootstrap.
func (s *Store) SetClientSecret(secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.config == nil {
		return fmt.Errorf("master config not loaded")
	}
	cfg := s.config.Clone()
	cfg.IdentityProvider.ClientSecret = secret
	return s.persistLocked(cfg)
}

// SetHostname records a newly detected host identity.
func (s *Store) SetHostname(hostname string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.config == nil {
		return fmt.Errorf("master config not loaded")
	}
	cfg := s.config.Clone()
	cfg.System.Hostname = hostname
	return s.persistLocked(cfg)
}

// UpdateApp replaces one app's configuration block. Used by database
// provisioning to persist generated credentials.
func (s *Store) UpdateApp(name string, app types.AppConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.config == nil {
		return fmt.Errorf("master config not loaded")
	}
	cfg := s.config.Clone()
	if cfg.Apps == nil {
		cfg.Apps = map[string]types.AppConfig{}
	}
	cfg.Apps[name] = app
	return s.persistLocked(cfg)
}

// generateSecretKey returns a fresh 24-byte hex key for a new install.
func generateSecretKey() string {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the platform is unusable anyway.
		panic(fmt.Sprintf("reading random bytes: %v", err))
	}
	return hex.EncodeToString(buf)
}
