package appconfig

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/hivematrix/helm/pkg/log"
	"github.com/hivematrix/helm/pkg/paths"
	"github.com/hivematrix/helm/pkg/registry"
	"github.com/hivematrix/helm/pkg/types"
)

// Synthesizer renders per-service configuration files from the master
// config and the service catalog. Generation is pure; only the Write
// methods touch disk, always inside the target service's checkout.
type Synthesizer struct {
	logger zerolog.Logger
}

// NewSynthesizer creates a synthesizer.
func NewSynthesizer() *Synthesizer {
	return &Synthesizer{logger: log.WithComponent("appconfig")}
}

// GenerateEnv renders the .env file for one service. Output is
// deterministic: same inputs, same bytes.
func (s *Synthesizer) GenerateEnv(cfg *types.MasterConfig, entry types.ServiceEntry, thin map[string]registry.ThinEntry) string {
	app := cfg.Apps[entry.Name]
	hostname := cfg.System.Hostname
	if hostname == "" {
		hostname = "localhost"
	}

	lines := []string{
		"FLASK_APP=" + entry.RunEntrypoint,
		"FLASK_ENV=" + cfg.System.Environment,
		"SECRET_KEY=" + cfg.System.SecretKey,
		"SERVICE_NAME=" + entry.Name,
		"",
		"# Keycloak Configuration",
		"KEYCLOAK_SERVER_URL=" + idpServerURL(cfg, entry.Name, hostname),
		"KEYCLOAK_BACKEND_URL=" + idpBackendURL(cfg),
		"KEYCLOAK_REALM=" + cfg.IdentityProvider.Realm,
		"KEYCLOAK_CLIENT_ID=" + cfg.IdentityProvider.ClientID,
	}
	if cfg.IdentityProvider.ClientSecret != "" {
		lines = append(lines, "KEYCLOAK_CLIENT_SECRET='"+cfg.IdentityProvider.ClientSecret+"'")
	}

	if entry.Name == types.IdentityServiceName {
		lines = append(lines,
			"",
			"# JWT Configuration",
			"JWT_PRIVATE_KEY_FILE=keys/jwt_private.pem",
			"JWT_PUBLIC_KEY_FILE=keys/jwt_public.pem",
			"JWT_ISSUER=hivematrix-core",
			"JWT_ALGORITHM=RS256",
		)
	}

	if hasRelationalDB(cfg, app) {
		lines = append(lines,
			"",
			"# Database Configuration",
			fmt.Sprintf("DB_HOST=%s", cfg.Databases.Relational.Host),
			fmt.Sprintf("DB_PORT=%d", cfg.Databases.Relational.Port),
		)
		if app.DBName != "" {
			lines = append(lines, "DB_NAME="+app.DBName)
		}
	}

	lines = append(lines, "", "# Service URLs")
	lines = append(lines, peerURLLines(thin, hostname)...)

	if graph := graphSection(app); graph != nil {
		lines = append(lines,
			"",
			"# Neo4j Configuration",
			"NEO4J_URI="+valueOr(graph, "neo4j_uri", "bolt://localhost:7687"),
			"NEO4J_USER="+valueOr(graph, "neo4j_user", "neo4j"),
			"NEO4J_PASSWORD="+valueOr(graph, "neo4j_password", ""),
		)
	}

	return strings.Join(lines, "\n") + "\n"
}

// idpServerURL applies the IDP URL rewriting rules. The identity
// service talks to the IDP directly and gets its realm endpoint;
// everyone else goes through the gateway proxy unless the install runs
// on localhost.
func idpServerURL(cfg *types.MasterConfig, service, hostname string) string {
	if service == types.IdentityServiceName {
		return fmt.Sprintf("%s/realms/%s", idpBackendURL(cfg), cfg.IdentityProvider.Realm)
	}
	if hostname == "localhost" {
		return idpBackendURL(cfg)
	}
	return fmt.Sprintf("https://%s/keycloak", hostname)
}

// idpBackendURL is the direct IDP address, preferring the explicit
// backend override.
func idpBackendURL(cfg *types.MasterConfig) string {
	if cfg.IdentityProvider.BackendURL != "" {
		return cfg.IdentityProvider.BackendURL
	}
	return cfg.IdentityProvider.URL
}

// peerURLLines renders one <NAME>_SERVICE_URL line per catalog entry,
// sorted by name. The gateway is the one exception: behind a real
// hostname its clients must use the public HTTPS address, and on
// localhost its development port.
func peerURLLines(thin map[string]registry.ThinEntry, hostname string) []string {
	names := make([]string, 0, len(thin))
	for name := range thin {
		names = append(names, name)
	}
	sort.Strings(names)

	lines := make([]string, 0, len(names))
	for _, name := range names {
		value := thin[name].URL
		if name == "nexus" {
			if hostname == "localhost" {
				value = "http://localhost:8000"
			} else {
				value = "https://" + hostname
			}
		}
		key := strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
		lines = append(lines, key+"_SERVICE_URL="+value)
	}
	return lines
}

// hasRelationalDB reports whether a service should receive relational
// connection settings.
func hasRelationalDB(cfg *types.MasterConfig, app types.AppConfig) bool {
	return app.DatabaseKind == "postgresql" && cfg.Databases.Relational.Host != ""
}

// graphSection returns the app's graph database settings when it
// carries them in its custom sections.
func graphSection(app types.AppConfig) map[string]string {
	section, ok := app.CustomSections["database"]
	if !ok {
		return nil
	}
	if _, ok := section["neo4j_uri"]; !ok {
		return nil
	}
	return section
}

func valueOr(section map[string]string, key, fallback string) string {
	if v, ok := section[key]; ok {
		return v
	}
	return fallback
}

// GenerateConf renders the instance/<name>.conf INI document. The
// [database] section carries a connection string whose password is
// URL-encoded; target parsers must treat the encoded form literally.
func (s *Synthesizer) GenerateConf(cfg *types.MasterConfig, entry types.ServiceEntry) string {
	app := cfg.Apps[entry.Name]

	var b strings.Builder
	if hasRelationalDB(cfg, app) {
		db := cfg.Databases.Relational
		dbName := app.DBName
		if dbName == "" {
			dbName = entry.Name + "_db"
		}
		dbUser := app.DBUser
		if dbUser == "" {
			dbUser = entry.Name + "_user"
		}
		b.WriteString("[database]\n")
		b.WriteString("connection_string = " + postgresURL(dbUser, app.DBPassword, db.Host, db.Port, dbName) + "\n")
		b.WriteString("db_host = " + db.Host + "\n")
		b.WriteString(fmt.Sprintf("db_port = %d\n", db.Port))
		b.WriteString("db_name = " + dbName + "\n")
		b.WriteString("db_user = " + dbUser + "\n")
		b.WriteString("\n")
	}

	sections := make([]string, 0, len(app.CustomSections))
	for name := range app.CustomSections {
		sections = append(sections, name)
	}
	sort.Strings(sections)
	for _, name := range sections {
		kv := app.CustomSections[name]
		keys := make([]string, 0, len(kv))
		for k := range kv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("[" + name + "]\n")
		for _, k := range keys {
			b.WriteString(k + " = " + kv[k] + "\n")
		}
		b.WriteString("\n")
	}

	return b.String()
}

// postgresURL builds a connection URL with credentials escaped so
// passwords containing %, +, = or / survive the round trip.
func postgresURL(user, password, host string, port int, dbName string) string {
	u := url.URL{
		Scheme: "postgresql",
		User:   url.UserPassword(user, password),
		Host:   fmt.Sprintf("%s:%d", host, port),
		Path:   "/" + dbName,
	}
	return u.String()
}

// WriteService synthesizes and writes both files for one service. The
// identity service additionally gets its signing keypair generated on
// first need.
func (s *Synthesizer) WriteService(cfg *types.MasterConfig, entry types.ServiceEntry, thin map[string]registry.ThinEntry) error {
	if _, err := os.Stat(entry.DirectoryPath); err != nil {
		return fmt.Errorf("service directory %s: %w", entry.DirectoryPath, types.ErrNotFound)
	}

	if entry.Name == types.IdentityServiceName {
		if err := EnsureJWTKeypair(entry.DirectoryPath); err != nil {
			return fmt.Errorf("ensuring signing keypair: %w", err)
		}
	}

	env := s.GenerateEnv(cfg, entry, thin)
	if err := paths.WriteFileAtomic(filepath.Join(entry.DirectoryPath, ".env"), []byte(env), 0o600); err != nil {
		return fmt.Errorf("writing env file: %w", err)
	}

	instanceDir := filepath.Join(entry.DirectoryPath, "instance")
	if err := os.MkdirAll(instanceDir, 0o755); err != nil {
		return fmt.Errorf("creating instance dir: %w", err)
	}
	conf := s.GenerateConf(cfg, entry)
	confPath := filepath.Join(instanceDir, entry.Name+".conf")
	if err := paths.WriteFileAtomic(confPath, []byte(conf), 0o600); err != nil {
		return fmt.Errorf("writing conf file: %w", err)
	}

	s.logger.Debug().Str("service", entry.Name).Msg("Synthesized configuration files")
	return nil
}

// SyncReport summarizes a SyncAll run.
type SyncReport struct {
	Synced []string          `json:"synced"`
	Failed map[string]string `json:"failed,omitempty"`
}

// OK reports whether every service synced.
func (r *SyncReport) OK() bool { return len(r.Failed) == 0 }

// SyncAll regenerates configuration for every catalog service.
// Failures are collected per service; one broken checkout does not
// block the rest.
func (s *Synthesizer) SyncAll(cfg *types.MasterConfig, entries []types.ServiceEntry, thin map[string]registry.ThinEntry) *SyncReport {
	report := &SyncReport{Failed: map[string]string{}}
	for _, entry := range entries {
		if err := s.WriteService(cfg, entry, thin); err != nil {
			s.logger.Warn().Err(err).Str("service", entry.Name).Msg("Config sync failed")
			report.Failed[entry.Name] = err.Error()
			continue
		}
		report.Synced = append(report.Synced, entry.Name)
	}
	return report
}
