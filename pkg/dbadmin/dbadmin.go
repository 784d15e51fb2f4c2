// Package dbadmin provisions per-app PostgreSQL databases on the
// shared cluster. Every app that declares database_kind "postgresql"
// gets a login role, a database and full privileges on it; names and
// passwords default from the app name and are reported back so the
// caller can persist them in the master configuration.
package dbadmin

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hivematrix/helm/pkg/log"
	"github.com/hivematrix/helm/pkg/types"
)

// maintenanceDB is the database the admin connection attaches to; the
// per-app databases are created from there.
const maintenanceDB = "postgres"

// Admin holds an administrative connection pool to the PostgreSQL
// cluster apps are provisioned on.
type Admin struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// Connect opens an admin pool using the platform's relational database
// credentials and verifies the server is reachable. An unreachable
// server reports upstream_unavailable so callers can treat
// provisioning as optional on hosts without PostgreSQL.
func Connect(ctx context.Context, cfg types.RelationalDBConfig) (*Admin, error) {
	pool, err := pgxpool.New(ctx, adminURL(cfg))
	if err != nil {
		return nil, fmt.Errorf("database admin: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database admin: ping %s:%d: %v: %w",
			cfg.Host, cfg.Port, err, types.ErrUpstreamUnavailable)
	}
	return &Admin{
		pool:   pool,
		logger: log.WithComponent("dbadmin"),
	}, nil
}

// Close releases the admin pool.
func (a *Admin) Close() {
	a.pool.Close()
}

// Provision is the converged database identity for one app, plus which
// cluster objects had to be created to get there.
type Provision struct {
	DBName            string
	DBUser            string
	DBPassword        string
	PasswordGenerated bool
	RoleCreated       bool
	DatabaseCreated   bool
}

// Dirty reports whether applying the provision would change the stored
// app config block.
func (p Provision) Dirty(app types.AppConfig) bool {
	return app.DatabaseKind != "postgresql" ||
		app.DBName != p.DBName ||
		app.DBUser != p.DBUser ||
		app.DBPassword != p.DBPassword
}

// Apply folds the converged identity into an app config block.
func (p Provision) Apply(app types.AppConfig) types.AppConfig {
	app.DatabaseKind = "postgresql"
	app.DBName = p.DBName
	app.DBUser = p.DBUser
	app.DBPassword = p.DBPassword
	return app
}

// EnsureAppDatabase converges one app: role, database and grants. It
// is idempotent; existing objects are detected through pg_roles and
// pg_database rather than by swallowing creation errors. Defaults
// follow the platform convention <name>_db / <name>_user with a fresh
// 32-hex password.
func (a *Admin) EnsureAppDatabase(ctx context.Context, appName string, app types.AppConfig) (Provision, error) {
	prov := Provision{
		DBName:     app.DBName,
		DBUser:     app.DBUser,
		DBPassword: app.DBPassword,
	}
	if prov.DBName == "" {
		prov.DBName = appName + "_db"
	}
	if prov.DBUser == "" {
		prov.DBUser = appName + "_user"
	}
	if prov.DBPassword == "" {
		prov.DBPassword = generatePassword()
		prov.PasswordGenerated = true
	}

	roleExists, err := a.exists(ctx, "SELECT 1 FROM pg_roles WHERE rolname = $1", prov.DBUser)
	if err != nil {
		return prov, fmt.Errorf("database admin: %s: check role: %w", appName, err)
	}
	switch {
	case !roleExists:
		stmt := fmt.Sprintf("CREATE ROLE %s WITH LOGIN PASSWORD %s",
			pgx.Identifier{prov.DBUser}.Sanitize(), quoteLiteral(prov.DBPassword))
		if _, err := a.pool.Exec(ctx, stmt); err != nil {
			return prov, fmt.Errorf("database admin: %s: create role %s: %w", appName, prov.DBUser, err)
		}
		prov.RoleCreated = true
	case prov.PasswordGenerated:
		// The role predates the config block, so its old password is
		// unknowable. Reset it to the generated one; the stored config
		// stays authoritative.
		stmt := fmt.Sprintf("ALTER ROLE %s WITH LOGIN PASSWORD %s",
			pgx.Identifier{prov.DBUser}.Sanitize(), quoteLiteral(prov.DBPassword))
		if _, err := a.pool.Exec(ctx, stmt); err != nil {
			return prov, fmt.Errorf("database admin: %s: reset role password: %w", appName, err)
		}
	}

	dbExists, err := a.exists(ctx, "SELECT 1 FROM pg_database WHERE datname = $1", prov.DBName)
	if err != nil {
		return prov, fmt.Errorf("database admin: %s: check database: %w", appName, err)
	}
	if !dbExists {
		stmt := fmt.Sprintf("CREATE DATABASE %s OWNER %s",
			pgx.Identifier{prov.DBName}.Sanitize(), pgx.Identifier{prov.DBUser}.Sanitize())
		if _, err := a.pool.Exec(ctx, stmt); err != nil {
			return prov, fmt.Errorf("database admin: %s: create database %s: %w", appName, prov.DBName, err)
		}
		prov.DatabaseCreated = true
	}

	grant := fmt.Sprintf("GRANT ALL PRIVILEGES ON DATABASE %s TO %s",
		pgx.Identifier{prov.DBName}.Sanitize(), pgx.Identifier{prov.DBUser}.Sanitize())
	if _, err := a.pool.Exec(ctx, grant); err != nil {
		return prov, fmt.Errorf("database admin: %s: grant privileges: %w", appName, err)
	}

	a.logger.Info().
		Str("app", appName).
		Str("db_name", prov.DBName).
		Str("db_user", prov.DBUser).
		Bool("role_created", prov.RoleCreated).
		Bool("database_created", prov.DatabaseCreated).
		Msg("App database converged")
	return prov, nil
}

// EnsureAll converges every app that declares a PostgreSQL database.
// Apps are processed in name order; one app's failure does not stop
// the rest, and the failures come back joined. The returned provisions
// cover every processed app so the caller can persist changed blocks.
func (a *Admin) EnsureAll(ctx context.Context, apps map[string]types.AppConfig) (map[string]Provision, error) {
	names := make([]string, 0, len(apps))
	for name, app := range apps {
		if app.DatabaseKind == "postgresql" {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	provisions := make(map[string]Provision, len(names))
	var errs []error
	for _, name := range names {
		prov, err := a.EnsureAppDatabase(ctx, name, apps[name])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		provisions[name] = prov
	}
	return provisions, errors.Join(errs...)
}

// exists runs a single-row probe query and maps no-rows to false.
func (a *Admin) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var one int
	err := a.pool.QueryRow(ctx, query, args...).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// adminURL builds the connection URL for the maintenance database.
func adminURL(cfg types.RelationalDBConfig) string {
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:   "/" + maintenanceDB,
	}
	if cfg.AdminPassword != "" {
		u.User = url.UserPassword(cfg.AdminUser, cfg.AdminPassword)
	} else {
		u.User = url.User(cfg.AdminUser)
	}
	return u.String()
}

// generatePassword returns a fresh 32-hex app database password.
func generatePassword() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("reading random bytes: %v", err))
	}
	return hex.EncodeToString(buf)
}

// quoteLiteral renders a string as a PostgreSQL literal. DDL cannot
// take bind parameters, so role passwords are embedded this way.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
