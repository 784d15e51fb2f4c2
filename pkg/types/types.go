package types

import (
	"fmt"
	"regexp"
	"time"
)

// IdentityServiceName is the catalog name of the service that fronts
// the identity provider and signs platform JWTs. Several subsystems
// treat it specially: it gets the direct IDP URL and the signing
// keypair, and its bootstrap admin user cannot be deleted.
const IdentityServiceName = "core"

// ServiceSource identifies how a catalog entry became known.
type ServiceSource string

const (
	SourceCoreRequired    ServiceSource = "core_required"
	SourceDefaultOptional ServiceSource = "default_optional"
	SourceDiscovered      ServiceSource = "discovered"
)

// Rank orders sources for tie-breaking when a service appears in more
// than one bucket. Lower wins.
func (s ServiceSource) Rank() int {
	switch s {
	case SourceCoreRequired:
		return 0
	case SourceDefaultOptional:
		return 1
	default:
		return 2
	}
}

// ProcessKind distinguishes processes we spawn ourselves from the
// external identity provider we only attach to.
type ProcessKind string

const (
	ProcessKindManagedPython ProcessKind = "managed_python"
	ProcessKindExternalJava  ProcessKind = "external_java"
)

// RunMode selects how a managed process is launched.
type RunMode string

const (
	RunModeDevelopment RunMode = "development"
	RunModeProduction  RunMode = "production"
)

// ParseRunMode validates a mode string, defaulting empty to production.
func ParseRunMode(s string) (RunMode, error) {
	switch RunMode(s) {
	case RunModeDevelopment, RunModeProduction:
		return RunMode(s), nil
	case "":
		return RunModeProduction, nil
	default:
		return "", fmt.Errorf("invalid run mode %q", s)
	}
}

// ProcessState represents the supervisor's view of a service process.
type ProcessState string

const (
	ProcessStopped  ProcessState = "stopped"
	ProcessStarting ProcessState = "starting"
	ProcessRunning  ProcessState = "running"
	ProcessStopping ProcessState = "stopping"
	ProcessError    ProcessState = "error"
)

// Terminal reports whether the state is one a bulk operation may treat
// as settled.
func (s ProcessState) Terminal() bool {
	return s == ProcessStopped || s == ProcessError
}

// HealthState represents the monitor's view of a running service.
type HealthState string

const (
	HealthHealthy     HealthState = "healthy"
	HealthDegraded    HealthState = "degraded"
	HealthUnreachable HealthState = "unreachable"
	HealthUnknown     HealthState = "unknown"
)

var serviceNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// ValidServiceName reports whether name is an acceptable service slug.
func ValidServiceName(name string) bool {
	return serviceNamePattern.MatchString(name)
}

// ServiceEntry is one element of the service catalog.
type ServiceEntry struct {
	Name          string        `json:"name"`
	DisplayName   string        `json:"display_name"`
	Description   string        `json:"description,omitempty"`
	Source        ServiceSource `json:"source"`
	Port          int           `json:"port"`
	Dependencies  []string      `json:"dependencies,omitempty"`
	InstallOrder  int           `json:"install_order"`
	GitURL        string        `json:"git_url,omitempty"`
	DirectoryPath string        `json:"directory_path"`
	ProcessKind   ProcessKind   `json:"process_kind"`
	RunEntrypoint string        `json:"run_entrypoint"`
	Visible       bool          `json:"visible"`
	AdminOnly     bool          `json:"admin_only"`
}

// URL returns the local base URL peers use to reach the service.
func (e *ServiceEntry) URL() string {
	return fmt.Sprintf("http://localhost:%d", e.Port)
}

// ProcessRecord tracks what the supervisor knows about one service
// process. Records are created lazily on first reference and survive
// for the lifetime of the orchestrator; restarts reconstruct them from
// pidfiles.
type ProcessRecord struct {
	ServiceName      string       `json:"service_name"`
	Status           ProcessState `json:"status"`
	PID              int          `json:"pid,omitempty"`
	StartedAt        time.Time    `json:"started_at,omitzero"`
	StopRequested    bool         `json:"stop_requested"`
	Mode             RunMode      `json:"mode"`
	StdoutLogPath    string       `json:"stdout_log_path,omitempty"`
	StderrLogPath    string       `json:"stderr_log_path,omitempty"`
	LastExitCode     *int         `json:"last_exit_code,omitempty"`
	LastErrorMessage string       `json:"last_error_message,omitempty"`
}

// ServiceStatus is the monitor-owned join of process state, health and
// resource usage reported to API consumers.
type ServiceStatus struct {
	ServiceName   string       `json:"service_name"`
	Status        ProcessState `json:"status"`
	PID           int          `json:"pid,omitempty"`
	Port          int          `json:"port"`
	StartedAt     time.Time    `json:"started_at,omitzero"`
	LastChecked   time.Time    `json:"last_checked"`
	Health        HealthState  `json:"health"`
	HealthMessage string       `json:"health_message,omitempty"`
	CPUPercent    float64      `json:"cpu_percent"`
	MemoryMB      float64      `json:"memory_mb"`
}

// LogLevel is the severity of a centralized log entry. Values and
// severity numbers follow the Python logging convention the managed
// services emit.
type LogLevel string

const (
	LevelDebug    LogLevel = "DEBUG"
	LevelInfo     LogLevel = "INFO"
	LevelWarning  LogLevel = "WARNING"
	LevelError    LogLevel = "ERROR"
	LevelCritical LogLevel = "CRITICAL"
)

// Severity returns the numeric rank of the level, 10 for DEBUG through
// 50 for CRITICAL, 0 for anything unknown.
func (l LogLevel) Severity() int {
	switch l {
	case LevelDebug:
		return 10
	case LevelInfo:
		return 20
	case LevelWarning:
		return 30
	case LevelError:
		return 40
	case LevelCritical:
		return 50
	default:
		return 0
	}
}

// ParseLogLevel normalizes a level string. WARN is accepted as an
// alias for WARNING.
func ParseLogLevel(s string) (LogLevel, error) {
	switch LogLevel(s) {
	case LevelDebug, LevelInfo, LevelWarning, LevelError, LevelCritical:
		return LogLevel(s), nil
	case "WARN":
		return LevelWarning, nil
	default:
		return "", fmt.Errorf("invalid log level %q", s)
	}
}

// LogEntry is one row of the centralized log store. Entries are
// immutable after insert; only the age-based retention sweep removes
// them.
type LogEntry struct {
	ID          int64          `json:"id,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	ServiceName string         `json:"service_name"`
	Level       LogLevel       `json:"level"`
	Message     string         `json:"message"`
	Context     map[string]any `json:"context,omitempty"`
	TraceID     string         `json:"trace_id,omitempty"`
	UserID      string         `json:"user_id,omitempty"`
	Hostname    string         `json:"hostname,omitempty"`
	ProcessID   int            `json:"process_id,omitempty"`
}

// LogFilter selects entries from the log store. Zero values mean
// "no constraint" for every field except Limit, which defaults to 100
// and is capped at 1000 by the store.
type LogFilter struct {
	ServiceName string
	MinLevel    LogLevel
	Since       time.Time
	Until       time.Time
	TraceID     string
	UserID      string
	Limit       int
	Offset      int
}

// MetricSample is one historical resource measurement for a service.
// Current snapshots live on ServiceStatus; samples feed the dashboard
// history charts.
type MetricSample struct {
	ServiceName string            `json:"service_name"`
	Timestamp   time.Time         `json:"timestamp"`
	MetricName  string            `json:"metric_name"`
	Value       float64           `json:"value"`
	Tags        map[string]string `json:"tags,omitempty"`
}

// MasterConfig is the single source of truth for the installation:
// host identity, identity-provider settings, database admin
// credentials and per-app overrides. Exactly one exists per install.
type MasterConfig struct {
	System           SystemConfig           `json:"system"`
	IdentityProvider IdentityProviderConfig `json:"identity_provider"`
	Databases        DatabasesConfig        `json:"databases"`
	Apps             map[string]AppConfig   `json:"apps"`
}

// SystemConfig holds host identity and platform-wide knobs.
type SystemConfig struct {
	Hostname    string `json:"hostname"`
	Environment string `json:"environment"`
	SecretKey   string `json:"secret_key"`
	LogLevel    string `json:"log_level"`
}

// IdentityProviderConfig describes the external OIDC server and the
// realm/client we reconcile into it. ClientSecret is absent until the
// first bootstrap succeeds; deleting it forces a full re-bootstrap.
type IdentityProviderConfig struct {
	URL           string `json:"url"`
	BackendURL    string `json:"backend_url,omitempty"`
	Realm         string `json:"realm"`
	ClientID      string `json:"client_id"`
	ClientSecret  string `json:"client_secret,omitempty"`
	AdminUsername string `json:"admin_username"`
	AdminPassword string `json:"admin_password"`
}

// DatabasesConfig groups the platform database endpoints.
type DatabasesConfig struct {
	Relational RelationalDBConfig `json:"relational"`
	Graph      *GraphDBConfig     `json:"graph,omitempty"`
}

// RelationalDBConfig points at the shared PostgreSQL server apps are
// provisioned on. AdminPassword may stay empty when the server trusts
// local connections.
type RelationalDBConfig struct {
	Host          string `json:"host"`
	Port          int    `json:"port"`
	AdminUser     string `json:"admin_user"`
	AdminPassword string `json:"admin_password,omitempty"`
}

// GraphDBConfig points at an optional graph database.
type GraphDBConfig struct {
	URI      string `json:"uri"`
	User     string `json:"user"`
	Password string `json:"password"`
}

// AppConfig carries per-service configuration overrides merged into
// the synthesized env and conf files.
type AppConfig struct {
	Port           int                          `json:"port,omitempty"`
	DatabaseKind   string                       `json:"database_kind,omitempty"`
	DBName         string                       `json:"db_name,omitempty"`
	DBUser         string                       `json:"db_user,omitempty"`
	DBPassword     string                       `json:"db_password,omitempty"`
	CustomSections map[string]map[string]string `json:"custom_sections,omitempty"`
}

// Clone returns a deep copy so callers can hand out snapshots without
// exposing internal maps to mutation.
func (c *MasterConfig) Clone() *MasterConfig {
	if c == nil {
		return nil
	}
	out := *c
	if c.Databases.Graph != nil {
		g := *c.Databases.Graph
		out.Databases.Graph = &g
	}
	out.Apps = make(map[string]AppConfig, len(c.Apps))
	for name, app := range c.Apps {
		cp := app
		if app.CustomSections != nil {
			cp.CustomSections = make(map[string]map[string]string, len(app.CustomSections))
			for section, kv := range app.CustomSections {
				inner := make(map[string]string, len(kv))
				for k, v := range kv {
					inner[k] = v
				}
				cp.CustomSections[section] = inner
			}
		}
		out.Apps[name] = cp
	}
	return &out
}

// Event is an orchestrator lifecycle notification published on the
// in-process broker.
type Event struct {
	Type        EventType         `json:"type"`
	Timestamp   time.Time         `json:"timestamp"`
	ServiceName string            `json:"service_name,omitempty"`
	Message     string            `json:"message"`
	Data        map[string]string `json:"data,omitempty"`
}

// EventType classifies broker events.
type EventType string

const (
	EventServiceStarted  EventType = "service.started"
	EventServiceStopped  EventType = "service.stopped"
	EventServiceCrashed  EventType = "service.crashed"
	EventServiceAdopted  EventType = "service.adopted"
	EventHealthChanged   EventType = "health.changed"
	EventConfigSynced    EventType = "config.synced"
	EventIDPBootstrapped EventType = "idp.bootstrapped"
)
