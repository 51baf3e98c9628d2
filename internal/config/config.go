package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Guild          GuildConfig          `yaml:"guild"`
	Providers      ProvidersConfig      `yaml:"providers"`
	Sync           SyncConfig           `yaml:"sync"`
	Database       DatabaseConfig       `yaml:"database"`
	Server         ServerConfig         `yaml:"server"`
	Telemetry      TelemetryConfig      `yaml:"telemetry"`
	Notifications  NotificationsConfig  `yaml:"notifications"`
	LeaderElection LeaderElectionConfig `yaml:"leader_election"`
}

// GuildConfig identifies the guild being synchronized.
type GuildConfig struct {
	Name   string `yaml:"name"`
	Realm  string `yaml:"realm"`
	Region string `yaml:"region"`
}

// ProvidersConfig holds settings for the external data providers.
type ProvidersConfig struct {
	// Armory is the unauthenticated community profile API (primary for
	// gear and dungeon data).
	Armory ArmoryConfig `yaml:"armory"`
	// Official is the authenticated game API (roster, last-seen, pvp,
	// achievements).
	Official OfficialConfig `yaml:"official"`
	// RequestTimeout bounds every single provider HTTP request.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// ArmoryConfig holds settings for the community profile provider.
type ArmoryConfig struct {
	BaseURL     string        `yaml:"base_url"`
	MinInterval time.Duration `yaml:"min_interval"`
}

// OfficialConfig holds settings for the official game API.
type OfficialConfig struct {
	BaseURL      string        `yaml:"base_url"`
	TokenURL     string        `yaml:"token_url"`
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	MinInterval  time.Duration `yaml:"min_interval"`
}

// SyncConfig holds scheduling and batching settings for the synchronizer.
type SyncConfig struct {
	// DiscoveryInterval is the period of the full roster discovery tier.
	DiscoveryInterval time.Duration `yaml:"discovery_interval"`
	// EnrichmentInterval is the period of the per-member enrichment tier.
	EnrichmentInterval time.Duration `yaml:"enrichment_interval"`
	// MemberDelay is the pause between consecutive members within a batch,
	// on top of the per-provider rate limits.
	MemberDelay time.Duration `yaml:"member_delay"`
	// ActivityWindowDays classifies a member as active when last seen
	// within this many days. The tooling this replaces flapped between 7
	// and 30; the value is deliberately configuration, not code.
	ActivityWindowDays int `yaml:"activity_window_days"`
	// EnrichmentWindowDays selects members last seen within this many days
	// for the enrichment tier, bounding call volume.
	EnrichmentWindowDays int `yaml:"enrichment_window_days"`
	// PvPBrackets lists the ranked brackets queried during enrichment.
	// Empty disables ranked-ladder enrichment.
	PvPBrackets []string `yaml:"pvp_brackets"`
	// MaxBatchErrors is the absolute per-run error count above which a
	// batch-error notification is sent.
	MaxBatchErrors int `yaml:"max_batch_errors"`
	// MaxBatchErrorRatio is the per-run errored/processed ratio above
	// which a batch-error notification is sent.
	MaxBatchErrorRatio float64 `yaml:"max_batch_error_ratio"`
	// ErrorRetention is how long sync error records are kept.
	ErrorRetention time.Duration `yaml:"error_retention"`
}

// ActivityWindow returns the active-classification window as a duration.
func (s SyncConfig) ActivityWindow() time.Duration {
	return time.Duration(s.ActivityWindowDays) * 24 * time.Hour
}

// EnrichmentWindow returns the enrichment selection window as a duration.
func (s SyncConfig) EnrichmentWindow() time.Duration {
	return time.Duration(s.EnrichmentWindowDays) * 24 * time.Hour
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	Driver   string `yaml:"driver"` // "sqlx" or "ent"
}

// DSN returns the Postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	Insecure       bool   `yaml:"insecure"`
}

// NotificationsConfig holds Discord alerting settings.
type NotificationsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Token     string `yaml:"token"`
	ChannelID string `yaml:"channel_id"`
	// MaxPerWindow caps notifications inside Window; excess alerts are
	// dropped, never queued.
	MaxPerWindow int           `yaml:"max_per_window"`
	Window       time.Duration `yaml:"window"`
}

// LeaderElectionConfig holds Kubernetes leader election settings.
type LeaderElectionConfig struct {
	Enabled        bool          `yaml:"enabled"`
	LeaseName      string        `yaml:"lease_name"`
	LeaseNamespace string        `yaml:"lease_namespace"`
	LeaseDuration  time.Duration `yaml:"lease_duration"`
	RenewDeadline  time.Duration `yaml:"renew_deadline"`
	RetryPeriod    time.Duration `yaml:"retry_period"`
}

// Load reads a YAML configuration file from the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := &Config{
		Providers: ProvidersConfig{
			Armory: ArmoryConfig{
				MinInterval: 2 * time.Second,
			},
			Official: OfficialConfig{
				MinInterval: time.Second,
			},
			RequestTimeout: 15 * time.Second,
		},
		Sync: SyncConfig{
			DiscoveryInterval:    6 * time.Hour,
			EnrichmentInterval:   time.Hour,
			MemberDelay:          500 * time.Millisecond,
			ActivityWindowDays:   30,
			EnrichmentWindowDays: 21,
			PvPBrackets:          []string{"2v2", "3v3", "rbg"},
			MaxBatchErrors:       5,
			MaxBatchErrorRatio:   0.10,
			ErrorRetention:       14 * 24 * time.Hour,
		},
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			SSLMode: "disable",
			Driver:  "sqlx",
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "guildsync",
			ServiceVersion: "0.1.0",
		},
		Notifications: NotificationsConfig{
			MaxPerWindow: 3,
			Window:       15 * time.Minute,
		},
		LeaderElection: LeaderElectionConfig{
			Enabled:        false,
			LeaseName:      "guildsync-leader",
			LeaseNamespace: "default",
			LeaseDuration:  15 * time.Second,
			RenewDeadline:  10 * time.Second,
			RetryPeriod:    2 * time.Second,
		},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.Guild.Name == "" || c.Guild.Realm == "" {
		return fmt.Errorf("guild.name and guild.realm are required")
	}
	switch c.Database.Driver {
	case "sqlx", "ent":
		// valid
	default:
		return fmt.Errorf("unsupported database driver %q: must be \"sqlx\" or \"ent\"", c.Database.Driver)
	}
	if c.Sync.ActivityWindowDays <= 0 {
		return fmt.Errorf("sync.activity_window_days must be positive, got %d", c.Sync.ActivityWindowDays)
	}
	if c.Sync.EnrichmentWindowDays <= 0 {
		return fmt.Errorf("sync.enrichment_window_days must be positive, got %d", c.Sync.EnrichmentWindowDays)
	}
	if c.Sync.DiscoveryInterval <= 0 || c.Sync.EnrichmentInterval <= 0 {
		return fmt.Errorf("sync intervals must be positive")
	}
	if c.Sync.MaxBatchErrorRatio < 0 || c.Sync.MaxBatchErrorRatio > 1 {
		return fmt.Errorf("sync.max_batch_error_ratio must be within [0, 1], got %v", c.Sync.MaxBatchErrorRatio)
	}
	if c.Notifications.Enabled && (c.Notifications.Token == "" || c.Notifications.ChannelID == "") {
		return fmt.Errorf("notifications.token and notifications.channel_id are required when notifications are enabled")
	}
	return nil
}
