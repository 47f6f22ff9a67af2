package conf

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const mb = 1024 * 1024

// Config server configuration. Built once by Load and passed by value or pointer to
// every component; nothing reads configuration from package state.
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Storage configuration
	Storage StorageConfig

	// Snapshot caps and quota
	Snapshot SnapshotConfig

	// Lifecycle sweep configuration
	Lifecycle LifecycleConfig

	// Auth configuration
	Auth AuthConfig

	// Log configuration
	Log LogConfig
}

// ServerConfig HTTP server configuration
type ServerConfig struct {
	Port          string // Listen port
	PublicBaseURL string // Externally reachable origin, used to build snapshot and blob URLs
	PathPrefix    string // Path prefix for reverse proxy (e.g., "/snapshots")
	GinMode       string // debug, release, test
}

// DatabaseConfig database configuration
type DatabaseConfig struct {
	Type    string // pebble
	DataDir string // PebbleDB data directory
}

// StorageConfig storage configuration
type StorageConfig struct {
	Type       string // local, s3
	Local      LocalStorageConfig
	S3         S3StorageConfig
	PresignTTL time.Duration
}

// LocalStorageConfig local storage configuration
type LocalStorageConfig struct {
	BasePath string
}

// S3StorageConfig S3-compatible storage configuration
type S3StorageConfig struct {
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	Bucket       string
	UsePathStyle bool
}

// SnapshotConfig snapshot caps
type SnapshotConfig struct {
	MaxTotalMB          int
	MaxFileMB           int
	MaxTotalBytes       int64 // converted from MaxTotalMB
	MaxFileBytes        int64 // converted from MaxFileMB
	MaxExpiryDays       int
	DefaultExpiryDays   int
	MaxSessionsPerOwner int  // creating + active sessions an owner may hold
	VerifyDigest        bool // recompute digests of stored objects at finalize
}

// LifecycleConfig lifecycle sweep configuration
type LifecycleConfig struct {
	SweepSchedule    string // cron spec, e.g. "@every 10m"
	MaxCreatingHours int    // abandoned-session threshold
	MaxCreatingAge   time.Duration
}

// AuthConfig credential configuration
type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
	APIKeys   []APIKeyConfig
}

// APIKeyConfig maps an api key to the owner it authenticates.
type APIKeyConfig struct {
	Key   string `mapstructure:"key"`
	Owner string `mapstructure:"owner"`
}

// LogConfig logger configuration
type LogConfig struct {
	Level  string
	Format string
}

// Load reads the configuration file at path. Environment variables prefixed with
// SNAPSHOT_ override file values (SNAPSHOT_AUTH_JWT_SECRET for auth.jwt_secret).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("snapshot")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("fatal error config file: %w", err)
		}
	}

	cfg, err := fromViper(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "7333")
	v.SetDefault("server.gin_mode", "release")
	v.SetDefault("database.type", "pebble")
	v.SetDefault("database.data_dir", "./data")
	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local.base_path", "./snapshot_data")
	v.SetDefault("storage.s3.region", "us-east-1")
	v.SetDefault("storage.presign_ttl_seconds", 900)
	v.SetDefault("snapshot.max_total_mb", 100)
	v.SetDefault("snapshot.max_file_mb", 25)
	v.SetDefault("snapshot.max_expiry_days", 7)
	v.SetDefault("snapshot.default_expiry_days", 1)
	v.SetDefault("snapshot.max_sessions_per_owner", 20)
	v.SetDefault("snapshot.verify_digest", true)
	v.SetDefault("lifecycle.sweep_schedule", "@every 10m")
	v.SetDefault("lifecycle.max_creating_hours", 24)
	v.SetDefault("auth.token_ttl_minutes", 60)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:          v.GetString("server.port"),
			PublicBaseURL: strings.TrimRight(v.GetString("server.public_base_url"), "/"),
			PathPrefix:    strings.TrimRight(v.GetString("server.path_prefix"), "/"),
			GinMode:       v.GetString("server.gin_mode"),
		},

		Database: DatabaseConfig{
			Type:    v.GetString("database.type"),
			DataDir: v.GetString("database.data_dir"),
		},

		Storage: StorageConfig{
			Type: v.GetString("storage.type"),
			Local: LocalStorageConfig{
				BasePath: v.GetString("storage.local.base_path"),
			},
			S3: S3StorageConfig{
				Region:       v.GetString("storage.s3.region"),
				Endpoint:     v.GetString("storage.s3.endpoint"),
				AccessKey:    v.GetString("storage.s3.access_key"),
				SecretKey:    v.GetString("storage.s3.secret_key"),
				Bucket:       v.GetString("storage.s3.bucket"),
				UsePathStyle: v.GetBool("storage.s3.use_path_style"),
			},
			PresignTTL: time.Duration(v.GetInt("storage.presign_ttl_seconds")) * time.Second,
		},

		Snapshot: SnapshotConfig{
			MaxTotalMB:          v.GetInt("snapshot.max_total_mb"),
			MaxFileMB:           v.GetInt("snapshot.max_file_mb"),
			MaxExpiryDays:       v.GetInt("snapshot.max_expiry_days"),
			DefaultExpiryDays:   v.GetInt("snapshot.default_expiry_days"),
			MaxSessionsPerOwner: v.GetInt("snapshot.max_sessions_per_owner"),
			VerifyDigest:        v.GetBool("snapshot.verify_digest"),
		},

		Lifecycle: LifecycleConfig{
			SweepSchedule:    v.GetString("lifecycle.sweep_schedule"),
			MaxCreatingHours: v.GetInt("lifecycle.max_creating_hours"),
		},

		Auth: AuthConfig{
			JWTSecret: v.GetString("auth.jwt_secret"),
			TokenTTL:  time.Duration(v.GetInt("auth.token_ttl_minutes")) * time.Minute,
		},

		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}

	if cfg.Server.PublicBaseURL == "" {
		cfg.Server.PublicBaseURL = "http://localhost:" + cfg.Server.Port + cfg.Server.PathPrefix
	}
	// Convert MB to bytes
	cfg.Snapshot.MaxTotalBytes = int64(cfg.Snapshot.MaxTotalMB) * mb
	cfg.Snapshot.MaxFileBytes = int64(cfg.Snapshot.MaxFileMB) * mb
	if cfg.Snapshot.DefaultExpiryDays > cfg.Snapshot.MaxExpiryDays {
		cfg.Snapshot.DefaultExpiryDays = cfg.Snapshot.MaxExpiryDays
	}
	cfg.Lifecycle.MaxCreatingAge = time.Duration(cfg.Lifecycle.MaxCreatingHours) * time.Hour

	// Map keys are lower-cased by viper, so api keys are a list rather than a map.
	if err := v.UnmarshalKey("auth.api_keys", &cfg.Auth.APIKeys); err != nil {
		return nil, fmt.Errorf("invalid auth.api_keys: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if len(c.Auth.APIKeys) == 0 {
		return fmt.Errorf("auth.api_keys must map at least one api key to an owner")
	}
	for _, k := range c.Auth.APIKeys {
		if k.Key == "" || k.Owner == "" {
			return fmt.Errorf("auth.api_keys entries need both key and owner")
		}
	}
	switch c.Storage.Type {
	case "local":
		if c.Storage.Local.BasePath == "" {
			return fmt.Errorf("storage.local.base_path is required")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required")
		}
	default:
		return fmt.Errorf("unsupported storage type %q", c.Storage.Type)
	}
	if c.Snapshot.MaxFileBytes <= 0 || c.Snapshot.MaxTotalBytes <= 0 {
		return fmt.Errorf("snapshot caps must be positive")
	}
	if c.Snapshot.MaxExpiryDays <= 0 {
		return fmt.Errorf("snapshot.max_expiry_days must be positive")
	}
	return nil
}
