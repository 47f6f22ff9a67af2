package conf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ProjectConfigFile is read from the project root when present.
const ProjectConfigFile = ".snapshot.yaml"

// DefaultConcurrency is the number of upload workers.
const DefaultConcurrency = 8

// StageConfig configuration of one staging run of the CLI.
type StageConfig struct {
	ServerURL string
	APIKey    string

	Root      string // project root
	OutputDir string // explicit build output, relative to Root or absolute

	Include            []string
	Exclude            []string
	RespectIgnoreFiles bool

	// Client-side caps; zero means use the caps advertised by the server
	MaxFileBytes  int64
	MaxTotalBytes int64

	Concurrency    int
	RequestTimeout time.Duration // per control-plane call
	UploadTimeout  time.Duration // per transport attempt

	ExpiryDays       int
	Password         string
	GeneratePassword bool

	Build        bool   // run BuildCommand before discovery
	BuildCommand string // e.g. "npm run build"

	Interactive    bool
	Quiet          bool
	TokenCachePath string
}

// BindStageFlags declares the CLI flags on fs and binds them into v.
func BindStageFlags(fs *pflag.FlagSet, v *viper.Viper) error {
	fs.String("server", "http://localhost:7333", "snapshot server base URL")
	fs.String("api-key", "", "api key exchanged for an access token")
	fs.String("root", ".", "project root directory")
	fs.String("output-dir", "", "build output directory (skips discovery)")
	fs.StringSlice("include", nil, "glob patterns of files to include (default all)")
	fs.StringSlice("exclude", nil, "glob patterns of files to exclude")
	fs.Bool("no-ignore", false, "do not apply .gitignore and .snapshotignore rules")
	fs.Int("max-file-mb", 0, "per-file cap in MB (default: server cap)")
	fs.Int("max-total-mb", 0, "aggregate cap in MB (default: server cap)")
	fs.Int("concurrency", DefaultConcurrency, "parallel uploads")
	fs.Duration("request-timeout", 30*time.Second, "timeout of each API call")
	fs.Duration("upload-timeout", 2*time.Minute, "timeout of each file transfer attempt")
	fs.Int("expiry-days", 0, "days until the snapshot expires (default: server default)")
	fs.String("password", "", "protect the snapshot with a password")
	fs.Bool("generate-password", false, "protect the snapshot with a generated password")
	fs.Bool("build", false, "run the build command before discovery")
	fs.String("build-command", "npm run build", "command run by --build")
	fs.Bool("non-interactive", false, "never prompt; fail when a choice is needed")
	fs.Bool("quiet", false, "hide the progress bar")
	fs.String("token-cache", "", "token cache file (default: user config dir)")

	return v.BindPFlags(fs)
}

// LoadStage assembles the stage configuration from flags, SNAPSHOT_* environment
// variables and the project's .snapshot.yaml, in that order of precedence.
func LoadStage(v *viper.Viper) (StageConfig, error) {
	v.SetEnvPrefix("snapshot")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root := v.GetString("root")
	if root == "" {
		root = "."
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return StageConfig{}, fmt.Errorf("failed to resolve root: %w", err)
	}

	v.SetConfigFile(filepath.Join(absRoot, ProjectConfigFile))
	if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return StageConfig{}, fmt.Errorf("failed to read %s: %w", ProjectConfigFile, err)
		}
	}

	cfg := StageConfig{
		ServerURL:          strings.TrimRight(v.GetString("server"), "/"),
		APIKey:             v.GetString("api-key"),
		Root:               absRoot,
		OutputDir:          v.GetString("output-dir"),
		Include:            v.GetStringSlice("include"),
		Exclude:            v.GetStringSlice("exclude"),
		RespectIgnoreFiles: !v.GetBool("no-ignore"),
		MaxFileBytes:       int64(v.GetInt("max-file-mb")) * mb,
		MaxTotalBytes:      int64(v.GetInt("max-total-mb")) * mb,
		Concurrency:        v.GetInt("concurrency"),
		RequestTimeout:     v.GetDuration("request-timeout"),
		UploadTimeout:      v.GetDuration("upload-timeout"),
		ExpiryDays:         v.GetInt("expiry-days"),
		Password:           v.GetString("password"),
		GeneratePassword:   v.GetBool("generate-password"),
		Build:              v.GetBool("build"),
		BuildCommand:       v.GetString("build-command"),
		Interactive:        !v.GetBool("non-interactive"),
		Quiet:              v.GetBool("quiet"),
		TokenCachePath:     v.GetString("token-cache"),
	}

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = 2 * time.Minute
	}
	if cfg.TokenCachePath == "" {
		if dir, err := os.UserConfigDir(); err == nil {
			cfg.TokenCachePath = filepath.Join(dir, "snapshot", "token.json")
		}
	}
	if cfg.ServerURL == "" {
		return StageConfig{}, fmt.Errorf("server URL is required")
	}
	if cfg.APIKey == "" {
		return StageConfig{}, fmt.Errorf("api key is required (--api-key or SNAPSHOT_API_KEY)")
	}
	if cfg.Password != "" && cfg.GeneratePassword {
		return StageConfig{}, fmt.Errorf("--password and --generate-password are mutually exclusive")
	}
	return cfg, nil
}
