package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	WorkDir    string `toml:"work_dir"`
	DataDir    string `toml:"data_dir"`
	StorageDir string `toml:"storage_dir"`
	LogDir     string `toml:"log_dir"`
	APIBind    string `toml:"api_bind"`
}

// Backend selects the concrete queue, status, and storage implementations.
type Backend struct {
	Queue   string `toml:"queue"`
	Status  string `toml:"status"`
	Storage string `toml:"storage"`
}

// Redis contains connection settings shared by the Redis queue and status backends.
type Redis struct {
	URL       string `toml:"url"`
	KeyPrefix string `toml:"key_prefix"`
}

// AMQP contains RabbitMQ connection settings.
type AMQP struct {
	URL         string `toml:"url"`
	QueuePrefix string `toml:"queue_prefix"`
}

// Postgres contains settings for the partitioned status table.
type Postgres struct {
	DSN       string `toml:"dsn"`
	Table     string `toml:"table"`
	Workspace string `toml:"workspace"`
}

// ObjectStore contains S3-compatible object storage settings.
type ObjectStore struct {
	Endpoint     string `toml:"endpoint"`
	AccessKey    string `toml:"access_key"`
	SecretKey    string `toml:"secret_key"`
	Region       string `toml:"region"`
	UseSSL       bool   `toml:"use_ssl"`
	BucketPrefix string `toml:"bucket_prefix"`
}

// Workflow contains worker timing. All values are seconds unless noted.
type Workflow struct {
	PollInterval       int `toml:"poll_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	LeaseSeconds       int `toml:"lease_seconds"`
	LeaseRenewInterval int `toml:"lease_renew_interval"`
	ToolTimeout        int `toml:"tool_timeout"`
	DownloadTimeout    int `toml:"download_timeout"`
	WorkspaceMaxAge    int `toml:"workspace_max_age_hours"`
}

// GDAL configures the source-to-GeoJSON stage.
type GDAL struct {
	Queue      string   `toml:"queue"`
	Container  string   `toml:"container"`
	Extensions []string `toml:"extensions"`
	Binary     string   `toml:"binary"`
	TargetSRS  string   `toml:"target_srs"`
}

// Tiles configures the GeoJSON-to-MBTiles stage.
type Tiles struct {
	Queue      string   `toml:"queue"`
	Container  string   `toml:"container"`
	Extensions []string `toml:"extensions"`
	Binary     string   `toml:"binary"`
	MinZoom    int      `toml:"min_zoom"`
	MaxZoom    int      `toml:"max_zoom"`
	ExtraArgs  []string `toml:"extra_args"`
}

// Stages groups the fixed conversion chain.
type Stages struct {
	GDAL  GDAL  `toml:"gdal"`
	Tiles Tiles `toml:"tiles"`
}

// Notifications contains ntfy settings for job outcome alerts.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for tilepipe.
//
// Configuration sections by subsystem:
//   - Paths: scratch, data, storage, and log directories plus the API bind address
//   - Backend: queue/status/storage implementation selection
//   - Redis, AMQP, Postgres, ObjectStore: remote backend connections
//   - Workflow: worker polling, lease, and timeout settings
//   - Stages: per-stage queue, container, allow-list, and tool settings
//   - Notifications: optional ntfy alerts when a job completes or fails
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Backend       Backend       `toml:"backend"`
	Redis         Redis         `toml:"redis"`
	AMQP          AMQP          `toml:"amqp"`
	Postgres      Postgres      `toml:"postgres"`
	ObjectStore   ObjectStore   `toml:"objectstore"`
	Workflow      Workflow      `toml:"workflow"`
	Stages        Stages        `toml:"stages"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("tilepipe.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.WorkDir, c.Paths.DataDir, c.Paths.LogDir}
	if c.Backend.Storage == StorageLocal {
		dirs = append(dirs, c.Paths.StorageDir)
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// QueueDBPath returns the SQLite database backing the local queue backend.
func (c *Config) QueueDBPath() string {
	return filepath.Join(c.Paths.DataDir, "queue.db")
}

// StatusDBPath returns the SQLite database backing the local status backend.
func (c *Config) StatusDBPath() string {
	return filepath.Join(c.Paths.DataDir, "status.db")
}

// PollInterval returns the worker idle poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Workflow.PollInterval) * time.Second
}

// ErrorRetryInterval returns the delay applied after a queue backend error.
func (c *Config) ErrorRetryInterval() time.Duration {
	return time.Duration(c.Workflow.ErrorRetryInterval) * time.Second
}

// Lease returns the message visibility lease.
func (c *Config) Lease() time.Duration {
	return time.Duration(c.Workflow.LeaseSeconds) * time.Second
}

// LeaseRenewInterval returns how often an in-flight lease is extended.
func (c *Config) LeaseRenewInterval() time.Duration {
	return time.Duration(c.Workflow.LeaseRenewInterval) * time.Second
}

// ToolTimeout returns the per-invocation converter timeout.
func (c *Config) ToolTimeout() time.Duration {
	return time.Duration(c.Workflow.ToolTimeout) * time.Second
}

// DownloadTimeout returns the remote source download timeout.
func (c *Config) DownloadTimeout() time.Duration {
	return time.Duration(c.Workflow.DownloadTimeout) * time.Second
}

// NotificationTimeout bounds a single ntfy request.
func (c *Config) NotificationTimeout() time.Duration {
	return time.Duration(c.Notifications.RequestTimeout) * time.Second
}

// WorkspaceMaxAge returns the age after which a leftover workspace is removed.
func (c *Config) WorkspaceMaxAge() time.Duration {
	return time.Duration(c.Workflow.WorkspaceMaxAge) * time.Hour
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
