package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeBackend()
	c.normalizeConnections()
	c.normalizeStages()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.StorageDir, err = expandPath(c.Paths.StorageDir); err != nil {
		return fmt.Errorf("paths.storage_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	return nil
}

func (c *Config) normalizeBackend() {
	c.Backend.Queue = strings.ToLower(strings.TrimSpace(c.Backend.Queue))
	c.Backend.Status = strings.ToLower(strings.TrimSpace(c.Backend.Status))
	c.Backend.Storage = strings.ToLower(strings.TrimSpace(c.Backend.Storage))
}

// normalizeConnections applies environment overrides for connection strings
// and credentials so secrets can stay out of the config file.
func (c *Config) normalizeConnections() {
	envOverride(&c.Redis.URL, "TILEPIPE_REDIS_URL")
	envOverride(&c.AMQP.URL, "TILEPIPE_AMQP_URL")
	envOverride(&c.Postgres.DSN, "TILEPIPE_POSTGRES_DSN")
	envOverride(&c.ObjectStore.AccessKey, "TILEPIPE_OBJECTSTORE_ACCESS_KEY")
	envOverride(&c.ObjectStore.SecretKey, "TILEPIPE_OBJECTSTORE_SECRET_KEY")

	c.Redis.URL = strings.TrimSpace(c.Redis.URL)
	c.Redis.KeyPrefix = strings.TrimSpace(c.Redis.KeyPrefix)
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = defaultRedisKeyPrefix
	}
	c.AMQP.URL = strings.TrimSpace(c.AMQP.URL)
	c.Postgres.DSN = strings.TrimSpace(c.Postgres.DSN)
	c.Postgres.Table = strings.TrimSpace(c.Postgres.Table)
	if c.Postgres.Table == "" {
		c.Postgres.Table = defaultPostgresTable
	}
	c.Postgres.Workspace = strings.TrimSpace(c.Postgres.Workspace)
	if c.Postgres.Workspace == "" {
		c.Postgres.Workspace = defaultStatusWorkspace
	}
	c.ObjectStore.Endpoint = strings.TrimSpace(c.ObjectStore.Endpoint)
	c.ObjectStore.Region = strings.TrimSpace(c.ObjectStore.Region)
	c.ObjectStore.BucketPrefix = strings.ToLower(strings.TrimSpace(c.ObjectStore.BucketPrefix))
}

func (c *Config) normalizeStages() {
	c.Stages.GDAL.Queue = strings.TrimSpace(c.Stages.GDAL.Queue)
	c.Stages.GDAL.Container = strings.TrimSpace(c.Stages.GDAL.Container)
	c.Stages.GDAL.Binary = strings.TrimSpace(c.Stages.GDAL.Binary)
	c.Stages.GDAL.TargetSRS = strings.TrimSpace(c.Stages.GDAL.TargetSRS)
	c.Stages.GDAL.Extensions = normalizeExtensions(c.Stages.GDAL.Extensions)

	c.Stages.Tiles.Queue = strings.TrimSpace(c.Stages.Tiles.Queue)
	c.Stages.Tiles.Container = strings.TrimSpace(c.Stages.Tiles.Container)
	c.Stages.Tiles.Binary = strings.TrimSpace(c.Stages.Tiles.Binary)
	c.Stages.Tiles.Extensions = normalizeExtensions(c.Stages.Tiles.Extensions)
}

func (c *Config) normalizeNotifications() {
	envOverride(&c.Notifications.NtfyTopic, "TILEPIPE_NTFY_TOPIC")
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotificationTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

// normalizeExtensions lowercases entries, adds a leading dot, and drops duplicates.
func normalizeExtensions(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		ext := strings.ToLower(strings.TrimSpace(value))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if _, ok := seen[ext]; ok {
			continue
		}
		seen[ext] = struct{}{}
		out = append(out, ext)
	}
	return out
}

func envOverride(target *string, key string) {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		*target = strings.TrimSpace(value)
	}
}
