package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateBackend(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateStages(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateBackend() error {
	switch c.Backend.Queue {
	case QueueSQLite:
	case QueueRedis:
		if c.Redis.URL == "" {
			return errors.New("redis.url must be set when backend.queue is \"redis\" (or set TILEPIPE_REDIS_URL)")
		}
	case QueueAMQP:
		if c.AMQP.URL == "" {
			return errors.New("amqp.url must be set when backend.queue is \"amqp\" (or set TILEPIPE_AMQP_URL)")
		}
	default:
		return fmt.Errorf("backend.queue: unsupported value %q (want sqlite, redis, or amqp)", c.Backend.Queue)
	}

	switch c.Backend.Status {
	case StatusSQLite:
	case StatusRedis:
		if c.Redis.URL == "" {
			return errors.New("redis.url must be set when backend.status is \"redis\" (or set TILEPIPE_REDIS_URL)")
		}
	case StatusPostgres:
		if c.Postgres.DSN == "" {
			return errors.New("postgres.dsn must be set when backend.status is \"postgres\" (or set TILEPIPE_POSTGRES_DSN)")
		}
	default:
		return fmt.Errorf("backend.status: unsupported value %q (want sqlite, redis, or postgres)", c.Backend.Status)
	}

	switch c.Backend.Storage {
	case StorageLocal:
		if c.Paths.StorageDir == "" {
			return errors.New("paths.storage_dir must be set when backend.storage is \"local\"")
		}
	case StorageObjectStore:
		if c.ObjectStore.Endpoint == "" {
			return errors.New("objectstore.endpoint must be set when backend.storage is \"objectstore\"")
		}
		if c.ObjectStore.AccessKey == "" || c.ObjectStore.SecretKey == "" {
			return errors.New("objectstore.access_key and objectstore.secret_key must be set (or set TILEPIPE_OBJECTSTORE_ACCESS_KEY/TILEPIPE_OBJECTSTORE_SECRET_KEY)")
		}
	default:
		return fmt.Errorf("backend.storage: unsupported value %q (want local or objectstore)", c.Backend.Storage)
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.poll_interval":           c.Workflow.PollInterval,
		"workflow.error_retry_interval":    c.Workflow.ErrorRetryInterval,
		"workflow.lease_seconds":           c.Workflow.LeaseSeconds,
		"workflow.lease_renew_interval":    c.Workflow.LeaseRenewInterval,
		"workflow.tool_timeout":            c.Workflow.ToolTimeout,
		"workflow.download_timeout":        c.Workflow.DownloadTimeout,
		"workflow.workspace_max_age_hours": c.Workflow.WorkspaceMaxAge,
	}); err != nil {
		return err
	}
	if c.Workflow.LeaseSeconds <= c.Workflow.LeaseRenewInterval {
		return errors.New("workflow.lease_seconds must be greater than workflow.lease_renew_interval")
	}
	return nil
}

func (c *Config) validateStages() error {
	gdal := c.Stages.GDAL
	tiles := c.Stages.Tiles
	for key, value := range map[string]string{
		"stages.gdal.queue":      gdal.Queue,
		"stages.gdal.container":  gdal.Container,
		"stages.gdal.binary":     gdal.Binary,
		"stages.gdal.target_srs": gdal.TargetSRS,
		"stages.tiles.queue":     tiles.Queue,
		"stages.tiles.container": tiles.Container,
		"stages.tiles.binary":    tiles.Binary,
	} {
		if value == "" {
			return fmt.Errorf("%s must be set", key)
		}
	}
	if strings.EqualFold(gdal.Queue, tiles.Queue) {
		return errors.New("stages.gdal.queue and stages.tiles.queue must differ")
	}
	if len(gdal.Extensions) == 0 {
		return errors.New("stages.gdal.extensions must include at least one extension")
	}
	if len(tiles.Extensions) == 0 {
		return errors.New("stages.tiles.extensions must include at least one extension")
	}
	if tiles.MinZoom < 0 || tiles.MaxZoom > 24 || tiles.MinZoom > tiles.MaxZoom {
		return errors.New("stages.tiles zoom range must satisfy 0 <= min_zoom <= max_zoom <= 24")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	topic := c.Notifications.NtfyTopic
	if topic == "" {
		return nil
	}
	if !strings.HasPrefix(topic, "http://") && !strings.HasPrefix(topic, "https://") {
		return fmt.Errorf("notifications.ntfy_topic must be a full http(s) URL, got %q", topic)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
