package config

const (
	defaultConfigPath = "~/.config/tilepipe/config.toml"

	defaultWorkDir    = "~/.local/share/tilepipe/work"
	defaultDataDir    = "~/.local/share/tilepipe"
	defaultStorageDir = "~/.local/share/tilepipe/storage"
	defaultLogDir     = "~/.local/share/tilepipe/logs"
	defaultAPIBind    = "127.0.0.1:7600"

	defaultRedisKeyPrefix    = "tilepipe"
	defaultAMQPQueuePrefix   = "tilepipe."
	defaultPostgresTable     = "layer_statuses"
	defaultStatusWorkspace   = "Workspace"
	defaultObjectStoreRegion = "us-east-1"

	defaultPollInterval       = 5
	defaultErrorRetryInterval = 10
	defaultLeaseSeconds       = 300
	defaultLeaseRenewInterval = 60
	defaultToolTimeout        = 3600
	defaultDownloadTimeout    = 600
	defaultWorkspaceMaxAge    = 24

	defaultNotificationTimeout = 10

	defaultLogFormat = "console"
	defaultLogLevel  = "info"
)

// Backend identifiers accepted in the [backend] section.
const (
	QueueSQLite = "sqlite"
	QueueRedis  = "redis"
	QueueAMQP   = "amqp"

	StatusSQLite   = "sqlite"
	StatusRedis    = "redis"
	StatusPostgres = "postgres"

	StorageLocal       = "local"
	StorageObjectStore = "objectstore"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkDir:    defaultWorkDir,
			DataDir:    defaultDataDir,
			StorageDir: defaultStorageDir,
			LogDir:     defaultLogDir,
			APIBind:    defaultAPIBind,
		},
		Backend: Backend{
			Queue:   QueueSQLite,
			Status:  StatusSQLite,
			Storage: StorageLocal,
		},
		Redis: Redis{
			KeyPrefix: defaultRedisKeyPrefix,
		},
		AMQP: AMQP{
			QueuePrefix: defaultAMQPQueuePrefix,
		},
		Postgres: Postgres{
			Table:     defaultPostgresTable,
			Workspace: defaultStatusWorkspace,
		},
		ObjectStore: ObjectStore{
			Region: defaultObjectStoreRegion,
			UseSSL: true,
		},
		Workflow: Workflow{
			PollInterval:       defaultPollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			LeaseSeconds:       defaultLeaseSeconds,
			LeaseRenewInterval: defaultLeaseRenewInterval,
			ToolTimeout:        defaultToolTimeout,
			DownloadTimeout:    defaultDownloadTimeout,
			WorkspaceMaxAge:    defaultWorkspaceMaxAge,
		},
		Stages: Stages{
			GDAL: GDAL{
				Queue:      "gdconv",
				Container:  "geojson",
				Extensions: []string{".shp", ".geojson", ".gdb"},
				Binary:     "ogr2ogr",
				TargetSRS:  "EPSG:4326",
			},
			Tiles: Tiles{
				Queue:      "mbconv",
				Container:  "mbtiles",
				Extensions: []string{".geojson"},
				Binary:     "tippecanoe",
				MinZoom:    0,
				MaxZoom:    14,
			},
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotificationTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
