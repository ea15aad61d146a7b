package common

// Environment variable keys
const (
	EnvConfigFile      = "CONFIG_FILE"
	EnvListenPort      = "LISTEN_PORT"
	EnvRequestTimeout  = "REQUEST_TIMEOUT"
	EnvCookieSecure    = "COOKIE_SECURE"
	EnvModelDir        = "MODEL_DIR"
	EnvModelKind       = "MODEL_KIND"
	EnvModelURL        = "MODEL_URL"
	EnvModelTimeout    = "MODEL_TIMEOUT"
	EnvModelServerPort = "MODEL_SERVER_PORT"
	EnvPythonPath      = "PYTHON_PATH"
	EnvSchemaProfile   = "SCHEMA_PROFILE"
	EnvSchemaFile      = "SCHEMA_FILE"
	EnvHistoryBackend  = "HISTORY_BACKEND"
	EnvHistoryPath     = "HISTORY_PATH"
	EnvDatabaseURL     = "DATABASE_URL"
	EnvStoreTimeout    = "STORE_TIMEOUT"
	EnvSessionBackend  = "SESSION_BACKEND"
	EnvRedisAddr       = "REDIS_ADDR"
	EnvRedisPassword   = "REDIS_PASSWORD"
	EnvRedisDB         = "REDIS_DB"
	EnvSessionTTL      = "SESSION_TTL"
	EnvAuthUsers       = "AUTH_USERS"
	EnvAuthDisabled    = "AUTH_DISABLED"
	EnvLogLevel        = "LOG_LEVEL"
	EnvLogFormat       = "LOG_FORMAT"
)

// Configuration defaults
const (
	DefaultListenPort     = 8080
	DefaultModelDir       = "models/classic"
	DefaultModelKind      = "linear"
	DefaultSchemaProfile  = "classic"
	DefaultHistoryBackend = "csv"
	DefaultHistoryPath    = "data/predictions.csv"
	DefaultSessionBackend = "memory"
	DefaultRedisAddr      = "localhost:6379"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "console"
)

// Session backends
const (
	SessionMemory = "memory"
	SessionRedis  = "redis"
)

// Common error messages
const (
	ErrMsgUsersRequired   = "AUTH_USERS is required unless AUTH_DISABLED=true"
	ErrMsgDatabaseURL     = "DATABASE_URL is required for the postgres history backend"
	ErrMsgModelURL        = "MODEL_URL is required for the remote model kind"
	ErrMsgHistoryPath     = "HISTORY_PATH is required for file-backed history"
)

// Validation constants
const (
	MinPort           = 1024
	MaxPort           = 65535
	MinSessionTTLMins = 1
	MaxSessionTTLDays = 30
)
