package cfg

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"loan-risk/internal/common"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Settings struct {
	ListenPort     int
	RequestTimeout time.Duration
	CookieSecure   bool

	ModelDir        string
	ModelKind       string
	ModelURL        string
	ModelTimeout    time.Duration
	ModelServerPort int // 0 disables the standalone model server
	PythonPath      string

	SchemaProfile string
	SchemaFile    string

	HistoryBackend string
	HistoryPath    string
	DatabaseURL    string
	StoreTimeout   time.Duration

	SessionBackend string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	SessionTTL     time.Duration
	Users          string
	AuthDisabled   bool

	LogLevel  string
	LogFormat string
}

type ConfigFile struct {
	Server struct {
		Port           int    `yaml:"port"`
		RequestTimeout string `yaml:"requestTimeout"`
		CookieSecure   bool   `yaml:"cookieSecure"`
	} `yaml:"server"`

	Model struct {
		Dir        string `yaml:"dir"`
		Kind       string `yaml:"kind"`
		URL        string `yaml:"url"`
		Timeout    string `yaml:"timeout"`
		ServerPort int    `yaml:"serverPort"`
		PythonPath string `yaml:"pythonPath"`
	} `yaml:"model"`

	Schema struct {
		Profile string `yaml:"profile"`
		File    string `yaml:"file"`
	} `yaml:"schema"`

	History struct {
		Backend     string `yaml:"backend"`
		Path        string `yaml:"path"`
		DatabaseURL string `yaml:"databaseURL"`
		Timeout     string `yaml:"timeout"`
	} `yaml:"history"`

	Auth struct {
		Disabled       bool   `yaml:"disabled"`
		Users          string `yaml:"users"`
		SessionBackend string `yaml:"sessionBackend"`
		SessionTTL     string `yaml:"sessionTTL"`
		RedisAddr      string `yaml:"redisAddr"`
		RedisPassword  string `yaml:"redisPassword"`
		RedisDB        int    `yaml:"redisDB"`
	} `yaml:"auth"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

var (
	modelKinds      = []string{"linear", "pipeline", "onnx", "remote"}
	historyBackends = []string{"csv", "bolt", "sqlite", "postgres", "memory"}
	sessionBackends = []string{common.SessionMemory, common.SessionRedis}
	logFormats      = []string{"console", "json"}
)

func Load() (Settings, error) {
	return load(validateSettings)
}

// LoadOffline loads settings for tools that serve no HTTP requests, such as
// batch scoring. Access control settings are not required.
func LoadOffline() (Settings, error) {
	return load(func(s *Settings) error {
		c := *s
		c.AuthDisabled = true
		return validateSettings(&c)
	})
}

func load(validate func(*Settings) error) (Settings, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	// Try to load from YAML file first, falling back to environment variables
	if configPath := os.Getenv(common.EnvConfigFile); configPath != "" {
		return loadFromYAML(configPath, validate)
	}
	return loadFromEnv(validate)
}

func loadFromYAML(path string, validate func(*Settings) error) (Settings, error) {
	settings, err := readYAML(path)
	if err != nil {
		return Settings{}, err
	}
	if err := validate(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return settings, nil
}

func loadFromEnv(validate func(*Settings) error) (Settings, error) {
	settings := readEnv()
	if err := validate(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return settings, nil
}

func readYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	settings := Settings{
		ListenPort:     getIntFromEnvOrConfig(common.EnvListenPort, config.Server.Port, common.DefaultListenPort),
		RequestTimeout: getDurationFromEnvOrConfig(common.EnvRequestTimeout, config.Server.RequestTimeout, 10*time.Second),
		CookieSecure:   getBoolFromEnvOrConfig(common.EnvCookieSecure, config.Server.CookieSecure),

		ModelDir:        getEnvOrDefault(common.EnvModelDir, orDefault(config.Model.Dir, common.DefaultModelDir)),
		ModelKind:       getEnvOrDefault(common.EnvModelKind, orDefault(config.Model.Kind, common.DefaultModelKind)),
		ModelURL:        getEnvOrDefault(common.EnvModelURL, config.Model.URL),
		ModelTimeout:    getDurationFromEnvOrConfig(common.EnvModelTimeout, config.Model.Timeout, 5*time.Second),
		ModelServerPort: getIntFromEnvOrConfig(common.EnvModelServerPort, config.Model.ServerPort, 0),
		PythonPath:      getEnvOrDefault(common.EnvPythonPath, config.Model.PythonPath),

		SchemaProfile: getEnvOrDefault(common.EnvSchemaProfile, orDefault(config.Schema.Profile, common.DefaultSchemaProfile)),
		SchemaFile:    getEnvOrDefault(common.EnvSchemaFile, config.Schema.File),

		HistoryBackend: getEnvOrDefault(common.EnvHistoryBackend, orDefault(config.History.Backend, common.DefaultHistoryBackend)),
		HistoryPath:    getEnvOrDefault(common.EnvHistoryPath, orDefault(config.History.Path, common.DefaultHistoryPath)),
		DatabaseURL:    getEnvOrDefault(common.EnvDatabaseURL, config.History.DatabaseURL),
		StoreTimeout:   getDurationFromEnvOrConfig(common.EnvStoreTimeout, config.History.Timeout, 5*time.Second),

		SessionBackend: getEnvOrDefault(common.EnvSessionBackend, orDefault(config.Auth.SessionBackend, common.DefaultSessionBackend)),
		RedisAddr:      getEnvOrDefault(common.EnvRedisAddr, orDefault(config.Auth.RedisAddr, common.DefaultRedisAddr)),
		RedisPassword:  getEnvOrDefault(common.EnvRedisPassword, config.Auth.RedisPassword),
		RedisDB:        getIntFromEnvOrConfig(common.EnvRedisDB, config.Auth.RedisDB, 0),
		SessionTTL:     getDurationFromEnvOrConfig(common.EnvSessionTTL, config.Auth.SessionTTL, 12*time.Hour),
		Users:          getEnvOrDefault(common.EnvAuthUsers, config.Auth.Users),
		AuthDisabled:   getBoolFromEnvOrConfig(common.EnvAuthDisabled, config.Auth.Disabled),

		LogLevel:  getEnvOrDefault(common.EnvLogLevel, orDefault(config.Log.Level, common.DefaultLogLevel)),
		LogFormat: getEnvOrDefault(common.EnvLogFormat, orDefault(config.Log.Format, common.DefaultLogFormat)),
	}
	return settings, nil
}

func readEnv() Settings {
	return Settings{
		ListenPort:     getIntOrDefault(common.EnvListenPort, common.DefaultListenPort),
		RequestTimeout: getDurationOrDefault(common.EnvRequestTimeout, 10*time.Second),
		CookieSecure:   getBoolOrDefault(common.EnvCookieSecure, false),

		ModelDir:        getEnvOrDefault(common.EnvModelDir, common.DefaultModelDir),
		ModelKind:       getEnvOrDefault(common.EnvModelKind, common.DefaultModelKind),
		ModelURL:        os.Getenv(common.EnvModelURL), // remote kind only
		ModelTimeout:    getDurationOrDefault(common.EnvModelTimeout, 5*time.Second),
		ModelServerPort: getIntOrDefault(common.EnvModelServerPort, 0),
		PythonPath:      os.Getenv(common.EnvPythonPath),

		SchemaProfile: getEnvOrDefault(common.EnvSchemaProfile, common.DefaultSchemaProfile),
		SchemaFile:    os.Getenv(common.EnvSchemaFile),

		HistoryBackend: getEnvOrDefault(common.EnvHistoryBackend, common.DefaultHistoryBackend),
		HistoryPath:    getEnvOrDefault(common.EnvHistoryPath, common.DefaultHistoryPath),
		DatabaseURL:    os.Getenv(common.EnvDatabaseURL),
		StoreTimeout:   getDurationOrDefault(common.EnvStoreTimeout, 5*time.Second),

		SessionBackend: getEnvOrDefault(common.EnvSessionBackend, common.DefaultSessionBackend),
		RedisAddr:      getEnvOrDefault(common.EnvRedisAddr, common.DefaultRedisAddr),
		RedisPassword:  os.Getenv(common.EnvRedisPassword),
		RedisDB:        getIntOrDefault(common.EnvRedisDB, 0),
		SessionTTL:     getDurationOrDefault(common.EnvSessionTTL, 12*time.Hour),
		Users:          os.Getenv(common.EnvAuthUsers),
		AuthDisabled:   getBoolOrDefault(common.EnvAuthDisabled, false),

		LogLevel:  getEnvOrDefault(common.EnvLogLevel, common.DefaultLogLevel),
		LogFormat: getEnvOrDefault(common.EnvLogFormat, common.DefaultLogFormat),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getIntFromEnvOrConfig(key string, configValue, defaultValue int) int {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.Atoi(env); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

func getDurationFromEnvOrConfig(key, configValue string, defaultValue time.Duration) time.Duration {
	if env := os.Getenv(key); env != "" {
		if d, err := time.ParseDuration(env); err == nil {
			return d
		}
	}
	if d, err := time.ParseDuration(configValue); err == nil {
		return d
	}
	return defaultValue
}

func getBoolFromEnvOrConfig(key string, configValue bool) bool {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseBool(env); err == nil {
			return val
		}
	}
	return configValue
}

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// validateSettings performs comprehensive validation of configuration values
func validateSettings(settings *Settings) error {
	// Validate ports
	if settings.ListenPort < common.MinPort || settings.ListenPort > common.MaxPort {
		return fmt.Errorf("listen port must be between %d and %d, got %d", common.MinPort, common.MaxPort, settings.ListenPort)
	}
	if settings.ModelServerPort != 0 {
		if settings.ModelServerPort < common.MinPort || settings.ModelServerPort > common.MaxPort {
			return fmt.Errorf("model server port must be between %d and %d, got %d", common.MinPort, common.MaxPort, settings.ModelServerPort)
		}
		if settings.ModelServerPort == settings.ListenPort {
			return fmt.Errorf("model server port %d collides with the listen port", settings.ModelServerPort)
		}
	}

	// Validate time durations
	if settings.RequestTimeout < time.Second || settings.RequestTimeout > 5*time.Minute {
		return fmt.Errorf("request timeout must be between 1s and 5m, got %v", settings.RequestTimeout)
	}
	if settings.ModelTimeout < 100*time.Millisecond || settings.ModelTimeout > time.Minute {
		return fmt.Errorf("model timeout must be between 100ms and 1m, got %v", settings.ModelTimeout)
	}
	if settings.StoreTimeout < 100*time.Millisecond || settings.StoreTimeout > time.Minute {
		return fmt.Errorf("store timeout must be between 100ms and 1m, got %v", settings.StoreTimeout)
	}

	// Validate model selection
	if !oneOf(settings.ModelKind, modelKinds) {
		return fmt.Errorf("model kind must be one of %s, got %q", strings.Join(modelKinds, ", "), settings.ModelKind)
	}
	if settings.ModelKind == "remote" {
		if settings.ModelURL == "" {
			return fmt.Errorf(common.ErrMsgModelURL)
		}
	} else if settings.ModelDir == "" {
		return fmt.Errorf("model directory cannot be empty")
	}
	if settings.SchemaFile == "" && settings.SchemaProfile == "" {
		return fmt.Errorf("either a schema profile or a schema file is required")
	}

	// Validate history backend
	if !oneOf(settings.HistoryBackend, historyBackends) {
		return fmt.Errorf("history backend must be one of %s, got %q", strings.Join(historyBackends, ", "), settings.HistoryBackend)
	}
	switch settings.HistoryBackend {
	case "postgres":
		if settings.DatabaseURL == "" {
			return fmt.Errorf(common.ErrMsgDatabaseURL)
		}
	case "csv", "bolt", "sqlite":
		if settings.HistoryPath == "" {
			return fmt.Errorf(common.ErrMsgHistoryPath)
		}
	}

	// Validate access control
	if !settings.AuthDisabled && strings.TrimSpace(settings.Users) == "" {
		return fmt.Errorf(common.ErrMsgUsersRequired)
	}
	if !oneOf(settings.SessionBackend, sessionBackends) {
		return fmt.Errorf("session backend must be one of %s, got %q", strings.Join(sessionBackends, ", "), settings.SessionBackend)
	}
	if settings.SessionBackend == common.SessionRedis && settings.RedisAddr == "" {
		return fmt.Errorf("redis address cannot be empty for the redis session backend")
	}
	if settings.SessionTTL < common.MinSessionTTLMins*time.Minute || settings.SessionTTL > common.MaxSessionTTLDays*24*time.Hour {
		return fmt.Errorf("session TTL must be between 1m and 30 days, got %v", settings.SessionTTL)
	}

	// Validate logging
	if !oneOf(settings.LogFormat, logFormats) {
		return fmt.Errorf("log format must be console or json, got %q", settings.LogFormat)
	}

	return nil
}
