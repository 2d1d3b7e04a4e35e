package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
)

// DataPaths holds all data directory and file path configuration
// These paths can be overridden via environment variables
type DataPaths struct {
	// DataDir is the base data directory (OPSPULSE_DATA_DIR, default: ./data)
	DataDir string `mapstructure:"data_dir"`
	// SQLitePath is the SQLite database file path (OPSPULSE_SQLITE_PATH, default: ${DataDir}/opspulse.db)
	SQLitePath string `mapstructure:"sqlite_path"`
}

// Config holds all configuration for the opspulse service
type Config struct {
	// DataPaths holds all data directory configuration
	DataPaths DataPaths `mapstructure:"data_paths"`

	API struct {
		Host string `mapstructure:"host"`
		Port int    `mapstructure:"port"`
		// ReadTimeout/WriteTimeout bound slow clients, in seconds
		ReadTimeout  int `mapstructure:"read_timeout"`
		WriteTimeout int `mapstructure:"write_timeout"`
		RateLimit    struct {
			RequestsPerSecond int `mapstructure:"requests_per_second"`
			Burst             int `mapstructure:"burst"`
		} `mapstructure:"rate_limit"`
	} `mapstructure:"api"`

	Auth struct {
		Enabled   bool   `mapstructure:"enabled"`
		JWTSecret string `mapstructure:"jwt_secret"`
		// JWTExpiry is the token lifetime
		JWTExpiry time.Duration `mapstructure:"jwt_expiry"`
		Username  string        `mapstructure:"username"`
		// Password is hashed into HashedPassword at load time and cleared
		Password       string `mapstructure:"password"`
		HashedPassword string `mapstructure:"hashed_password"`
		BcryptCost     int    `mapstructure:"bcrypt_cost"`
	} `mapstructure:"auth"`

	Redis struct {
		Enabled  bool   `mapstructure:"enabled"`
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	Evaluation struct {
		// Concurrency bounds the tenant fan-out worker pool
		Concurrency int `mapstructure:"concurrency"`
	} `mapstructure:"evaluation"`

	Aggregation struct {
		// FetchTimeout bounds each data source fetch
		FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
		// CacheTTL is how long assembled overviews stay cached in Redis
		CacheTTL time.Duration `mapstructure:"cache_ttl"`
	} `mapstructure:"aggregation"`

	Notifications struct {
		MinSeverity string `mapstructure:"min_severity"`
		// RenotifyWindow suppresses repeat notifications per fingerprint
		RenotifyWindow time.Duration `mapstructure:"renotify_window"`
	} `mapstructure:"notifications"`

	Retention struct {
		Enabled bool `mapstructure:"enabled"`
		// ResolvedMaxAgeDays is how long resolved alerts are kept
		ResolvedMaxAgeDays int           `mapstructure:"resolved_max_age_days"`
		Interval           time.Duration `mapstructure:"interval"`
	} `mapstructure:"retention"`

	Logging struct {
		Level       string `mapstructure:"level"`
		Development bool   `mapstructure:"development"`
	} `mapstructure:"logging"`
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("data_paths.data_dir", "./data")
	viper.SetDefault("data_paths.sqlite_path", "") // Empty = derive from data_dir

	viper.SetDefault("api.host", "0.0.0.0")
	viper.SetDefault("api.port", 8081)
	viper.SetDefault("api.read_timeout", 15)
	viper.SetDefault("api.write_timeout", 30)
	viper.SetDefault("api.rate_limit.requests_per_second", 50)
	viper.SetDefault("api.rate_limit.burst", 100)

	viper.SetDefault("auth.enabled", true)
	viper.SetDefault("auth.jwt_secret", "")
	viper.SetDefault("auth.jwt_expiry", 12*time.Hour)
	viper.SetDefault("auth.username", "admin")
	viper.SetDefault("auth.bcrypt_cost", 10)

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("evaluation.concurrency", 8)

	viper.SetDefault("aggregation.fetch_timeout", 5*time.Second)
	viper.SetDefault("aggregation.cache_ttl", 15*time.Second)

	viper.SetDefault("notifications.min_severity", "WARNING")
	viper.SetDefault("notifications.renotify_window", 1*time.Hour)

	viper.SetDefault("retention.enabled", true)
	viper.SetDefault("retention.resolved_max_age_days", 90)
	viper.SetDefault("retention.interval", 6*time.Hour)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.development", false)
}

// loadFromEnv wires environment variable overrides
func loadFromEnv() {
	viper.SetEnvPrefix("OPSPULSE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Explicit bindings for shorter, cleaner env var names
	_ = viper.BindEnv("data_paths.data_dir", "OPSPULSE_DATA_DIR")
	_ = viper.BindEnv("data_paths.sqlite_path", "OPSPULSE_SQLITE_PATH")
	_ = viper.BindEnv("auth.jwt_secret", "OPSPULSE_JWT_SECRET")
	_ = viper.BindEnv("auth.password", "OPSPULSE_ADMIN_PASSWORD")
	_ = viper.BindEnv("redis.addr", "OPSPULSE_REDIS_ADDR")
}

// validateAndHash validates the config and hashes the admin password
func validateAndHash(config *Config) error {
	if config.Auth.Enabled {
		if len(config.Auth.JWTSecret) < 32 {
			return fmt.Errorf("JWT secret must be at least 32 characters (256 bits)")
		}
		weakSecrets := []string{
			"secret", "password", "changeme", "default", "admin",
			"jwt_secret", "supersecret", "mysecret", "test", "example",
		}
		lowerSecret := strings.ToLower(config.Auth.JWTSecret)
		for _, weak := range weakSecrets {
			if strings.Contains(lowerSecret, weak) {
				return fmt.Errorf("JWT secret appears to contain a weak/default value: use a cryptographically secure random string")
			}
		}
	}

	if config.Auth.Password != "" {
		hashed, err := bcrypt.GenerateFromPassword([]byte(config.Auth.Password), config.Auth.BcryptCost)
		if err != nil {
			return fmt.Errorf("failed to hash password: %w", err)
		}
		config.Auth.HashedPassword = string(hashed)
		config.Auth.Password = "" // clear plain password
	}
	if config.Auth.Enabled && config.Auth.HashedPassword == "" {
		return fmt.Errorf("auth is enabled but no admin password is configured")
	}

	if config.API.Port < 1 || config.API.Port > 65535 {
		return fmt.Errorf("invalid API port %d", config.API.Port)
	}
	if config.Evaluation.Concurrency < 1 {
		return fmt.Errorf("evaluation concurrency must be at least 1")
	}
	switch config.Notifications.MinSeverity {
	case "INFO", "WARNING", "CRITICAL":
	default:
		return fmt.Errorf("invalid notification min severity %q", config.Notifications.MinSeverity)
	}
	return nil
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()
	loadFromEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, will use defaults and env vars
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validateAndHash(&config); err != nil {
		return nil, err
	}

	config.ResolveDataPaths()
	return &config, nil
}

// ResolveDataPaths derives unset paths from DataDir
func (c *Config) ResolveDataPaths() {
	dataDir := c.DataPaths.DataDir
	if dataDir == "" {
		dataDir = "./data"
	}
	if c.DataPaths.SQLitePath == "" {
		c.DataPaths.SQLitePath = filepath.Join(dataDir, "opspulse.db")
	} else if !filepath.IsAbs(c.DataPaths.SQLitePath) {
		c.DataPaths.SQLitePath = filepath.Clean(c.DataPaths.SQLitePath)
	}
}

// VerifyAdminPassword checks a login attempt against the stored hash
func (c *Config) VerifyAdminPassword(username, password string) bool {
	if username != c.Auth.Username || c.Auth.HashedPassword == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(c.Auth.HashedPassword), []byte(password)) == nil
}

// RetentionCutoff returns the timestamp before which resolved alerts expire
func (c *Config) RetentionCutoff(now time.Time) time.Time {
	days := c.Retention.ResolvedMaxAgeDays
	if days < 1 {
		days = 90
	}
	return now.AddDate(0, 0, -days)
}
