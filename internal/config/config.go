// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.qcanalyst/config.yaml or ./config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - Storage: PostgreSQL connection
//   - ETL: batch sizing, slot capacities, load lock location
//   - Rates: per-fiscal-year tolerance thresholds for official error rates
//   - AI: provider and model for the NL-to-SQL generator
//
// Sensitive data (the database password) is never logged; MarshalJSON and
// String mask it explicitly.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidBatchSize indicates the ETL batch size is out of range.
	ErrInvalidBatchSize = errors.New("invalid ETL batch size")

	// ErrInvalidSlotCount indicates a member/error slot capacity is out of range.
	ErrInvalidSlotCount = errors.New("invalid slot count")

	// ErrInvalidTolerance indicates a tolerance threshold entry is malformed.
	ErrInvalidTolerance = errors.New("invalid tolerance threshold")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidQueryLimit indicates the query row limit is out of range.
	ErrInvalidQueryLimit = errors.New("invalid query row limit")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini   = "gemini"
	ProviderGoogleAI = "googleai"
)

const (
	// DefaultQueryLimit is the row limit applied to ad-hoc queries when the
	// caller does not specify one.
	DefaultQueryLimit = 100

	// MaxQueryLimit is the absolute cap on rows returned by the query
	// execution boundary.
	MaxQueryLimit = 10000

	// DefaultToleranceYear and DefaultToleranceAmount seed the threshold
	// table when the config file carries none. $54 is the published FY2023
	// QC tolerance threshold.
	DefaultToleranceYear   = 2023
	DefaultToleranceAmount = 54.0
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
type Config struct {
	// Storage configuration
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// ETL configuration
	BatchSize    int    `mapstructure:"batch_size" json:"batch_size"`
	MaxMembers   int    `mapstructure:"max_members" json:"max_members"`
	MaxErrors    int    `mapstructure:"max_errors" json:"max_errors"`
	LockDir      string `mapstructure:"lock_dir" json:"lock_dir"`
	QueryLimit   int    `mapstructure:"query_limit" json:"query_limit"`

	// ToleranceThresholds maps fiscal year to the dollar amount below which
	// a QC error does not count toward official payment-error statistics.
	// Viper lowercases map keys, so the raw type is map[string]float64;
	// use ToleranceThreshold() for lookups.
	ToleranceThresholds map[string]float64 `mapstructure:"tolerance_thresholds" json:"tolerance_thresholds"`

	// AI provider and model for the NL-to-SQL generator
	Provider  string `mapstructure:"provider" json:"provider"`
	ModelName string `mapstructure:"model_name" json:"model_name"`

	// HTTP server configuration
	ServeAddr string `mapstructure:"serve_addr" json:"serve_addr"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".qcanalyst")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL, when set, overrides all postgres_* keys.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	// Fail fast on bad configuration.
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "qcanalyst")
	viper.SetDefault("postgres_password", "qcanalyst_dev_password")
	viper.SetDefault("postgres_db_name", "qcanalyst")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// ETL defaults
	viper.SetDefault("batch_size", 1000)
	viper.SetDefault("max_members", 17)
	viper.SetDefault("max_errors", 9)
	viper.SetDefault("lock_dir", os.TempDir())
	viper.SetDefault("query_limit", DefaultQueryLimit)

	// Published QC tolerance thresholds by fiscal year.
	viper.SetDefault("tolerance_thresholds", map[string]float64{
		strconv.Itoa(DefaultToleranceYear): DefaultToleranceAmount,
	})

	// AI defaults
	viper.SetDefault("provider", ProviderGemini)
	viper.SetDefault("model_name", "gemini-2.5-flash")

	// HTTP defaults
	viper.SetDefault("serve_addr", "127.0.0.1:3400")
}

// bindEnvVariables binds environment variables explicitly.
// GEMINI_API_KEY is read directly by Genkit, not via Viper.
func bindEnvVariables() {
	// Hardcoded keys cannot fail to bind; a panic here is a bug, not a
	// runtime error.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("postgres_host", "QCANALYST_POSTGRES_HOST")
	mustBind("postgres_password", "QCANALYST_POSTGRES_PASSWORD")
	mustBind("provider", "QCANALYST_PROVIDER")
	mustBind("model_name", "QCANALYST_MODEL_NAME")
	mustBind("serve_addr", "QCANALYST_SERVE_ADDR")
}

// parseDatabaseURL applies DATABASE_URL on top of the postgres_* keys.
func (c *Config) parseDatabaseURL() error {
	raw := os.Getenv("DATABASE_URL")
	if raw == "" {
		return nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parsing URL: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	c.PostgresHost = u.Hostname()
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("parsing port: %w", err)
		}
		c.PostgresPort = port
	}
	if u.User != nil {
		c.PostgresUser = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			c.PostgresPassword = pw
		}
	}
	if name := strings.TrimPrefix(u.Path, "/"); name != "" {
		c.PostgresDBName = name
	}
	if mode := u.Query().Get("sslmode"); mode != "" {
		c.PostgresSSLMode = mode
	}
	return nil
}

// DatabaseURL returns the postgres:// connection URL for pgx and
// golang-migrate.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.PostgresUser),
		url.QueryEscape(c.PostgresPassword),
		c.PostgresHost,
		c.PostgresPort,
		c.PostgresDBName,
		c.PostgresSSLMode,
	)
}

// ToleranceThreshold returns the tolerance threshold for a fiscal year.
// Unknown years fall back to the most recent configured year's threshold;
// ok reports whether the year itself was configured.
func (c *Config) ToleranceThreshold(fiscalYear int) (amount float64, ok bool) {
	if v, found := c.ToleranceThresholds[strconv.Itoa(fiscalYear)]; found {
		return v, true
	}

	latestYear := 0
	latest := 0.0
	for k, v := range c.ToleranceThresholds {
		y, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		if y > latestYear {
			latestYear = y
			latest = v
		}
	}
	if latestYear == 0 {
		return DefaultToleranceAmount, false
	}
	return latest, false
}

// FullModelName returns the provider-qualified model name for Genkit.
// Example: "googleai/gemini-2.5-flash". If ModelName already contains a
// "/", it is returned as-is.
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	return ProviderGoogleAI + "/" + c.ModelName
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging. Short secrets are
// fully masked to prevent substring matching; longer ones keep the first
// and last two characters for debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field
// masking. When adding new sensitive fields, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
