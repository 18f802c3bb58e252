// Package config loads Composer configuration from defaults, an optional
// YAML file, and environment variable overrides, in that order:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("composer.yaml").
//	    WithEnvPrefix("COMPOSER").
//	    Load()
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete Composer configuration.
type Config struct {
	// Server HTTP server settings
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Orchestrator request processing and execution settings
	Orchestrator OrchestratorConfig `yaml:"orchestrator" env:"ORCHESTRATOR"`

	// Intent resolver settings
	Intent IntentConfig `yaml:"intent" env:"INTENT"`

	// Registry promotion thresholds and search settings
	Registry RegistryConfig `yaml:"registry" env:"REGISTRY"`

	// Knowledge retention settings
	Knowledge KnowledgeConfig `yaml:"knowledge" env:"KNOWLEDGE"`

	// Learning background cycle settings
	Learning LearningConfig `yaml:"learning" env:"LEARNING"`

	// ToolPool external tool catalog client settings
	ToolPool ToolPoolConfig `yaml:"tool_pool" env:"TOOL_POOL"`

	// Redis semantic index and cache settings
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database persistence settings
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Auth API authentication settings
	Auth AuthConfig `yaml:"auth" env:"AUTH"`

	// Log logging settings
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry OTel settings
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port" env:"HTTP_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// OrchestratorConfig holds request processing and execution budgets.
type OrchestratorConfig struct {
	// Per-step execution budget unless a step declares its own.
	StepTimeout time.Duration `yaml:"step_timeout" env:"STEP_TIMEOUT"`
	// Whole-composition budget. Exceeding it is fatal.
	CompositionTimeout time.Duration `yaml:"composition_timeout" env:"COMPOSITION_TIMEOUT"`
	// Upper bound on steps per composition.
	MaxSteps int `yaml:"max_steps" env:"MAX_STEPS"`
	// Bound on concurrent iteration branches per step.
	MaxIterationConcurrency int `yaml:"max_iteration_concurrency" env:"MAX_ITERATION_CONCURRENCY"`
	// Catalog search width during ad-hoc decomposition.
	DecomposeSearchLimit int `yaml:"decompose_search_limit" env:"DECOMPOSE_SEARCH_LIMIT"`
}

// IntentConfig holds intent resolver settings.
type IntentConfig struct {
	// Optional YAML file with declarative pattern rules.
	RulesPath string `yaml:"rules_path" env:"RULES_PATH"`
	// Confidence reported for keyword classifier matches.
	ClassifierConfidence float64 `yaml:"classifier_confidence" env:"CLASSIFIER_CONFIDENCE"`
}

// RegistryConfig holds promotion thresholds and search settings.
type RegistryConfig struct {
	// Promotion requires at least this many recorded executions.
	MinExecutions int `yaml:"min_executions" env:"MIN_EXECUTIONS"`
	// Promotion requires at least this success rate.
	MinSuccessRate float64 `yaml:"min_success_rate" env:"MIN_SUCCESS_RATE"`
	// Default number of search results.
	SearchTopK int `yaml:"search_top_k" env:"SEARCH_TOP_K"`
	// Minimum similarity for a search hit.
	SimilarityThreshold float64 `yaml:"similarity_threshold" env:"SIMILARITY_THRESHOLD"`
}

// KnowledgeConfig holds knowledge base retention settings.
type KnowledgeConfig struct {
	// Records older than this are pruned.
	Retention time.Duration `yaml:"retention" env:"RETENTION"`
	// Cap on records returned by a single query.
	QueryLimit int `yaml:"query_limit" env:"QUERY_LIMIT"`
}

// LearningConfig holds background learning cycle settings.
type LearningConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// Interval between cycles.
	Interval time.Duration `yaml:"interval" env:"INTERVAL"`
	// Analyzer only considers compositions with at least this many records.
	MinSamples int `yaml:"min_samples" env:"MIN_SAMPLES"`
	// Failure rate above which a step is flagged as problematic.
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" env:"FAILURE_RATE_THRESHOLD"`
	// Rate limit on catalog searches from the alternative generator.
	CatalogSearchRPS float64 `yaml:"catalog_search_rps" env:"CATALOG_SEARCH_RPS"`
}

// ToolPoolConfig holds the external tool pool client settings.
type ToolPoolConfig struct {
	// Base URL of the tool pool HTTP API.
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// Optional bearer token sent on every call.
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// Per-call HTTP timeout.
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// Extra attempts on transport errors and retryable statuses.
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
}

// RedisConfig holds Redis settings for the semantic index and cache.
type RedisConfig struct {
	Addr         string `yaml:"addr" env:"ADDR"`
	Password     string `yaml:"password" env:"PASSWORD"`
	DB           int    `yaml:"db" env:"DB"`
	PoolSize     int    `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int    `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	KeyPrefix    string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// DatabaseConfig holds persistence settings.
type DatabaseConfig struct {
	// Driver type: postgres, mysql, sqlite
	Driver          string        `yaml:"driver" env:"DRIVER"`
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	User            string        `yaml:"user" env:"USER"`
	Password        string        `yaml:"password" env:"PASSWORD"`
	Name            string        `yaml:"name" env:"NAME"`
	SSLMode         string        `yaml:"ssl_mode" env:"SSL_MODE"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// HS256 signing secret for bearer tokens.
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
	// Expected token issuer; empty disables the check.
	Issuer string `yaml:"issuer" env:"ISSUER"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// Format: json, console
	Format           string   `yaml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig holds OTel settings.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// Loader loads configuration with a builder API.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "COMPOSER",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML config file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator adds a validation pass run after loading.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load resolves the configuration.
// Precedence: defaults, then YAML file, then environment variables.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad loads configuration from a file path, panicking on failure.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate checks the configuration for internally inconsistent values.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Orchestrator.StepTimeout <= 0 {
		errs = append(errs, "step_timeout must be positive")
	}
	if c.Orchestrator.CompositionTimeout < c.Orchestrator.StepTimeout {
		errs = append(errs, "composition_timeout must be at least step_timeout")
	}
	if c.Orchestrator.MaxSteps <= 0 {
		errs = append(errs, "max_steps must be positive")
	}
	if c.Registry.MinExecutions <= 0 {
		errs = append(errs, "min_executions must be positive")
	}
	if c.Registry.MinSuccessRate < 0 || c.Registry.MinSuccessRate > 1 {
		errs = append(errs, "min_success_rate must be between 0 and 1")
	}
	if c.Knowledge.Retention <= 0 {
		errs = append(errs, "knowledge retention must be positive")
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		errs = append(errs, "auth enabled without jwt_secret")
	}
	if c.ToolPool.BaseURL == "" {
		errs = append(errs, "tool_pool base_url must be set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN returns the database connection string for the configured driver.
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
