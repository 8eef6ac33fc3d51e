package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// DefaultConfigPath is where Load looks for the YAML file.
const DefaultConfigPath = "config.yaml"

// Config holds all configuration for the rules engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3443"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL" env-default:""` // Auto-derived from Port if empty
	Version  string `yaml:"-"`                                      // Set at load time, not from config

	// TLS configuration (optional - if both provided, server uses HTTPS)
	TLSCertPath string `yaml:"tls_cert_path" env:"TLS_CERT_PATH" env-default:""`
	TLSKeyPath  string `yaml:"tls_key_path" env:"TLS_KEY_PATH" env-default:""`

	Auth       AuthConfig       `yaml:"auth"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	LLM        LLMConfig        `yaml:"llm"`
	Ingestion  IngestionConfig  `yaml:"ingestion"`
	Conflicts  ConflictConfig   `yaml:"conflicts"`
	Vocabulary VocabularyConfig `yaml:"vocabulary"`
}

// AuthConfig holds authentication-related configuration.
type AuthConfig struct {
	// EnableVerification controls whether JWT tokens are validated.
	// Set to false for local development without auth server.
	EnableVerification bool `yaml:"enable_verification" env:"AUTH_ENABLE_VERIFICATION" env-default:"true"`

	// JWKSEndpointsStr is a comma-separated list of issuer=jwks_url pairs.
	// Format: "issuer1=url1,issuer2=url2"
	JWKSEndpointsStr string `yaml:"jwks_endpoints" env:"JWKS_ENDPOINTS" env-default:"https://auth.ekaya.ai=https://auth.ekaya.ai/.well-known/jwks.json"`

	// JWKSEndpoints is the parsed map from JWKSEndpointsStr (not from config file).
	JWKSEndpoints map[string]string `yaml:"-"`

	// Audience must be listed in the token's aud claim. Empty disables the check.
	Audience string `yaml:"audience" env:"AUTH_AUDIENCE" env-default:"sop-rules-engine"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"sop_rules"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"sop_rules"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	MaxIdleConns   int32  `yaml:"max_idle_conns" env:"PGMAX_IDLE_CONNS" env-default:"5"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// RedisConfig holds the optional Redis connection used for collection locks.
// Leave Host empty to use in-process locks (single replica only).
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	// LockTTL bounds how long a crashed writer can hold a collection lock.
	LockTTL time.Duration `yaml:"lock_ttl" env:"REDIS_LOCK_TTL" env-default:"10m"`
}

// LLM providers.
const (
	LLMProviderNone      = "none"
	LLMProviderOpenAI    = "openai"
	LLMProviderAnthropic = "anthropic"
)

// LLMConfig configures the rule extraction model.
type LLMConfig struct {
	Provider  string `yaml:"provider" env:"LLM_PROVIDER" env-default:"none"`
	BaseURL   string `yaml:"base_url" env:"LLM_BASE_URL" env-default:"https://api.openai.com/v1"`
	Model     string `yaml:"model" env:"LLM_MODEL" env-default:""`
	APIKey    string `yaml:"-" env:"LLM_API_KEY"` // Secret - not in YAML
	MaxTokens int    `yaml:"max_tokens" env:"LLM_MAX_TOKENS" env-default:"4096"`
	JSONMode  bool   `yaml:"json_mode" env:"LLM_JSON_MODE" env-default:"false"`
	// RequestTimeout applies to a single segment extraction call.
	RequestTimeout time.Duration `yaml:"request_timeout" env:"LLM_REQUEST_TIMEOUT" env-default:"2m"`
	// CircuitThreshold is the number of consecutive provider failures that
	// stop further calls for CircuitResetAfter. 0 disables the breaker.
	CircuitThreshold  int           `yaml:"circuit_threshold" env:"LLM_CIRCUIT_THRESHOLD" env-default:"5"`
	CircuitResetAfter time.Duration `yaml:"circuit_reset_after" env:"LLM_CIRCUIT_RESET_AFTER" env-default:"30s"`
}

// IsEnabled reports whether an extraction provider is configured.
func (c *LLMConfig) IsEnabled() bool {
	return c.Provider != "" && c.Provider != LLMProviderNone
}

// Ingestion queue strategies.
const (
	QueueStrategyGlobal = "global"
	QueueStrategyPerSOP = "per_sop"
)

// IngestionConfig controls document ingestion.
type IngestionConfig struct {
	// TagPolicy is the default policy for tags discovered by untrusted runs:
	// "review" or "auto_approve". Trusted runs always auto-approve.
	TagPolicy string `yaml:"tag_policy" env:"INGESTION_TAG_POLICY" env-default:"review"`
	// QueueStrategy is "global" (one document at a time) or "per_sop".
	QueueStrategy string `yaml:"queue_strategy" env:"INGESTION_QUEUE_STRATEGY" env-default:"global"`
	// MaxConcurrent caps parallel documents under the per_sop strategy.
	MaxConcurrent int `yaml:"max_concurrent" env:"INGESTION_MAX_CONCURRENT" env-default:"4"`
	// MaxRetries re-runs a document whose extraction failed transiently.
	MaxRetries int `yaml:"max_retries" env:"INGESTION_MAX_RETRIES" env-default:"0"`
	// MaxSegments rejects documents with more segments than this.
	MaxSegments int `yaml:"max_segments" env:"INGESTION_MAX_SEGMENTS" env-default:"500"`
}

// ConflictConfig controls conflict identity.
type ConflictConfig struct {
	// CanonicalIDs sorts the two rule ids before deriving a conflict id so the
	// id does not depend on collection order. Disable only to keep resolved-id
	// records written with scan-order ids.
	CanonicalIDs bool `yaml:"canonical_ids" env:"CONFLICTS_CANONICAL_IDS" env-default:"true"`
}

// VocabularyConfig points at the default tag vocabulary.
type VocabularyConfig struct {
	// SeedPath is a YAML file of tags seeded as ACTIVE into new projects.
	SeedPath string `yaml:"seed_path" env:"VOCABULARY_SEED_PATH" env-default:""`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	return LoadFrom(DefaultConfigPath, version)
}

// LoadFrom reads configuration from path with environment variable overrides.
// A missing file is not an error; defaults and environment are used instead.
func LoadFrom(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	cfg.Auth.JWKSEndpoints = parseJWKSEndpoints(cfg.Auth.JWKSEndpointsStr)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.BaseURL == "" {
		scheme := "http"
		if cfg.TLSCertPath != "" {
			scheme = "https"
		}
		cfg.BaseURL = (&url.URL{
			Scheme: scheme,
			Host:   "localhost:" + cfg.Port,
		}).String()
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if err := c.validateTLS(); err != nil {
		return fmt.Errorf("invalid TLS configuration: %w", err)
	}

	switch c.Ingestion.TagPolicy {
	case "review", "auto_approve":
	default:
		return fmt.Errorf("invalid ingestion.tag_policy %q: must be review or auto_approve", c.Ingestion.TagPolicy)
	}

	switch c.Ingestion.QueueStrategy {
	case QueueStrategyGlobal, QueueStrategyPerSOP:
	default:
		return fmt.Errorf("invalid ingestion.queue_strategy %q: must be %s or %s",
			c.Ingestion.QueueStrategy, QueueStrategyGlobal, QueueStrategyPerSOP)
	}

	switch c.LLM.Provider {
	case "", LLMProviderNone:
	case LLMProviderOpenAI, LLMProviderAnthropic:
		if c.LLM.Model == "" {
			return fmt.Errorf("llm.model is required when llm.provider is %s", c.LLM.Provider)
		}
	default:
		return fmt.Errorf("invalid llm.provider %q", c.LLM.Provider)
	}

	return nil
}

// validateTLS ensures TLS configuration is valid if provided.
// Both cert and key must be provided together, and files must exist.
func (c *Config) validateTLS() error {
	certSet := c.TLSCertPath != ""
	keySet := c.TLSKeyPath != ""

	if certSet != keySet {
		return fmt.Errorf("both tls_cert_path and tls_key_path must be provided together")
	}

	if certSet {
		if _, err := os.Stat(c.TLSCertPath); err != nil {
			return fmt.Errorf("TLS cert file does not exist: %w", err)
		}
		if _, err := os.Stat(c.TLSKeyPath); err != nil {
			return fmt.Errorf("TLS key file does not exist: %w", err)
		}
	}

	return nil
}

// parseJWKSEndpoints parses the JWKS endpoints string into a map.
// Format: "issuer1=url1,issuer2=url2"
func parseJWKSEndpoints(value string) map[string]string {
	endpoints := make(map[string]string)
	if value == "" {
		return endpoints
	}

	for _, pair := range strings.Split(value, ",") {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) == 2 {
			endpoints[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}
	return endpoints
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		ResolveHostForDocker(c.Host), c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// URL returns the connection string in postgres:// form for migrations.
func (c *DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", ResolveHostForDocker(c.Host), c.Port),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + c.SSLMode,
	}
	return u.String()
}

// Addr returns host:port for the Redis client.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", ResolveHostForDocker(c.Host), c.Port)
}
