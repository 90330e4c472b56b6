package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const defaultAccessSecret = "change-me-access-secret"
const defaultRefreshSecret = "change-me-refresh-secret"

// Config holds all gateway configuration
type Config struct {
	App        AppConfig
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	NATS       NATSConfig
	JWT        JWTConfig
	Tenant     TenantConfig
	Access     AccessConfig
	RateLimit  RateLimitConfig
	Audit      AuditConfig
	Isolation  IsolationConfig
	Invitation InvitationConfig
	CORS       CORSConfig
	Routes     []RouteRule
	OTel       OTelConfig
}

// AppConfig holds application-level settings
type AppConfig struct {
	Name        string
	Environment string // development, staging, production
	Debug       bool
	Version     string
	LogLevel    string
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	// TrustedProxies lists the addresses or CIDRs whose forwarding headers
	// are believed when deriving the client IP. Empty trusts none.
	TrustedProxies []string
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxConns        int
	MinConns        int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	AutoMigrate     bool
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Addr returns the Redis address
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// KafkaConfig holds Kafka/Redpanda connection settings
type KafkaConfig struct {
	Brokers  []string
	ClientID string
}

// NATSConfig holds the tenant invalidation subscription settings
type NATSConfig struct {
	Enabled       bool
	URL           string
	TenantSubject string
}

// JWTConfig holds credential settings
type JWTConfig struct {
	AccessSecret      string
	RefreshSecret     string
	AccessTokenTTL    time.Duration
	RefreshTokenTTL   time.Duration
	Issuer            string
	Audience          string
	BcryptCost        int
	VerifyTimeout     time.Duration
	RevocationEnabled bool
}

// TenantConfig holds tenant resolution settings
type TenantConfig struct {
	BaseDomain         string
	ReservedSubdomains []string
	QueryParam         string
	Directory          string // postgres, memory
	CacheTTL           time.Duration
	LocalCacheTTL      time.Duration
	CacheMaxCost       int64
	SharedCache        bool
	LookupTimeout      time.Duration
}

// AccessConfig holds feature and usage gating settings
type AccessConfig struct {
	FeatureRules         []FeatureRule
	UsageRules           []UsageRule
	UsageTimeout         time.Duration
	FailOpenOnUsageError bool
}

// RateLimitConfig holds tenant rate limit settings
type RateLimitConfig struct {
	Enabled       bool
	Backend       string // local, redis
	DefaultMax    int
	DefaultWindow time.Duration
	Rules         []RateRule
	StoreTimeout  time.Duration
}

// AuditConfig holds audit recorder settings
type AuditConfig struct {
	Enabled       bool
	Sinks         []string // postgres, kafka, log
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	WriteTimeout  time.Duration
	KafkaTopic    string
	Rules         []AuditRule
}

// IsolationConfig holds request rewriting settings
type IsolationConfig struct {
	Field       string
	QueryParam  string
	MaxBodySize int64
}

// InvitationConfig holds invitation and membership key settings
type InvitationConfig struct {
	Store                string // redis, memory
	DefaultTTL           time.Duration
	DefaultMaxUses       int
	MembershipKeyBaseURL string
}

// CORSConfig holds CORS settings
type CORSConfig struct {
	AllowedOrigins []string
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled       bool
	ServiceName   string
	CollectorAddr string
	SampleRatio   float64
}

// Load loads configuration from environment variables and .env file
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")

	// A missing .env is fine, environment variables still apply
	_ = v.ReadInConfig()

	return load(v)
}

// LoadWithPath loads configuration from a specific path
func LoadWithPath(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("env")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	cfg := &Config{}
	if err := bindConfig(v, cfg); err != nil {
		return nil, fmt.Errorf("failed to bind config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("APP_NAME", "membership-gateway")
	v.SetDefault("APP_ENVIRONMENT", "development")
	v.SetDefault("APP_DEBUG", true)
	v.SetDefault("APP_VERSION", "1.0.0")
	v.SetDefault("LOG_LEVEL", "info")

	// Server defaults
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("SERVER_READ_TIMEOUT", "30s")
	v.SetDefault("SERVER_WRITE_TIMEOUT", "30s")
	v.SetDefault("SERVER_IDLE_TIMEOUT", "120s")
	v.SetDefault("SERVER_SHUTDOWN_TIMEOUT", "15s")
	v.SetDefault("SERVER_TRUSTED_PROXIES", "")

	// Database defaults
	v.SetDefault("DATABASE_HOST", "localhost")
	v.SetDefault("DATABASE_PORT", 5432)
	v.SetDefault("DATABASE_USER", "postgres")
	v.SetDefault("DATABASE_PASSWORD", "postgres")
	v.SetDefault("DATABASE_DBNAME", "membership")
	v.SetDefault("DATABASE_SSLMODE", "disable")
	v.SetDefault("DATABASE_MAX_CONNS", 25)
	v.SetDefault("DATABASE_MIN_CONNS", 5)
	v.SetDefault("DATABASE_CONN_MAX_LIFETIME", "1h")
	v.SetDefault("DATABASE_CONN_MAX_IDLE_TIME", "30m")
	v.SetDefault("DATABASE_AUTO_MIGRATE", true)

	// Redis defaults
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 100)
	v.SetDefault("REDIS_MIN_IDLE_CONNS", 10)
	v.SetDefault("REDIS_DIAL_TIMEOUT", "5s")
	v.SetDefault("REDIS_READ_TIMEOUT", "3s")
	v.SetDefault("REDIS_WRITE_TIMEOUT", "3s")

	// Kafka defaults
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_CLIENT_ID", "membership-gateway")

	// NATS defaults
	v.SetDefault("NATS_ENABLED", false)
	v.SetDefault("NATS_URL", "nats://localhost:4222")
	v.SetDefault("NATS_TENANT_SUBJECT", "tenant.updated")

	// JWT defaults
	v.SetDefault("JWT_ACCESS_SECRET", defaultAccessSecret)
	v.SetDefault("JWT_REFRESH_SECRET", defaultRefreshSecret)
	v.SetDefault("JWT_ACCESS_TOKEN_TTL", "15m")
	v.SetDefault("JWT_REFRESH_TOKEN_TTL", "168h") // 7 days
	v.SetDefault("JWT_ISSUER", "membership-gateway")
	v.SetDefault("JWT_AUDIENCE", "membership-platform")
	v.SetDefault("JWT_BCRYPT_COST", 12)
	v.SetDefault("JWT_VERIFY_TIMEOUT", "500ms")
	v.SetDefault("JWT_REVOCATION_ENABLED", true)

	// Tenant defaults
	v.SetDefault("TENANT_BASE_DOMAIN", "localhost")
	v.SetDefault("TENANT_RESERVED_SUBDOMAINS", "www,api")
	v.SetDefault("TENANT_QUERY_PARAM", "tenant")
	v.SetDefault("TENANT_DIRECTORY", "postgres")
	v.SetDefault("TENANT_CACHE_TTL", "5m")
	v.SetDefault("TENANT_LOCAL_CACHE_TTL", "30s")
	v.SetDefault("TENANT_CACHE_MAX_COST", 64<<20)
	v.SetDefault("TENANT_SHARED_CACHE", true)
	v.SetDefault("TENANT_LOOKUP_TIMEOUT", "2s")

	// Access defaults
	v.SetDefault("ACCESS_FEATURE_RULES", "/api/v1/biometric=biometric_auth,/api/v1/analytics=advanced_analytics,/api/v1/sso=sso")
	v.SetDefault("ACCESS_USAGE_RULES", "/api/v1/members=members")
	v.SetDefault("ACCESS_USAGE_TIMEOUT", "500ms")
	v.SetDefault("ACCESS_FAIL_OPEN_ON_USAGE_ERROR", false)

	// Rate limit defaults
	v.SetDefault("RATE_LIMIT_ENABLED", true)
	v.SetDefault("RATE_LIMIT_BACKEND", "redis")
	v.SetDefault("RATE_LIMIT_DEFAULT_MAX", 1000)
	v.SetDefault("RATE_LIMIT_DEFAULT_WINDOW", "1m")
	v.SetDefault("RATE_LIMIT_RULES", "/api/v1/auth=20/1m,/api/v1/invitations/redeem=10/1m")
	v.SetDefault("RATE_LIMIT_STORE_TIMEOUT", "200ms")

	// Audit defaults
	v.SetDefault("AUDIT_ENABLED", true)
	v.SetDefault("AUDIT_SINKS", "postgres")
	v.SetDefault("AUDIT_BUFFER_SIZE", 1000)
	v.SetDefault("AUDIT_BATCH_SIZE", 100)
	v.SetDefault("AUDIT_FLUSH_INTERVAL", "5s")
	v.SetDefault("AUDIT_WRITE_TIMEOUT", "5s")
	v.SetDefault("AUDIT_KAFKA_TOPIC", "audit.records")
	v.SetDefault("AUDIT_RULES", "POST /api/v1/invitations=invitation.create,POST /api/v1/auth/revoke=credential.revoke,DELETE /api/v1/members=member.delete,PUT /api/v1/tenant/settings=tenant.settings.update")

	// Isolation defaults
	v.SetDefault("ISOLATION_FIELD", "tenantId")
	v.SetDefault("ISOLATION_QUERY_PARAM", "tenantId")
	v.SetDefault("ISOLATION_MAX_BODY_SIZE", 1<<20)

	// Invitation defaults
	v.SetDefault("INVITATION_STORE", "redis")
	v.SetDefault("INVITATION_DEFAULT_TTL", "168h")
	v.SetDefault("INVITATION_DEFAULT_MAX_USES", 1)
	v.SetDefault("MEMBERSHIP_KEY_BASE_URL", "https://members.localhost/verify")

	// CORS defaults
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")

	// Downstream routes
	v.SetDefault("ROUTES", "")

	// OTel defaults
	v.SetDefault("OTEL_ENABLED", false)
	v.SetDefault("OTEL_SERVICE_NAME", "membership-gateway")
	v.SetDefault("OTEL_COLLECTOR_ADDR", "localhost:4317")
	v.SetDefault("OTEL_SAMPLE_RATIO", 1.0)
}

func bindConfig(v *viper.Viper, cfg *Config) error {
	var err error

	// App
	cfg.App.Name = v.GetString("APP_NAME")
	cfg.App.Environment = v.GetString("APP_ENVIRONMENT")
	cfg.App.Debug = v.GetBool("APP_DEBUG")
	cfg.App.Version = v.GetString("APP_VERSION")
	cfg.App.LogLevel = v.GetString("LOG_LEVEL")

	// Server
	cfg.Server.Host = v.GetString("SERVER_HOST")
	cfg.Server.Port = v.GetInt("SERVER_PORT")
	cfg.Server.ReadTimeout = v.GetDuration("SERVER_READ_TIMEOUT")
	cfg.Server.WriteTimeout = v.GetDuration("SERVER_WRITE_TIMEOUT")
	cfg.Server.IdleTimeout = v.GetDuration("SERVER_IDLE_TIMEOUT")
	cfg.Server.ShutdownTimeout = v.GetDuration("SERVER_SHUTDOWN_TIMEOUT")
	cfg.Server.TrustedProxies = splitList(v.GetString("SERVER_TRUSTED_PROXIES"))

	// Database
	cfg.Database.Host = v.GetString("DATABASE_HOST")
	cfg.Database.Port = v.GetInt("DATABASE_PORT")
	cfg.Database.User = v.GetString("DATABASE_USER")
	cfg.Database.Password = v.GetString("DATABASE_PASSWORD")
	cfg.Database.DBName = v.GetString("DATABASE_DBNAME")
	cfg.Database.SSLMode = v.GetString("DATABASE_SSLMODE")
	cfg.Database.MaxConns = v.GetInt("DATABASE_MAX_CONNS")
	cfg.Database.MinConns = v.GetInt("DATABASE_MIN_CONNS")
	cfg.Database.ConnMaxLifetime = v.GetDuration("DATABASE_CONN_MAX_LIFETIME")
	cfg.Database.ConnMaxIdleTime = v.GetDuration("DATABASE_CONN_MAX_IDLE_TIME")
	cfg.Database.AutoMigrate = v.GetBool("DATABASE_AUTO_MIGRATE")

	// Redis
	cfg.Redis.Host = v.GetString("REDIS_HOST")
	cfg.Redis.Port = v.GetInt("REDIS_PORT")
	cfg.Redis.Password = v.GetString("REDIS_PASSWORD")
	cfg.Redis.DB = v.GetInt("REDIS_DB")
	cfg.Redis.PoolSize = v.GetInt("REDIS_POOL_SIZE")
	cfg.Redis.MinIdleConns = v.GetInt("REDIS_MIN_IDLE_CONNS")
	cfg.Redis.DialTimeout = v.GetDuration("REDIS_DIAL_TIMEOUT")
	cfg.Redis.ReadTimeout = v.GetDuration("REDIS_READ_TIMEOUT")
	cfg.Redis.WriteTimeout = v.GetDuration("REDIS_WRITE_TIMEOUT")

	// Kafka
	cfg.Kafka.Brokers = splitList(v.GetString("KAFKA_BROKERS"))
	cfg.Kafka.ClientID = v.GetString("KAFKA_CLIENT_ID")

	// NATS
	cfg.NATS.Enabled = v.GetBool("NATS_ENABLED")
	cfg.NATS.URL = v.GetString("NATS_URL")
	cfg.NATS.TenantSubject = v.GetString("NATS_TENANT_SUBJECT")

	// JWT
	cfg.JWT.AccessSecret = v.GetString("JWT_ACCESS_SECRET")
	cfg.JWT.RefreshSecret = v.GetString("JWT_REFRESH_SECRET")
	cfg.JWT.AccessTokenTTL = v.GetDuration("JWT_ACCESS_TOKEN_TTL")
	cfg.JWT.RefreshTokenTTL = v.GetDuration("JWT_REFRESH_TOKEN_TTL")
	cfg.JWT.Issuer = v.GetString("JWT_ISSUER")
	cfg.JWT.Audience = v.GetString("JWT_AUDIENCE")
	cfg.JWT.BcryptCost = v.GetInt("JWT_BCRYPT_COST")
	cfg.JWT.VerifyTimeout = v.GetDuration("JWT_VERIFY_TIMEOUT")
	cfg.JWT.RevocationEnabled = v.GetBool("JWT_REVOCATION_ENABLED")

	// Tenant
	cfg.Tenant.BaseDomain = v.GetString("TENANT_BASE_DOMAIN")
	cfg.Tenant.ReservedSubdomains = splitList(v.GetString("TENANT_RESERVED_SUBDOMAINS"))
	cfg.Tenant.QueryParam = v.GetString("TENANT_QUERY_PARAM")
	cfg.Tenant.Directory = v.GetString("TENANT_DIRECTORY")
	cfg.Tenant.CacheTTL = v.GetDuration("TENANT_CACHE_TTL")
	cfg.Tenant.LocalCacheTTL = v.GetDuration("TENANT_LOCAL_CACHE_TTL")
	cfg.Tenant.CacheMaxCost = v.GetInt64("TENANT_CACHE_MAX_COST")
	cfg.Tenant.SharedCache = v.GetBool("TENANT_SHARED_CACHE")
	cfg.Tenant.LookupTimeout = v.GetDuration("TENANT_LOOKUP_TIMEOUT")

	// Access
	if cfg.Access.FeatureRules, err = ParseFeatureRules(v.GetString("ACCESS_FEATURE_RULES")); err != nil {
		return err
	}
	if cfg.Access.UsageRules, err = ParseUsageRules(v.GetString("ACCESS_USAGE_RULES")); err != nil {
		return err
	}
	cfg.Access.UsageTimeout = v.GetDuration("ACCESS_USAGE_TIMEOUT")
	cfg.Access.FailOpenOnUsageError = v.GetBool("ACCESS_FAIL_OPEN_ON_USAGE_ERROR")

	// Rate limit
	cfg.RateLimit.Enabled = v.GetBool("RATE_LIMIT_ENABLED")
	cfg.RateLimit.Backend = v.GetString("RATE_LIMIT_BACKEND")
	cfg.RateLimit.DefaultMax = v.GetInt("RATE_LIMIT_DEFAULT_MAX")
	cfg.RateLimit.DefaultWindow = v.GetDuration("RATE_LIMIT_DEFAULT_WINDOW")
	if cfg.RateLimit.Rules, err = ParseRateRules(v.GetString("RATE_LIMIT_RULES")); err != nil {
		return err
	}
	cfg.RateLimit.StoreTimeout = v.GetDuration("RATE_LIMIT_STORE_TIMEOUT")

	// Audit
	cfg.Audit.Enabled = v.GetBool("AUDIT_ENABLED")
	cfg.Audit.Sinks = splitList(v.GetString("AUDIT_SINKS"))
	cfg.Audit.BufferSize = v.GetInt("AUDIT_BUFFER_SIZE")
	cfg.Audit.BatchSize = v.GetInt("AUDIT_BATCH_SIZE")
	cfg.Audit.FlushInterval = v.GetDuration("AUDIT_FLUSH_INTERVAL")
	cfg.Audit.WriteTimeout = v.GetDuration("AUDIT_WRITE_TIMEOUT")
	cfg.Audit.KafkaTopic = v.GetString("AUDIT_KAFKA_TOPIC")
	if cfg.Audit.Rules, err = ParseAuditRules(v.GetString("AUDIT_RULES")); err != nil {
		return err
	}

	// Isolation
	cfg.Isolation.Field = v.GetString("ISOLATION_FIELD")
	cfg.Isolation.QueryParam = v.GetString("ISOLATION_QUERY_PARAM")
	cfg.Isolation.MaxBodySize = v.GetInt64("ISOLATION_MAX_BODY_SIZE")

	// Invitation
	cfg.Invitation.Store = v.GetString("INVITATION_STORE")
	cfg.Invitation.DefaultTTL = v.GetDuration("INVITATION_DEFAULT_TTL")
	cfg.Invitation.DefaultMaxUses = v.GetInt("INVITATION_DEFAULT_MAX_USES")
	cfg.Invitation.MembershipKeyBaseURL = v.GetString("MEMBERSHIP_KEY_BASE_URL")

	// CORS
	cfg.CORS.AllowedOrigins = splitList(v.GetString("CORS_ALLOWED_ORIGINS"))

	// Routes
	if cfg.Routes, err = ParseRoutes(v.GetString("ROUTES")); err != nil {
		return err
	}

	// OTel
	cfg.OTel.Enabled = v.GetBool("OTEL_ENABLED")
	cfg.OTel.ServiceName = v.GetString("OTEL_SERVICE_NAME")
	cfg.OTel.CollectorAddr = v.GetString("OTEL_COLLECTOR_ADDR")
	cfg.OTel.SampleRatio = v.GetFloat64("OTEL_SAMPLE_RATIO")

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app name is required")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	for _, proxy := range c.Server.TrustedProxies {
		if net.ParseIP(proxy) == nil {
			if _, _, err := net.ParseCIDR(proxy); err != nil {
				return fmt.Errorf("invalid trusted proxy %q", proxy)
			}
		}
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.DBName == "" {
		return fmt.Errorf("database name is required")
	}

	if c.JWT.AccessSecret == "" || c.JWT.RefreshSecret == "" {
		return fmt.Errorf("JWT access and refresh secrets are required")
	}

	if c.JWT.AccessSecret == c.JWT.RefreshSecret {
		return fmt.Errorf("JWT access and refresh secrets must differ")
	}

	if c.IsProduction() && (c.JWT.AccessSecret == defaultAccessSecret || c.JWT.RefreshSecret == defaultRefreshSecret) {
		return fmt.Errorf("JWT secrets must be changed in production")
	}

	switch c.Tenant.Directory {
	case "postgres", "memory":
	default:
		return fmt.Errorf("invalid tenant directory: %q", c.Tenant.Directory)
	}

	switch c.RateLimit.Backend {
	case "redis", "local":
	default:
		return fmt.Errorf("invalid rate limit backend: %q", c.RateLimit.Backend)
	}

	switch c.Invitation.Store {
	case "redis", "memory":
	default:
		return fmt.Errorf("invalid invitation store: %q", c.Invitation.Store)
	}

	for _, sink := range c.Audit.Sinks {
		switch sink {
		case "postgres", "kafka", "log":
		default:
			return fmt.Errorf("invalid audit sink: %q", sink)
		}
	}

	if c.Isolation.Field == "" || c.Isolation.QueryParam == "" {
		return fmt.Errorf("isolation field and query param are required")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
