package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Security SecurityConfig
	OAuth    OAuthConfig
	Bot      BotConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host        string
	Port        string
	FrontendURL string
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds the optional shared-cache configuration.
// When Addr is empty the ephemeral stores fall back to in-process maps.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// SecurityConfig holds credential and session hardening parameters
type SecurityConfig struct {
	// Pepper is the server-wide secret mixed into password hashes.
	// When empty a random pepper is generated at startup, which
	// invalidates every stored hash on restart.
	Pepper string

	ArgonMemoryKiB   uint32
	ArgonIterations  uint32
	ArgonParallelism uint8
	SessionTTL       time.Duration
	MaxLoginFailures int
	LockoutDuration  time.Duration
	FailurePadding   time.Duration
	AttemptWindow    time.Duration
	AttemptThreshold int
	BlockDuration    time.Duration
	AuthRateLimit    int
	AuthRateWindow   time.Duration
	LoginRateLimit   int
	LoginRateWindow  time.Duration
}

// OAuthConfig holds the external identity-provider settings
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
	ProfileURL   string
	GroupsURL    string
	Scopes       []string
	Timeout      time.Duration
	StateTTL     time.Duration
	// RoleGroups maps external group IDs to role names, e.g.
	// "123456:admin,789012:moderator". Precedence comes from the
	// provider-reported group position, not from this list's order.
	RoleGroups string
}

// BotConfig holds the diagnostics-only bot status probe settings
type BotConfig struct {
	StatusURL string
	Timeout   time.Duration
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        getEnv("SERVER_HOST", "0.0.0.0"),
			Port:        getEnv("SERVER_PORT", "8080"),
			FrontendURL: getEnv("FRONTEND_URL", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "panelgate"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		Security: SecurityConfig{
			Pepper:           getEnv("AUTH_PEPPER", ""),
			ArgonMemoryKiB:   uint32(getIntEnv("ARGON_MEMORY_KIB", 64*1024)),
			ArgonIterations:  uint32(getIntEnv("ARGON_ITERATIONS", 4)),
			ArgonParallelism: uint8(getIntEnv("ARGON_PARALLELISM", 1)),
			SessionTTL:       getDurationEnv("SESSION_TTL", 24*time.Hour),
			MaxLoginFailures: getIntEnv("MAX_LOGIN_FAILURES", 5),
			LockoutDuration:  getDurationEnv("LOCKOUT_DURATION", 30*time.Minute),
			FailurePadding:   getDurationEnv("FAILURE_PADDING", 500*time.Millisecond),
			AttemptWindow:    getDurationEnv("ABUSE_WINDOW", 15*time.Minute),
			AttemptThreshold: getIntEnv("ABUSE_THRESHOLD", 10),
			BlockDuration:    getDurationEnv("ABUSE_BLOCK_DURATION", time.Hour),
			AuthRateLimit:    getIntEnv("AUTH_RATE_LIMIT", 10),
			AuthRateWindow:   getDurationEnv("AUTH_RATE_WINDOW", 15*time.Minute),
			LoginRateLimit:   getIntEnv("LOGIN_RATE_LIMIT", 5),
			LoginRateWindow:  getDurationEnv("LOGIN_RATE_WINDOW", time.Hour),
		},
		OAuth: OAuthConfig{
			ClientID:     getEnv("OAUTH_CLIENT_ID", ""),
			ClientSecret: getEnv("OAUTH_CLIENT_SECRET", ""),
			RedirectURL:  getEnv("OAUTH_REDIRECT_URL", ""),
			AuthURL:      getEnv("OAUTH_AUTH_URL", ""),
			TokenURL:     getEnv("OAUTH_TOKEN_URL", ""),
			ProfileURL:   getEnv("OAUTH_PROFILE_URL", ""),
			GroupsURL:    getEnv("OAUTH_GROUPS_URL", ""),
			Scopes:       []string{"identify", "email", "groups"},
			Timeout:      getDurationEnv("OAUTH_TIMEOUT", 5*time.Second),
			StateTTL:     getDurationEnv("OAUTH_STATE_TTL", 10*time.Minute),
			RoleGroups:   getEnv("OAUTH_ROLE_GROUPS", ""),
		},
		Bot: BotConfig{
			StatusURL: getEnv("BOT_STATUS_URL", ""),
			Timeout:   getDurationEnv("BOT_STATUS_TIMEOUT", 3*time.Second),
		},
	}
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return "host=" + d.Host +
		" port=" + d.Port +
		" user=" + d.User +
		" password=" + d.Password +
		" dbname=" + d.DBName +
		" sslmode=" + d.SSLMode
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnv returns an integer from environment variable or default
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// getDurationEnv returns duration from environment variable or default
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
