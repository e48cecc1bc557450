package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// Token namespaces. Both secrets are mandatory; startup fails without them.
	TokenIssuer        string
	AccessTokenSecret  string
	RefreshTokenSecret string
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration

	AuthMaxBodyBytes int64
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("BANDROOM_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("BANDROOM_LOG_LEVEL", "info"),
		LogFormat: EnvString("BANDROOM_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("BANDROOM_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("BANDROOM_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("BANDROOM_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("BANDROOM_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("BANDROOM_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("BANDROOM_DATABASE_URL", ""),
		DBSchema:    EnvString("BANDROOM_DB_SCHEMA", "bandroom"),
		DBMaxConns:  EnvInt32("BANDROOM_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("BANDROOM_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("BANDROOM_READINESS_REQUIRE_DB", false),

		TokenIssuer:        EnvString("BANDROOM_TOKEN_ISSUER", "bandroom"),
		AccessTokenSecret:  EnvString("BANDROOM_ACCESS_TOKEN_SECRET", ""),
		RefreshTokenSecret: EnvString("BANDROOM_REFRESH_TOKEN_SECRET", ""),
		AccessTokenTTL:     EnvDuration("BANDROOM_ACCESS_TOKEN_TTL", time.Hour),
		RefreshTokenTTL:    EnvDuration("BANDROOM_REFRESH_TOKEN_TTL", 7*24*time.Hour),

		AuthMaxBodyBytes: int64(EnvInt("BANDROOM_AUTH_MAX_BODY_BYTES", 1<<16)),
	}
}
