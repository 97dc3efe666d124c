package app

import "time"

// Config contains the server runtime configuration loaded from environment variables.
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
	DBMaxConns  int32
	DBMinConns  int32
	DBSchema    string

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool

	// With a DB, join and post require a task_members row.
	EnforceMembership bool

	MetricsEnabled bool

	// JWTSecret verifies HS256 bearer tokens. Empty means dev mode: claims are
	// read without verification.
	JWTSecret string

	// If true, JWTSecret MUST be set (>= 32 bytes).
	RequireJWTSecret bool

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("TASKLINK_HTTP_ADDR", "127.0.0.1:8080"),
		LogLevel:  EnvString("TASKLINK_LOG_LEVEL", "info"),
		LogFormat: EnvString("TASKLINK_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("TASKLINK_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("TASKLINK_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("TASKLINK_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("TASKLINK_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("TASKLINK_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("TASKLINK_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("TASKLINK_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("TASKLINK_DB_MIN_CONNS", 0),
		DBSchema:    EnvString("TASKLINK_DB_SCHEMA", "tasklink"),

		ReadinessRequireDB: EnvBool("TASKLINK_READINESS_REQUIRE_DB", false),
		EnforceMembership:  EnvBool("TASKLINK_ENFORCE_MEMBERSHIP", true),

		MetricsEnabled: EnvBool("TASKLINK_METRICS_ENABLED", true),

		JWTSecret:        EnvString("TASKLINK_WS_JWT_SECRET", ""),
		RequireJWTSecret: EnvBool("TASKLINK_REQUIRE_JWT_SECRET", false),

		CORSAllowedOrigins:   EnvCSV("TASKLINK_CORS_ALLOWED_ORIGINS"),
		CORSAllowCredentials: EnvBool("TASKLINK_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("TASKLINK_CORS_MAX_AGE_SECONDS", 600),
	}
}

// ClientConfig configures the realtime client used by the CLI.
type ClientConfig struct {
	APIBaseURL  string
	SessionFile string

	PingInterval     time.Duration
	HandshakeTimeout time.Duration

	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
	MaxAttempts        int

	FetchLimit int
	NoColor    bool
}

// LoadClientConfig loads ClientConfig from environment variables with defaults.
// An empty SessionFile means the session package default path.
func LoadClientConfig() ClientConfig {
	return ClientConfig{
		APIBaseURL:  EnvString("TASKLINK_API_BASE_URL", "http://127.0.0.1:8080/api"),
		SessionFile: EnvString("TASKLINK_SESSION_FILE", ""),

		PingInterval:     EnvDuration("TASKLINK_PING_INTERVAL", 25*time.Second),
		HandshakeTimeout: EnvDuration("TASKLINK_HANDSHAKE_TIMEOUT", 10*time.Second),

		ReconnectBaseDelay: EnvDuration("TASKLINK_RECONNECT_BASE_DELAY", time.Second),
		ReconnectMaxDelay:  EnvDuration("TASKLINK_RECONNECT_MAX_DELAY", 30*time.Second),
		MaxAttempts:        EnvInt("TASKLINK_RECONNECT_MAX_ATTEMPTS", 10),

		FetchLimit: EnvInt("TASKLINK_FETCH_LIMIT", 50),
		NoColor:    EnvBool("NO_COLOR", false),
	}
}
