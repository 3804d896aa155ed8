package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Frame rate limiting. Disabled unless RateLimitEnabled is set.
	RateLimitEnabled      bool
	FrameRate             float64
	FrameBurst            int
	EndpointRate          float64
	EndpointBurst         int
	CommandLockTTLSeconds int

	HTTPAddr string

	// Protocol behaviour.
	HeartbeatInterval         time.Duration
	InitialRegistrationStatus string

	// Availability control addressing.
	ControlIDTemplate string
	ControlIDPattern  string
	SourceIDTemplate  string
	RoundTripTimeout  time.Duration

	// Back-office posting.
	BackOfficeURL    string
	BackOfficeAPIKey string

	// Session retention.
	PurgeRetentionHours int

	// Recovery scheduler. A non-positive job interval unschedules the job.
	SchedulerRunInterval time.Duration
	SchedulerBatchSize   int
	SchedulerJobTimeout  time.Duration
	PostOfflineInterval  time.Duration
	AutoCloseInterval    time.Duration
	MeterPushInterval    time.Duration
	PurgeInterval        time.Duration

	// Sampled-value normalization.
	TemperatureScale int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "voltgrid"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),

		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "voltgrid"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 600),

		RedisAddr:     getenv("REDIS_ADDR", ""),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       getenvInt("REDIS_DB", 0),

		RateLimitEnabled:      getenvBool("RATE_LIMIT_ENABLED", false),
		FrameRate:             getenvFloat("RATE_LIMIT_FRAME_RATE", 20),
		FrameBurst:            getenvInt("RATE_LIMIT_FRAME_BURST", 40),
		EndpointRate:          getenvFloat("RATE_LIMIT_ENDPOINT_RATE", 500),
		EndpointBurst:         getenvInt("RATE_LIMIT_ENDPOINT_BURST", 1000),
		CommandLockTTLSeconds: getenvInt("RATE_LIMIT_COMMAND_LOCK_TTL_SECONDS", 90),

		HTTPAddr: getenv("HTTP_ADDR", ":8080"),

		HeartbeatInterval:         getenvDuration("OCPP_HEARTBEAT_INTERVAL", 300*time.Second),
		InitialRegistrationStatus: getenv("OCPP_INITIAL_REGISTRATION_STATUS", "Pending"),

		ControlIDTemplate: getenv("CONTROL_ID_TEMPLATE", "voltgrid:%s:%d"),
		ControlIDPattern:  getenv("CONTROL_ID_PATTERN", `^voltgrid:([^:]+):(\d+)$`),
		SourceIDTemplate:  getenv("SOURCE_ID_TEMPLATE", "voltgrid:%s"),
		RoundTripTimeout:  getenvDuration("AVAILABILITY_ROUND_TRIP_TIMEOUT", 60*time.Second),

		BackOfficeURL:    getenv("BACKOFFICE_URL", ""),
		BackOfficeAPIKey: getenv("BACKOFFICE_API_KEY", ""),

		PurgeRetentionHours: getenvInt("SESSION_PURGE_RETENTION_HOURS", 720),

		SchedulerRunInterval: getenvDuration("SCHEDULER_RUN_INTERVAL", 30*time.Second),
		SchedulerBatchSize:   getenvInt("SCHEDULER_BATCH_SIZE", 100),
		SchedulerJobTimeout:  getenvDuration("SCHEDULER_JOB_TIMEOUT", 30*time.Second),
		PostOfflineInterval:  getenvDuration("SCHEDULER_POST_OFFLINE_INTERVAL", time.Minute),
		AutoCloseInterval:    getenvDuration("SCHEDULER_AUTO_CLOSE_INTERVAL", 5*time.Minute),
		MeterPushInterval:    getenvDuration("SCHEDULER_METER_PUSH_INTERVAL", time.Minute),
		PurgeInterval:        getenvDuration("SCHEDULER_PURGE_INTERVAL", time.Hour),

		TemperatureScale: getenvInt("TEMPERATURE_MAX_SCALE", 1),
	}

	return cfg
}

func getenv(key, def string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
