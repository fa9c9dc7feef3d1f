package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dandantas/boarding/internal/model"
)

// Requeue policies for admin left -> waiting transitions
const (
	RequeueOverride = "override"
	RequeueRecheck  = "recheck"
)

// Config holds all application configuration
type Config struct {
	// Storage Configuration
	StoreBackend  string
	MongoURI      string
	MongoDatabase string
	MongoTimeout  time.Duration

	// HTTP Server Configuration
	HTTPPort         string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration

	// Logging Configuration
	LogLevel  string
	LogFormat string

	// API Access Configuration
	AdminToken        string
	IdentityHeader    string
	UsernameHeader    string
	DisplayNameHeader string
	TrustLevelHeader  string

	// CORS Configuration
	CORSAllowedOrigins   string
	CORSAllowedMethods   string
	CORSAllowedHeaders   string
	CORSAllowCredentials bool
	CORSMaxAge           int

	// Queue Configuration
	QueueCapacity      int
	QueueMinTrustLevel int
	QueueCooldown      time.Duration
	QueueRequeuePolicy string
	ResourceChannel    string
	GroupSeatLimit     int

	// Boarding Scheduler Configuration
	BoardingEnabled   bool
	BoardingHours     HourSet
	BoardingLocation  *time.Location
	BoardingLookahead time.Duration

	// Expiration Sweeper Configuration
	ExpirationSweeperEnabled      bool
	ExpirationSweeperInterval     time.Duration
	ExpirationSweeperInitialDelay time.Duration
	PurchaseOrderExpiry           time.Duration
	CreditOrderExpiry             time.Duration

	// Overcapacity Sweeper Configuration
	OvercapacitySweeperEnabled      bool
	OvercapacitySweeperSchedule     string
	OvercapacitySweeperConcurrency  int
	OvercapacityMaxMembers          int
	OvercapacityCreatedWithinDays   int
	OvercapacitySweeperRunOnStartup bool
	OvercapacityRemovalsPerSecond   float64

	// Invitation API Configuration
	InviteAPIBaseURL    string
	InviteTimeout       time.Duration
	InviteRetry         model.RetryConfig
	InviteRatePerSecond float64

	// Notification Configuration
	NotifyWebhookURL string
	NotifyTimeout    time.Duration

	// Redis Configuration
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	RedisSummaryPrefix string
	RedisSummaryTTL    time.Duration

	// Metrics Configuration
	MetricsEnabled bool
}

// Load reads configuration from environment variables with sensible defaults
func Load() *Config {
	return &Config{
		// Storage
		StoreBackend:  strings.ToLower(getEnv("STORE_BACKEND", "mongo")),
		MongoURI:      getEnv("MONGO_URI", "mongodb://localhost:27017/boarding?authSource=admin"),
		MongoDatabase: getEnv("MONGO_DATABASE", "boarding"),
		MongoTimeout:  getDurationEnv("MONGO_TIMEOUT_SEC", 10) * time.Second,

		// HTTP Server
		HTTPPort:         getEnv("HTTP_PORT", "8080"),
		HTTPReadTimeout:  getDurationEnv("HTTP_READ_TIMEOUT_SEC", 30) * time.Second,
		HTTPWriteTimeout: getDurationEnv("HTTP_WRITE_TIMEOUT_SEC", 30) * time.Second,

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		// API Access
		AdminToken:        getEnv("ADMIN_TOKEN", ""),
		IdentityHeader:    getEnv("IDENTITY_HEADER", "X-Identity"),
		UsernameHeader:    getEnv("USERNAME_HEADER", "X-Username"),
		DisplayNameHeader: getEnv("DISPLAY_NAME_HEADER", "X-Display-Name"),
		TrustLevelHeader:  getEnv("TRUST_LEVEL_HEADER", "X-Trust-Level"),

		// CORS
		CORSAllowedOrigins:   getEnv("CORS_ALLOWED_ORIGINS", "*"),
		CORSAllowedMethods:   getEnv("CORS_ALLOWED_METHODS", "GET, POST, PUT, DELETE, OPTIONS, PATCH"),
		CORSAllowedHeaders:   getEnv("CORS_ALLOWED_HEADERS", "*"),
		CORSAllowCredentials: getBoolEnv("CORS_ALLOW_CREDENTIALS", true),
		CORSMaxAge:           getIntEnv("CORS_MAX_AGE", 3600),

		// Queue
		QueueCapacity:      maxInt(getIntEnv("QUEUE_CAPACITY", 500), 0),
		QueueMinTrustLevel: getIntEnv("QUEUE_MIN_TRUST_LEVEL", 1),
		QueueCooldown:      maxDuration(getDurationEnv("QUEUE_REJOIN_COOLDOWN_DAYS", 30)*24*time.Hour, 0),
		QueueRequeuePolicy: getRequeuePolicy("QUEUE_REQUEUE_POLICY", RequeueOverride),
		ResourceChannel:    getEnv("RESOURCE_CHANNEL", "linux-do"),
		GroupSeatLimit:     maxInt(getIntEnv("GROUP_SEAT_LIMIT", 6), 1),

		// Boarding Scheduler
		BoardingEnabled:   getBoolEnv("BOARDING_ENABLED", true),
		BoardingHours:     getHoursEnv("BOARDING_HOURS", DefaultBoardingHours),
		BoardingLocation:  getLocationEnv("BOARDING_TIMEZONE"),
		BoardingLookahead: getDurationEnv("BOARDING_LOOKAHEAD_HOURS", 48) * time.Hour,

		// Expiration Sweeper
		ExpirationSweeperEnabled:      getBoolEnv("EXPIRATION_SWEEPER_ENABLED", true),
		ExpirationSweeperInterval:     maxDuration(getDurationEnv("EXPIRATION_SWEEPER_INTERVAL_SEC", 60)*time.Second, 10*time.Second),
		ExpirationSweeperInitialDelay: maxDuration(getDurationEnv("EXPIRATION_SWEEPER_INITIAL_DELAY_SEC", 30)*time.Second, 0),
		PurchaseOrderExpiry:           maxDuration(getDurationEnv("PURCHASE_ORDER_EXPIRE_MINUTES", 15)*time.Minute, 5*time.Minute),
		CreditOrderExpiry:             maxDuration(getDurationEnv("CREDIT_ORDER_EXPIRE_MINUTES", 15)*time.Minute, 5*time.Minute),

		// Overcapacity Sweeper
		OvercapacitySweeperEnabled:      getBoolEnv("OVERCAPACITY_SWEEPER_ENABLED", true),
		OvercapacitySweeperSchedule:     getScheduleEnv("OVERCAPACITY_SWEEPER_SCHEDULE", "0 * * * *"),
		OvercapacitySweeperConcurrency:  maxInt(getIntEnv("OVERCAPACITY_SWEEPER_CONCURRENCY", 3), 1),
		OvercapacityMaxMembers:          maxInt(getIntEnv("OVERCAPACITY_MAX_MEMBERS", 6), 0),
		OvercapacityCreatedWithinDays:   maxInt(getIntEnv("OVERCAPACITY_CREATED_WITHIN_DAYS", 15), 0),
		OvercapacitySweeperRunOnStartup: getBoolEnv("OVERCAPACITY_SWEEPER_RUN_ON_STARTUP", false),
		OvercapacityRemovalsPerSecond:   getFloatEnv("OVERCAPACITY_REMOVALS_PER_SECOND", 2),

		// Invitation API
		InviteAPIBaseURL: strings.TrimRight(getEnv("INVITE_API_BASE_URL", "https://chatgpt.com/backend-api"), "/"),
		InviteTimeout:    getDurationEnv("INVITE_TIMEOUT_SEC", 60) * time.Second,
		InviteRetry: model.RetryConfig{
			MaxAttempts:    maxInt(getIntEnv("INVITE_RETRY_MAX_ATTEMPTS", 3), 1),
			InitialDelayMs: maxInt(getIntEnv("INVITE_RETRY_BASE_DELAY_MS", 800), 0),
			MaxDelayMs:     maxInt(getIntEnv("INVITE_RETRY_MAX_DELAY_MS", 5000), 0),
			Multiplier:     getFloatEnv("INVITE_RETRY_MULTIPLIER", 2),
		},
		InviteRatePerSecond: getFloatEnv("INVITE_RATE_PER_SECOND", 5),

		// Notification
		NotifyWebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),
		NotifyTimeout:    getDurationEnv("NOTIFY_TIMEOUT_SEC", 10) * time.Second,

		// Redis
		RedisAddr:          getEnv("REDIS_ADDR", ""),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisDB:            getIntEnv("REDIS_DB", 0),
		RedisSummaryPrefix: getEnv("REDIS_SUMMARY_PREFIX", "boarding:runs"),
		RedisSummaryTTL:    getDurationEnv("REDIS_SUMMARY_TTL_HOURS", 168) * time.Hour,

		// Metrics
		MetricsEnabled: getBoolEnv("METRICS_ENABLED", true),
	}
}

// QueueEnabled reports whether joins are accepted at all
func (c *Config) QueueEnabled() bool {
	return c.QueueCapacity > 0
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return intVal
		}
		log.Printf("Warning: Invalid integer value for %s, using default %d", key, defaultValue)
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil && f >= 0 {
			return f
		}
		log.Printf("Warning: Invalid number value for %s, using default %g", key, defaultValue)
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue int) time.Duration {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return time.Duration(intVal)
		}
		log.Printf("Warning: Invalid duration value for %s, using default %d", key, defaultValue)
	}
	return time.Duration(defaultValue)
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return boolVal
		}
		log.Printf("Warning: Invalid boolean value for %s, using default %t", key, defaultValue)
	}
	return defaultValue
}

func getHoursEnv(key, defaultValue string) HourSet {
	value := getEnv(key, defaultValue)
	hours, err := ParseActiveHours(value)
	if err != nil || hours.Empty() {
		log.Printf("Warning: Invalid hour set for %s (%q), using default %s", key, value, defaultValue)
		hours, _ = ParseActiveHours(defaultValue)
	}
	return hours
}

func getLocationEnv(key string) *time.Location {
	value := os.Getenv(key)
	if value == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(value)
	if err != nil {
		log.Printf("Warning: Invalid time zone for %s (%q), using local time", key, value)
		return time.Local
	}
	return loc
}

func getScheduleEnv(key, defaultValue string) string {
	value := getEnv(key, defaultValue)
	if err := ValidateSchedule(value); err != nil {
		log.Printf("Warning: Invalid cron schedule for %s (%q): %v, using default %s", key, value, err, defaultValue)
		return defaultValue
	}
	return value
}

func getRequeuePolicy(key, defaultValue string) string {
	value := strings.ToLower(getEnv(key, defaultValue))
	switch value {
	case RequeueOverride, RequeueRecheck:
		return value
	}
	log.Printf("Warning: Invalid requeue policy for %s (%q), using default %s", key, value, defaultValue)
	return defaultValue
}

func maxInt(v, min int) int {
	if v < min {
		return min
	}
	return v
}

func maxDuration(v, min time.Duration) time.Duration {
	if v < min {
		return min
	}
	return v
}
