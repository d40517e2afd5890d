package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	LogLevel    string

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

	// Paths for the RSA key pair used to sign license tokens.
	PrivateKeyPath string
	PublicKeyPath  string

	// Symmetric secret for dashboard access tokens.
	AccessTokenSecret        string
	AccessTokenExpireMinutes int

	// Bootstrap credentials for the dashboard login endpoint.
	AdminEmail    string
	AdminPassword string

	LicenseKeyPrefix       string
	LicenseTokenTTLDays    int
	DefaultGracePeriodDays int
	MaxDevicesDefault      int

	// Redis-backed rate limiting for the license endpoints. Disabled
	// unless an address is configured.
	RateLimitEnabled    bool
	RedisAddr           string
	RedisPassword       string
	RedisDB             int
	LicenseKeyRate      float64
	LicenseKeyBurst     int
	ClientIPRate        float64
	ClientIPBurst       int
	SweepLockTTLSeconds int

	// Interval for the expiry sweeper, in minutes. Zero disables it.
	ExpirySweepIntervalMinutes int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "subscription-server"),
		AppVersion:  getenv("APP_VERSION", "1.0.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		LogLevel:    getenv("LOG_LEVEL", "info"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "flowlytix_subscriptions"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 600),

		PrivateKeyPath: getenv("PRIVATE_KEY_PATH", "keys/private_key.pem"),
		PublicKeyPath:  getenv("PUBLIC_KEY_PATH", "keys/public_key.pem"),

		AccessTokenSecret:        strings.TrimSpace(getenv("ACCESS_TOKEN_SECRET", "")),
		AccessTokenExpireMinutes: getenvInt("ACCESS_TOKEN_EXPIRE_MINUTES", 30),

		AdminEmail:    strings.TrimSpace(getenv("ADMIN_EMAIL", "")),
		AdminPassword: getenv("ADMIN_PASSWORD", ""),

		LicenseKeyPrefix:       getenv("LICENSE_KEY_PREFIX", "FL"),
		LicenseTokenTTLDays:    getenvInt("LICENSE_TOKEN_TTL_DAYS", 30),
		DefaultGracePeriodDays: getenvInt("DEFAULT_GRACE_PERIOD_DAYS", 7),
		MaxDevicesDefault:      getenvInt("MAX_DEVICES_DEFAULT", 1),

		RateLimitEnabled:    getenvBool("RATE_LIMIT_ENABLED", false),
		RedisAddr:           strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword:       getenv("REDIS_PASSWORD", ""),
		RedisDB:             getenvInt("REDIS_DB", 0),
		LicenseKeyRate:      getenvFloat("LICENSE_KEY_RATE", 1),
		LicenseKeyBurst:     getenvInt("LICENSE_KEY_BURST", 10),
		ClientIPRate:        getenvFloat("CLIENT_IP_RATE", 5),
		ClientIPBurst:       getenvInt("CLIENT_IP_BURST", 30),
		SweepLockTTLSeconds: getenvInt("SWEEP_LOCK_TTL_SECONDS", 300),

		ExpirySweepIntervalMinutes: getenvInt("EXPIRY_SWEEP_INTERVAL_MINUTES", 60),
	}
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return def
	}
	return parsed
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
