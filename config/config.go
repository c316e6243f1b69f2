package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port        int
	DBPath      string
	LogLevel    string
	CORSOrigins []string

	// JWT / Auth
	JWTSecret string
	JWTIssuer string
	JWTTTL    time.Duration

	// Reports
	DepositTolerance     decimal.Decimal
	GeneralFundPerChurch bool

	// Background fund reconcile; 0 disables it
	ReconcileInterval time.Duration

	// Observability
	OTLPEndpoint string

	// Dev mode
	DemoSeed bool // DEMO_SEED=true seeds churches and funds on startup
}

// LoadDotEnv reads a .env file into the environment without overriding
// variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:        getEnvInt("PORT", 8080),
		DBPath:      getEnv("DB_PATH", "tesoreria.db"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		CORSOrigins: getEnvList("CORS_ORIGINS", []string{"*"}),

		JWTSecret: getEnv("JWT_SECRET", ""),
		JWTIssuer: getEnv("JWT_ISSUER", "church-treasury"),
		JWTTTL:    getEnvDuration("JWT_TTL", 12*time.Hour),

		DepositTolerance:     getEnvDecimal("DEPOSIT_TOLERANCE", decimal.NewFromInt(100)),
		GeneralFundPerChurch: getEnvBool("GENERAL_FUND_PER_CHURCH", false),

		ReconcileInterval: getEnvDuration("RECONCILE_INTERVAL", 0),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),

		DemoSeed: getEnvBool("DEMO_SEED", false),
	}
}

// Validate reports settings the server cannot start without.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errors.New("PORT must be between 1 and 65535")
	}
	if c.DepositTolerance.IsNegative() {
		return errors.New("DEPOSIT_TOLERANCE cannot be negative")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
