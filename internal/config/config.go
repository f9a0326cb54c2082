package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds everything the oracle reads from the environment. A .env file
// is honored when present, same as the rest of the deployment tooling.
type Config struct {
	DatabasePath string

	NodeURL      string
	SidecarURL   string
	NetworkName  string
	ContractHash string

	AdminPublicKey string

	DrawIntervalHours    int
	MinHoldDurationHours float64
	MinEligibleBalance   decimal.Decimal

	LogFile    string
	ErrorFile  string
	LogLevel   string
	LogConsole bool
}

const motesPerUnit = 1_000_000_000

func Load() *Config {
	// Missing .env is fine in production, env vars come from the unit file.
	_ = godotenv.Load()

	return &Config{
		DatabasePath: getString("DATABASE_PATH", "persistent.db"),

		NodeURL:      getString("NODE_URL", "http://localhost:11101"),
		SidecarURL:   getString("SIDECAR_URL", "http://localhost:18101"),
		NetworkName:  getString("NETWORK_NAME", "casper-test"),
		ContractHash: getString("CONTRACT_HASH", ""),

		AdminPublicKey: getString("ADMIN_PUBLIC_KEY", ""),

		DrawIntervalHours:    getInt("DRAW_INTERVAL_HOURS", 168),
		MinHoldDurationHours: getFloat("MIN_HOLD_DURATION_HOURS", 24),
		MinEligibleBalance:   getMotes("MIN_ELIGIBLE_BALANCE_MOTES", 10*motesPerUnit),

		LogFile:    getString("LOG_FILE", ""),
		ErrorFile:  getString("ERROR_FILE", ""),
		LogLevel:   getString("LOG_LEVEL", "debug"),
		LogConsole: getBool("LOG_CONSOLE", true),
	}
}

func getString(key string, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return value
}

func getFloat(key string, fallback float64) float64 {
	value, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return fallback
	}
	return value
}

func getBool(key string, fallback bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return value
}

func getMotes(key string, fallback int64) decimal.Decimal {
	value, err := decimal.NewFromString(os.Getenv(key))
	if err != nil {
		return decimal.NewFromInt(fallback)
	}
	return value
}
