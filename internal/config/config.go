package config

import (
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	NodeID   string
	HTTPPort int
	Debug    bool
	LogLevel string

	DataDir        string // empty = in-memory job store
	TierPolicyPath string // empty = built-in tier table
	JitterSeed     int64
	TravelSpeedKmh float64
}

func Load() *Config {
	return &Config{
		NodeID:         getEnv("NODE_ID", "dispatch-default"),
		HTTPPort:       getEnvInt("HTTP_PORT", 8000),
		Debug:          getEnvBool("DEBUG", false),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		DataDir:        getEnv("DATA_DIR", "./data"),
		TierPolicyPath: getEnv("TIER_POLICY_PATH", ""),
		JitterSeed:     int64(getEnvInt("MATCH_JITTER_SEED", 1)),
		TravelSpeedKmh: getEnvFloat("TRAVEL_SPEED_KMH", 30),
	}
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
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

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return fallback
}
