// Package config loads service configuration from an optional .env file,
// an optional YAML file and the environment, in that order. Environment
// variables win.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr        string `yaml:"addr"`
	DatabaseURL string `yaml:"databaseUrl"`
	RedisURL    string `yaml:"redisUrl"`
	Migrate     bool   `yaml:"migrate"`

	Directions Directions `yaml:"directions"`
	Routing    Routing    `yaml:"routing"`
}

type Directions struct {
	BaseURL    string  `yaml:"baseUrl"`
	APIKey     string  `yaml:"apiKey"`
	TimeoutSec int     `yaml:"timeoutSec"`
	RPS        float64 `yaml:"rps"`
}

type Routing struct {
	DayStartHour      int    `yaml:"dayStartHour"`
	Timezone          string `yaml:"timezone"`
	FallbackTravelMin int    `yaml:"fallbackTravelMin"`
	TwoOptIterations  int    `yaml:"twoOptIterations"`
}

// Load resolves configuration. A missing .env file is not an error.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Addr:    ":8080",
		Migrate: true,
		Directions: Directions{
			TimeoutSec: 5,
			RPS:        5,
		},
		Routing: Routing{
			DayStartHour:      8,
			FallbackTravelMin: 15,
		},
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	setStr(&cfg.Addr, "ADDR")
	setStr(&cfg.DatabaseURL, "DATABASE_URL")
	setStr(&cfg.RedisURL, "REDIS_URL")
	if v := os.Getenv("DB_MIGRATE"); v != "" {
		cfg.Migrate = v != "false"
	}
	setStr(&cfg.Directions.BaseURL, "DIRECTIONS_BASE_URL")
	setStr(&cfg.Directions.APIKey, "DIRECTIONS_API_KEY")
	setInt(&cfg.Directions.TimeoutSec, "DIRECTIONS_TIMEOUT_SEC")
	if v := os.Getenv("DIRECTIONS_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.Directions.RPS = f
		}
	}
	setInt(&cfg.Routing.DayStartHour, "ROUTE_DAY_START_HOUR")
	setStr(&cfg.Routing.Timezone, "ROUTE_TIMEZONE")
	setInt(&cfg.Routing.FallbackTravelMin, "ROUTE_FALLBACK_TRAVEL_MIN")
	setInt(&cfg.Routing.TwoOptIterations, "ROUTE_TWO_OPT_ITERATIONS")
	return cfg, nil
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
