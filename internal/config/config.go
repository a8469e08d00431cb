package config

import (
	"os"
)

type Config struct {
	Port          string
	MigrationsDir string
	AllowedOrigin string
}

func LoadConfig() (*Config, error) {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		MigrationsDir: getEnv("MIGRATIONS_DIR", "migrations"),
		AllowedOrigin: getEnv("ALLOWED_ORIGIN", "*"),
	}, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
