package config

import (
	"os"
	"strings"

	"gomarket_pricewatch/internal/core/models"
)

const (
	EnvEncryptionKey = "PRICEWATCH_ENCRYPTION_KEY"
	EnvRedisAddr     = "PRICEWATCH_REDIS_ADDR"
)

// GetConfig собирает настройки Postgres из переменных окружения.
func GetConfig() *PostgresConfig {
	return &PostgresConfig{
		Host:     getEnv("POSTGRES_HOST", "localhost"),
		Port:     getEnv("POSTGRES_PORT", "5432"),
		User:     getEnv("POSTGRES_USER", "postgres"),
		Password: getEnv("POSTGRES_PASSWORD", "postgres"),
		DBName:   getEnv("POSTGRES_NAME", "pricewatch"),
		SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
	}
}

// applyEnv overrides secrets that must not live in the YAML file.
func (c *AppConfig) applyEnv() {
	c.EncryptionKey = getEnv(EnvEncryptionKey, c.EncryptionKey)
	c.Scheduler.RedisAddr = getEnv(EnvRedisAddr, c.Scheduler.RedisAddr)

	for source, sc := range c.Sources {
		sc.Username = getEnv(sourceEnvKey(source, "USERNAME"), sc.Username)
		sc.Password = getEnv(sourceEnvKey(source, "PASSWORD"), sc.Password)
		c.Sources[source] = sc
	}
}

func sourceEnvKey(source models.Source, suffix string) string {
	return "PRICEWATCH_" + strings.ToUpper(string(source)) + "_" + suffix
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
