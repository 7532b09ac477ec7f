package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	DriverMemory    = "memory"
	DriverPostgres  = "postgres"
	DriverBolt      = "bolt"
	DriverFirestore = "firestore"
)

type Config struct {
	Port                     string
	AllowedOrigin            string
	LogLevel                 string
	StoreDriver              string
	DatabaseURL              string
	BoltPath                 string
	FirestoreProjectID       string
	FirestoreCredentialsFile string
	RedisAddr                string
	RedisPassword            string
	RedisDB                  int
	ReportCacheTTLSeconds    int
	ReportTimezone           string
	AuthSecret               string
	AccessTokenTTLMinutes    int
	SequenceMaxAttempts      int
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))

	cfg := Config{
		Port:                     getEnv("PORT", "8080"),
		AllowedOrigin:            getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		LogLevel:                 strings.ToLower(getEnv("LOG_LEVEL", "info")),
		StoreDriver:              strings.ToLower(getEnv("STORE_DRIVER", DriverMemory)),
		DatabaseURL:              os.Getenv("DATABASE_URL"),
		BoltPath:                 getEnv("BOLT_PATH", "data/sales.db"),
		FirestoreProjectID:       os.Getenv("FIRESTORE_PROJECT_ID"),
		FirestoreCredentialsFile: os.Getenv("FIRESTORE_CREDENTIALS_FILE"),
		RedisAddr:                os.Getenv("REDIS_ADDR"),
		RedisPassword:            os.Getenv("REDIS_PASSWORD"),
		RedisDB:                  redisDB,
		ReportCacheTTLSeconds:    positiveInt("REPORT_CACHE_TTL_SECONDS", 30),
		ReportTimezone:           getEnv("REPORT_TIMEZONE", "America/Sao_Paulo"),
		AuthSecret:               strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes:    positiveInt("ACCESS_TOKEN_TTL_MINUTES", 60),
		SequenceMaxAttempts:      positiveInt("SEQUENCE_MAX_ATTEMPTS", 3),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func positiveInt(key string, fallback int) int {
	n, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
