// Package config loads rackpatch settings from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/raphaelgruber/rackpatch/internal/db"
)

// Side store backends.
const (
	SideStoreMemory    = "memory"
	SideStoreBadger    = "badger"
	SideStoreSurrealDB = "surrealdb"
)

// Config holds all configuration values.
type Config struct {
	// Patching backend
	APIBaseURL    string        `validate:"required,url"`
	ClientTimeout time.Duration `validate:"gt=0"`
	WriteTimeout  time.Duration `validate:"gt=0"`
	RunsLimit     int           `validate:"gt=0"`

	// Static data; empty means the embedded defaults
	TemplatesFile string
	TopologyFile  string

	// Note/responsible side values
	SideStore  string `validate:"oneof=memory badger surrealdb"`
	BadgerPath string `validate:"required_if=SideStore badger"`

	// SurrealDB connection (side store "surrealdb")
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string `validate:"oneof=root database"`

	// Logging
	LogFile  string
	LogLevel slog.Level

	// HTTP server
	ServerPort int `validate:"gt=0,lt=65536"`
}

// Load reads configuration from environment variables.
func Load() Config {
	return Config{
		APIBaseURL:    strings.TrimRight(getEnv("RACKPATCH_API_BASE_URL", "http://localhost:3000"), "/"),
		ClientTimeout: getDuration("RACKPATCH_CLIENT_TIMEOUT", 30*time.Second),
		WriteTimeout:  getDuration("RACKPATCH_WRITE_TIMEOUT", 15*time.Second),
		RunsLimit:     getInt("RACKPATCH_RUNS_LIMIT", 20000),

		TemplatesFile: getEnv("RACKPATCH_TEMPLATES_FILE", ""),
		TopologyFile:  getEnv("RACKPATCH_TOPOLOGY_FILE", ""),

		SideStore:  strings.ToLower(getEnv("RACKPATCH_SIDESTORE", SideStoreMemory)),
		BadgerPath: getEnv("RACKPATCH_BADGER_PATH", defaultBadgerPath()),

		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "rackpatch"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "progress"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		LogFile:  getEnv("RACKPATCH_LOG_FILE", ""),
		LogLevel: parseLogLevel(getEnv("RACKPATCH_LOG_LEVEL", "INFO")),

		ServerPort: getInt("RACKPATCH_SERVER_PORT", 8585),
	}
}

var validate = validator.New()

// Validate checks the loaded values.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// SurrealDB returns the connection settings for the SurrealDB side store.
func (c Config) SurrealDB() db.Config {
	return db.Config{
		URL:       c.SurrealDBURL,
		Namespace: c.SurrealDBNamespace,
		Database:  c.SurrealDBDatabase,
		Username:  c.SurrealDBUser,
		Password:  c.SurrealDBPass,
		AuthLevel: c.SurrealDBAuthLevel,
	}
}

func defaultBadgerPath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ".rackpatch/sidestore"
	}
	return dir + "/rackpatch/sidestore"
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
