package config

import (
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	Config struct {
		HTTP
		Database
		Ntfy
		OverdueSweep
		Loans
		Log
		Global
	}

	HTTP struct {
		Port           int
		RequestTimeout time.Duration
	}
	Database struct {
		// URL is the postgres connection string. Empty selects the in-memory store.
		URL            string
		Schema         string
		MigrationsPath string
	}
	Ntfy struct {
		Enabled bool
		BaseURL string
		Timeout time.Duration
	}
	OverdueSweep struct {
		Enabled  bool
		Schedule string // Cron format: "0 8 * * *" = every day at 08:00
		Timeout  time.Duration
	}
	Loans struct {
		RetryAttempts int
	}
	Log struct {
		Level  string
		Format string // text or json
	}
	Global struct {
		ShutdownTimeout time.Duration
	}
)

/*
Reads the configuration from the environment. Values in envFiles are loaded first and
never override variables that are already set; missing files are ignored.
*/
func NewConfig(envFiles ...string) *Config {
	for _, f := range envFiles {
		_ = godotenv.Load(f)
	}

	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("port", 8080)
	v.SetDefault("http_request_timeout", "5s")
	v.SetDefault("database_url", "")
	v.SetDefault("database_schema", "public")
	v.SetDefault("database_migrations_path", "migrations")
	v.SetDefault("ntfy_enabled", false)
	v.SetDefault("ntfy_base_url", "https://ntfy.sh")
	v.SetDefault("ntfy_timeout", "2s")
	v.SetDefault("overdue_sweep_enabled", true)
	v.SetDefault("overdue_sweep_schedule", "0 8 * * *")
	v.SetDefault("overdue_sweep_timeout", "1m")
	v.SetDefault("loan_retry_attempts", 3)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("shutdown_timeout", "10s")

	return &Config{
		HTTP: HTTP{
			Port:           v.GetInt("PORT"),
			RequestTimeout: v.GetDuration("HTTP_REQUEST_TIMEOUT"),
		},
		Database: Database{
			URL:            v.GetString("DATABASE_URL"),
			Schema:         v.GetString("DATABASE_SCHEMA"),
			MigrationsPath: v.GetString("DATABASE_MIGRATIONS_PATH"),
		},
		Ntfy: Ntfy{
			Enabled: v.GetBool("NTFY_ENABLED"),
			BaseURL: v.GetString("NTFY_BASE_URL"),
			Timeout: v.GetDuration("NTFY_TIMEOUT"),
		},
		OverdueSweep: OverdueSweep{
			Enabled:  v.GetBool("OVERDUE_SWEEP_ENABLED"),
			Schedule: v.GetString("OVERDUE_SWEEP_SCHEDULE"),
			Timeout:  v.GetDuration("OVERDUE_SWEEP_TIMEOUT"),
		},
		Loans: Loans{
			RetryAttempts: v.GetInt("LOAN_RETRY_ATTEMPTS"),
		},
		Log: Log{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
		Global: Global{
			ShutdownTimeout: v.GetDuration("SHUTDOWN_TIMEOUT"),
		},
	}
}

// UsesPostgres reports whether a database connection string was configured.
func (c *Config) UsesPostgres() bool {
	return c.Database.URL != ""
}

// NewLogger builds the logger described by the Log settings. Unknown levels fall back to info.
func (l Log) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
