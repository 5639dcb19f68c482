// Package config loads runtime settings from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/geekane/1127jixiao/extract"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds every setting the binaries read.
type Config struct {
	Addr              string
	DBPath            string
	DefaultDepartment string
	CORSOrigins       []string
	LogLevel          string
	Export            extract.Config
}

// Load reads the given .env files, or ./.env when none are named, and then
// builds a Config from the process environment. Variables already set in the
// environment win over file values. A missing ./.env is not an error; a
// missing named file is.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load .env: %w", err)
		}
	} else if err := godotenv.Load(files...); err != nil {
		return Config{}, fmt.Errorf("load %s: %w", strings.Join(files, ", "), err)
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from a variable lookup function.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	get := func(key, def string) string {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return def
	}

	cfg := Config{
		Addr:              get("ADDR", ":8080"),
		DBPath:            get("DB_PATH", "kpi.db"),
		DefaultDepartment: get("DEFAULT_DEPARTMENT", "客服组"),
		CORSOrigins:       splitList(get("CORS_ORIGINS", "*")),
		LogLevel:          get("LOG_LEVEL", "info"),
		Export: extract.Config{
			APIURL:    get("EXPORT_API_URL", ""),
			Cookie:    get("EXPORT_COOKIE", ""),
			AccountID: get("EXPORT_ACCOUNT_ID", ""),
		},
	}

	var err error
	if cfg.Export.SettleDelay, err = duration(get("EXPORT_SETTLE_DELAY", "5s"), "EXPORT_SETTLE_DELAY"); err != nil {
		return Config{}, err
	}
	if cfg.Export.HTTPTimeout, err = duration(get("EXPORT_HTTP_TIMEOUT", "30s"), "EXPORT_HTTP_TIMEOUT"); err != nil {
		return Config{}, err
	}
	if cfg.Export.DownloadTimeout, err = duration(get("EXPORT_DOWNLOAD_TIMEOUT", "60s"), "EXPORT_DOWNLOAD_TIMEOUT"); err != nil {
		return Config{}, err
	}
	if cfg.Export.MaxExportBytes, err = size(get("EXPORT_MAX_BYTES", "67108864"), "EXPORT_MAX_BYTES"); err != nil {
		return Config{}, err
	}
	if _, err := zapcore.ParseLevel(cfg.LogLevel); err != nil {
		return Config{}, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return cfg, nil
}

// ExportConfigured reports whether the analytics service can be reached.
func (c Config) ExportConfigured() bool {
	return c.Export.APIURL != "" && c.Export.Cookie != ""
}

// NewLogger builds a production logger at the given level. Debug switches to
// the human-readable development encoder.
func NewLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	config := zap.NewProductionConfig()
	if lvl == zapcore.DebugLevel {
		config = zap.NewDevelopmentConfig()
	}
	config.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

func duration(raw, key string) (time.Duration, error) {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: must not be negative", key)
	}
	return d, nil
}

func size(raw, key string) (int64, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s: must be positive", key)
	}
	return n, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
