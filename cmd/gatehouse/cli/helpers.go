package cli

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/gatehousehq/gatehouse/internal/store"
)

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// resolveDataDir returns the data directory from the --data-dir flag,
// the GATEHOUSE_DATA_DIR env var, or ~/.gatehouse as fallback.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if envDir := os.Getenv("GATEHOUSE_DATA_DIR"); envDir != "" {
		return envDir
	}
	home, _ := os.UserHomeDir()
	return home + "/.gatehouse"
}

// openStore opens the state store configured via store.driver/store.dsn.
// With no configuration it falls back to SQLite under the data directory.
func openStore() (*store.Store, error) {
	driver := viper.GetString("store.driver")
	dsn := viper.GetString("store.dsn")

	if driver == "" || driver == "sqlite" {
		if dsn == "" {
			return store.OpenDir(resolveDataDir())
		}
		return store.Open("sqlite", dsn)
	}
	return store.Open(driver, dsn)
}

// newLogger builds the process logger from the log.level and log.format
// settings. dev forces debug level.
func newLogger(dev bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(viper.GetString("log.level")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if dev {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(viper.GetString("log.format")) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// jwtSecret returns the configured admin session signing secret, falling
// back to a development default.
func jwtSecret() string {
	secret := viper.GetString("auth.jwt_secret")
	if secret == "" {
		secret = "gatehouse-dev-secret-change-me"
	}
	return secret
}

// --- PID file management ---

func pidFilePath() string {
	return filepath.Join(resolveDataDir(), "gatehouse.pid")
}

func writePID(pid int) error {
	dir := resolveDataDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(pidFilePath(), []byte(strconv.Itoa(pid)), 0644)
}

func readPID() (int, error) {
	data, err := os.ReadFile(pidFilePath())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePID() {
	os.Remove(pidFilePath())
}

func logFilePath() string {
	return filepath.Join(resolveDataDir(), "gatehouse.log")
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}
