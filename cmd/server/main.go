// Package main is the entry point for the student CRM API server.
//
// The main package stays minimal. Its job is to:
// 1. Read configuration (environment, optionally seeded from .env)
// 2. Create the logger
// 3. Build and start the server
//
// All actual logic lives in the internal/ packages.
package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/sakif/student-crm/internal/config"
	"github.com/sakif/student-crm/internal/server"
)

func main() {
	// === 1. READ CONFIGURATION ===
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// === 2. SET UP LOGGING ===
	// Text for local development, JSON for log shippers (LOG_FORMAT=json).
	opts := &slog.HandlerOptions{Level: cfg.Log.Level}
	var logHandler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if cfg.Log.Format == "json" {
		logHandler = slog.NewJSONHandler(os.Stdout, opts)
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	// === 3. DATABASE DIRECTORY ===
	// The embedded sqlite database needs its directory to exist.
	// os.MkdirAll is a no-op when it already does.
	if dir := sqliteDir(cfg.Database.URL); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Error("failed to create database directory",
				slog.String("dir", dir),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	// === 4. CREATE AND START THE SERVER ===
	srv, err := server.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start blocks until the server is shut down (Ctrl+C or SIGTERM).
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// sqliteDir returns the directory of a file-backed sqlite DSN such as
// "file:data/crm.db?_pragma=foreign_keys(1)", or "" for postgres and
// in-memory databases.
func sqliteDir(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return ""
	}
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" {
		return ""
	}
	return filepath.Dir(path)
}
