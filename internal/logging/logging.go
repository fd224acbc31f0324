// Package logging provides structured component loggers built on log/slog.
//
// Initialise once at startup, then ask for a logger per component:
//
//	closer, err := logging.Init(logging.Config{Level: "info", File: "logs/tracker.log"})
//	defer closer.Close()
//
//	log := logging.Component("pipeline")
//	log.Info("tick complete", "upserted", n)
//
// When File is set, output also goes to a size-rotated file.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls the global logger.
type Config struct {
	Level      string `yaml:"level"`  // debug, info, warn or error.
	Format     string `yaml:"format"` // text or json.
	File       string `yaml:"file"`   // Optional rotated log file.
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

var (
	mu     sync.RWMutex
	logger = slog.Default()
)

// ParseLevel converts a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("invalid log level %q", s)
}

// Init configures the global logger writing to stdout and, if cfg.File is
// set, to a rotated file. The returned closer releases the file.
func Init(cfg Config) (io.Closer, error) {
	return initTo(os.Stdout, cfg)
}

func initTo(stdout io.Writer, cfg Config) (io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var w io.Writer = stdout
	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    orDefault(cfg.MaxSizeMB, 64), // MB
			MaxBackups: cfg.MaxBackups,
			MaxAge:     orDefault(cfg.MaxAgeDays, 14),
			Compress:   true,
		}
		w = io.MultiWriter(stdout, lj)
		closer = lj
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "", "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}

	InitWithHandler(handler)
	return closer, nil
}

// InitWithHandler replaces the global logger. Tests use it to capture
// output.
func InitWithHandler(handler slog.Handler) {
	l := slog.New(handler)
	mu.Lock()
	logger = l
	mu.Unlock()
	slog.SetDefault(l)
}

// Component returns a logger tagged with the component name.
func Component(name string) *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger.With("component", name)
}

type contextKey int

const contextKeyTickID contextKey = iota

// ContextWithTickID attaches an ingestion tick id to ctx.
func ContextWithTickID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKeyTickID, id)
}

// TickID returns the tick id stored in ctx, if any.
func TickID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(contextKeyTickID).(string)
	return id, ok
}

// FromContext returns log with the context's tick id attached.
func FromContext(ctx context.Context, log *slog.Logger) *slog.Logger {
	if id, ok := TickID(ctx); ok {
		return log.With("tick_id", id)
	}
	return log
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
