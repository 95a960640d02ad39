// Package logging provides structured logging for Hourglass on top of slog.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

type contextKey string

const (
	sessionIDKey contextKey = "session_id"
	ticketKey    contextKey = "ticket"
	componentKey contextKey = "component"
)

var (
	defaultLogger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	loggerMu      sync.RWMutex
	closer        io.Closer
)

// Config holds logging configuration.
type Config struct {
	Level    string          `yaml:"level"`  // debug, info, warn, error
	Format   string          `yaml:"format"` // json, text
	Output   string          `yaml:"output"` // stdout, stderr, or file path
	Rotation *RotationConfig `yaml:"rotation"`
}

// RotationConfig controls file rotation when Output is a path.
type RotationConfig struct {
	MaxSize    string `yaml:"max_size"` // e.g. "100MB"
	MaxAge     string `yaml:"max_age"`  // e.g. "7d"
	MaxBackups int    `yaml:"max_backups"`
}

// DefaultConfig returns the logging defaults.
func DefaultConfig() *Config {
	return &Config{
		Level:  "info",
		Format: "text",
		Output: "stdout",
	}
}

// Init replaces the process logger according to cfg. A nil cfg uses defaults.
func Init(cfg *Config) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	w, c, err := openOutput(cfg)
	if err != nil {
		return err
	}

	level := parseLevel(cfg.Level)
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "text", "":
		handler = slog.NewTextHandler(w, opts)
	default:
		return fmt.Errorf("unknown log format %q", cfg.Format)
	}

	loggerMu.Lock()
	if closer != nil {
		_ = closer.Close()
	}
	closer = c
	defaultLogger = slog.New(handler)
	loggerMu.Unlock()

	return nil
}

// Close flushes and closes a file output opened by Init.
func Close() error {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if closer == nil {
		return nil
	}
	err := closer.Close()
	closer = nil
	return err
}

// Suppress sends all log output to io.Discard. The dashboard uses it so log
// lines do not tear the terminal UI.
func Suppress() {
	discard := slog.New(slog.NewTextHandler(io.Discard, nil))

	loggerMu.Lock()
	defaultLogger = discard
	loggerMu.Unlock()

	slog.SetDefault(discard)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func openOutput(cfg *Config) (io.Writer, io.Closer, error) {
	switch cfg.Output {
	case "stdout", "":
		return os.Stdout, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	}
	w, err := newRotatingWriter(cfg.Output, cfg.Rotation)
	if err != nil {
		return nil, nil, err
	}
	return w, w, nil
}

// Logger returns the process logger.
func Logger() *slog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return defaultLogger
}

// WithComponent returns a logger tagged with a component name.
func WithComponent(component string) *slog.Logger {
	return Logger().With(slog.String("component", component))
}

// WithSession returns a logger tagged with a session ID.
func WithSession(sessionID string) *slog.Logger {
	return Logger().With(slog.String("session_id", sessionID))
}

// WithTicket returns a logger tagged with a ticket's external key.
func WithTicket(key string) *slog.Logger {
	return Logger().With(slog.String("ticket", key))
}

// WithContext returns a logger carrying the fields stored in ctx.
func WithContext(ctx context.Context) *slog.Logger {
	logger := Logger()
	if v, ok := ctx.Value(componentKey).(string); ok {
		logger = logger.With(slog.String("component", v))
	}
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		logger = logger.With(slog.String("session_id", v))
	}
	if v, ok := ctx.Value(ticketKey).(string); ok {
		logger = logger.With(slog.String("ticket", v))
	}
	return logger
}

// ContextWithSession stores a session ID in ctx for WithContext.
func ContextWithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// ContextWithTicket stores a ticket key in ctx for WithContext.
func ContextWithTicket(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, ticketKey, key)
}

// ContextWithComponent stores a component name in ctx for WithContext.
func ContextWithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey, component)
}

// Debug logs at debug level on the process logger.
func Debug(msg string, args ...any) { Logger().Debug(msg, args...) }

// Info logs at info level on the process logger.
func Info(msg string, args ...any) { Logger().Info(msg, args...) }

// Warn logs at warn level on the process logger.
func Warn(msg string, args ...any) { Logger().Warn(msg, args...) }

// Error logs at error level on the process logger.
func Error(msg string, args ...any) { Logger().Error(msg, args...) }
