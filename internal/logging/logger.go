// Package logging builds the zap loggers used across whatt.
// Loggers are split by category; categories can be switched off in config.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot    Category = "boot"    // CLI startup, config loading
	CategoryPoller  Category = "poller"  // Poll ticks, dedup decisions
	CategoryParser  Category = "parser"  // Entry -> message parsing
	CategoryRouter  Category = "router"  // Command matching and dispatch
	CategoryStore   Category = "store"   // Seen-set persistence, kv backends
	CategoryBrowser Category = "browser" // Browser session, DOM access
	CategorySend    Category = "send"    // Simulated input
	CategoryMetrics Category = "metrics" // Metrics endpoint
)

// Options mirrors config.LoggingConfig to avoid circular imports.
type Options struct {
	Level      string          // debug, info, warn, error
	Format     string          // json, console
	File       string          // optional log file, appended to stderr output
	DebugMode  bool            // forces debug level
	Categories map[string]bool // per-category toggles; missing = enabled
}

// New builds the root logger from opts.
func New(opts Options) (*zap.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	if opts.DebugMode {
		level = zapcore.DebugLevel
	}

	cfg := zap.NewProductionConfig()
	if strings.EqualFold(opts.Format, "console") {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{"stderr"}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		cfg.OutputPaths = append(cfg.OutputPaths, opts.File)
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// ParseLevel maps a config level string to a zap level. Empty means info.
func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

// Enabled reports whether category is switched on in opts.
func (o Options) Enabled(category Category) bool {
	if o.Categories == nil {
		return true
	}
	enabled, exists := o.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Set hands out per-category children of one root logger.
type Set struct {
	root *zap.Logger
	opts Options
}

// NewSet wraps root. A nil root yields no-op loggers.
func NewSet(root *zap.Logger, opts Options) *Set {
	if root == nil {
		root = zap.NewNop()
	}
	return &Set{root: root, opts: opts}
}

// Root returns the uncategorized logger.
func (s *Set) Root() *zap.Logger { return s.root }

// Get returns the logger for category, or a no-op logger when the category
// is disabled.
func (s *Set) Get(category Category) *zap.Logger {
	if !s.opts.Enabled(category) {
		return zap.NewNop()
	}
	return s.root.Named(string(category))
}

// Timer logs how long an operation took.
type Timer struct {
	logger *zap.Logger
	op     string
	start  time.Time
}

// StartTimer starts timing op on logger.
func StartTimer(logger *zap.Logger, op string) *Timer {
	return &Timer{logger: logger, op: op, start: time.Now()}
}

// Stop logs the duration at debug level.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	t.logger.Debug(t.op+" completed", zap.Duration("elapsed", elapsed))
	return elapsed
}

// StopWithThreshold warns when the operation took longer than threshold.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		t.logger.Warn(t.op+" slow", zap.Duration("elapsed", elapsed), zap.Duration("threshold", threshold))
	} else {
		t.logger.Debug(t.op+" completed", zap.Duration("elapsed", elapsed))
	}
	return elapsed
}
