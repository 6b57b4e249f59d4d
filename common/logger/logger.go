package logger

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global logger instance
	Logger *zap.SugaredLogger
	// Mutex to protect logger initialization
	loggerMutex sync.RWMutex
)

// LogLevel represents the logging level
type LogLevel string

const (
	DebugLevel LogLevel = "debug"
	InfoLevel  LogLevel = "info"
	WarnLevel  LogLevel = "warn"
	ErrorLevel LogLevel = "error"
	FatalLevel LogLevel = "fatal"
)

// Config holds the logger configuration
type Config struct {
	Level       LogLevel `mapstructure:"level"`
	Development bool     `mapstructure:"development"`
	Encoding    string   `mapstructure:"encoding"` // "json" or "console"
	// OutputPaths defaults to stderr when empty
	OutputPaths []string `mapstructure:"outputPaths"`
}

// DefaultConfig returns a default logger configuration
func DefaultConfig() *Config {
	return &Config{
		Level:    InfoLevel,
		Encoding: "console",
	}
}

// DevelopmentConfig returns a development logger configuration
func DevelopmentConfig() *Config {
	return &Config{
		Level:       DebugLevel,
		Development: true,
		Encoding:    "console",
	}
}

// Initialize initializes the global logger with the given configuration
func Initialize(config *Config) error {
	loggerMutex.Lock()
	defer loggerMutex.Unlock()
	return initialize(config)
}

// InitializeDevelopment initializes the global logger with development configuration
func InitializeDevelopment() error {
	return Initialize(DevelopmentConfig())
}

// SetLogger replaces the global logger, mostly for tests that observe log output.
func SetLogger(l *zap.Logger) {
	loggerMutex.Lock()
	defer loggerMutex.Unlock()
	Logger = l.WithOptions(zap.AddCallerSkip(1)).Sugar()
}

// GetLogger returns the global logger instance
func GetLogger() *zap.SugaredLogger {
	loggerMutex.RLock()
	if Logger != nil {
		defer loggerMutex.RUnlock()
		return Logger
	}
	loggerMutex.RUnlock()

	loggerMutex.Lock()
	defer loggerMutex.Unlock()

	// another goroutine might have won the race
	if Logger != nil {
		return Logger
	}

	if err := initialize(DefaultConfig()); err != nil {
		panic("Failed to initialize default logger: " + err.Error())
	}
	return Logger
}

// initialize builds the logger; callers hold loggerMutex
func initialize(config *Config) error {
	if config == nil {
		config = DefaultConfig()
	}

	var zapConfig zap.Config
	if config.Development {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zapConfig = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(strings.ToLower(string(config.Level)))
	if err != nil {
		return errors.Wrapf(err, "invalid log level %q", config.Level)
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)

	if config.Encoding != "" {
		zapConfig.Encoding = config.Encoding
	}
	if len(config.OutputPaths) > 0 {
		zapConfig.OutputPaths = config.OutputPaths
	}

	zapConfig.EncoderConfig.TimeKey = "timestamp"
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapConfig.EncoderConfig.CallerKey = "caller"
	zapConfig.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	logger, err := zapConfig.Build(zap.AddCallerSkip(1))
	if err != nil {
		return errors.Wrap(err, "failed to build logger")
	}

	Logger = logger.Sugar()
	return nil
}

// Debugf logs a formatted debug message
func Debugf(template string, args ...any) {
	GetLogger().Debugf(template, args...)
}

// Info logs an info message
func Info(args ...any) {
	GetLogger().Info(args...)
}

// Infof logs a formatted info message
func Infof(template string, args ...any) {
	GetLogger().Infof(template, args...)
}

// Warn logs a warning message
func Warn(args ...any) {
	GetLogger().Warn(args...)
}

// Warnf logs a formatted warning message
func Warnf(template string, args ...any) {
	GetLogger().Warnf(template, args...)
}

// Error logs an error message
func Error(args ...any) {
	GetLogger().Error(args...)
}

// Errorf logs a formatted error message
func Errorf(template string, args ...any) {
	GetLogger().Errorf(template, args...)
}

// Fatalf logs a formatted fatal message and exits
func Fatalf(template string, args ...any) {
	GetLogger().Fatalf(template, args...)
}

// With adds structured context to the logger
func With(args ...any) *zap.SugaredLogger {
	return GetLogger().With(args...)
}

// Named creates a named logger
func Named(name string) *zap.SugaredLogger {
	return GetLogger().Named(name)
}

// Sync flushes any buffered log entries
func Sync() error {
	loggerMutex.RLock()
	defer loggerMutex.RUnlock()
	if Logger != nil {
		return Logger.Sync()
	}
	return nil
}

// Divider logs a separator line between orchestration steps.
func Divider() {
	GetLogger().Info(strings.Repeat("*", 45))
}

// WrapError logs an error with additional context and returns a wrapped error
func WrapError(err error, msg string, args ...any) error {
	if err == nil {
		return nil
	}

	contextMsg := msg
	if len(args) > 0 {
		contextMsg = fmt.Sprintf(msg, args...)
	}

	GetLogger().With(
		"error", err.Error(),
		"context", contextMsg,
	).Error("Error occurred with context")

	return errors.Wrap(err, contextMsg)
}

// WarnAndReturn logs a warning message and returns a new error with the same message
func WarnAndReturn(msg string, args ...any) error {
	formattedMsg := msg
	if len(args) > 0 {
		formattedMsg = fmt.Sprintf(msg, args...)
	}

	GetLogger().Warn(formattedMsg)
	return errors.New(formattedMsg)
}

// LogIfError logs an error if it's not nil and returns the same error
func LogIfError(err error, msg string, args ...any) error {
	if err == nil {
		return nil
	}

	contextMsg := msg
	if len(args) > 0 {
		contextMsg = fmt.Sprintf(msg, args...)
	}

	GetLogger().With("error", err.Error()).Error(contextMsg)
	return err
}
