// Package log provides centralized logging functionality using zap logger.
package log

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var log *zap.SugaredLogger
var baseLogger *zap.Logger
var level zap.AtomicLevel

// Init initializes the package-level logger.  When logfile is non-empty,
// output is tee'd to a size-rotated file in addition to stderr.
func Init(debug bool, logfile string) error {
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if debug {
		level.SetLevel(zapcore.DebugLevel)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), level),
	}

	if logfile != "" {
		rotated := &lumberjack.Logger{
			Filename:   logfile,
			MaxSize:    20, // megabytes
			MaxBackups: 5,
			MaxAge:     60, // days
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(rotated), level))
	}

	baseLogger = zap.New(zapcore.NewTee(cores...), zap.AddCallerSkip(1))
	log = baseLogger.Sugar()
	return nil
}

// ensureLevel backs the runtime level with a default atomic level when
// Init has not run yet, so SetLevel and Level work standalone.
func ensureLevel() {
	if level == (zap.AtomicLevel{}) {
		level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
}

// SetLevel adjusts the logger level at runtime.  Accepted names follow the
// LOG_LEVEL configuration key: ERROR, WARNING, INFO, ALL.
func SetLevel(name string) error {
	ensureLevel()
	switch strings.ToUpper(name) {
	case "ERROR":
		level.SetLevel(zapcore.ErrorLevel)
	case "WARNING", "WARN":
		level.SetLevel(zapcore.WarnLevel)
	case "INFO":
		level.SetLevel(zapcore.InfoLevel)
	case "ALL", "DEBUG":
		level.SetLevel(zapcore.DebugLevel)
	default:
		return fmt.Errorf("unknown log level %q", name)
	}
	return nil
}

// Level returns the current level as a LOG_LEVEL-style name.
func Level() string {
	ensureLevel()
	switch level.Level() {
	case zapcore.ErrorLevel:
		return "ERROR"
	case zapcore.WarnLevel:
		return "WARNING"
	case zapcore.InfoLevel:
		return "INFO"
	default:
		return "ALL"
	}
}

// GetZapLogger returns the base zap logger for cases where it's needed
func GetZapLogger() *zap.Logger {
	if baseLogger == nil {
		baseLogger, _ = zap.NewProduction(zap.AddCallerSkip(1))
		log = baseLogger.Sugar()
	}
	return baseLogger
}

// GetSugaredLogger returns the sugared logger instance
func GetSugaredLogger() *zap.SugaredLogger {
	if log == nil {
		baseLogger, _ = zap.NewProduction(zap.AddCallerSkip(1))
		log = baseLogger.Sugar()
	}
	return log
}

// Sync flushes any buffered log entries
func Sync() {
	if log != nil {
		log.Sync()
	}
}

// Package-level convenience functions
func Debug(args ...interface{}) {
	log.Debug(args...)
}

func Debugf(template string, args ...interface{}) {
	log.Debugf(template, args...)
}

func Info(args ...interface{}) {
	log.Info(args...)
}

func Infof(template string, args ...interface{}) {
	log.Infof(template, args...)
}

func Warn(args ...interface{}) {
	log.Warn(args...)
}

func Warnf(template string, args ...interface{}) {
	log.Warnf(template, args...)
}

func Error(args ...interface{}) {
	log.Error(args...)
}

func Errorf(template string, args ...interface{}) {
	log.Errorf(template, args...)
}

func Fatal(args ...interface{}) {
	log.Fatal(args...)
	os.Exit(1)
}

func Fatalf(template string, args ...interface{}) {
	log.Fatalf(template, args...)
	os.Exit(1)
}

// ScrubBody removes the values of the given keys from a raw key=value body
// before it is logged (LOG_IGNORE).
func ScrubBody(body string, ignore []string) string {
	if len(ignore) == 0 {
		return body
	}
	fields := strings.Split(body, "&")
	for i, f := range fields {
		k, _, ok := strings.Cut(f, "=")
		if !ok {
			continue
		}
		for _, ign := range ignore {
			if strings.EqualFold(k, ign) {
				fields[i] = k + "=***"
				break
			}
		}
	}
	return strings.Join(fields, "&")
}
