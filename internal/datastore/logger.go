// Package datastore logging bridges GORM's logger onto slog.
package datastore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	gormlogger "gorm.io/gorm/logger"

	"github.com/tmakinen/pixelset/internal/logging"
)

// DefaultSlowQueryThreshold defines the duration after which a query is considered slow.
const DefaultSlowQueryThreshold = 1 * time.Second

var (
	datastoreLogger *slog.Logger
	loggerOnce      sync.Once
)

// getLogger returns the package logger, initializing it on first use.
func getLogger() *slog.Logger {
	loggerOnce.Do(func() {
		datastoreLogger = logging.ForService("datastore")
	})
	return datastoreLogger
}

// createGormLogger configures and returns a new GORM logger instance.
func createGormLogger() gormlogger.Interface {
	return &slogGormLogger{
		slowThreshold: DefaultSlowQueryThreshold,
		level:         gormlogger.Warn,
	}
}

// slogGormLogger implements gormlogger.Interface on top of slog.
type slogGormLogger struct {
	slowThreshold time.Duration
	level         gormlogger.LogLevel
}

func (l *slogGormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *slogGormLogger) Info(_ context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Info {
		getLogger().Info(msg, "data", data)
	}
}

func (l *slogGormLogger) Warn(_ context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Warn {
		getLogger().Warn(msg, "data", data)
	}
}

func (l *slogGormLogger) Error(_ context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Error {
		getLogger().Error(msg, "data", data)
	}
}

func (l *slogGormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()

	switch {
	case err != nil && l.level >= gormlogger.Error:
		getLogger().Error("query failed",
			"error", err,
			"sql", sql,
			"rows", rows,
			"elapsed_ms", elapsed.Milliseconds())
	case elapsed > l.slowThreshold && l.level >= gormlogger.Warn:
		getLogger().Warn("slow query",
			"sql", sql,
			"rows", rows,
			"elapsed_ms", elapsed.Milliseconds(),
			"threshold_ms", l.slowThreshold.Milliseconds())
	case l.level >= gormlogger.Info:
		getLogger().Debug("query",
			"sql", sql,
			"rows", rows,
			"elapsed_ms", elapsed.Milliseconds())
	}
}
