package logger

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const DefaultSlowThreshold = 200 * time.Millisecond

// LogrusLogger routes gorm statements to logrus.
type LogrusLogger struct {
	logger        *logrus.Logger
	level         gormlogger.LogLevel
	slowThreshold time.Duration
}

func NewLogrusLogger() *LogrusLogger {
	return NewLogrusLoggerWith(logrus.StandardLogger(), gormlogger.Warn, DefaultSlowThreshold)
}

func NewLogrusLoggerWith(logger *logrus.Logger, level gormlogger.LogLevel, slowThreshold time.Duration) *LogrusLogger {
	return &LogrusLogger{
		logger:        logger,
		level:         level,
		slowThreshold: slowThreshold,
	}
}

func (l *LogrusLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	newLogger := *l
	newLogger.level = level
	return &newLogger
}

func (l *LogrusLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Info {
		l.logger.WithContext(ctx).Infof(msg, data...)
	}
}

func (l *LogrusLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Warn {
		l.logger.WithContext(ctx).Warnf(msg, data...)
	}
}

func (l *LogrusLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Error {
		l.logger.WithContext(ctx).Errorf(msg, data...)
	}
}

func (l *LogrusLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	entry := l.logger.WithContext(ctx).WithFields(logrus.Fields{
		"elapsed": elapsed,
		"rows":    rows,
		"sql":     sql,
	})

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= gormlogger.Error:
		entry.Error(err)
	case l.slowThreshold > 0 && elapsed > l.slowThreshold && l.level >= gormlogger.Warn:
		entry.Warnf("SLOW SQL >= %s", l.slowThreshold)
	case l.level >= gormlogger.Info:
		entry.Debug("SQL")
	}
}
