package logger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"
)

const defaultSlowQuery = 200 * time.Millisecond

// StoreLogger routes GORM statement logs into zap. Statements issued from a
// reconciliation job are tagged with the job name and the active trace.
type StoreLogger struct {
	base          *zap.Logger
	level         gormlogger.LogLevel
	slowQuery     time.Duration
	quietNotFound bool
}

// StoreLoggerOption tweaks a StoreLogger.
type StoreLoggerOption func(*StoreLogger)

// WithSlowQuery sets the duration above which a statement is reported as slow.
// Zero disables slow statement reporting.
func WithSlowQuery(d time.Duration) StoreLoggerOption {
	return func(l *StoreLogger) { l.slowQuery = d }
}

// WithNotFoundLogged reports gorm.ErrRecordNotFound as an error. Repositories
// treat a missing row as (nil, nil), so it is silenced by default.
func WithNotFoundLogged() StoreLoggerOption {
	return func(l *StoreLogger) { l.quietNotFound = false }
}

// NewStoreLogger returns a GORM logger writing to log under the "store" name.
func NewStoreLogger(log *zap.Logger, level gormlogger.LogLevel, opts ...StoreLoggerOption) *StoreLogger {
	l := &StoreLogger{
		base:          log.Named("store"),
		level:         level,
		slowQuery:     defaultSlowQuery,
		quietNotFound: true,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *StoreLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *StoreLogger) Info(_ context.Context, format string, args ...any) {
	l.printf(gormlogger.Info, format, args)
}

func (l *StoreLogger) Warn(_ context.Context, format string, args ...any) {
	l.printf(gormlogger.Warn, format, args)
}

func (l *StoreLogger) Error(_ context.Context, format string, args ...any) {
	l.printf(gormlogger.Error, format, args)
}

func (l *StoreLogger) printf(at gormlogger.LogLevel, format string, args []any) {
	if l.level < at {
		return
	}
	sugar := l.base.Sugar()
	switch at {
	case gormlogger.Error:
		sugar.Errorf(format, args...)
	case gormlogger.Warn:
		sugar.Warnf(format, args...)
	default:
		sugar.Infof(format, args...)
	}
}

// Trace reports one executed statement.
func (l *StoreLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	if err != nil && l.quietNotFound && errors.Is(err, gormlogger.ErrRecordNotFound) {
		return
	}

	took := time.Since(begin)
	slow := l.slowQuery > 0 && took > l.slowQuery

	var (
		lvl gormlogger.LogLevel
		msg string
	)
	switch {
	case err != nil:
		lvl, msg = gormlogger.Error, "SQL Error"
	case slow:
		lvl, msg = gormlogger.Warn, fmt.Sprintf("Slow SQL >= %v", l.slowQuery)
	default:
		lvl, msg = gormlogger.Info, "SQL Query"
	}
	if l.level < lvl {
		return
	}

	statement, rows := fc()
	fields := make([]zap.Field, 0, 5)
	fields = append(fields,
		zap.String("sql", statement),
		zap.Int64("rows", rows),
		zap.Duration("elapsed", took),
	)
	if job := GetJob(ctx); job != "" {
		fields = append(fields, zap.String("job", job))
	}

	switch lvl {
	case gormlogger.Error:
		WithTraceContext(ctx, l.base).Error(msg, append(fields, zap.Error(err))...)
	case gormlogger.Warn:
		WithTraceContext(ctx, l.base).Warn(msg, fields...)
	default:
		l.base.Debug(msg, fields...)
	}
}

// ParseStoreLevel converts the database.log_level setting into a GORM level.
// Unknown values fall back to warn.
func ParseStoreLevel(level string) gormlogger.LogLevel {
	levels := map[string]gormlogger.LogLevel{
		"silent": gormlogger.Silent,
		"error":  gormlogger.Error,
		"warn":   gormlogger.Warn,
		"info":   gormlogger.Info,
		"debug":  gormlogger.Info,
	}
	if lvl, ok := levels[level]; ok {
		return lvl
	}
	return gormlogger.Warn
}
