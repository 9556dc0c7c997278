package log

import (
	"context"
	"log"
)

type CslLogger struct{}

func NewCslLogger() (*CslLogger, error) {
	return &CslLogger{}, nil
}

func (l *CslLogger) printf(ctx context.Context, level, format string, args ...interface{}) {
	prefix := "[" + level + "] "
	if id := ScanID(ctx); id != "" {
		prefix += "[scan=" + id + "] "
	}
	log.Printf(prefix+format, args...)
}

func (l *CslLogger) Info(ctx context.Context, format string, args ...interface{}) {
	l.printf(ctx, "INFO", format, args...)
}

func (l *CslLogger) Alert(ctx context.Context, format string, args ...interface{}) {
	l.printf(ctx, "ALERT", format, args...)
}

func (l *CslLogger) Error(ctx context.Context, format string, args ...interface{}) {
	l.printf(ctx, "ERROR", format, args...)
}

func (l *CslLogger) Warn(ctx context.Context, format string, args ...interface{}) {
	l.printf(ctx, "WARN", format, args...)
}

func (l *CslLogger) Debug(ctx context.Context, format string, args ...interface{}) {
	l.printf(ctx, "DEBUG", format, args...)
}

func (l *CslLogger) Critical(ctx context.Context, format string, args ...interface{}) {
	l.printf(ctx, "CRITICAL", format, args...)
}

func (l *CslLogger) Emergency(ctx context.Context, format string, args ...interface{}) {
	l.printf(ctx, "EMERGENCY", format, args...)
}

func (l *CslLogger) Notice(ctx context.Context, format string, args ...interface{}) {
	l.printf(ctx, "NOTICE", format, args...)
}
