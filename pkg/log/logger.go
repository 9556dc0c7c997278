package log

import "context"

type Logger interface {
	Info(ctx context.Context, format string, args ...interface{})
	Alert(ctx context.Context, format string, args ...interface{})
	Error(ctx context.Context, format string, args ...interface{})
	Warn(ctx context.Context, format string, args ...interface{})
	Debug(ctx context.Context, format string, args ...interface{})
	Notice(ctx context.Context, format string, args ...interface{})
	Critical(ctx context.Context, format string, args ...interface{})
	Emergency(ctx context.Context, format string, args ...interface{})
}

type ctxKey struct{}

// WithScanID tags ctx so that loggers can attach the scan id to every line.
func WithScanID(ctx context.Context, scanID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, scanID)
}

// ScanID returns the scan id stored by WithScanID, if any.
func ScanID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}
