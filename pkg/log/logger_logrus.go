package log

import (
	"context"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// LogrusLogger adapts a logrus.Logger to the Logger interface. Levels without a
// logrus counterpart are mapped onto the closest one and tagged with a
// "severity" field.
type LogrusLogger struct {
	log *logrus.Logger
}

func NewLogrusLogger(level, format string, out io.Writer) (*LogrusLogger, error) {
	l := logrus.New()
	if out == nil {
		out = os.Stdout
	}
	l.SetOutput(out)

	switch format {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	default:
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	l.SetLevel(parsed)

	return &LogrusLogger{log: l}, nil
}

// Logrus exposes the underlying logger for libraries that want one.
func (l *LogrusLogger) Logrus() *logrus.Logger {
	return l.log
}

func (l *LogrusLogger) entry(ctx context.Context) *logrus.Entry {
	e := logrus.NewEntry(l.log)
	if id := ScanID(ctx); id != "" {
		e = e.WithField("scan_id", id)
	}
	return e
}

func (l *LogrusLogger) Info(ctx context.Context, format string, args ...interface{}) {
	l.entry(ctx).Infof(format, args...)
}

func (l *LogrusLogger) Alert(ctx context.Context, format string, args ...interface{}) {
	l.entry(ctx).WithField("severity", "alert").Errorf(format, args...)
}

func (l *LogrusLogger) Error(ctx context.Context, format string, args ...interface{}) {
	l.entry(ctx).Errorf(format, args...)
}

func (l *LogrusLogger) Warn(ctx context.Context, format string, args ...interface{}) {
	l.entry(ctx).Warnf(format, args...)
}

func (l *LogrusLogger) Debug(ctx context.Context, format string, args ...interface{}) {
	l.entry(ctx).Debugf(format, args...)
}

func (l *LogrusLogger) Notice(ctx context.Context, format string, args ...interface{}) {
	l.entry(ctx).WithField("severity", "notice").Infof(format, args...)
}

func (l *LogrusLogger) Critical(ctx context.Context, format string, args ...interface{}) {
	l.entry(ctx).WithField("severity", "critical").Errorf(format, args...)
}

func (l *LogrusLogger) Emergency(ctx context.Context, format string, args ...interface{}) {
	l.entry(ctx).WithField("severity", "emergency").Errorf(format, args...)
}
