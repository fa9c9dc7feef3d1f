package sweeper

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// cronLogger routes robfig/cron's logging through slog
type cronLogger struct {
	logger *slog.Logger
}

var _ cron.Logger = cronLogger{}

func newCronLogger() cronLogger {
	return cronLogger{logger: slog.Default().With("component", "cron")}
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
