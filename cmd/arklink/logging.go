package main

import (
	"fmt"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"

	"github.com/arklink/arklink/internal/job"
)

// newLogger builds the job.Logger adapter described in §A.2: a stderr
// handler is always present, fanned out via slog-multi to an optional file
// handler when logFile is non-empty. The core itself never touches slog;
// it only ever calls the job.Logger callback this function returns.
func newLogger(logFile string, verbose bool) (job.Logger, func(), error) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	handlers := []slog.Handler{slog.NewTextHandler(os.Stderr, opts)}
	closeLog := func() {}

	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, err
		}
		handlers = append(handlers, slog.NewJSONHandler(f, opts))
		closeLog = func() { f.Close() }
	}

	logger := slog.New(slogmulti.Fanout(handlers...))

	return func(level job.LogLevel, format string, args ...any) {
		msg := format
		if len(args) > 0 {
			msg = fmt.Sprintf(format, args...)
		}
		switch level {
		case job.LevelError:
			logger.Error(msg)
		default:
			logger.Warn(msg)
		}
	}, closeLog, nil
}
