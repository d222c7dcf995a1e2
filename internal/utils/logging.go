package utils

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// LogOptions configures SetupLogging.
type LogOptions struct {
	// File receives a plain text copy of every record. Empty disables file logging.
	File  string
	Debug bool
}

// SetupLogging installs the default slog logger: tinted output on stdout and, when a log
// file is configured, a text handler behind a LogInterceptor. The returned closer flushes
// and closes the log file.
func SetupLogging(opts LogOptions) (io.Closer, error) {
	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}

	stdoutHandler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      level,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})

	if opts.File == "" {
		slog.SetDefault(slog.New(stdoutHandler))
		return io.NopCloser(nil), nil
	}

	if err := EnsureParent(opts.File); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	file, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	interceptor := NewLogInterceptor(file)
	fileHandler := slog.NewTextHandler(interceptor, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		// the interceptor stamps the time
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	})

	slog.SetDefault(slog.New(NewMultiLogHandler(stdoutHandler, fileHandler)))
	return &logFile{interceptor: interceptor, file: file}, nil
}

type logFile struct {
	interceptor *LogInterceptor
	file        *os.File
}

func (l *logFile) Close() error {
	if err := l.interceptor.Close(); err != nil {
		l.file.Close()
		return err
	}
	return l.file.Close()
}
