package log

import (
	"bytes"
	stdlog "log"
	"strings"
)

// Config is a declarative logger configuration, typically filled from
// environment variables or flags.
type Config struct {
	// Level is one of debug|info|warn|error|fatal. Empty means info.
	Level string
	// Format is text or json. Empty means text.
	Format string
}

// ApplyConfig builds a Logger from cfg.
func ApplyConfig(cfg *Config) (Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	var formatter Formatter
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		formatter = &TextFormatter{}
	case "json":
		formatter = &JSONFormatter{}
	default:
		return nil, errUnknownFormat(cfg.Format)
	}
	return NewLogger(WithLevel(level), WithFormatter(formatter)), nil
}

type errUnknownFormat string

func (e errUnknownFormat) Error() string { return "unknown log format " + string(e) }

// RedirectStdLog routes stdlib log output (used by Pebble and friends)
// through the provided logger at info level.
func RedirectStdLog(logger Logger) {
	stdlog.SetFlags(0)
	stdlog.SetOutput(stdLogWriter{logger: logger})
}

type stdLogWriter struct {
	logger Logger
}

func (w stdLogWriter) Write(p []byte) (int, error) {
	msg := string(bytes.TrimRight(p, "\n"))
	if msg != "" {
		w.logger.Info(msg, Str("source", "stdlog"))
	}
	return len(p), nil
}
