// Package util holds the matchmaker's shared helpers: logging, host
// inspection, TLS material and nonce generation.
package util

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogConfig holds configuration for the logging system.
type LogConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	Console    bool   `json:"console"`
	JSON       bool   `json:"json"`
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:      "info",
		Directory:  "logs",
		MaxSizeMB:  10,
		MaxBackups: 5,
		Console:    true,
	}
}

// InitLogger installs the global zerolog logger. An empty Directory
// disables the file sink; JSON switches the console sink to raw JSON lines.
func InitLogger(cfg LogConfig) error {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	sinks := make([]io.Writer, 0, 2)
	var filePath string
	if cfg.Directory != "" {
		f, path, err := openLogFile(cfg.Directory, int64(cfg.MaxSizeMB)<<20, time.Now())
		if err != nil {
			return err
		}
		sinks = append(sinks, f)
		filePath = path
	}
	switch {
	case !cfg.Console:
	case cfg.JSON:
		sinks = append(sinks, os.Stdout)
	default:
		sinks = append(sinks, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"})
	}
	if len(sinks) == 0 {
		sinks = append(sinks, io.Discard)
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(sinks...)).
		With().
		Timestamp().
		Str("app", "matchmaker").
		Caller().
		Logger()

	log.Info().Str("level", level.String()).Str("log_file", filePath).Msg("logger initialized")

	if cfg.Directory != "" {
		go pruneLogs(cfg.Directory, cfg.MaxBackups)
	}
	return nil
}

// logFileName names the n-th log file of a day. Numbered files sort after
// the day's first file.
func logFileName(day time.Time, n int) string {
	if n == 0 {
		return fmt.Sprintf("matchmaker_%s.log", day.Format("2006-01-02"))
	}
	return fmt.Sprintf("matchmaker_%s_%03d.log", day.Format("2006-01-02"), n)
}

// openLogFile appends to today's newest log file, starting a numbered one
// once that file has reached maxBytes. maxBytes <= 0 disables the size cap.
func openLogFile(dir string, maxBytes int64, now time.Time) (*os.File, string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, "", fmt.Errorf("create log directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, logFileName(now, 0))
	for n := 1; maxBytes > 0 && n < 1000; n++ {
		info, err := os.Stat(path)
		if err != nil || info.Size() < maxBytes {
			break
		}
		path = filepath.Join(dir, logFileName(now, n))
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, "", fmt.Errorf("open log file %s: %w", path, err)
	}
	return f, path, nil
}

// pruneLogs keeps the newest keep .log files in dir. keep <= 0 keeps all.
func pruneLogs(dir string, keep int) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && filepath.Ext(e.Name()) == ".log" {
			names = append(names, e.Name())
		}
	}
	for keep > 0 && len(names) > keep {
		path := filepath.Join(dir, names[0])
		names = names[1:]
		if err := os.Remove(path); err == nil {
			log.Debug().Str("file", path).Msg("pruned log file")
		}
	}
}

// ComponentLogger returns the global logger tagged with component.
func ComponentLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
