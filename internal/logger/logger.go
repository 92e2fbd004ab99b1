package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation settings
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// FileConfig describes file destinations.
// AppPath receives themerig's own log records. Service output goes to
// StdoutPath/StderrPath, or Dir/<name>.stdout.log and Dir/<name>.stderr.log.
type FileConfig struct {
	AppPath    string `mapstructure:"file"`
	Dir        string `mapstructure:"dir"`
	StdoutPath string `mapstructure:"stdout"`
	StderrPath string `mapstructure:"stderr"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Config is the unified logging configuration.
type Config struct {
	Level string     `mapstructure:"level"` // debug, info, warn, error
	Color bool       `mapstructure:"color"`
	JSON  bool       `mapstructure:"json"`
	File  FileConfig `mapstructure:",squash"`
}

func (c FileConfig) rotating(path string) *lj.Logger {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

// ProcessWriters returns rotating writers for a supervised service's stdout
// and stderr. Either may be nil when no destination is configured.
func (c Config) ProcessWriters(name string) (io.WriteCloser, io.WriteCloser, error) {
	stdout := c.File.StdoutPath
	stderr := c.File.StderrPath
	if stdout == "" && c.File.Dir != "" {
		stdout = filepath.Join(c.File.Dir, fmt.Sprintf("%s.stdout.log", name))
	}
	if stderr == "" && c.File.Dir != "" {
		stderr = filepath.Join(c.File.Dir, fmt.Sprintf("%s.stderr.log", name))
	}
	if c.File.Dir != "" {
		if err := os.MkdirAll(c.File.Dir, 0o750); err != nil {
			return nil, nil, err
		}
	}
	var outW io.WriteCloser
	var errW io.WriteCloser
	if stdout != "" {
		outW = c.File.rotating(stdout)
	}
	if stderr != "" {
		errW = c.File.rotating(stderr)
	}
	return outW, errW, nil
}

// NewSlogger builds the application logger. Records go to the rotating
// AppPath file when set, otherwise to fallback. The returned closer releases
// the file and is never nil.
//
// The stdio tool transport owns stdout, so callers must not pass os.Stdout
// as fallback in that mode.
func (c Config) NewSlogger(fallback io.Writer) (*slog.Logger, io.Closer) {
	var w io.Writer = fallback
	var closer io.Closer = nopCloser{}
	if c.File.AppPath != "" {
		_ = os.MkdirAll(filepath.Dir(c.File.AppPath), 0o750)
		f := c.File.rotating(c.File.AppPath)
		w, closer = f, f
	}
	if w == nil {
		w = io.Discard
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(c.Level)}
	var h slog.Handler
	switch {
	case c.JSON:
		h = slog.NewJSONHandler(w, opts)
	case c.Color:
		h = NewColorTextHandler(w, opts)
	default:
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h), closer
}

// ParseLevel maps a level name to slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
