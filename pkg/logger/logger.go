// Package logger provides structured logging with request scoped context
// carried through context.Context.
package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/api3dao/commons-go/pkg/schema"
)

// Format selects the log output encoding.
type Format string

const (
	FormatJSON   Format = "json"
	FormatPretty Format = "pretty"
)

// Level is the minimum level that gets written.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Fields is additional structured context attached to log entries.
type Fields map[string]interface{}

// Config configures a Logger.
type Config struct {
	Colorize bool   `mapstructure:"colorize" json:"colorize"`
	Enabled  bool   `mapstructure:"enabled" json:"enabled"`
	Format   Format `mapstructure:"format" json:"format"`
	MinLevel Level  `mapstructure:"min_level" json:"minLevel"`

	// Output defaults to stdout.
	Output io.Writer `mapstructure:"-" json:"-"`
}

// DefaultConfig returns a pretty printing logger at info level.
func DefaultConfig() Config {
	return Config{
		Enabled:  true,
		Format:   FormatPretty,
		MinLevel: LevelInfo,
	}
}

// ValidateConfig checks that the configuration names a known format and level.
func ValidateConfig(cfg Config) error {
	v := &schema.Validator{}
	switch cfg.Format {
	case FormatJSON, FormatPretty:
	default:
		v.Add(`format must be one of "json" or "pretty"`, "format")
	}
	if _, err := parseLevel(cfg.MinLevel); err != nil {
		v.Add(`minLevel must be one of "debug", "info", "warn" or "error"`, "minLevel")
	}
	return v.Err()
}

func parseLevel(level Level) (logrus.Level, error) {
	switch level {
	case LevelDebug:
		return logrus.DebugLevel, nil
	case LevelInfo:
		return logrus.InfoLevel, nil
	case LevelWarn:
		return logrus.WarnLevel, nil
	case LevelError:
		return logrus.ErrorLevel, nil
	default:
		return logrus.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

// Logger writes structured entries and merges fields stored in the context.
type Logger struct {
	entry *logrus.Entry
}

// New creates a logger from a validated configuration.
func New(cfg Config) (*Logger, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid logger configuration: %w", err)
	}

	level, _ := parseLevel(cfg.MinLevel)

	base := logrus.New()
	base.SetLevel(level)
	switch {
	case !cfg.Enabled:
		base.SetOutput(io.Discard)
	case cfg.Output != nil:
		base.SetOutput(cfg.Output)
	default:
		base.SetOutput(os.Stdout)
	}

	if cfg.Format == FormatJSON {
		base.SetFormatter(&logrus.JSONFormatter{})
	} else {
		base.SetFormatter(&logrus.TextFormatter{
			ForceColors:   cfg.Colorize,
			DisableColors: !cfg.Colorize,
			FullTimestamp: true,
		})
	}

	return &Logger{entry: logrus.NewEntry(base)}, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	base := logrus.New()
	base.SetOutput(io.Discard)
	return &Logger{entry: logrus.NewEntry(base)}
}

// Child returns a logger that tags every entry with name.
func (l *Logger) Child(name string) *Logger {
	return &Logger{entry: l.entry.WithField("name", name)}
}

func (l *Logger) Debug(ctx context.Context, msg string, fields ...Fields) {
	l.with(ctx, fields).Debug(msg)
}

func (l *Logger) Info(ctx context.Context, msg string, fields ...Fields) {
	l.with(ctx, fields).Info(msg)
}

func (l *Logger) Warn(ctx context.Context, msg string, fields ...Fields) {
	l.with(ctx, fields).Warn(msg)
}

// Error logs msg with err attached. err may be nil.
func (l *Logger) Error(ctx context.Context, msg string, err error, fields ...Fields) {
	entry := l.with(ctx, fields)
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Error(msg)
}

// with nests context and call fields under "ctx" so they never clobber the
// message, level or logger name.
func (l *Logger) with(ctx context.Context, fields []Fields) *logrus.Entry {
	merged := Fields{}
	for k, v := range FieldsFromContext(ctx) {
		merged[k] = v
	}
	for _, f := range fields {
		for k, v := range f {
			merged[k] = v
		}
	}
	if len(merged) == 0 {
		return l.entry
	}
	return l.entry.WithField("ctx", map[string]interface{}(merged))
}

type contextKey struct{}

// WithFields returns a context carrying fields merged over any inherited ones.
func WithFields(ctx context.Context, fields Fields) context.Context {
	merged := Fields{}
	for k, v := range FieldsFromContext(ctx) {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return context.WithValue(ctx, contextKey{}, merged)
}

// FieldsFromContext returns the fields stored by WithFields.
func FieldsFromContext(ctx context.Context) Fields {
	if ctx == nil {
		return nil
	}
	fields, _ := ctx.Value(contextKey{}).(Fields)
	return fields
}

// RunWithContext runs fn with fields added to its context. Entries logged
// with the derived context, including from nested calls, carry the fields.
func (l *Logger) RunWithContext(ctx context.Context, fields Fields, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("nil function")
	}
	return fn(WithFields(ctx, fields))
}
