package log

import (
	"fmt"
	"io"
	"strings"
)

// Config declares how a logger should be built.
type Config struct {
	Level  string   `json:"level" yaml:"level"`
	Format string   `json:"format" yaml:"format"`
	Redact []string `json:"redact,omitempty" yaml:"redact,omitempty"`
	// SampleInitial and SampleThereafter enable per-message sampling when
	// SampleThereafter > 0.
	SampleInitial    int `json:"sample_initial,omitempty" yaml:"sample_initial,omitempty"`
	SampleThereafter int `json:"sample_thereafter,omitempty" yaml:"sample_thereafter,omitempty"`
	// Writer overrides the console output. Nil means stderr.
	Writer io.Writer `json:"-" yaml:"-"`
}

// ParseLevel maps a level name to a Level. Unknown names return InfoLevel and an error.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel, nil
	case "", "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	case "fatal":
		return FatalLevel, nil
	default:
		return InfoLevel, fmt.Errorf("log: unknown level %q", s)
	}
}

// ApplyConfig builds a Logger from cfg. A nil cfg yields an info-level JSON logger.
func ApplyConfig(cfg *Config) (Logger, error) {
	if cfg == nil {
		return NewLogger(), nil
	}
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	var formatter Formatter
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "", "json":
		formatter = &JSONFormatter{}
	case "text", "console":
		formatter = &TextFormatter{}
	default:
		return nil, fmt.Errorf("log: unknown format %q", cfg.Format)
	}
	var out Output = NewConsoleOutput()
	if cfg.Writer != nil {
		out = NewWriterOutput(cfg.Writer)
	}
	opts := []LoggerOption{
		WithLevel(level),
		WithFormatter(formatter),
		WithOutput(out),
		WithRedactions(cfg.Redact...),
	}
	if cfg.SampleThereafter > 0 {
		opts = append(opts, WithSampling(cfg.SampleInitial, cfg.SampleThereafter))
	}
	return NewLogger(opts...), nil
}
