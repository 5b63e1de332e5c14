package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type options struct {
	encoding string
	fields   map[string]any
	outputs  []string
}

// Option adjusts the logger built by New.
type Option func(*options)

// WithEncoding selects "json" (default) or "console" output.
func WithEncoding(encoding string) Option {
	return func(o *options) {
		if encoding != "" {
			o.encoding = strings.ToLower(encoding)
		}
	}
}

// WithService stamps every entry with the service identity.
func WithService(name, env, version string) Option {
	return func(o *options) {
		o.fields["service"] = name
		o.fields["env"] = env
		o.fields["version"] = version
	}
}

// WithOutputs overrides the sink paths (stdout by default).
func WithOutputs(paths ...string) Option {
	return func(o *options) {
		if len(paths) > 0 {
			o.outputs = paths
		}
	}
}

// New constructs a zap.Logger configured for structured logging.
func New(level string, opts ...Option) (*zap.Logger, error) {
	zapLevel := zapcore.InfoLevel
	if err := zapLevel.Set(strings.ToLower(level)); err != nil {
		return nil, err
	}

	o := options{encoding: "json", fields: map[string]any{}, outputs: []string{"stdout"}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.encoding != "json" && o.encoding != "console" {
		return nil, fmt.Errorf("unsupported log encoding: %s", o.encoding)
	}

	encodeLevel := zapcore.LowercaseLevelEncoder
	if o.encoding == "console" {
		encodeLevel = zapcore.CapitalColorLevelEncoder
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    o.encoding,
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    encodeLevel,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      o.outputs,
		ErrorOutputPaths: []string{"stderr"},
		InitialFields:    o.fields,
	}

	return cfg.Build()
}
