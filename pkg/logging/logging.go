// SPDX-License-Identifier: AGPL-3.0-or-later

/*
infraglue - infraglue is a Go-based multi-workspace infrastructure orchestration engine that drives Terraform and Pulumi across a monorepo of independently-managed workspaces.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package logging provides structured logging for the orchestration engine.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents a log level.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger provides structured logging.
//
// The interface is backend-agnostic; the default implementation wraps a
// zap.SugaredLogger so callers never import zap directly.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	WithFields(fields ...Field) Logger
	// Sync flushes any buffered log entries. Callers should defer Sync at
	// process exit; errors are expected and ignorable on most terminals.
	Sync() error
}

// Field represents a key-value pair in structured logging.
type Field struct {
	Key   string
	Value interface{}
}

// NewField creates a new field.
func NewField(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

func (f Field) zap() zap.Field {
	return zap.Any(f.Key, f.Value)
}

// zapLogger is the default Logger implementation, backed by zap.
type zapLogger struct {
	l *zap.SugaredLogger
}

// NewLogger creates a new logger.
// If verbose is true, debug-level logs are shown and the encoder switches
// to a human-readable console format; otherwise it emits structured JSON
// at info level and above, suitable for CI logs.
func NewLogger(verbose bool) Logger {
	var cfg zap.Config
	if verbose {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
		cfg.EncoderConfig.TimeKey = "time"
	}
	cfg.DisableStacktrace = true

	base, err := cfg.Build()
	if err != nil {
		// Fall back to a no-op core rather than panicking; logging must
		// never be the reason an orchestration run fails.
		base = zap.NewNop()
	}

	return &zapLogger{l: base.Sugar()}
}

func (z *zapLogger) Debug(msg string, fields ...Field) { z.l.Debugw(msg, toZapArgs(fields)...) }
func (z *zapLogger) Info(msg string, fields ...Field)  { z.l.Infow(msg, toZapArgs(fields)...) }
func (z *zapLogger) Warn(msg string, fields ...Field)  { z.l.Warnw(msg, toZapArgs(fields)...) }
func (z *zapLogger) Error(msg string, fields ...Field) { z.l.Errorw(msg, toZapArgs(fields)...) }

// WithFields returns a new logger with additional persistent fields.
func (z *zapLogger) WithFields(fields ...Field) Logger {
	args := toZapArgs(fields)
	return &zapLogger{l: z.l.With(args...)}
}

func (z *zapLogger) Sync() error {
	return z.l.Sync()
}

// toZapArgs flattens Field pairs into zap's key/value varargs convention.
func toZapArgs(fields []Field) []interface{} {
	args := make([]interface{}, 0, len(fields)*2)
	for _, f := range fields {
		args = append(args, f.Key, f.Value)
	}
	return args
}

// NewNop returns a Logger that discards everything, for tests that don't
// care about log output but need a non-nil Logger.
func NewNop() Logger {
	return &zapLogger{l: zap.NewNop().Sugar()}
}
