// SPDX-FileCopyrightText: Copyright (c) 2024-2026, Renderhaus, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package logging builds the process-wide zerolog logger.
package logging

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/renderhaus/storage-sentinel/app/build"
)

type options struct {
	level   zerolog.Level
	sinks   []io.Writer
	version string
}

type LoggerOpt func(*options) error

// WithLevel sets the minimum level from its string form ("debug", "info", ...).
func WithLevel(level string) LoggerOpt {
	return func(o *options) error {
		parsed, err := zerolog.ParseLevel(level)
		if err != nil {
			return errors.Wrapf(err, "invalid log level %q", level)
		}
		o.level = parsed
		return nil
	}
}

// WithSink adds an output sink. Repeatable; stdout is used when none is set.
func WithSink(sink io.Writer) LoggerOpt {
	return func(o *options) error {
		o.sinks = append(o.sinks, sink)
		return nil
	}
}

// WithVersion overrides the build version stamped on every line.
func WithVersion(version string) LoggerOpt {
	return func(o *options) error {
		o.version = version
		return nil
	}
}

// NewLogger constructs the logger and installs it as zerolog's default
// context logger, so log.Ctx(ctx) resolves to it wherever a request
// context flows.
func NewLogger(opts ...LoggerOpt) (*zerolog.Logger, error) {
	o := &options{
		level:   zerolog.InfoLevel,
		version: build.GetVersion(),
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	if len(o.sinks) == 0 {
		o.sinks = []io.Writer{os.Stdout}
	}

	logger := zerolog.New(io.MultiWriter(o.sinks...)).
		Level(o.level).
		With().
		Str("version", o.version).
		Timestamp().
		Caller().
		Logger()

	zerolog.DefaultContextLogger = &logger
	return &logger, nil
}
