// SPDX-License-Identifier: AGPL-3.0-or-later

/*
infraglue - infraglue is a Go-based multi-workspace infrastructure orchestration engine that drives Terraform and Pulumi across a monorepo of independently-managed workspaces.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLevelString(t *testing.T) {
	cases := map[Level]string{
		LevelDebug: "DEBUG",
		LevelInfo:  "INFO",
		LevelWarn:  "WARN",
		LevelError: "ERROR",
		Level(99):  "UNKNOWN",
	}
	for level, want := range cases {
		require.Equal(t, want, level.String())
	}
}

func TestNewLoggerDoesNotPanic(t *testing.T) {
	for _, verbose := range []bool{true, false} {
		logger := NewLogger(verbose)
		require.NotNil(t, logger)

		logger.Debug("debug", NewField("k", "v"))
		logger.Info("info")
		logger.Warn("warn", NewField("n", 1))
		logger.Error("error")

		child := logger.WithFields(NewField("workspace", "net"))
		require.NotNil(t, child)
		child.Info("child message")

		_ = logger.Sync()
	}
}

func TestNewNop(t *testing.T) {
	logger := NewNop()
	require.NotNil(t, logger)
	logger.Info("discarded")
}
