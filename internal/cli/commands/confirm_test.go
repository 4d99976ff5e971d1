// SPDX-License-Identifier: AGPL-3.0-or-later

/*
infraglue - infraglue is a Go-based multi-workspace infrastructure orchestration engine that drives Terraform and Pulumi across a monorepo of independently-managed workspaces.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

package commands

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTTYConfirmer_YesProceeds(t *testing.T) {
	c := &ttyConfirmer{in: strings.NewReader("y\n"), out: &bytes.Buffer{}}
	ok, err := c.Confirm(0, "level 1 summary")
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, c.NonInteractive())
}

func TestTTYConfirmer_EmptyLineDeclines(t *testing.T) {
	c := &ttyConfirmer{in: strings.NewReader("\n"), out: &bytes.Buffer{}}
	ok, err := c.Confirm(0, "level 1 summary")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAutoApproveConfirmer_AlwaysYesAndInteractive(t *testing.T) {
	c := &autoApproveConfirmer{out: &bytes.Buffer{}}
	ok, err := c.Confirm(2, "level 3 summary")
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, c.NonInteractive())
}

func TestApproveOneLevelConfirmer_NonInteractiveAndNeverProceedsOnAsk(t *testing.T) {
	c := &approveOneLevelConfirmer{out: &bytes.Buffer{}}
	ok, err := c.Confirm(0, "level 1 summary")
	require.NoError(t, err)
	require.False(t, ok)
	require.True(t, c.NonInteractive())
}
