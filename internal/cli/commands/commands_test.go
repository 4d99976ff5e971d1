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
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func newTestRoot(cmd *cobra.Command) *cobra.Command {
	root := &cobra.Command{Use: "infraglue"}
	root.PersistentFlags().StringP("root", "C", ".", "monorepo root directory")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable verbose logging")
	root.AddCommand(cmd)
	return root
}

func executeCommand(cmd *cobra.Command, args ...string) (string, error) {
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestCommandMetadata(t *testing.T) {
	cases := []struct {
		cmd  *cobra.Command
		use  string
		args int
	}{
		{NewSelectEnvCommand(), "select-env <environment>", 1},
		{NewSelectedEnvCommand(), "selected-env", 0},
		{NewExecCommand(), "exec <environment>", 1},
		{NewPlanCommand(), "plan <environment>", 1},
		{NewDriftCommand(), "drift <environment>", 1},
		{NewRefreshStateCommand(), "refresh-state <environment>", 1},
		{NewGraphCommand(), "graph <environment>", 1},
	}
	for _, tc := range cases {
		require.Equal(t, tc.use, tc.cmd.Use)
		require.NotEmpty(t, tc.cmd.Short)
	}
}

func TestExecCommand_FlagsRegistered(t *testing.T) {
	cmd := NewExecCommand()
	for _, name := range []string{"workspace", "ignore-dependencies", "destroy", "yes", "approve"} {
		require.NotNil(t, cmd.Flags().Lookup(name), "expected --%s to be registered", name)
	}
}

func TestPlanCommand_FlagsRegistered(t *testing.T) {
	cmd := NewPlanCommand()
	for _, name := range []string{"workspace", "ignore-dependencies", "destroy", "detailed"} {
		require.NotNil(t, cmd.Flags().Lookup(name), "expected --%s to be registered", name)
	}
}

func TestDriftCommand_FlagsRegistered(t *testing.T) {
	cmd := NewDriftCommand()
	for _, name := range []string{"refresh-only", "json"} {
		require.NotNil(t, cmd.Flags().Lookup(name), "expected --%s to be registered", name)
	}
}

func TestSelectEnvCommand_FailsWithoutMonorepo(t *testing.T) {
	root := newTestRoot(NewSelectEnvCommand())
	_, err := executeCommand(root, "select-env", "dev", "--root", t.TempDir())
	require.Error(t, err)
	require.Contains(t, err.Error(), "no ig.yaml monorepo found")
}

func TestGraphCommand_FailsWithoutMonorepo(t *testing.T) {
	root := newTestRoot(NewGraphCommand())
	_, err := executeCommand(root, "graph", "dev", "--root", t.TempDir())
	require.Error(t, err)
	require.Contains(t, err.Error(), "no ig.yaml monorepo found")
}
