// SPDX-License-Identifier: AGPL-3.0-or-later

/*
infraglue - infraglue is a Go-based multi-workspace infrastructure orchestration engine that drives Terraform and Pulumi across a monorepo of independently-managed workspaces.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"infraglue/internal/core/executor"
)

// NewRefreshStateCommand returns the `infraglue refresh-state` command.
func NewRefreshStateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refresh-state <environment>",
		Short: "Refresh every workspace's provider state and re-cache its live outputs",
		Args:  cobra.ExactArgs(1),
	}

	cmd.Flags().String("workspace", "", "scope to this workspace and its dependencies")
	cmd.Flags().Bool("ignore-dependencies", false, "skip dependency resolution and use only cached/stale outputs")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd)
		if err != nil {
			return err
		}

		workspace, _ := cmd.Flags().GetString("workspace")
		ignoreDeps, _ := cmd.Flags().GetBool("ignore-dependencies")

		if err := app.Executor.RefreshState(cmd.Context(), args[0], executor.Options{
			CurrentWorkspace:   workspace,
			IgnoreDependencies: ignoreDeps,
		}); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "state refreshed")
		return nil
	}

	return cmd
}
