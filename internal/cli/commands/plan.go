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

// NewPlanCommand returns the `infraglue plan` command, a dry run over
// the computed execution plan.
func NewPlanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan <environment>",
		Short: "Show what exec would change, without applying anything",
		Args:  cobra.ExactArgs(1),
	}

	cmd.Flags().String("workspace", "", "scope to this workspace and its dependencies")
	cmd.Flags().Bool("ignore-dependencies", false, "skip dependency resolution and use only cached/stale outputs")
	cmd.Flags().Bool("destroy", false, "preview a teardown instead of an apply")
	cmd.Flags().Bool("detailed", false, "request detailed per-attribute diffs from the provider")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd)
		if err != nil {
			return err
		}

		workspace, _ := cmd.Flags().GetString("workspace")
		ignoreDeps, _ := cmd.Flags().GetBool("ignore-dependencies")
		destroy, _ := cmd.Flags().GetBool("destroy")
		detailed, _ := cmd.Flags().GetBool("detailed")

		hasChanges, err := app.Executor.Plan(cmd.Context(), args[0], executor.Options{
			CurrentWorkspace:   workspace,
			IgnoreDependencies: ignoreDeps,
			IsDestroy:          destroy,
			Detailed:           detailed,
		})
		if err != nil {
			return err
		}
		if hasChanges {
			fmt.Fprintln(cmd.OutOrStdout(), "changes pending")
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "no changes")
		}
		return nil
	}

	return cmd
}
