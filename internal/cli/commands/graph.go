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

	"infraglue/internal/core/model"
)

// NewGraphCommand returns the read-only `infraglue graph` command: it
// prints the computed execution plan's levels without invoking any
// provider, useful for debugging dependency wiring.
func NewGraphCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph <environment>",
		Short: "Print the computed execution plan's levels",
		Args:  cobra.ExactArgs(1),
	}

	cmd.Flags().String("workspace", "", "scope to this workspace and its dependencies")
	cmd.Flags().Bool("ignore-dependencies", false, "ignore dependency edges when scoping to --workspace")
	cmd.Flags().Bool("destroy", false, "level in teardown order instead of apply order")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd)
		if err != nil {
			return err
		}

		workspace, _ := cmd.Flags().GetString("workspace")
		ignoreDeps, _ := cmd.Flags().GetBool("ignore-dependencies")
		destroy, _ := cmd.Flags().GetBool("destroy")

		execCtx := model.NewExecutionContext(app.Monorepo, args[0])
		execCtx.CurrentWorkspace = workspace
		execCtx.IgnoreDependencies = ignoreDeps
		execCtx.IsDestroy = destroy

		plan, err := model.NewExecutionPlanBuilder().Build(execCtx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for i, level := range plan.Levels {
			fmt.Fprintf(out, "level %d:\n", i+1)
			for _, ws := range level.Workspaces {
				fmt.Fprintf(out, "  %s\n", ws.Name)
			}
		}
		return nil
	}

	return cmd
}
