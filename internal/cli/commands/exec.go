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

// NewExecCommand returns the `infraglue exec` command, driving
// apply (or, with --destroy, teardown) level by level.
func NewExecCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec <environment>",
		Short: "Apply (or destroy) the computed execution plan",
		Args:  cobra.ExactArgs(1),
	}

	cmd.Flags().String("workspace", "", "scope to this workspace and its dependencies")
	cmd.Flags().Bool("ignore-dependencies", false, "skip dependency resolution and use only cached/stale outputs")
	cmd.Flags().Bool("destroy", false, "tear down instead of applying")
	cmd.Flags().Bool("yes", false, "auto-approve every level without prompting")
	cmd.Flags().Int("approve", 0, "non-interactively approve exactly this 1-based level, then stop")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd)
		if err != nil {
			return err
		}

		workspace, _ := cmd.Flags().GetString("workspace")
		ignoreDeps, _ := cmd.Flags().GetBool("ignore-dependencies")
		destroy, _ := cmd.Flags().GetBool("destroy")
		yes, _ := cmd.Flags().GetBool("yes")
		approve, _ := cmd.Flags().GetInt("approve")

		opts := executor.Options{
			CurrentWorkspace:   workspace,
			IgnoreDependencies: ignoreDeps,
			IsDestroy:          destroy,
			Approve:            approve,
		}
		switch {
		case approve > 0:
			opts.Confirmer = &approveOneLevelConfirmer{out: cmd.OutOrStdout()}
		case yes:
			opts.Confirmer = &autoApproveConfirmer{out: cmd.OutOrStdout()}
		default:
			opts.Confirmer = &ttyConfirmer{in: cmd.InOrStdin(), out: cmd.OutOrStdout()}
		}

		exports, err := app.Executor.Exec(cmd.Context(), args[0], opts)
		if err != nil {
			return err
		}
		for _, exp := range exports {
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", exp.Name, exp.Value)
		}
		return nil
	}

	return cmd
}
