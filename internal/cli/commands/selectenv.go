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
)

// NewSelectEnvCommand returns the `infraglue select-env` command.
func NewSelectEnvCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "select-env <environment>",
		Short: "Select the environment every workspace operation targets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd)
			if err != nil {
				return err
			}
			env := args[0]
			if err := app.EnvMgr.SelectEnv(cmd.Context(), env); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "selected environment %q\n", env)
			return nil
		},
	}
}

// NewSelectedEnvCommand returns the `infraglue selected-env` command.
func NewSelectedEnvCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "selected-env",
		Short: "Print the currently selected environment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd)
			if err != nil {
				return err
			}
			env, err := app.EnvMgr.SelectedEnv()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), env)
			return nil
		},
	}
}
