// SPDX-License-Identifier: AGPL-3.0-or-later

/*
infraglue - infraglue is a Go-based multi-workspace infrastructure orchestration engine that drives Terraform and Pulumi across a monorepo of independently-managed workspaces.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"infraglue/internal/core/executor"
)

// NewDriftCommand returns the `infraglue drift` command.
func NewDriftCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drift <environment>",
		Short: "Compare live infrastructure and pending configuration changes",
		Args:  cobra.ExactArgs(1),
	}

	cmd.Flags().Bool("refresh-only", false, "report infrastructure drift only, skip the configuration-change comparison")
	cmd.Flags().Bool("json", false, "print the drift report as JSON")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd)
		if err != nil {
			return err
		}

		refreshOnly, _ := cmd.Flags().GetBool("refresh-only")
		asJSON, _ := cmd.Flags().GetBool("json")

		report, err := app.Executor.Drift(cmd.Context(), args[0], executor.Options{RefreshOnly: refreshOnly})
		if err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}

		if !report.HasDrift {
			fmt.Fprintln(cmd.OutOrStdout(), "no drift detected")
			return nil
		}
		for _, ws := range report.Workspaces {
			if !ws.HasDrift {
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s): infra=%t config=%t\n", ws.Name, ws.Provider, ws.InfrastructureDrift.HasDrift, ws.ConfigurationDrift.HasDrift)
		}
		return nil
	}

	return cmd
}
