// SPDX-License-Identifier: AGPL-3.0-or-later

/*
infraglue - infraglue is a Go-based multi-workspace infrastructure orchestration engine that drives Terraform and Pulumi across a monorepo of independently-managed workspaces.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package cli wires together the infraglue root Cobra command, its
// global flags, and the subcommands that drive the orchestration
// engine from a terminal.
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"infraglue/internal/cli/commands"
)

// NewRootCommand constructs the infraglue root Cobra command.
func NewRootCommand() *cobra.Command {
	version := os.Getenv("INFRAGLUE_VERSION")
	if version == "" {
		version = "0.0.0-dev"
	}

	cmd := &cobra.Command{
		Use:           "infraglue",
		Short:         "infraglue – multi-workspace infrastructure orchestration",
		Long:          "infraglue drives Terraform and Pulumi across a monorepo of independently-managed workspaces, wiring outputs between them and executing changes level by level.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}

	cmd.PersistentFlags().StringP("root", "C", ".", "monorepo root directory")
	cmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose logging")

	// Subcommands registered in lexicographic order by .Use for
	// deterministic help output.
	cmd.AddCommand(commands.NewDriftCommand())
	cmd.AddCommand(commands.NewExecCommand())
	cmd.AddCommand(commands.NewGraphCommand())
	cmd.AddCommand(commands.NewPlanCommand())
	cmd.AddCommand(commands.NewRefreshStateCommand())
	cmd.AddCommand(commands.NewSelectEnvCommand())
	cmd.AddCommand(commands.NewSelectedEnvCommand())

	return cmd
}
