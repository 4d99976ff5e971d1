// SPDX-License-Identifier: AGPL-3.0-or-later

/*
infraglue - infraglue is a Go-based multi-workspace infrastructure orchestration engine that drives Terraform and Pulumi across a monorepo of independently-managed workspaces.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Command infraglue is the CLI entrypoint: it builds the root Cobra
// command and translates a returned error into an exit code via the
// engine's error taxonomy.
package main

import (
	"fmt"
	"os"

	"infraglue/internal/cli"
	"infraglue/internal/core/errs"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(errs.ExitCodeOf(err))
	}
}
