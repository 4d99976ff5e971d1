// SPDX-License-Identifier: AGPL-3.0-or-later

/*
infraglue - infraglue is a Go-based multi-workspace infrastructure orchestration engine that drives Terraform and Pulumi across a monorepo of independently-managed workspaces.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

package commands

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"infraglue/internal/core/executor"
)

// ttyConfirmer prompts an operator at in/out for each level. It is
// interactive: the exec loop only proceeds past a level when the
// answer is yes, regardless of any --approve value.
type ttyConfirmer struct {
	in  io.Reader
	out io.Writer
}

func (c *ttyConfirmer) Confirm(levelIndex int, message string) (bool, error) {
	fmt.Fprintf(c.out, "%s\nproceed with level %d? [y/N] ", message, levelIndex+1)
	scanner := bufio.NewScanner(c.in)
	if !scanner.Scan() {
		return false, scanner.Err()
	}
	answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
	return answer == "y" || answer == "yes", nil
}

func (c *ttyConfirmer) NonInteractive() bool { return false }

// autoApproveConfirmer answers yes for every level without prompting,
// the --yes escape hatch for interactive runs that should not pause.
type autoApproveConfirmer struct{ out io.Writer }

func (c *autoApproveConfirmer) Confirm(levelIndex int, message string) (bool, error) {
	fmt.Fprintf(c.out, "%s\nauto-approving level %d\n", message, levelIndex+1)
	return true, nil
}

func (c *autoApproveConfirmer) NonInteractive() bool { return false }

// approveOneLevelConfirmer is the non-interactive, CI-style
// collaborator: it only proceeds when the caller's approve value
// names this exact level, and stops afterward regardless of any
// answer it gives — one CLI invocation approves at most one level.
type approveOneLevelConfirmer struct{ out io.Writer }

func (c *approveOneLevelConfirmer) Confirm(levelIndex int, message string) (bool, error) {
	fmt.Fprintf(c.out, "%s\nlevel %d not pre-approved; stopping\n", message, levelIndex+1)
	return false, nil
}

func (c *approveOneLevelConfirmer) NonInteractive() bool { return true }

var (
	_ executor.Confirmer = (*ttyConfirmer)(nil)
	_ executor.Confirmer = (*autoApproveConfirmer)(nil)
	_ executor.Confirmer = (*approveOneLevelConfirmer)(nil)
)
