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
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"infraglue/internal/core/envmanager"
	"infraglue/internal/core/executor"
	"infraglue/internal/core/model"
	"infraglue/internal/core/state"
	"infraglue/internal/providers/pulumi"
	"infraglue/internal/providers/terraform"
	"infraglue/pkg/config"
	"infraglue/pkg/executil"
	"infraglue/pkg/logging"
	"infraglue/pkg/orchestrator"
)

// App bundles the engine components a CLI command needs, wired
// against the real filesystem and subprocess runner.
type App struct {
	Monorepo *model.Monorepo
	Store    *state.Store
	EnvMgr   *envmanager.Manager
	Executor *executor.Executor
	Logger   logging.Logger
}

// newApp resolves the monorepo rooted at the --root flag and wires
// every engine component against it.
func newApp(cmd *cobra.Command) (*App, error) {
	rootFlag, err := cmd.Flags().GetString("root")
	if err != nil {
		return nil, err
	}
	root, err := filepath.Abs(rootFlag)
	if err != nil {
		return nil, fmt.Errorf("resolving root %q: %w", rootFlag, err)
	}
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		return nil, err
	}

	logger := logging.NewLogger(verbose)
	fs := afero.NewOsFs()
	runner := executil.NewRunner(logger)
	store := state.NewStore(root, fs)
	if err := store.EnsureInitialised(); err != nil {
		return nil, err
	}

	registry := orchestrator.NewRegistry()
	registry.Register(terraform.NewAdapter(fs, runner, store, logger))
	registry.Register(pulumi.NewAdapter(fs, runner, logger))

	loader := config.NewLoader(fs, registry, logger)
	monorepo, err := loader.TryResolveMonorepo(root)
	if err != nil {
		return nil, err
	}
	if monorepo == nil {
		return nil, fmt.Errorf("no ig.yaml monorepo found at or above %q", root)
	}

	return &App{
		Monorepo: monorepo,
		Store:    store,
		EnvMgr:   envmanager.New(monorepo, store),
		Executor: executor.New(monorepo, store, logger),
		Logger:   logger,
	}, nil
}
