// SPDX-License-Identifier: AGPL-3.0-or-later

/*
infraglue - infraglue is a Go-based multi-workspace infrastructure orchestration engine that drives Terraform and Pulumi across a monorepo of independently-managed workspaces.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package envmanager drives the two-phase environment selection
// protocol: startSelectingEnv marks the state as "selecting" before any
// workspace is touched, each affected workspace's provider is then
// initialised (concurrently), and finishEnvSelection only lands once
// every one of them has succeeded. An interruption between the two
// phases leaves the state in "selecting", which every other
// orchestration entry point must refuse to run against.
package envmanager

import (
	"context"

	"golang.org/x/sync/errgroup"

	"infraglue/internal/core/errs"
	"infraglue/internal/core/model"
	"infraglue/internal/core/state"
	"infraglue/internal/core/workspace"
)

// Manager drives environment selection for a monorepo.
type Manager struct {
	monorepo *model.Monorepo
	store    *state.Store
}

// New builds a Manager for monorepo, persisting through store.
func New(monorepo *model.Monorepo, store *state.Store) *Manager {
	return &Manager{monorepo: monorepo, store: store}
}

// SelectEnv selects env across every workspace that declares it. It is
// idempotent: if env is already fully selected and every affected
// workspace's recorded env already matches, it is a no-op.
func (m *Manager) SelectEnv(ctx context.Context, env string) error {
	affected := affectedWorkspaces(m.monorepo, env)

	current, err := m.store.Read()
	if err != nil {
		return err
	}
	if current.IsEnvSelected() && current.CurrentEnvironment == env && allWorkspacesOnEnv(current, affected, env) {
		return nil
	}

	if _, err := m.store.Update(func(s state.State) state.State {
		return s.StartSelectingEnv(env)
	}); err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for _, ws := range affected {
		ws := ws
		group.Go(func() error {
			interop, err := workspace.New(m.monorepo, ws, env, m.store)
			if err != nil {
				return err
			}
			return interop.SelectEnvironment(groupCtx)
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	names := make([]string, len(affected))
	for i, ws := range affected {
		names[i] = ws.Name
	}

	var finishErr error
	if _, err := m.store.Update(func(s state.State) state.State {
		next, ferr := s.FinishEnvSelection(names)
		if ferr != nil {
			finishErr = ferr
			return s
		}
		return next
	}); err != nil {
		return err
	}
	return finishErr
}

// SelectedEnv returns the currently selected environment, failing with
// a user error if none is selected (including while a selection is in
// flight).
func (m *Manager) SelectedEnv() (string, error) {
	st, err := m.store.Read()
	if err != nil {
		return "", err
	}
	if !st.IsEnvSelected() {
		return "", errs.NewUserError("", "selected environment", errNoEnvironmentSelected{})
	}
	return st.CurrentEnvironment, nil
}

type errNoEnvironmentSelected struct{}

func (errNoEnvironmentSelected) Error() string { return "No environment selected" }

func affectedWorkspaces(monorepo *model.Monorepo, env string) []*model.Workspace {
	var affected []*model.Workspace
	for _, ws := range monorepo.Workspaces() {
		if ws.HasEnv(env) {
			affected = append(affected, ws)
		}
	}
	return affected
}

func allWorkspacesOnEnv(st state.State, affected []*model.Workspace, env string) bool {
	for _, ws := range affected {
		if st.Workspaces[ws.Name].Env != env {
			return false
		}
	}
	return true
}
