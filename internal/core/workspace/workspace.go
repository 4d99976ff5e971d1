// SPDX-License-Identifier: AGPL-3.0-or-later

/*
infraglue - infraglue is a Go-based multi-workspace infrastructure orchestration engine that drives Terraform and Pulumi across a monorepo of independently-managed workspaces.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package workspace adapts one model.Workspace's provider calls to the
// durable state store: it builds the ProviderConfig a Provider needs,
// persists outputs after apply, and serves cached outputs when asked
// for a stale read.
package workspace

import (
	"context"
	"fmt"

	"infraglue/internal/core/errs"
	"infraglue/internal/core/model"
	"infraglue/internal/core/state"
	"infraglue/pkg/orchestrator"
)

// Interop is the per-workspace, per-environment facade the executor
// drives instead of talking to a model.Workspace's Provider directly.
type Interop struct {
	monorepo *model.Monorepo
	ws       *model.Workspace
	env      string
	store    *state.Store
}

// New builds an Interop for ws in env, failing hard if ws does not
// declare env.
func New(monorepo *model.Monorepo, ws *model.Workspace, env string, store *state.Store) (*Interop, error) {
	if !ws.HasEnv(env) {
		return nil, errs.NewUserError(ws.Name, "construct workspace interop",
			fmt.Errorf("workspace %q does not declare environment %q", ws.Name, env))
	}
	return &Interop{monorepo: monorepo, ws: ws, env: env, store: store}, nil
}

// Workspace returns the underlying model.Workspace.
func (i *Interop) Workspace() *model.Workspace { return i.ws }

// providerConfig flattens the workspace into the shape its Provider
// consumes.
func (i *Interop) providerConfig() orchestrator.ProviderConfig {
	injections := make(map[string]string, len(i.ws.Injections))
	for localKey, inj := range i.ws.Injections {
		injections[localKey] = inj.WorkspaceKey + ":" + inj.OutputKey
	}

	envs := make(map[string]orchestrator.EnvironmentConfig, len(i.ws.Envs))
	for name, envCfg := range i.ws.Envs {
		envs[name] = orchestrator.EnvironmentConfig{
			Vars:          envCfg.Vars,
			VarFiles:      envCfg.VarFiles,
			BackendType:   envCfg.BackendType,
			BackendFile:   envCfg.BackendFile,
			BackendConfig: envCfg.BackendConfig,
		}
	}

	providerName := ""
	if i.ws.Provider != nil {
		providerName = i.ws.Provider.ProviderName()
	}

	return orchestrator.ProviderConfig{
		RootMonorepoFolder: i.monorepo.RootDir,
		RootPath:           i.ws.AbsolutePath,
		Alias:              i.ws.Name,
		Provider:           providerName,
		Injections:         injections,
		DependsOn:          i.ws.DependsOn,
		Envs:               envs,
	}
}

// GetOutputs returns the workspace's outputs. If stale is true and
// state already holds cached outputs for this workspace, those are
// returned with actual=false; otherwise outputs are fetched live from
// the provider, persisted, and returned with actual=true.
func (i *Interop) GetOutputs(ctx context.Context, stale bool) (outputs map[string]string, actual bool, err error) {
	if stale {
		st, err := i.store.Read()
		if err != nil {
			return nil, false, err
		}
		if wsState, ok := st.Workspaces[i.ws.Name]; ok && wsState.Outputs != nil {
			return wsState.Outputs, false, nil
		}
	}

	outputs, err = i.ws.Provider.GetOutputs(ctx, i.providerConfig(), i.env)
	if err != nil {
		return nil, false, err
	}
	if _, err := i.store.Update(func(s state.State) state.State {
		return s.WithWorkspaceOutputs(i.ws.Name, outputs)
	}); err != nil {
		return nil, false, err
	}
	return outputs, true, nil
}

// GetPlan delegates to the provider.
func (i *Interop) GetPlan(ctx context.Context, inputs map[string]string, opts orchestrator.PlanOptions) (*orchestrator.Plan, error) {
	return i.ws.Provider.GetPlan(ctx, i.providerConfig(), inputs, i.env, opts)
}

// DestroyPlan delegates to the provider.
func (i *Interop) DestroyPlan(ctx context.Context, inputs map[string]string) (*orchestrator.Plan, error) {
	return i.ws.Provider.DestroyPlan(ctx, i.providerConfig(), inputs, i.env)
}

// GetDriftPlan delegates to the provider.
func (i *Interop) GetDriftPlan(ctx context.Context, inputs map[string]string) (*orchestrator.Plan, error) {
	return i.ws.Provider.GetDriftPlan(ctx, i.providerConfig(), inputs, i.env)
}

// Refresh delegates to the provider. It does not touch the cached
// outputs; callers that want fresh outputs call GetOutputs afterward.
func (i *Interop) Refresh(ctx context.Context, inputs map[string]string) error {
	return i.ws.Provider.Refresh(ctx, i.providerConfig(), inputs, i.env)
}

// IsDestroyed delegates to the provider.
func (i *Interop) IsDestroyed(ctx context.Context) (bool, error) {
	return i.ws.Provider.IsDestroyed(ctx, i.providerConfig(), i.env)
}

// Apply delegates to the provider and persists the returned outputs.
func (i *Interop) Apply(ctx context.Context, inputs map[string]string) (map[string]string, error) {
	outputs, err := i.ws.Provider.Apply(ctx, i.providerConfig(), inputs, i.env)
	if err != nil {
		return nil, err
	}
	if _, err := i.store.Update(func(s state.State) state.State {
		return s.WithWorkspaceOutputs(i.ws.Name, outputs)
	}); err != nil {
		return nil, err
	}
	return outputs, nil
}

// Destroy delegates to the provider and clears the workspace's cached
// outputs.
func (i *Interop) Destroy(ctx context.Context, inputs map[string]string) error {
	if err := i.ws.Provider.Destroy(ctx, i.providerConfig(), inputs, i.env); err != nil {
		return err
	}
	_, err := i.store.Update(func(s state.State) state.State {
		return s.WithoutWorkspaceOutputs(i.ws.Name)
	})
	return err
}

// SelectEnvironment clears this workspace's cached outputs, then runs
// the provider's own backend/stack initialisation for env.
func (i *Interop) SelectEnvironment(ctx context.Context) error {
	if _, err := i.store.Update(func(s state.State) state.State {
		return s.WithoutWorkspaceOutputs(i.ws.Name)
	}); err != nil {
		return err
	}
	return i.ws.Provider.SelectEnvironment(ctx, i.providerConfig(), i.env)
}
