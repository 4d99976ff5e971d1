// SPDX-License-Identifier: AGPL-3.0-or-later

/*
infraglue - infraglue is a Go-based multi-workspace infrastructure orchestration engine that drives Terraform and Pulumi across a monorepo of independently-managed workspaces.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

package workspace

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"infraglue/internal/core/model"
	"infraglue/internal/core/state"
	"infraglue/pkg/orchestrator"
)

// fakeProvider is a minimal orchestrator.Provider test double: it
// records the ProviderConfig and inputs/env of the most recent call
// and returns scripted results.
type fakeProvider struct {
	name string

	lastCfg    orchestrator.ProviderConfig
	lastInputs map[string]string
	lastEnv    string

	outputs      map[string]string
	outputsErr   error
	applyOutputs map[string]string
	applyErr     error
	destroyErr   error
	destroyed    bool
	destroyedErr error
	selectErr    error
	plan         *orchestrator.Plan
	planErr      error
}

func (f *fakeProvider) ProviderName() string               { return f.name }
func (f *fakeProvider) ExistsInFolder(string) (bool, error) { return true, nil }

func (f *fakeProvider) SelectEnvironment(_ context.Context, cfg orchestrator.ProviderConfig, env string) error {
	f.lastCfg, f.lastEnv = cfg, env
	return f.selectErr
}

func (f *fakeProvider) GetPlan(_ context.Context, cfg orchestrator.ProviderConfig, inputs map[string]string, env string, _ orchestrator.PlanOptions) (*orchestrator.Plan, error) {
	f.lastCfg, f.lastInputs, f.lastEnv = cfg, inputs, env
	return f.plan, f.planErr
}

func (f *fakeProvider) Apply(_ context.Context, cfg orchestrator.ProviderConfig, inputs map[string]string, env string) (map[string]string, error) {
	f.lastCfg, f.lastInputs, f.lastEnv = cfg, inputs, env
	return f.applyOutputs, f.applyErr
}

func (f *fakeProvider) GetOutputs(_ context.Context, cfg orchestrator.ProviderConfig, env string) (map[string]string, error) {
	f.lastCfg, f.lastEnv = cfg, env
	return f.outputs, f.outputsErr
}

func (f *fakeProvider) DestroyPlan(_ context.Context, cfg orchestrator.ProviderConfig, inputs map[string]string, env string) (*orchestrator.Plan, error) {
	f.lastCfg, f.lastInputs, f.lastEnv = cfg, inputs, env
	return f.plan, f.planErr
}

func (f *fakeProvider) Destroy(_ context.Context, cfg orchestrator.ProviderConfig, inputs map[string]string, env string) error {
	f.lastCfg, f.lastInputs, f.lastEnv = cfg, inputs, env
	return f.destroyErr
}

func (f *fakeProvider) IsDestroyed(_ context.Context, cfg orchestrator.ProviderConfig, env string) (bool, error) {
	f.lastCfg, f.lastEnv = cfg, env
	return f.destroyed, f.destroyedErr
}

func (f *fakeProvider) GetDriftPlan(_ context.Context, cfg orchestrator.ProviderConfig, inputs map[string]string, env string) (*orchestrator.Plan, error) {
	f.lastCfg, f.lastInputs, f.lastEnv = cfg, inputs, env
	return f.plan, f.planErr
}

func (f *fakeProvider) Refresh(_ context.Context, cfg orchestrator.ProviderConfig, inputs map[string]string, env string) error {
	f.lastCfg, f.lastInputs, f.lastEnv = cfg, inputs, env
	return nil
}

func (f *fakeProvider) ImportResource(context.Context, orchestrator.ProviderConfig, []string, map[string]string, string) (string, error) {
	return "", nil
}

func (f *fakeProvider) GenerateCode(context.Context, orchestrator.ProviderConfig, []string, map[string]string, string) (string, error) {
	return "", nil
}

func (f *fakeProvider) ExecAnyCommand(context.Context, string, orchestrator.ProviderConfig, func() (map[string]string, error), string) (string, error) {
	return "", nil
}

func newFixture(t *testing.T, provider *fakeProvider) (*Interop, *state.Store) {
	t.Helper()
	fs := afero.NewMemMapFs()
	store := state.NewStore("/repo", fs)

	ws := &model.Workspace{
		Name:         "api",
		AbsolutePath: "/repo/api",
		Provider:     provider,
		Injections: map[string]model.Injection{
			"dbHost": {WorkspaceKey: "db", OutputKey: "host"},
		},
		Envs: map[string]model.EnvironmentConfig{"dev": {Vars: map[string]string{"region": "us-east-1"}}},
	}
	mono := model.NewMonorepo("/repo", []*model.Workspace{ws}, nil)

	interop, err := New(mono, ws, "dev", store)
	require.NoError(t, err)
	return interop, store
}

func TestNew_FailsWhenEnvNotDeclared(t *testing.T) {
	ws := &model.Workspace{Name: "api", Envs: map[string]model.EnvironmentConfig{"dev": {}}}
	mono := model.NewMonorepo("/repo", []*model.Workspace{ws}, nil)

	_, err := New(mono, ws, "qa", state.NewStore("/repo", afero.NewMemMapFs()))
	require.Error(t, err)
}

func TestProviderConfig_TranslatesInjectionsToColonForm(t *testing.T) {
	provider := &fakeProvider{name: "terraform", outputs: map[string]string{}}
	interop, _ := newFixture(t, provider)

	_, _, err := interop.GetOutputs(context.Background(), false)
	require.NoError(t, err)

	require.Equal(t, "db:host", provider.lastCfg.Injections["dbHost"])
	require.Equal(t, "api", provider.lastCfg.Alias)
	require.Equal(t, "/repo/api", provider.lastCfg.RootPath)
}

func TestGetOutputs_Live_PersistsAndReturnsActualTrue(t *testing.T) {
	provider := &fakeProvider{outputs: map[string]string{"host": "db.internal"}}
	interop, store := newFixture(t, provider)

	outputs, actual, err := interop.GetOutputs(context.Background(), false)
	require.NoError(t, err)
	require.True(t, actual)
	require.Equal(t, "db.internal", outputs["host"])

	st, err := store.Read()
	require.NoError(t, err)
	require.Equal(t, "db.internal", st.Workspaces["api"].Outputs["host"])
}

func TestGetOutputs_Stale_ReturnsPersistedWithoutCallingProvider(t *testing.T) {
	provider := &fakeProvider{outputsErr: assertError{}}
	interop, store := newFixture(t, provider)

	_, err := store.Update(func(s state.State) state.State {
		return s.WithWorkspaceOutputs("api", map[string]string{"host": "cached.internal"})
	})
	require.NoError(t, err)

	outputs, actual, err := interop.GetOutputs(context.Background(), true)
	require.NoError(t, err)
	require.False(t, actual)
	require.Equal(t, "cached.internal", outputs["host"])
}

func TestGetOutputs_Stale_FallsBackToLiveWhenNothingCached(t *testing.T) {
	provider := &fakeProvider{outputs: map[string]string{"host": "live.internal"}}
	interop, _ := newFixture(t, provider)

	outputs, actual, err := interop.GetOutputs(context.Background(), true)
	require.NoError(t, err)
	require.True(t, actual)
	require.Equal(t, "live.internal", outputs["host"])
}

func TestApply_PersistsReturnedOutputs(t *testing.T) {
	provider := &fakeProvider{applyOutputs: map[string]string{"host": "applied.internal"}}
	interop, store := newFixture(t, provider)

	outputs, err := interop.Apply(context.Background(), map[string]string{"region": "us-west-2"})
	require.NoError(t, err)
	require.Equal(t, "applied.internal", outputs["host"])

	st, err := store.Read()
	require.NoError(t, err)
	require.Equal(t, "applied.internal", st.Workspaces["api"].Outputs["host"])
}

func TestDestroy_ClearsCachedOutputs(t *testing.T) {
	provider := &fakeProvider{}
	interop, store := newFixture(t, provider)

	_, err := store.Update(func(s state.State) state.State {
		return s.WithWorkspaceOutputs("api", map[string]string{"host": "stale.internal"})
	})
	require.NoError(t, err)

	err = interop.Destroy(context.Background(), nil)
	require.NoError(t, err)

	st, err := store.Read()
	require.NoError(t, err)
	require.Nil(t, st.Workspaces["api"].Outputs)
}

func TestSelectEnvironment_ClearsOutputsBeforeInit(t *testing.T) {
	provider := &fakeProvider{}
	interop, store := newFixture(t, provider)

	_, err := store.Update(func(s state.State) state.State {
		return s.WithWorkspaceOutputs("api", map[string]string{"host": "stale.internal"})
	})
	require.NoError(t, err)

	err = interop.SelectEnvironment(context.Background())
	require.NoError(t, err)

	st, err := store.Read()
	require.NoError(t, err)
	require.Nil(t, st.Workspaces["api"].Outputs)
}

type assertError struct{}

func (assertError) Error() string { return "boom" }
