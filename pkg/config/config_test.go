// SPDX-License-Identifier: AGPL-3.0-or-later

/*
infraglue - infraglue is a Go-based multi-workspace infrastructure orchestration engine that drives Terraform and Pulumi across a monorepo of independently-managed workspaces.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

package config

import (
	"context"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"infraglue/pkg/orchestrator"
)

// markerProvider detects a workspace by the presence of a file with a
// fixed name, standing in for the real Terraform (*.tf) / Pulumi
// (Pulumi.yaml) detection rules in these loader-focused tests.
type markerProvider struct {
	name   string
	marker string
	fs     afero.Fs
}

func (m *markerProvider) ProviderName() string { return m.name }

func (m *markerProvider) ExistsInFolder(dir string) (bool, error) {
	return afero.Exists(m.fs, joinPath(dir, m.marker))
}

func (m *markerProvider) SelectEnvironment(context.Context, orchestrator.ProviderConfig, string) error {
	return nil
}
func (m *markerProvider) GetPlan(context.Context, orchestrator.ProviderConfig, map[string]string, string, orchestrator.PlanOptions) (*orchestrator.Plan, error) {
	return nil, nil
}
func (m *markerProvider) Apply(context.Context, orchestrator.ProviderConfig, map[string]string, string) (map[string]string, error) {
	return nil, nil
}
func (m *markerProvider) GetOutputs(context.Context, orchestrator.ProviderConfig, string) (map[string]string, error) {
	return nil, nil
}
func (m *markerProvider) DestroyPlan(context.Context, orchestrator.ProviderConfig, map[string]string, string) (*orchestrator.Plan, error) {
	return nil, nil
}
func (m *markerProvider) Destroy(context.Context, orchestrator.ProviderConfig, map[string]string, string) error {
	return nil
}
func (m *markerProvider) IsDestroyed(context.Context, orchestrator.ProviderConfig, string) (bool, error) {
	return false, nil
}
func (m *markerProvider) GetDriftPlan(context.Context, orchestrator.ProviderConfig, map[string]string, string) (*orchestrator.Plan, error) {
	return nil, nil
}
func (m *markerProvider) Refresh(context.Context, orchestrator.ProviderConfig, map[string]string, string) error {
	return nil
}
func (m *markerProvider) ImportResource(context.Context, orchestrator.ProviderConfig, []string, map[string]string, string) (string, error) {
	return "", nil
}
func (m *markerProvider) GenerateCode(context.Context, orchestrator.ProviderConfig, []string, map[string]string, string) (string, error) {
	return "", nil
}
func (m *markerProvider) ExecAnyCommand(context.Context, string, orchestrator.ProviderConfig, func() (map[string]string, error), string) (string, error) {
	return "", nil
}

func newFixtureRegistry(fs afero.Fs) *orchestrator.Registry {
	r := orchestrator.NewRegistry()
	r.Register(&markerProvider{name: "terraform", marker: "main.tf", fs: fs})
	r.Register(&markerProvider{name: "pulumi", marker: "Pulumi.yaml", fs: fs})
	return r
}

func TestTryReadMonorepo_NoConfigReturnsNil(t *testing.T) {
	fs := afero.NewMemMapFs()
	loader := NewLoader(fs, newFixtureRegistry(fs), nil)

	mono, err := loader.TryReadMonorepo("/repo")
	require.NoError(t, err)
	require.Nil(t, mono)
}

func TestTryReadMonorepo_EmptyWorkspaceListIsError(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/repo/ig.yaml", []byte("workspace: []\n"), 0o644))

	loader := NewLoader(fs, newFixtureRegistry(fs), nil)
	_, err := loader.TryReadMonorepo("/repo")
	require.Error(t, err)
}

func TestTryReadMonorepo_LoadsWorkspacesAndInjections(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/repo/ig.yaml", []byte(strings.TrimSpace(`
workspace:
  - "workspaces/*"
output:
  apiURL: "workspaces/api:url"
`)+"\n"), 0o644))

	require.NoError(t, afero.WriteFile(fs, "/repo/workspaces/api/main.tf", []byte(""), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/repo/workspaces/api/ig.yaml", []byte(strings.TrimSpace(`
alias: api
envs:
  dev:
    vars:
      region: "us-east-1"
`)+"\n"), 0o644))

	require.NoError(t, afero.WriteFile(fs, "/repo/workspaces/web/Pulumi.yaml", []byte(""), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/repo/workspaces/web/ig.yaml", []byte(strings.TrimSpace(`
alias: web
injection:
  apiURL: "../api:url"
envs:
  dev: {}
`)+"\n"), 0o644))

	loader := NewLoader(fs, newFixtureRegistry(fs), nil)
	mono, err := loader.TryReadMonorepo("/repo")
	require.NoError(t, err)
	require.NotNil(t, mono)
	require.Len(t, mono.Workspaces(), 2)

	api := mono.FindWorkspace("api")
	require.NotNil(t, api)
	require.Equal(t, "terraform", api.Provider.ProviderName())
	require.Equal(t, map[string]string{"region": "us-east-1"}, api.Envs["dev"].Vars)

	web := mono.FindWorkspace("web")
	require.NotNil(t, web)
	require.Equal(t, "pulumi", web.Provider.ProviderName())
	inj, ok := web.Injections["apiURL"]
	require.True(t, ok)
	require.Equal(t, "url", inj.OutputKey)
	require.Equal(t, api.AbsolutePath, inj.WorkspaceKey)

	require.Len(t, mono.Exports(), 1)
	require.Equal(t, "apiURL", mono.Exports()[0].Name)
	require.Equal(t, api.AbsolutePath, mono.Exports()[0].WorkspaceKey)
	require.Equal(t, "url", mono.Exports()[0].OutputKey)
}

func TestTryReadMonorepo_UnresolvedProviderSoftSkipsByDefault(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/repo/ig.yaml", []byte("workspace: [\"workspaces/*\"]\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/repo/workspaces/unknown/README.md", []byte(""), 0o644))

	loader := NewLoader(fs, newFixtureRegistry(fs), nil)
	mono, err := loader.TryReadMonorepo("/repo")
	require.NoError(t, err)
	require.Empty(t, mono.Workspaces())
}

func TestTryReadMonorepo_UnresolvedProviderHardErrorsUnderStrict(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/repo/ig.yaml", []byte("workspace: [\"workspaces/*\"]\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/repo/workspaces/unknown/README.md", []byte(""), 0o644))

	loader := NewLoader(fs, newFixtureRegistry(fs), nil)
	loader.Strict = true
	_, err := loader.TryReadMonorepo("/repo")
	require.Error(t, err)
}

func TestTryReadMonorepo_UnknownExplicitProviderIsHardError(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/repo/ig.yaml", []byte("workspace: [\"workspaces/*\"]\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/repo/workspaces/api/main.tf", []byte(""), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/repo/workspaces/api/ig.yaml", []byte("provider: cloudformation\n"), 0o644))

	loader := NewLoader(fs, newFixtureRegistry(fs), nil)
	_, err := loader.TryReadMonorepo("/repo")
	require.Error(t, err)
}

func TestTryResolveMonorepo_WalksUpParents(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/repo/ig.yaml", []byte("workspace: [\"workspaces/*\"]\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/repo/workspaces/api/main.tf", []byte(""), 0o644))

	loader := NewLoader(fs, newFixtureRegistry(fs), nil)
	mono, err := loader.TryResolveMonorepo("/repo/workspaces/api")
	require.NoError(t, err)
	require.NotNil(t, mono)
	require.Equal(t, "/repo", mono.RootDir)
}

func TestTryResolveMonorepo_ReturnsNilAtFilesystemRoot(t *testing.T) {
	fs := afero.NewMemMapFs()
	loader := NewLoader(fs, newFixtureRegistry(fs), nil)

	mono, err := loader.TryResolveMonorepo("/nowhere/near/a/monorepo")
	require.NoError(t, err)
	require.Nil(t, mono)
}

func TestSplitWsRef(t *testing.T) {
	wsPath, key, err := splitWsRef("workspaces/api:url")
	require.NoError(t, err)
	require.Equal(t, "workspaces/api", wsPath)
	require.Equal(t, "url", key)

	_, _, err = splitWsRef("malformed")
	require.Error(t, err)
}

func TestCoerceToStrings(t *testing.T) {
	in := map[string]any{"region": "us-east-1", "count": 3, "enabled": true, "skip": nil}
	out := coerceToStrings(in)
	require.Equal(t, "us-east-1", out["region"])
	require.Equal(t, "3", out["count"])
	require.Equal(t, "true", out["enabled"])
	_, present := out["skip"]
	require.False(t, present)
}
