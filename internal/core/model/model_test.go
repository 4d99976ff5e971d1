// SPDX-License-Identifier: AGPL-3.0-or-later

/*
infraglue - infraglue is a Go-based multi-workspace infrastructure orchestration engine that drives Terraform and Pulumi across a monorepo of independently-managed workspaces.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func ws(name string, dependsOn []string, injections map[string]Injection, envs ...string) *Workspace {
	envMap := make(map[string]EnvironmentConfig, len(envs))
	for _, e := range envs {
		envMap[e] = EnvironmentConfig{}
	}
	return &Workspace{
		Name:         name,
		AbsolutePath: "/repo/" + name,
		DependsOn:    dependsOn,
		Injections:   injections,
		Envs:         envMap,
	}
}

func TestWorkspace_AllDependsOn_DedupesInjectionsAndDependsOn(t *testing.T) {
	w := ws("web", []string{"api"}, map[string]Injection{
		"apiURL": {WorkspaceKey: "api", OutputKey: "url"},
		"dbHost": {WorkspaceKey: "db", OutputKey: "host"},
	}, "dev")

	all := w.AllDependsOn()
	require.ElementsMatch(t, []string{"api", "db"}, all)
	require.Equal(t, "api", all[0]) // explicit dependsOn entries come first
}

func TestMonorepo_FindWorkspace(t *testing.T) {
	a := ws("a", nil, nil, "dev")
	m := NewMonorepo("/repo", []*Workspace{a}, nil)

	require.Same(t, a, m.FindWorkspace("a"))
	require.Same(t, a, m.FindWorkspace("/repo/a"))
	require.Nil(t, m.FindWorkspace("ghost"))
}

func TestMonorepo_GetTransitiveDependencies(t *testing.T) {
	a := ws("a", nil, nil, "dev")
	b := ws("b", []string{"a"}, nil, "dev")
	c := ws("c", []string{"b"}, nil, "dev")
	m := NewMonorepo("/repo", []*Workspace{a, b, c}, nil)

	deps := m.GetTransitiveDependencies(c)
	require.ElementsMatch(t, []string{"a", "b"}, deps)
	require.NotContains(t, deps, "c")

	// Exactly once even with a diamond.
	d := ws("d", []string{"b", "c"}, nil, "dev")
	m2 := NewMonorepo("/repo", []*Workspace{a, b, c, d}, nil)
	depsD := m2.GetTransitiveDependencies(d)
	seen := map[string]int{}
	for _, n := range depsD {
		seen[n]++
	}
	for _, count := range seen {
		require.Equal(t, 1, count)
	}
}

func TestExecutionContext_CacheOutputs_ReplaceOnWrite(t *testing.T) {
	ctx := NewExecutionContext(NewMonorepo("/repo", nil, nil), "dev")
	ctx.CacheOutputs("api", map[string]string{"url": "v1"})
	ctx.CacheOutputs("api", map[string]string{"url": "v2"})

	outputs, ok := ctx.CachedOutputs("api")
	require.True(t, ok)
	require.Equal(t, "v2", outputs["url"])

	applied := ctx.AppliedWorkspaces()
	require.Len(t, applied, 1)
	require.Equal(t, "api", applied[0].WorkspaceName)
}

func TestExecutionPlanBuilder_LinearChain_S3(t *testing.T) {
	// S3 — A -> B (injects A:out1) -> C (dependsOn B), in dev.
	a := ws("a", nil, nil, "dev")
	b := ws("b", nil, map[string]Injection{"in": {WorkspaceKey: "a", OutputKey: "out1"}}, "dev")
	c := ws("c", []string{"b"}, nil, "dev")
	m := NewMonorepo("/repo", []*Workspace{a, b, c}, nil)

	ctx := NewExecutionContext(m, "dev")
	plan, err := NewExecutionPlanBuilder().Build(ctx)
	require.NoError(t, err)
	require.Len(t, plan.Levels, 3)
	require.Equal(t, "a", plan.Levels[0].Workspaces[0].Name)
	require.Equal(t, "b", plan.Levels[1].Workspaces[0].Name)
	require.Equal(t, "c", plan.Levels[2].Workspaces[0].Name)
}

func TestExecutionPlanBuilder_DestroyDiamond_S4(t *testing.T) {
	// S4 — destroy diamond D -> {B, C} -> A: apply deps are A<-B,C<-D.
	a := ws("a", nil, nil, "dev")
	b := ws("b", []string{"a"}, nil, "dev")
	c := ws("c", []string{"a"}, nil, "dev")
	d := ws("d", []string{"b", "c"}, nil, "dev")
	m := NewMonorepo("/repo", []*Workspace{a, b, c, d}, nil)

	ctx := NewExecutionContext(m, "dev")
	ctx.IsDestroy = true
	plan, err := NewExecutionPlanBuilder().Build(ctx)
	require.NoError(t, err)
	require.Len(t, plan.Levels, 3)
	require.Equal(t, []string{"d"}, names(plan.Levels[0].Workspaces))
	require.ElementsMatch(t, []string{"b", "c"}, names(plan.Levels[1].Workspaces))
	require.Equal(t, []string{"a"}, names(plan.Levels[2].Workspaces))
}

func TestExecutionPlanBuilder_FiltersByEnv(t *testing.T) {
	a := ws("a", nil, nil, "dev", "qa")
	b := ws("b", []string{"a"}, nil, "dev") // no qa
	m := NewMonorepo("/repo", []*Workspace{a, b}, nil)

	ctx := NewExecutionContext(m, "qa")
	plan, err := NewExecutionPlanBuilder().Build(ctx)
	require.NoError(t, err)
	require.Len(t, plan.Levels, 1)
	require.Equal(t, []string{"a"}, names(plan.Levels[0].Workspaces))
}

func TestExecutionPlanBuilder_MissingEnvDependencyIsHardError(t *testing.T) {
	a := ws("a", nil, nil, "dev") // no qa
	b := ws("b", []string{"a"}, nil, "dev", "qa")
	m := NewMonorepo("/repo", []*Workspace{a, b}, nil)

	ctx := NewExecutionContext(m, "qa")
	_, err := NewExecutionPlanBuilder().Build(ctx)
	require.Error(t, err)
}

func TestExecutionPlanBuilder_CurrentWorkspaceScopesCandidates(t *testing.T) {
	a := ws("a", nil, nil, "dev")
	b := ws("b", []string{"a"}, nil, "dev")
	c := ws("c", []string{"b"}, nil, "dev") // unrelated to a direct query on b
	m := NewMonorepo("/repo", []*Workspace{a, b, c}, nil)

	ctx := NewExecutionContext(m, "dev")
	ctx.CurrentWorkspace = "b"
	plan, err := NewExecutionPlanBuilder().Build(ctx)
	require.NoError(t, err)

	var all []string
	for _, l := range plan.Levels {
		all = append(all, names(l.Workspaces)...)
	}
	require.ElementsMatch(t, []string{"a", "b"}, all)
}

func TestExecutionPlanBuilder_IgnoreDependencies(t *testing.T) {
	a := ws("a", nil, nil, "dev")
	b := ws("b", []string{"a"}, nil, "dev")
	m := NewMonorepo("/repo", []*Workspace{a, b}, nil)

	ctx := NewExecutionContext(m, "dev")
	ctx.IgnoreDependencies = true
	plan, err := NewExecutionPlanBuilder().Build(ctx)
	require.NoError(t, err)
	require.Len(t, plan.Levels, 1)
	require.ElementsMatch(t, []string{"a", "b"}, names(plan.Levels[0].Workspaces))
}

func names(workspaces []*Workspace) []string {
	out := make([]string, len(workspaces))
	for i, w := range workspaces {
		out[i] = w.Name
	}
	return out
}
