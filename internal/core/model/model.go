// SPDX-License-Identifier: AGPL-3.0-or-later

/*
infraglue - infraglue is a Go-based multi-workspace infrastructure orchestration engine that drives Terraform and Pulumi across a monorepo of independently-managed workspaces.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package model holds the engine's core types — Monorepo, Workspace,
// ExecutionContext, ExecutionPlan — and the ExecutionPlanBuilder that
// turns an ExecutionContext into a level-by-level execution plan.
package model

import (
	"infraglue/internal/core/errs"
	"infraglue/internal/core/graph"
	"infraglue/pkg/orchestrator"
)

// Injection is a declared wiring: the local input key on one side and
// the workspace/output key pair it is resolved from on the other.
type Injection struct {
	WorkspaceKey string
	OutputKey    string
}

// Export is a monorepo-level re-export of a named output from one of
// its workspaces.
type Export struct {
	Name         string
	WorkspaceKey string
	OutputKey    string
}

// EnvironmentConfig holds per-environment overrides for a workspace.
// Any ig.yaml keys beyond these are accepted and ignored by the YAML
// decoder in pkg/config; there is nothing here to carry them.
type EnvironmentConfig struct {
	Vars          map[string]string
	VarFiles      []string
	BackendType   string
	BackendFile   string
	BackendConfig map[string]string
}

// Workspace is a single infrastructure unit governed by one provider.
// Name and AbsolutePath both address this workspace uniquely within
// its Monorepo.
type Workspace struct {
	Name         string
	AbsolutePath string
	MonorepoPath string

	Provider orchestrator.Provider

	Injections map[string]Injection
	DependsOn  []string

	Envs map[string]EnvironmentConfig
}

// HasEnv reports whether the workspace declares the given environment.
func (w *Workspace) HasEnv(env string) bool {
	_, ok := w.Envs[env]
	return ok
}

// AllDependsOn returns the deduplicated union of injection sources and
// explicit DependsOn entries, in the order: DependsOn entries first
// (in declared order), then injection sources not already present (in
// map iteration order is not guaranteed, so callers that need
// determinism should rely on DependsOn order primarily).
func (w *Workspace) AllDependsOn() []string {
	seen := make(map[string]bool, len(w.DependsOn)+len(w.Injections))
	var all []string
	for _, d := range w.DependsOn {
		if !seen[d] {
			seen[d] = true
			all = append(all, d)
		}
	}
	for _, inj := range w.Injections {
		if !seen[inj.WorkspaceKey] {
			seen[inj.WorkspaceKey] = true
			all = append(all, inj.WorkspaceKey)
		}
	}
	return all
}

// Monorepo is a root directory plus its ordered workspaces and
// exports. It is immutable after construction.
type Monorepo struct {
	RootDir    string
	workspaces []*Workspace
	exports    []Export

	byName map[string]*Workspace
	byPath map[string]*Workspace
}

// NewMonorepo constructs a Monorepo from its workspaces and exports.
// Workspace order is preserved for within-level determinism.
func NewMonorepo(rootDir string, workspaces []*Workspace, exports []Export) *Monorepo {
	m := &Monorepo{
		RootDir:    rootDir,
		workspaces: append([]*Workspace{}, workspaces...),
		exports:    append([]Export{}, exports...),
		byName:     make(map[string]*Workspace, len(workspaces)),
		byPath:     make(map[string]*Workspace, len(workspaces)),
	}
	for _, w := range workspaces {
		m.byName[w.Name] = w
		m.byPath[w.AbsolutePath] = w
	}
	return m
}

// Workspaces returns the monorepo's workspaces in declared order.
func (m *Monorepo) Workspaces() []*Workspace {
	return m.workspaces
}

// Exports returns the monorepo's declared exports in declared order.
func (m *Monorepo) Exports() []Export {
	return m.exports
}

// FindWorkspace resolves key by workspace name, falling back to
// absolute path, returning nil if neither matches.
func (m *Monorepo) FindWorkspace(key string) *Workspace {
	if w, ok := m.byName[key]; ok {
		return w
	}
	return m.byPath[key]
}

// GetTransitiveDependencies returns every workspace reachable from w
// over AllDependsOn, exactly once, never including w itself.
func (m *Monorepo) GetTransitiveDependencies(w *Workspace) []string {
	seen := make(map[string]bool)
	var order []string

	var visit func(name string)
	visit = func(name string) {
		ws := m.FindWorkspace(name)
		if ws == nil {
			return
		}
		for _, dep := range ws.AllDependsOn() {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			order = append(order, dep)
			visit(dep)
		}
	}
	visit(w.Name)
	return order
}

// AppliedWorkspace is a scratch cache entry: a workspace's outputs as
// resolved or produced during the current run.
type AppliedWorkspace struct {
	WorkspaceName string
	Outputs       map[string]string
}

// ExecutionContext is the mutable, per-invocation scratch state for
// one CLI operation. It is built once and discarded afterwards.
type ExecutionContext struct {
	Monorepo           *Monorepo
	CurrentWorkspace   string
	IgnoreDependencies bool
	IsDestroy          bool
	Env                string

	// order preserves insertion order; byName supports replace-on-write
	// lookups so at most one AppliedWorkspace exists per workspace name.
	order  []string
	byName map[string]map[string]string
}

// NewExecutionContext builds an ExecutionContext for one invocation.
func NewExecutionContext(mono *Monorepo, env string) *ExecutionContext {
	return &ExecutionContext{
		Monorepo: mono,
		Env:      env,
		byName:   make(map[string]map[string]string),
	}
}

// CacheOutputs records (or replaces) workspace name's outputs in the
// context's scratch cache.
func (ctx *ExecutionContext) CacheOutputs(name string, outputs map[string]string) {
	if _, exists := ctx.byName[name]; !exists {
		ctx.order = append(ctx.order, name)
	}
	ctx.byName[name] = outputs
}

// ClearOutputs removes workspace name's cached outputs, used after a
// destroy so downstream injections can no longer resolve stale data.
func (ctx *ExecutionContext) ClearOutputs(name string) {
	delete(ctx.byName, name)
}

// CachedOutputs returns workspace name's cached outputs and whether an
// entry exists.
func (ctx *ExecutionContext) CachedOutputs(name string) (map[string]string, bool) {
	outputs, ok := ctx.byName[name]
	return outputs, ok
}

// AppliedWorkspaces returns the scratch cache as an ordered list of
// AppliedWorkspace, in first-cached order.
func (ctx *ExecutionContext) AppliedWorkspaces() []AppliedWorkspace {
	result := make([]AppliedWorkspace, 0, len(ctx.order))
	for _, name := range ctx.order {
		outputs, ok := ctx.byName[name]
		if !ok {
			continue
		}
		result = append(result, AppliedWorkspace{WorkspaceName: name, Outputs: outputs})
	}
	return result
}

// ExecutionLevel is one group of workspaces that can be processed
// together: none depends on another in the same level.
type ExecutionLevel struct {
	Workspaces []*Workspace
}

// ExecutionPlan is an ordered sequence of ExecutionLevel, ready for
// the multistage executor to drive level by level.
type ExecutionPlan struct {
	Levels []ExecutionLevel
}

// ExecutionPlanBuilder computes an ExecutionPlan for a given
// ExecutionContext, per the candidate-selection, filtering, and
// levelling rules.
type ExecutionPlanBuilder struct{}

// NewExecutionPlanBuilder returns a ready-to-use ExecutionPlanBuilder.
func NewExecutionPlanBuilder() *ExecutionPlanBuilder {
	return &ExecutionPlanBuilder{}
}

// Build computes the ExecutionPlan for ctx.
func (b *ExecutionPlanBuilder) Build(ctx *ExecutionContext) (*ExecutionPlan, error) {
	candidates := b.candidateSet(ctx)
	candidates = filterByEnv(candidates, ctx.Env)

	candidateSet := make(map[string]bool, len(candidates))
	for _, w := range candidates {
		candidateSet[w.Name] = true
	}

	names := make([]string, len(candidates))
	byName := make(map[string]*Workspace, len(candidates))
	for i, w := range candidates {
		names[i] = w.Name
		byName[w.Name] = w
	}

	depsFn, err := buildDepsFunc(ctx, names, byName, candidateSet)
	if err != nil {
		return nil, err
	}

	levels, err := graph.Levels(names, depsFn)
	if err != nil {
		return nil, graph.AsInternalError("build execution plan", err)
	}

	plan := &ExecutionPlan{Levels: make([]ExecutionLevel, len(levels))}
	for i, l := range levels {
		wsLevel := make([]*Workspace, len(l.Nodes))
		for j, n := range l.Nodes {
			wsLevel[j] = byName[n]
		}
		plan.Levels[i] = ExecutionLevel{Workspaces: wsLevel}
	}
	return plan, nil
}

// candidateSet computes step 1: either the transitive closure rooted
// at ctx.CurrentWorkspace, or every workspace in the monorepo.
func (b *ExecutionPlanBuilder) candidateSet(ctx *ExecutionContext) []*Workspace {
	if ctx.CurrentWorkspace == "" {
		return ctx.Monorepo.Workspaces()
	}

	root := ctx.Monorepo.FindWorkspace(ctx.CurrentWorkspace)
	if root == nil {
		return nil
	}

	names := []string{root.Name}
	if !ctx.IgnoreDependencies {
		names = append(names, ctx.Monorepo.GetTransitiveDependencies(root)...)
	}

	result := make([]*Workspace, 0, len(names))
	for _, n := range names {
		if w := ctx.Monorepo.FindWorkspace(n); w != nil {
			result = append(result, w)
		}
	}
	return result
}

// filterByEnv drops workspaces that do not declare env.
func filterByEnv(workspaces []*Workspace, env string) []*Workspace {
	result := make([]*Workspace, 0, len(workspaces))
	for _, w := range workspaces {
		if w.HasEnv(env) {
			result = append(result, w)
		}
	}
	return result
}

// buildDepsFunc computes step 3 (edge function) and step 4
// (validation that every edge target stayed in the candidate set)
// together, since both need the same per-mode edge list.
func buildDepsFunc(ctx *ExecutionContext, names []string, byName map[string]*Workspace, candidateSet map[string]bool) (graph.DependenciesFunc, error) {
	if ctx.IgnoreDependencies {
		return func(string) []string { return nil }, nil
	}

	forward := make(map[string][]string, len(names))
	for _, n := range names {
		w := byName[n]
		for _, dep := range w.AllDependsOn() {
			if !candidateSet[dep] {
				return nil, errs.NewUserError(w.Name, "build execution plan",
					missingEnvDependencyError{workspace: w.Name, dependency: dep, env: ctx.Env})
			}
			forward[n] = append(forward[n], dep)
		}
	}

	if !ctx.IsDestroy {
		return func(n string) []string { return forward[n] }, nil
	}

	// Destroy mode reverses the edges: a node's "dependencies" for
	// levelling purposes become its dependants, so leaves are torn
	// down before the things they depend on.
	reverse := make(map[string][]string, len(names))
	for _, n := range names {
		for _, dep := range forward[n] {
			reverse[dep] = append(reverse[dep], n)
		}
	}
	return func(n string) []string { return reverse[n] }, nil
}

type missingEnvDependencyError struct {
	workspace  string
	dependency string
	env        string
}

func (e missingEnvDependencyError) Error() string {
	return "workspace " + e.workspace + " depends on " + e.dependency +
		", which does not declare environment " + e.env
}
