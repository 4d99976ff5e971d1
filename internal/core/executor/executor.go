// SPDX-License-Identifier: AGPL-3.0-or-later

/*
infraglue - infraglue is a Go-based multi-workspace infrastructure orchestration engine that drives Terraform and Pulumi across a monorepo of independently-managed workspaces.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package executor drives the multi-level execution plan a monorepo
// produces: gather-then-confirm-then-apply for exec, plan-only dry
// runs, drift reports that compare infrastructure and configuration
// plans, and sequential state refreshes.
package executor

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"infraglue/internal/core/errs"
	"infraglue/internal/core/model"
	"infraglue/internal/core/state"
	"infraglue/internal/core/workspace"
	"infraglue/pkg/logging"
	"infraglue/pkg/orchestrator"
)

// Confirmer is the collaborator the exec main loop asks before
// applying a level's retained changes.
type Confirmer interface {
	// Confirm presents message for the 0-based levelIndex and returns
	// the operator's answer.
	Confirm(levelIndex int, message string) (bool, error)
	// NonInteractive reports whether this Confirmer cannot meaningfully
	// answer without a human present (CI, scripted runs).
	NonInteractive() bool
}

// Options configures an Executor entry point. Not every field applies
// to every entry point: Approve/Confirmer only matter to Exec,
// Detailed only to Plan, RefreshOnly only to Drift.
type Options struct {
	CurrentWorkspace   string
	IgnoreDependencies bool
	IsDestroy          bool
	Approve            int
	Confirmer          Confirmer
	Detailed           bool
	RefreshOnly        bool
}

// ExportResult is a monorepo-level export resolved against the
// outputs cache built up during an Exec run.
type ExportResult struct {
	Name  string
	Value string
}

// DriftDetail is one half (infrastructure or configuration) of a
// workspace's drift report.
type DriftDetail struct {
	HasDrift bool
	Plan     *orchestrator.Plan
}

// WorkspaceDriftReport is a single workspace's drift findings.
type WorkspaceDriftReport struct {
	Name                string
	Provider            string
	HasDrift            bool
	InfrastructureDrift DriftDetail
	ConfigurationDrift  DriftDetail
}

// DriftReport is the result of a Drift run across every workspace in
// the computed plan.
type DriftReport struct {
	Environment string
	Timestamp   string
	HasDrift    bool
	Workspaces  []WorkspaceDriftReport
}

// Executor drives plan/apply/destroy/drift/refresh operations across
// a monorepo's workspaces for one selected environment.
type Executor struct {
	monorepo *model.Monorepo
	store    *state.Store
	logger   logging.Logger
}

// New builds an Executor for monorepo, persisting through store.
func New(monorepo *model.Monorepo, store *state.Store, logger logging.Logger) *Executor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Executor{monorepo: monorepo, store: store, logger: logger}
}

type errInconsistentEnvState struct{}

func (errInconsistentEnvState) Error() string {
	return "Cannot execute: environments across workspaces are in inconsistent state"
}

type errNoEnvironmentSelected struct{}

func (errNoEnvironmentSelected) Error() string { return "no environment selected" }

// validateEnv fails unless exactly env is the fully-selected
// environment, per every entry point's shared precondition.
func (e *Executor) validateEnv(env string) error {
	st, err := e.store.Read()
	if err != nil {
		return err
	}
	if st.IsEnvSelecting() {
		return errs.NewUserError("", "validate environment", errInconsistentEnvState{})
	}
	if !st.IsEnvSelected() {
		return errs.NewUserError("", "validate environment", errNoEnvironmentSelected{})
	}
	if st.CurrentEnvironment != env {
		return errs.NewUserError("", "validate environment",
			fmt.Errorf("selected environment %q does not match requested environment %q", st.CurrentEnvironment, env))
	}
	return nil
}

func (e *Executor) buildPlan(env string, opts Options) (*model.ExecutionContext, *model.ExecutionPlan, error) {
	execCtx := model.NewExecutionContext(e.monorepo, env)
	execCtx.CurrentWorkspace = opts.CurrentWorkspace
	execCtx.IgnoreDependencies = opts.IgnoreDependencies
	execCtx.IsDestroy = opts.IsDestroy

	plan, err := model.NewExecutionPlanBuilder().Build(execCtx)
	if err != nil {
		return nil, nil, err
	}
	return execCtx, plan, nil
}

// resolveInputs computes a workspace's injected inputs, consulting the
// run's outputs cache before falling back to a (possibly stale) live
// fetch via the workspace's own Interop.
func (e *Executor) resolveInputs(ctx context.Context, execCtx *model.ExecutionContext, ws *model.Workspace, env string) (map[string]string, error) {
	inputs := make(map[string]string, len(ws.Injections))
	for localKey, inj := range ws.Injections {
		outputs, ok := execCtx.CachedOutputs(inj.WorkspaceKey)
		if !ok {
			depWS := execCtx.Monorepo.FindWorkspace(inj.WorkspaceKey)
			if depWS == nil {
				return nil, errs.NewInternalError(fmt.Sprintf("resolving inputs for %s: dependency %q vanished from the candidate set", ws.Name, inj.WorkspaceKey), nil)
			}
			interop, err := workspace.New(execCtx.Monorepo, depWS, env, e.store)
			if err != nil {
				return nil, err
			}
			fetched, actual, err := interop.GetOutputs(ctx, execCtx.IgnoreDependencies)
			if err != nil {
				return nil, err
			}
			if actual {
				execCtx.CacheOutputs(inj.WorkspaceKey, fetched)
			}
			outputs = fetched
		}

		val, ok := outputs[inj.OutputKey]
		if !ok {
			return nil, errs.NewUserError(ws.Name, "resolve inputs",
				fmt.Errorf("workspace %q has no output %q (injected as %q)", inj.WorkspaceKey, inj.OutputKey, localKey))
		}
		inputs[localKey] = val
	}
	return inputs, nil
}

type gatheredEntry struct {
	ws      *model.Workspace
	interop *workspace.Interop
	inputs  map[string]string
	plan    *orchestrator.Plan
}

// gatherLevel runs the sequential gather phase for one level: it
// resolves inputs, plans (or checks isDestroyed) each workspace, and
// retains the ones with real changes. Workspaces with no changes have
// their outputs fetched and cached immediately so downstream
// injections resolve without re-planning.
func (e *Executor) gatherLevel(ctx context.Context, execCtx *model.ExecutionContext, env string, workspaces []*model.Workspace, isDestroy bool) ([]gatheredEntry, error) {
	var entries []gatheredEntry
	for _, ws := range workspaces {
		interop, err := workspace.New(execCtx.Monorepo, ws, env, e.store)
		if err != nil {
			return nil, err
		}
		inputs, err := e.resolveInputs(ctx, execCtx, ws, env)
		if err != nil {
			return nil, err
		}

		if isDestroy {
			destroyed, err := interop.IsDestroyed(ctx)
			if err != nil {
				return nil, err
			}
			if destroyed {
				continue
			}
			dplan, err := interop.DestroyPlan(ctx, inputs)
			if err != nil {
				return nil, err
			}
			if !dplan.HasChanges() {
				continue
			}
			entries = append(entries, gatheredEntry{ws: ws, interop: interop, inputs: inputs, plan: dplan})
			continue
		}

		gplan, err := interop.GetPlan(ctx, inputs, orchestrator.PlanOptions{})
		if err != nil {
			return nil, err
		}
		if !gplan.HasChanges() {
			outputs, actual, err := interop.GetOutputs(ctx, execCtx.IgnoreDependencies)
			if err != nil {
				return nil, err
			}
			if actual {
				execCtx.CacheOutputs(ws.Name, outputs)
			}
			continue
		}
		entries = append(entries, gatheredEntry{ws: ws, interop: interop, inputs: inputs, plan: gplan})
	}
	return entries, nil
}

// Exec runs apply or destroy across every level of the computed plan,
// confirming each level's retained changes before applying them.
func (e *Executor) Exec(ctx context.Context, env string, opts Options) ([]ExportResult, error) {
	if err := e.validateEnv(env); err != nil {
		return nil, err
	}
	execCtx, plan, err := e.buildPlan(env, opts)
	if err != nil {
		return nil, err
	}

	for levelIndex, level := range plan.Levels {
		entries, err := e.gatherLevel(ctx, execCtx, env, level.Workspaces, opts.IsDestroy)
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 {
			continue
		}

		proceed, err := e.confirmLevel(levelIndex, entries, opts)
		if err != nil {
			return nil, err
		}
		if !proceed {
			return nil, nil
		}

		if err := e.applyLevel(ctx, execCtx, entries, opts.IsDestroy); err != nil {
			return nil, err
		}
	}

	if opts.IsDestroy || opts.CurrentWorkspace != "" {
		return nil, nil
	}
	return e.computeExports(execCtx), nil
}

// applyLevel fans the retained entries of a level out concurrently.
// Outputs are only merged into the shared ExecutionContext cache from
// this (the scheduler) goroutine, after every concurrent call has
// returned successfully.
func (e *Executor) applyLevel(ctx context.Context, execCtx *model.ExecutionContext, entries []gatheredEntry, isDestroy bool) error {
	outputs := make([]map[string]string, len(entries))

	group, gctx := errgroup.WithContext(ctx)
	for i, entry := range entries {
		i, entry := i, entry
		group.Go(func() error {
			if isDestroy {
				return entry.interop.Destroy(gctx, entry.inputs)
			}
			out, err := entry.interop.Apply(gctx, entry.inputs)
			if err != nil {
				return err
			}
			outputs[i] = out
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	for i, entry := range entries {
		if isDestroy {
			execCtx.ClearOutputs(entry.ws.Name)
			continue
		}
		execCtx.CacheOutputs(entry.ws.Name, outputs[i])
	}
	return nil
}

func (e *Executor) confirmLevel(levelIndex int, entries []gatheredEntry, opts Options) (bool, error) {
	if opts.Confirmer == nil {
		return false, nil
	}
	if opts.Confirmer.NonInteractive() && opts.Approve == levelIndex+1 {
		return true, nil
	}

	message := summarizeLevel(levelIndex, entries)
	answer, err := opts.Confirmer.Confirm(levelIndex, message)
	if err != nil {
		return false, err
	}
	if opts.Confirmer.NonInteractive() {
		return false, nil
	}
	return answer, nil
}

// summarizeLevel renders a minimal, formatter-free confirmation
// message: one line per retained workspace with its change tallies.
func summarizeLevel(levelIndex int, entries []gatheredEntry) string {
	msg := fmt.Sprintf("level %d:\n", levelIndex+1)
	for _, entry := range entries {
		cs := entry.plan.ChangeSummary
		msg += fmt.Sprintf("  %s (%s): +%d ~%d -%d !%d\n", entry.ws.Name, entry.plan.Provider, cs.Add, cs.Change, cs.Remove, cs.Replace)
	}
	return msg
}

func (e *Executor) computeExports(execCtx *model.ExecutionContext) []ExportResult {
	var results []ExportResult
	for _, exp := range e.monorepo.Exports() {
		outputs, ok := execCtx.CachedOutputs(exp.WorkspaceKey)
		if !ok {
			e.logger.Warn("export references workspace with no resolved outputs this run",
				logging.NewField("export", exp.Name), logging.NewField("workspace", exp.WorkspaceKey))
			continue
		}
		val, ok := outputs[exp.OutputKey]
		if !ok {
			e.logger.Warn("export references unknown output key",
				logging.NewField("export", exp.Name), logging.NewField("outputKey", exp.OutputKey))
			continue
		}
		results = append(results, ExportResult{Name: exp.Name, Value: val})
	}
	return results
}

// Plan computes the same gather phase as Exec but never confirms or
// applies; it reports whether any workspace in the plan has changes.
func (e *Executor) Plan(ctx context.Context, env string, opts Options) (bool, error) {
	if err := e.validateEnv(env); err != nil {
		return false, err
	}
	execCtx, plan, err := e.buildPlan(env, opts)
	if err != nil {
		return false, err
	}

	hasChanges := false
	for _, level := range plan.Levels {
		for _, ws := range level.Workspaces {
			interop, err := workspace.New(execCtx.Monorepo, ws, env, e.store)
			if err != nil {
				return false, err
			}
			inputs, err := e.resolveInputs(ctx, execCtx, ws, env)
			if err != nil {
				return false, err
			}

			var p *orchestrator.Plan
			if opts.IsDestroy {
				destroyed, err := interop.IsDestroyed(ctx)
				if err != nil {
					return false, err
				}
				if destroyed {
					continue
				}
				p, err = interop.DestroyPlan(ctx, inputs)
				if err != nil {
					return false, err
				}
			} else {
				p, err = interop.GetPlan(ctx, inputs, orchestrator.PlanOptions{Detailed: opts.Detailed})
				if err != nil {
					return false, err
				}
			}

			if p.HasChanges() {
				hasChanges = true
				continue
			}
			outputs, actual, err := interop.GetOutputs(ctx, opts.IgnoreDependencies)
			if err != nil {
				return false, err
			}
			if actual {
				execCtx.CacheOutputs(ws.Name, outputs)
			}
		}
	}
	return hasChanges, nil
}

// Drift compares live infrastructure and (unless RefreshOnly) pending
// configuration changes for every workspace in the plan. A workspace
// with any drift never has its outputs cached, so downstream
// injections can't resolve stale values against it.
func (e *Executor) Drift(ctx context.Context, env string, opts Options) (*DriftReport, error) {
	if err := e.validateEnv(env); err != nil {
		return nil, err
	}
	execCtx, plan, err := e.buildPlan(env, opts)
	if err != nil {
		return nil, err
	}

	report := &DriftReport{Environment: env, Timestamp: time.Now().UTC().Format(time.RFC3339)}
	for _, level := range plan.Levels {
		for _, ws := range level.Workspaces {
			interop, err := workspace.New(execCtx.Monorepo, ws, env, e.store)
			if err != nil {
				return nil, err
			}
			inputs, err := e.resolveInputs(ctx, execCtx, ws, env)
			if err != nil {
				return nil, err
			}

			infraPlan, err := interop.GetDriftPlan(ctx, inputs)
			if err != nil {
				return nil, err
			}
			hasInfra := infraPlan.HasChanges()

			var configPlan *orchestrator.Plan
			hasConfig := false
			if !opts.RefreshOnly {
				configPlan, err = interop.GetPlan(ctx, inputs, orchestrator.PlanOptions{})
				if err != nil {
					return nil, err
				}
				hasConfig = configPlan.HasChanges()
			}

			wsReport := WorkspaceDriftReport{
				Name:                ws.Name,
				Provider:            ws.Provider.ProviderName(),
				HasDrift:            hasInfra || hasConfig,
				InfrastructureDrift: DriftDetail{HasDrift: hasInfra, Plan: infraPlan},
				ConfigurationDrift:  DriftDetail{HasDrift: hasConfig, Plan: configPlan},
			}
			report.Workspaces = append(report.Workspaces, wsReport)

			if wsReport.HasDrift {
				report.HasDrift = true
				continue
			}

			outputs, actual, err := interop.GetOutputs(ctx, opts.IgnoreDependencies)
			if err != nil {
				return nil, err
			}
			if actual {
				execCtx.CacheOutputs(ws.Name, outputs)
			}
		}
	}
	return report, nil
}

// RefreshState walks the plan level by level, sequentially refreshing
// and re-fetching each workspace's live outputs.
func (e *Executor) RefreshState(ctx context.Context, env string, opts Options) error {
	if err := e.validateEnv(env); err != nil {
		return err
	}
	execCtx, plan, err := e.buildPlan(env, opts)
	if err != nil {
		return err
	}

	for _, level := range plan.Levels {
		for _, ws := range level.Workspaces {
			interop, err := workspace.New(execCtx.Monorepo, ws, env, e.store)
			if err != nil {
				return err
			}
			inputs, err := e.resolveInputs(ctx, execCtx, ws, env)
			if err != nil {
				return err
			}
			if err := interop.Refresh(ctx, inputs); err != nil {
				return err
			}
			outputs, _, err := interop.GetOutputs(ctx, false)
			if err != nil {
				return err
			}
			execCtx.CacheOutputs(ws.Name, outputs)
		}
	}
	return nil
}
