// SPDX-License-Identifier: AGPL-3.0-or-later

/*
infraglue - infraglue is a Go-based multi-workspace infrastructure orchestration engine that drives Terraform and Pulumi across a monorepo of independently-managed workspaces.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package pulumi adapts the Pulumi CLI to the orchestrator.Provider
// contract: stack selection, per-invocation config, and the single
// JSON-document preview/destroy-preview output Pulumi emits in --json
// mode.
package pulumi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"

	"infraglue/internal/core/errs"
	"infraglue/pkg/executil"
	"infraglue/pkg/logging"
	"infraglue/pkg/orchestrator"
)

const (
	providerName  = "pulumi"
	toolBinary    = "pulumi"
	manifestFile  = "Pulumi.yaml"
	backendURLKey = "PULUMI_BACKEND_URL"
	fileURLPrefix = "file://"
)

// Adapter implements orchestrator.Provider for Pulumi workspaces.
type Adapter struct {
	fs     afero.Fs
	runner executil.Runner
	logger logging.Logger
}

// NewAdapter builds a Pulumi Adapter.
func NewAdapter(fs afero.Fs, runner executil.Runner, logger logging.Logger) *Adapter {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Adapter{fs: fs, runner: runner, logger: logger}
}

// ProviderName returns the "pulumi" tag.
func (a *Adapter) ProviderName() string { return providerName }

// ExistsInFolder reports whether dir contains a readable Pulumi.yaml.
func (a *Adapter) ExistsInFolder(dir string) (bool, error) {
	return afero.Exists(a.fs, filepath.Join(dir, manifestFile))
}

// SelectEnvironment ensures a file:// backend's target directory exists,
// runs `pulumi install`, and selects (or creates then selects) the stack
// named env.
func (a *Adapter) SelectEnvironment(ctx context.Context, cfg orchestrator.ProviderConfig, env string) error {
	envCfg := cfg.Envs[env]

	if backendURL := envCfg.BackendConfig[backendURLKey]; strings.HasPrefix(backendURL, fileURLPrefix) {
		dir := strings.TrimPrefix(backendURL, fileURLPrefix)
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(cfg.RootPath, dir)
		}
		if err := a.fs.MkdirAll(dir, 0o750); err != nil {
			return errs.NewUserError(cfg.Alias, "select environment", fmt.Errorf("creating pulumi backend directory %s: %w", dir, err))
		}
	}

	if _, err := a.run(ctx, cfg, env, []string{"install"}); err != nil {
		return err
	}

	if _, err := a.run(ctx, cfg, env, []string{"stack", "select", env}); err != nil {
		if !isNoStackError(err, env) {
			return err
		}
		if _, err := a.run(ctx, cfg, env, []string{"stack", "init", env}); err != nil {
			return err
		}
		if _, err := a.run(ctx, cfg, env, []string{"stack", "select", env}); err != nil {
			return err
		}
	}
	return nil
}

func isNoStackError(err error, env string) bool {
	var pe *errs.ProviderError
	if !errors.As(err, &pe) {
		return false
	}
	return strings.Contains(pe.Stderr, fmt.Sprintf("no stack named '%s' found", env))
}

// GetPlan runs `pulumi preview --stack <env> --json --diff`. When
// opts.Detailed is set, resource changes are annotated with
// per-attribute diffs before being returned.
func (a *Adapter) GetPlan(ctx context.Context, cfg orchestrator.ProviderConfig, inputs map[string]string, env string, opts orchestrator.PlanOptions) (*orchestrator.Plan, error) {
	if err := a.configureVars(ctx, cfg, inputs, env); err != nil {
		return nil, err
	}
	result, err := a.run(ctx, cfg, env, []string{"preview", "--stack", env, "--json", "--diff"})
	if err != nil {
		return nil, err
	}
	plan, err := parseDocument(result.Stdout, cfg.Alias)
	if err != nil {
		return nil, err
	}
	if opts.Detailed {
		plan.ResourceChanges = orchestrator.ComputeDetailedDiff(plan.ResourceChanges)
	}
	return plan, nil
}

// DestroyPlan runs `pulumi destroy --preview-only --stack <env> --diff --json`.
func (a *Adapter) DestroyPlan(ctx context.Context, cfg orchestrator.ProviderConfig, inputs map[string]string, env string) (*orchestrator.Plan, error) {
	if err := a.configureVars(ctx, cfg, inputs, env); err != nil {
		return nil, err
	}
	result, err := a.run(ctx, cfg, env, []string{"destroy", "--preview-only", "--stack", env, "--diff", "--json"})
	if err != nil {
		return nil, err
	}
	return parseDocument(result.Stdout, cfg.Alias)
}

// Apply runs `pulumi up --yes --json` followed by `pulumi stack output
// --json`.
func (a *Adapter) Apply(ctx context.Context, cfg orchestrator.ProviderConfig, inputs map[string]string, env string) (map[string]string, error) {
	if err := a.configureVars(ctx, cfg, inputs, env); err != nil {
		return nil, err
	}
	if _, err := a.run(ctx, cfg, env, []string{"up", "--yes", "--json"}); err != nil {
		return nil, err
	}
	return a.GetOutputs(ctx, cfg, env)
}

// Destroy runs `pulumi destroy --yes --stack <env>`.
func (a *Adapter) Destroy(ctx context.Context, cfg orchestrator.ProviderConfig, inputs map[string]string, env string) error {
	if err := a.configureVars(ctx, cfg, inputs, env); err != nil {
		return err
	}
	_, err := a.run(ctx, cfg, env, []string{"destroy", "--yes", "--stack", env})
	return err
}

// GetOutputs runs `pulumi stack output --json`.
func (a *Adapter) GetOutputs(ctx context.Context, cfg orchestrator.ProviderConfig, env string) (map[string]string, error) {
	result, err := a.run(ctx, cfg, env, []string{"stack", "output", "--json"})
	if err != nil {
		return nil, err
	}
	return parseOutputsDocument(result.Stdout)
}

// IsDestroyed runs `pulumi stack ls --json`; if no stack named env
// exists it is destroyed. Otherwise it exports the stack's deployment
// and reports destroyed iff no resources remain.
func (a *Adapter) IsDestroyed(ctx context.Context, cfg orchestrator.ProviderConfig, env string) (bool, error) {
	result, err := a.run(ctx, cfg, env, []string{"stack", "ls", "--json"})
	if err != nil {
		return false, err
	}

	var stacks []struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(result.Stdout), &stacks); err != nil {
		return false, errs.NewInternalError("parsing pulumi stack ls --json", err)
	}
	found := false
	for _, s := range stacks {
		if s.Name == env {
			found = true
			break
		}
	}
	if !found {
		return true, nil
	}

	exported, err := a.run(ctx, cfg, env, []string{"stack", "--stack", env, "export"})
	if err != nil {
		return false, err
	}
	var doc struct {
		Deployment struct {
			Resources []json.RawMessage `json:"resources"`
		} `json:"deployment"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(exported.Stdout), &doc); err != nil {
		return false, errs.NewInternalError("parsing pulumi stack export", err)
	}
	return len(doc.Deployment.Resources) == 0, nil
}

// GetDriftPlan runs `pulumi refresh --preview-only --stack <env> --json`.
func (a *Adapter) GetDriftPlan(ctx context.Context, cfg orchestrator.ProviderConfig, inputs map[string]string, env string) (*orchestrator.Plan, error) {
	if err := a.configureVars(ctx, cfg, inputs, env); err != nil {
		return nil, err
	}
	result, err := a.run(ctx, cfg, env, []string{"refresh", "--preview-only", "--stack", env, "--json"})
	if err != nil {
		return nil, err
	}
	return parseDocument(result.Stdout, cfg.Alias)
}

// Refresh runs `pulumi refresh --yes --stack <env>`.
func (a *Adapter) Refresh(ctx context.Context, cfg orchestrator.ProviderConfig, inputs map[string]string, env string) error {
	if err := a.configureVars(ctx, cfg, inputs, env); err != nil {
		return err
	}
	_, err := a.run(ctx, cfg, env, []string{"refresh", "--yes", "--stack", env})
	return err
}

// ImportResource runs `pulumi import <args...>`.
func (a *Adapter) ImportResource(ctx context.Context, cfg orchestrator.ProviderConfig, args []string, inputs map[string]string, env string) (string, error) {
	if err := a.configureVars(ctx, cfg, inputs, env); err != nil {
		return "", err
	}
	result, err := a.run(ctx, cfg, env, append([]string{"import"}, args...))
	if err != nil {
		return "", err
	}
	return string(result.Stdout), nil
}

// GenerateCode runs `pulumi convert <args...>`, Pulumi's own
// cross-language code-generation subcommand.
func (a *Adapter) GenerateCode(ctx context.Context, cfg orchestrator.ProviderConfig, args []string, inputs map[string]string, env string) (string, error) {
	if err := a.configureVars(ctx, cfg, inputs, env); err != nil {
		return "", err
	}
	result, err := a.run(ctx, cfg, env, append([]string{"convert"}, args...))
	if err != nil {
		return "", err
	}
	return string(result.Stdout), nil
}

// ExecAnyCommand runs an arbitrary `pulumi <cmd> --stack <env>`
// subcommand, the escape hatch for operations this Provider does not
// otherwise expose.
func (a *Adapter) ExecAnyCommand(ctx context.Context, cmd string, cfg orchestrator.ProviderConfig, lazyInputs func() (map[string]string, error), env string) (string, error) {
	if lazyInputs != nil {
		inputs, err := lazyInputs()
		if err != nil {
			return "", err
		}
		if err := a.configureVars(ctx, cfg, inputs, env); err != nil {
			return "", err
		}
	}
	result, err := a.run(ctx, cfg, env, []string{cmd, "--stack", env})
	if err != nil {
		return "", err
	}
	return string(result.Stdout), nil
}

// configureVars merges envs[env].vars with inputs (inputs win) and runs
// `pulumi config set <k> <v> --stack <env>` for each key, in
// deterministic key order.
func (a *Adapter) configureVars(ctx context.Context, cfg orchestrator.ProviderConfig, inputs map[string]string, env string) error {
	envCfg := cfg.Envs[env]
	merged := make(map[string]string, len(envCfg.Vars)+len(inputs))
	for k, v := range envCfg.Vars {
		merged[k] = v
	}
	for k, v := range inputs {
		merged[k] = v
	}

	for _, k := range sortedKeys(merged) {
		if _, err := a.run(ctx, cfg, env, []string{"config", "set", k, merged[k], "--stack", env}); err != nil {
			return err
		}
	}
	return nil
}

// run shells out to pulumi with the workspace as its working directory
// and envs[env].backend_config merged over the process environment, per
// how Pulumi subprocesses receive backend URL/credentials.
func (a *Adapter) run(ctx context.Context, cfg orchestrator.ProviderConfig, env string, args []string) (*executil.Result, error) {
	cmd := executil.NewCommand(toolBinary, args...)
	cmd.Dir = cfg.RootPath
	if envCfg, ok := cfg.Envs[env]; ok && len(envCfg.BackendConfig) > 0 {
		cmd.Env = envCfg.BackendConfig
	}

	result, err := a.runner.Run(ctx, cmd)
	if err != nil {
		exitCode := 0
		var stdout, stderr string
		if result != nil {
			exitCode = result.ExitCode
			stdout = string(result.Stdout)
			stderr = string(result.Stderr)
		}
		return result, errs.NewProviderError(providerName, cfg.Alias, strings.Join(append([]string{toolBinary}, args...), " "), stdout, stderr, exitCode, err)
	}
	return result, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// pulumiDocument is the single JSON document `pulumi preview|destroy
// --json` emits.
type pulumiDocument struct {
	Steps   []pulumiStep               `json:"steps"`
	Outputs map[string]json.RawMessage `json:"outputs"`
}

type pulumiStep struct {
	Op       string               `json:"op"`
	URN      string               `json:"urn"`
	OldState *pulumiResourceState `json:"oldState,omitempty"`
	NewState *pulumiResourceState `json:"newState,omitempty"`
	Resource *pulumiResourceState `json:"resource,omitempty"`
}

type pulumiResourceState struct {
	Inputs     json.RawMessage `json:"inputs,omitempty"`
	Properties json.RawMessage `json:"properties,omitempty"`
}

// parseDocument parses a preview/destroy-preview JSON document into a
// normalised Plan.
func parseDocument(data []byte, projectName string) (*orchestrator.Plan, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return &orchestrator.Plan{Provider: providerName, ProjectName: projectName, Timestamp: now()}, nil
	}

	var doc pulumiDocument
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, errs.NewInternalError("parsing pulumi json document", err)
	}

	plan := &orchestrator.Plan{Provider: providerName, ProjectName: projectName, Timestamp: now()}

	for _, step := range doc.Steps {
		resourceType, resourceName := splitURN(step.URN)
		actions := mapOp(plan, step.Op)

		before := emptyToNull(nil)
		if step.OldState != nil {
			before = emptyToNull(step.OldState.Inputs)
		}

		var after json.RawMessage
		switch {
		case step.NewState != nil && len(step.NewState.Inputs) > 0:
			after = step.NewState.Inputs
		case step.Resource != nil && len(step.Resource.Properties) > 0:
			after = step.Resource.Properties
		default:
			after = json.RawMessage("null")
		}

		plan.ResourceChanges = append(plan.ResourceChanges, orchestrator.ResourceChange{
			Address: step.URN,
			Type:    resourceType,
			Name:    resourceName,
			Actions: actions,
			Status:  "pending",
			Before:  before,
			After:   after,
		})
	}

	names := make([]string, 0, len(doc.Outputs))
	for name := range doc.Outputs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		plan.Outputs = append(plan.Outputs, orchestrator.Output{
			Name:  name,
			Value: decodeValue(doc.Outputs[name]),
		})
	}

	return plan, nil
}

func emptyToNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}

// mapOp translates a Pulumi step op into its ResourceChange actions,
// incrementing plan's change-summary counters per the op.
func mapOp(plan *orchestrator.Plan, op string) []orchestrator.Action {
	switch op {
	case "create":
		plan.ChangeSummary.Add++
		return []orchestrator.Action{orchestrator.ActionCreate}
	case "update":
		plan.ChangeSummary.Change++
		return []orchestrator.Action{orchestrator.ActionUpdate}
	case "delete":
		plan.ChangeSummary.Remove++
		return []orchestrator.Action{orchestrator.ActionDelete}
	case "replace":
		plan.ChangeSummary.Replace++
		return []orchestrator.Action{orchestrator.ActionReplace}
	case "same":
		return []orchestrator.Action{orchestrator.ActionNoop}
	default:
		return []orchestrator.Action{orchestrator.Action(op)}
	}
}

// splitURN splits a Pulumi URN by "::"; resourceType is the
// second-to-last segment, resourceName the last.
func splitURN(urn string) (resourceType, resourceName string) {
	parts := strings.Split(urn, "::")
	if len(parts) == 0 {
		return "", urn
	}
	resourceName = parts[len(parts)-1]
	if len(parts) >= 2 {
		resourceType = parts[len(parts)-2]
	}
	return resourceType, resourceName
}

// decodeValue renders a raw output value as a flat string: plain JSON
// strings pass through unquoted, everything else is re-encoded as a
// JSON string at the provider boundary.
func decodeValue(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// parseOutputsDocument parses the flat JSON object `pulumi stack output
// --json` produces into a string map.
func parseOutputsDocument(data []byte) (map[string]string, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return map[string]string{}, nil
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, errs.NewInternalError("parsing pulumi stack output --json", err)
	}

	out := make(map[string]string, len(doc))
	for name, raw := range doc {
		out[name] = decodeValue(raw)
	}
	return out, nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
