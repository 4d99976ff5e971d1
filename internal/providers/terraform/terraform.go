// SPDX-License-Identifier: AGPL-3.0-or-later

/*
infraglue - infraglue is a Go-based multi-workspace infrastructure orchestration engine that drives Terraform and Pulumi across a monorepo of independently-managed workspaces.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package terraform adapts the Terraform CLI to the orchestrator.Provider
// contract: environment/backend initialisation, plan/apply/destroy/drift
// commands, and the newline-delimited JSON stream Terraform emits in
// `--json` mode.
package terraform

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"

	"infraglue/internal/core/errs"
	"infraglue/internal/core/state"
	"infraglue/internal/providers/terraform/remotebackend"
	"infraglue/pkg/executil"
	"infraglue/pkg/logging"
	"infraglue/pkg/orchestrator"
)

const (
	providerName   = "terraform"
	toolBinary     = "terraform"
	backendFile    = "__ig__backend.tf"
	varsFileName   = "terraform-vars.tfvars"
	maxStreamLine  = 10 * 1024 * 1024
	initialLineBuf = 64 * 1024
)

// Adapter implements orchestrator.Provider for Terraform workspaces.
type Adapter struct {
	fs     afero.Fs
	runner executil.Runner
	store  *state.Store
	logger logging.Logger

	// newRemoteClient builds a Scalr/TFC enrichment client; overridable
	// in tests so no network client is ever constructed.
	newRemoteClient func(remotebackend.Config) (*remotebackend.Client, error)
}

// NewAdapter builds a Terraform Adapter. fs is used for backend-file and
// detection bookkeeping; runner shells out to the terraform binary; store
// owns the per-workspace scratch directory used for generated var files.
func NewAdapter(fs afero.Fs, runner executil.Runner, store *state.Store, logger logging.Logger) *Adapter {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Adapter{fs: fs, runner: runner, store: store, logger: logger, newRemoteClient: remotebackend.NewClient}
}

// ProviderName returns the "terraform" tag.
func (a *Adapter) ProviderName() string { return providerName }

// ExistsInFolder reports whether dir contains at least one file with a
// .tf extension (case-insensitive).
func (a *Adapter) ExistsInFolder(dir string) (bool, error) {
	entries, err := afero.ReadDir(a.fs, dir)
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(entry.Name()), ".tf") {
			return true, nil
		}
	}
	return false, nil
}

// SelectEnvironment writes/removes the backend file per envCfg and runs
// `terraform init --reconfigure`.
func (a *Adapter) SelectEnvironment(ctx context.Context, cfg orchestrator.ProviderConfig, env string) error {
	envCfg := cfg.Envs[env]
	backendPath := filepath.Join(cfg.RootPath, backendFile)

	switch {
	case envCfg.BackendFile != "":
		src := envCfg.BackendFile
		if !filepath.IsAbs(src) {
			src = filepath.Join(cfg.RootPath, src)
		}
		body, err := afero.ReadFile(a.fs, src)
		if err != nil {
			return errs.NewUserError(cfg.Alias, "select environment", fmt.Errorf("reading backend file %s: %w", src, err))
		}
		if err := afero.WriteFile(a.fs, backendPath, body, 0o644); err != nil {
			return errs.NewUserError(cfg.Alias, "select environment", fmt.Errorf("writing %s: %w", backendPath, err))
		}
	case envCfg.BackendType != "":
		body := fmt.Sprintf("terraform {\n  backend %q {}\n}\n", envCfg.BackendType)
		if err := afero.WriteFile(a.fs, backendPath, []byte(body), 0o644); err != nil {
			return errs.NewUserError(cfg.Alias, "select environment", fmt.Errorf("writing %s: %w", backendPath, err))
		}
	default:
		if exists, _ := afero.Exists(a.fs, backendPath); exists {
			if err := a.fs.Remove(backendPath); err != nil {
				return errs.NewUserError(cfg.Alias, "select environment", fmt.Errorf("removing %s: %w", backendPath, err))
			}
		}
	}

	if remoteCfg, ok := remotebackend.DetectConfig(envCfg.BackendType, envCfg.BackendConfig); ok {
		client, err := a.newRemoteClient(remoteCfg)
		if err != nil {
			return errs.NewUserError(cfg.Alias, "select environment", err)
		}
		if _, err := client.Preflight(ctx, remoteCfg, cfg.Alias, cfg.Alias); err != nil {
			return err
		}
	}

	args := []string{"init"}
	for _, k := range sortedKeys(envCfg.BackendConfig) {
		args = append(args, fmt.Sprintf("--backend-config=%s=%s", k, envCfg.BackendConfig[k]))
	}
	args = append(args, "--reconfigure")

	_, err := a.run(ctx, cfg, args)
	return err
}

// GetPlan runs `terraform plan --json` and parses the resulting
// stream. When opts.Detailed is set, resource changes are annotated
// with per-attribute diffs before being returned.
func (a *Adapter) GetPlan(ctx context.Context, cfg orchestrator.ProviderConfig, inputs map[string]string, env string, opts orchestrator.PlanOptions) (*orchestrator.Plan, error) {
	varFlags, err := a.buildVarFileFlags(cfg, inputs, env)
	if err != nil {
		return nil, err
	}
	result, err := a.run(ctx, cfg, append([]string{"plan", "--json"}, varFlags...))
	if err != nil {
		return nil, err
	}
	plan, err := parseStream(bytes.NewReader(result.Stdout), cfg.Alias)
	if err != nil {
		return nil, err
	}
	if opts.Detailed {
		plan.ResourceChanges = orchestrator.ComputeDetailedDiff(plan.ResourceChanges)
	}
	return plan, nil
}

// DestroyPlan runs `terraform plan -destroy --json`.
func (a *Adapter) DestroyPlan(ctx context.Context, cfg orchestrator.ProviderConfig, inputs map[string]string, env string) (*orchestrator.Plan, error) {
	varFlags, err := a.buildVarFileFlags(cfg, inputs, env)
	if err != nil {
		return nil, err
	}
	result, err := a.run(ctx, cfg, append([]string{"plan", "-destroy", "--json"}, varFlags...))
	if err != nil {
		return nil, err
	}
	return parseStream(bytes.NewReader(result.Stdout), cfg.Alias)
}

// Apply runs `terraform apply --auto-approve --json` followed by
// `terraform output --json` and returns the resulting outputs.
func (a *Adapter) Apply(ctx context.Context, cfg orchestrator.ProviderConfig, inputs map[string]string, env string) (map[string]string, error) {
	varFlags, err := a.buildVarFileFlags(cfg, inputs, env)
	if err != nil {
		return nil, err
	}
	if _, err := a.run(ctx, cfg, append([]string{"apply", "--auto-approve", "--json"}, varFlags...)); err != nil {
		return nil, err
	}
	return a.GetOutputs(ctx, cfg, env)
}

// Destroy runs `terraform destroy --auto-approve`.
func (a *Adapter) Destroy(ctx context.Context, cfg orchestrator.ProviderConfig, inputs map[string]string, env string) error {
	varFlags, err := a.buildVarFileFlags(cfg, inputs, env)
	if err != nil {
		return err
	}
	_, err = a.run(ctx, cfg, append([]string{"destroy", "--auto-approve"}, varFlags...))
	return err
}

// GetOutputs runs `terraform output --json` and flattens the result into
// a string map. If that invocation fails and the environment declares a
// Scalr-compatible remote backend, it falls back to fetching outputs
// directly from Scalr — the local-state-less case right after a fresh
// selectEnvironment.
func (a *Adapter) GetOutputs(ctx context.Context, cfg orchestrator.ProviderConfig, env string) (map[string]string, error) {
	result, err := a.run(ctx, cfg, []string{"output", "--json"})
	if err == nil {
		return parseOutputsDocument(result.Stdout)
	}

	envCfg := cfg.Envs[env]
	remoteCfg, ok := remotebackend.DetectConfig(envCfg.BackendType, envCfg.BackendConfig)
	if !ok {
		return nil, err
	}

	client, clientErr := a.newRemoteClient(remoteCfg)
	if clientErr != nil {
		return nil, err
	}
	workspaceID, preflightErr := client.Preflight(ctx, remoteCfg, cfg.Alias, cfg.Alias)
	if preflightErr != nil {
		return nil, err
	}
	outputs, fetchErr := client.FetchOutputs(ctx, cfg.Alias, workspaceID)
	if fetchErr != nil {
		return nil, err
	}
	return outputs, nil
}

// IsDestroyed runs `terraform state list`; an empty stdout means no
// managed resources remain.
func (a *Adapter) IsDestroyed(ctx context.Context, cfg orchestrator.ProviderConfig, _ string) (bool, error) {
	result, err := a.run(ctx, cfg, []string{"state", "list"})
	if err != nil {
		return false, err
	}
	return len(bytes.TrimSpace(result.Stdout)) == 0, nil
}

// GetDriftPlan runs `terraform plan -refresh-only --json`.
func (a *Adapter) GetDriftPlan(ctx context.Context, cfg orchestrator.ProviderConfig, inputs map[string]string, env string) (*orchestrator.Plan, error) {
	varFlags, err := a.buildVarFileFlags(cfg, inputs, env)
	if err != nil {
		return nil, err
	}
	result, err := a.run(ctx, cfg, append([]string{"plan", "-refresh-only", "--json"}, varFlags...))
	if err != nil {
		return nil, err
	}
	return parseStream(bytes.NewReader(result.Stdout), cfg.Alias)
}

// Refresh runs `terraform apply -refresh-only --auto-approve`.
func (a *Adapter) Refresh(ctx context.Context, cfg orchestrator.ProviderConfig, inputs map[string]string, env string) error {
	varFlags, err := a.buildVarFileFlags(cfg, inputs, env)
	if err != nil {
		return err
	}
	_, err = a.run(ctx, cfg, append([]string{"apply", "-refresh-only", "--auto-approve"}, varFlags...))
	return err
}

// ImportResource runs `terraform import <args...>`.
func (a *Adapter) ImportResource(ctx context.Context, cfg orchestrator.ProviderConfig, args []string, inputs map[string]string, env string) (string, error) {
	varFlags, err := a.buildVarFileFlags(cfg, inputs, env)
	if err != nil {
		return "", err
	}
	full := append([]string{"import"}, varFlags...)
	full = append(full, args...)
	result, err := a.run(ctx, cfg, full)
	if err != nil {
		return "", err
	}
	return string(result.Stdout), nil
}

// GenerateCode runs `terraform plan <var-file flags> <args...>`; it adds
// no -generate-config-out flag of its own.
func (a *Adapter) GenerateCode(ctx context.Context, cfg orchestrator.ProviderConfig, args []string, inputs map[string]string, env string) (string, error) {
	varFlags, err := a.buildVarFileFlags(cfg, inputs, env)
	if err != nil {
		return "", err
	}
	full := append([]string{"plan"}, varFlags...)
	full = append(full, args...)
	result, err := a.run(ctx, cfg, full)
	if err != nil {
		return "", err
	}
	return string(result.Stdout), nil
}

// ExecAnyCommand runs an arbitrary `terraform <cmd>` subcommand, the
// escape hatch for operations this Provider does not otherwise expose.
func (a *Adapter) ExecAnyCommand(ctx context.Context, cmd string, cfg orchestrator.ProviderConfig, lazyInputs func() (map[string]string, error), env string) (string, error) {
	var inputs map[string]string
	if lazyInputs != nil {
		var err error
		inputs, err = lazyInputs()
		if err != nil {
			return "", err
		}
	}
	varFlags, err := a.buildVarFileFlags(cfg, inputs, env)
	if err != nil {
		return "", err
	}
	result, err := a.run(ctx, cfg, append([]string{cmd}, varFlags...))
	if err != nil {
		return "", err
	}
	return string(result.Stdout), nil
}

func (a *Adapter) run(ctx context.Context, cfg orchestrator.ProviderConfig, args []string) (*executil.Result, error) {
	cmd := executil.NewCommand(toolBinary, args...)
	cmd.Dir = cfg.RootPath
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

// buildVarFileFlags merges envs[env].vars with inputs (inputs win),
// writes the result as a tfvars scratch file, and returns the ordered
// -var-file= flags (generated file first, then envs[env].var_files).
func (a *Adapter) buildVarFileFlags(cfg orchestrator.ProviderConfig, inputs map[string]string, env string) ([]string, error) {
	envCfg := cfg.Envs[env]

	merged := make(map[string]string, len(envCfg.Vars)+len(inputs))
	for k, v := range envCfg.Vars {
		merged[k] = v
	}
	for k, v := range inputs {
		merged[k] = v
	}

	var body strings.Builder
	for _, k := range sortedKeys(merged) {
		fmt.Fprintf(&body, "%s = %q\n", k, merged[k])
	}

	relPath, err := a.store.StoreWorkspaceTempFile(cfg.RootPath, varsFileName, []byte(body.String()))
	if err != nil {
		return nil, errs.NewInternalError("writing terraform var file", err)
	}

	flags := []string{"-var-file=" + relPath}
	for _, vf := range envCfg.VarFiles {
		flags = append(flags, "-var-file="+vf)
	}
	return flags, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// tfStreamLine is one line of a `terraform ... --json` stream,
// discriminated by type.
type tfStreamLine struct {
	Type       string                  `json:"type"`
	Change     *tfPlannedChange        `json:"change,omitempty"`
	Outputs    map[string]tfOutputLine `json:"outputs,omitempty"`
	Changes    *tfChangeCounts         `json:"changes,omitempty"`
	Diagnostic *tfDiagnosticLine       `json:"diagnostic,omitempty"`
}

type tfPlannedChange struct {
	Resource tfResourceAddr  `json:"resource"`
	Action   string          `json:"action"`
	Before   json.RawMessage `json:"before"`
	After    json.RawMessage `json:"after"`
}

type tfResourceAddr struct {
	Addr         string `json:"addr"`
	ResourceType string `json:"resource_type"`
	ResourceName string `json:"resource_name"`
}

type tfOutputLine struct {
	Value     json.RawMessage `json:"value"`
	Sensitive bool            `json:"sensitive"`
	Action    string          `json:"action"`
}

type tfChangeCounts struct {
	Add     int `json:"add"`
	Change  int `json:"change"`
	Remove  int `json:"remove"`
	Replace int `json:"replace"`
}

type tfDiagnosticLine struct {
	Severity string `json:"severity"`
	Summary  string `json:"summary"`
	Detail   string `json:"detail"`
	Address  string `json:"address"`
}

// parseStream reads a newline-delimited `terraform ... --json` stream
// and builds the normalised Plan it describes. Lines that are not valid
// JSON, or whose type is unrecognised, are ignored.
func parseStream(r *bytes.Reader, projectName string) (*orchestrator.Plan, error) {
	plan := &orchestrator.Plan{
		Provider:    providerName,
		ProjectName: projectName,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, initialLineBuf), maxStreamLine)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var raw tfStreamLine
		if err := json.Unmarshal(line, &raw); err != nil {
			continue
		}

		switch raw.Type {
		case "planned_change":
			appendPlannedChange(plan, raw.Change)
		case "outputs":
			appendOutputs(plan, raw.Outputs)
		case "change_summary":
			applyChangeSummary(plan, raw.Changes)
		case "diagnostic":
			appendDiagnostic(plan, raw.Diagnostic)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errs.NewInternalError("reading terraform json stream", err)
	}
	return plan, nil
}

func appendPlannedChange(plan *orchestrator.Plan, change *tfPlannedChange) {
	if change == nil {
		return
	}
	before := change.Before
	if before == nil {
		before = json.RawMessage("null")
	}
	after := change.After
	if after == nil {
		after = json.RawMessage("null")
	}
	plan.ResourceChanges = append(plan.ResourceChanges, orchestrator.ResourceChange{
		Address: change.Resource.Addr,
		Type:    change.Resource.ResourceType,
		Name:    change.Resource.ResourceName,
		Actions: []orchestrator.Action{orchestrator.Action(change.Action)},
		Status:  "pending",
		Before:  before,
		After:   after,
	})
}

func appendOutputs(plan *orchestrator.Plan, outputs map[string]tfOutputLine) {
	names := make([]string, 0, len(outputs))
	for name := range outputs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		o := outputs[name]
		value := "TO_BE_DEFINED"
		if len(o.Value) > 0 && !bytes.Equal(o.Value, []byte("null")) {
			value = decodeOutputValue(o.Value)
		}
		action := mapOutputAction(o.Action)
		plan.Outputs = append(plan.Outputs, orchestrator.Output{
			Name:      name,
			Value:     value,
			Sensitive: o.Sensitive,
			Action:    action,
		})
		if action != orchestrator.OutputUndefined {
			plan.ChangeSummary.OutputUpdates++
		}
	}
}

func mapOutputAction(action string) orchestrator.OutputAction {
	switch action {
	case "create":
		return orchestrator.OutputAdded
	case "update":
		return orchestrator.OutputUpdated
	case "delete":
		return orchestrator.OutputDeleted
	default:
		return orchestrator.OutputUndefined
	}
}

func applyChangeSummary(plan *orchestrator.Plan, changes *tfChangeCounts) {
	if changes == nil {
		return
	}
	plan.ChangeSummary.Add = changes.Add
	plan.ChangeSummary.Change = changes.Change
	plan.ChangeSummary.Remove = changes.Remove
	plan.ChangeSummary.Replace = changes.Replace
}

func appendDiagnostic(plan *orchestrator.Plan, d *tfDiagnosticLine) {
	if d == nil {
		return
	}
	plan.Diagnostics = append(plan.Diagnostics, orchestrator.Diagnostic{
		Severity: orchestrator.Severity(d.Severity),
		Summary:  d.Summary,
		Detail:   d.Detail,
		Address:  d.Address,
	})
}

// decodeOutputValue renders a raw output value as a flat string: plain
// JSON strings pass through unquoted, everything else is re-encoded as a
// JSON string at the provider boundary.
func decodeOutputValue(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// parseOutputsDocument parses the single JSON document `terraform
// output --json` produces into a flat string map.
func parseOutputsDocument(data []byte) (map[string]string, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return map[string]string{}, nil
	}

	var doc map[string]tfOutputLine
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, errs.NewInternalError("parsing terraform output --json", err)
	}

	out := make(map[string]string, len(doc))
	for name, o := range doc {
		if len(o.Value) == 0 || bytes.Equal(o.Value, []byte("null")) {
			out[name] = ""
			continue
		}
		out[name] = decodeOutputValue(o.Value)
	}
	return out, nil
}
