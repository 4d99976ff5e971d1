// SPDX-License-Identifier: AGPL-3.0-or-later

/*
infraglue - infraglue is a Go-based multi-workspace infrastructure orchestration engine that drives Terraform and Pulumi across a monorepo of independently-managed workspaces.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

package orchestrator

import "context"

// ProviderConfig is everything a Provider needs to act on one
// workspace: identity, wiring, and environment declarations. It
// mirrors the Workspace type the core holds, flattened to the fields
// an adapter actually consumes.
type ProviderConfig struct {
	RootMonorepoFolder string
	RootPath           string
	Alias              string
	Provider           string
	Injections         map[string]string // localKey -> "<wsPath>:<outputKey>"
	DependsOn          []string
	Envs               map[string]EnvironmentConfig
}

// EnvironmentConfig is the provider-facing view of a workspace's
// per-environment overrides.
type EnvironmentConfig struct {
	Vars          map[string]string
	VarFiles      []string
	BackendType   string
	BackendFile   string
	BackendConfig map[string]string
}

// PlanOptions configures a getPlan/destroyPlan/getDriftPlan call.
type PlanOptions struct {
	Detailed bool
}

// Provider is the capability set the core consumes per provider,
// implemented concretely by the Terraform and Pulumi adapters. Inputs
// and outputs are flat string maps; structured values are
// JSON-encoded strings at this boundary.
type Provider interface {
	// ProviderName returns the provider's tag ("terraform", "pulumi").
	ProviderName() string

	// ExistsInFolder reports whether dir looks like a workspace this
	// provider governs, used for provider auto-detection.
	ExistsInFolder(dir string) (bool, error)

	// SelectEnvironment initialises the tool for env (backend/stack
	// selection).
	SelectEnvironment(ctx context.Context, cfg ProviderConfig, env string) error

	GetPlan(ctx context.Context, cfg ProviderConfig, inputs map[string]string, env string, opts PlanOptions) (*Plan, error)
	Apply(ctx context.Context, cfg ProviderConfig, inputs map[string]string, env string) (map[string]string, error)
	GetOutputs(ctx context.Context, cfg ProviderConfig, env string) (map[string]string, error)

	DestroyPlan(ctx context.Context, cfg ProviderConfig, inputs map[string]string, env string) (*Plan, error)
	Destroy(ctx context.Context, cfg ProviderConfig, inputs map[string]string, env string) error
	IsDestroyed(ctx context.Context, cfg ProviderConfig, env string) (bool, error)

	GetDriftPlan(ctx context.Context, cfg ProviderConfig, inputs map[string]string, env string) (*Plan, error)
	Refresh(ctx context.Context, cfg ProviderConfig, inputs map[string]string, env string) error

	ImportResource(ctx context.Context, cfg ProviderConfig, args []string, inputs map[string]string, env string) (string, error)
	GenerateCode(ctx context.Context, cfg ProviderConfig, args []string, inputs map[string]string, env string) (string, error)

	// ExecAnyCommand is the escape hatch: run an arbitrary subcommand
	// of the underlying tool against this workspace.
	ExecAnyCommand(ctx context.Context, cmd string, cfg ProviderConfig, lazyInputs func() (map[string]string, error), env string) (string, error)
}
