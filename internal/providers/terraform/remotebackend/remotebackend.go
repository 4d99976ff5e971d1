// SPDX-License-Identifier: AGPL-3.0-or-later

/*
infraglue - infraglue is a Go-based multi-workspace infrastructure orchestration engine that drives Terraform and Pulumi across a monorepo of independently-managed workspaces.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package remotebackend adds Scalr/TFC-compatible remote-backend
// preflight and output-fetch enrichment to the Terraform adapter. It is
// strictly additive: workspaces whose backend_type is not remote/scalr
// never construct a Scalr client.
package remotebackend

import (
	"context"
	"fmt"

	"github.com/scalr/go-scalr"

	"infraglue/internal/core/errs"
)

const (
	// BackendTypeRemote and BackendTypeScalr are the backend_type values
	// that opt a workspace into remote-backend enrichment.
	BackendTypeRemote = "remote"
	BackendTypeScalr  = "scalr"

	hostnameKey    = "SCALR_HOSTNAME"
	tokenKey       = "SCALR_TOKEN"
	environmentKey = "SCALR_ENVIRONMENT"
)

// Config carries the Scalr connection details read out of a workspace's
// backend_config.
type Config struct {
	Hostname    string
	Token       string
	Environment string
}

// DetectConfig reports whether backendType/backendConfig describe a
// Scalr-compatible remote backend, and if so extracts its Config.
func DetectConfig(backendType string, backendConfig map[string]string) (Config, bool) {
	if backendType != BackendTypeRemote && backendType != BackendTypeScalr {
		return Config{}, false
	}
	hostname := backendConfig[hostnameKey]
	token := backendConfig[tokenKey]
	environment := backendConfig[environmentKey]
	if hostname == "" || token == "" || environment == "" {
		return Config{}, false
	}
	return Config{Hostname: hostname, Token: token, Environment: environment}, true
}

// workspacesAPI is the subset of scalr.Workspaces the enrichment uses,
// narrowed for test substitution.
type workspacesAPI interface {
	Read(ctx context.Context, environmentID, workspaceName string) (*scalr.Workspace, error)
	ReadOutputs(ctx context.Context, workspaceID string) ([]*scalr.Output, error)
}

// Client wraps a Scalr API client scoped to one environment's
// preflight/output-enrichment calls.
type Client struct {
	workspaces workspacesAPI
}

// NewClient builds a Client from cfg, constructing the underlying Scalr
// API client.
func NewClient(cfg Config) (*Client, error) {
	scalrClient, err := scalr.NewClient(&scalr.Config{
		Address: cfg.Hostname,
		Token:   cfg.Token,
	})
	if err != nil {
		return nil, fmt.Errorf("constructing scalr client: %w", err)
	}
	return &Client{workspaces: scalrClient.Workspaces}, nil
}

// Preflight confirms the named Scalr environment/workspace exist before
// `terraform init --reconfigure` runs, failing fast as a UserError with
// an actionable message instead of a less legible backend-init error.
// It returns the workspace's Scalr ID for a subsequent FetchOutputs call.
func (c *Client) Preflight(ctx context.Context, cfg Config, workspaceAlias, workspaceName string) (string, error) {
	ws, err := c.workspaces.Read(ctx, cfg.Environment, workspaceName)
	if err != nil {
		return "", errs.NewUserError(workspaceAlias, "select environment",
			fmt.Errorf("remote workspace %q not found in scalr environment %q: %w", workspaceName, cfg.Environment, err))
	}
	return ws.ID, nil
}

// FetchOutputs fetches a workspace's outputs from Scalr, used as a
// getOutputs fallback when the local `terraform output --json`
// invocation fails because the workspace has no local state yet.
func (c *Client) FetchOutputs(ctx context.Context, workspaceAlias, workspaceID string) (map[string]string, error) {
	outputs, err := c.workspaces.ReadOutputs(ctx, workspaceID)
	if err != nil {
		return nil, errs.NewProviderError("terraform", workspaceAlias, "scalr:ReadOutputs", "", "", 0, err)
	}

	result := make(map[string]string, len(outputs))
	for _, o := range outputs {
		result[o.Name] = o.Value
	}
	return result, nil
}
