// SPDX-License-Identifier: AGPL-3.0-or-later

/*
infraglue - infraglue is a Go-based multi-workspace infrastructure orchestration engine that drives Terraform and Pulumi across a monorepo of independently-managed workspaces.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

package config

import (
	"fmt"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"infraglue/internal/core/model"
)

// rawMonorepoDoc is the on-disk schema for a monorepo's ig.yaml.
type rawMonorepoDoc struct {
	Workspace []string          `yaml:"workspace"`
	Output    map[string]string `yaml:"output"`
}

// rawWorkspaceDoc is the on-disk schema for a workspace's ig.yaml.
// All fields are optional: a workspace with no config file has no
// declared provider, injections, dependencies, or environments.
type rawWorkspaceDoc struct {
	Provider  string                          `yaml:"provider"`
	Alias     string                          `yaml:"alias"`
	Injection map[string]string               `yaml:"injection"`
	DependsOn []string                        `yaml:"depends_on"`
	Envs      map[string]rawEnvironmentConfig `yaml:"envs"`
}

// rawEnvironmentConfig mirrors EnvironmentConfig's wire schema before
// var coercion: vars/backend_config values may be written as numbers
// or booleans in YAML and are coerced to strings on load.
type rawEnvironmentConfig struct {
	Vars          map[string]any `yaml:"vars"`
	VarFiles      []string       `yaml:"var_files"`
	BackendFile   string         `yaml:"backend_file"`
	BackendType   string         `yaml:"backend_type"`
	BackendConfig map[string]any `yaml:"backend_config"`
}

func (r rawEnvironmentConfig) toModel() model.EnvironmentConfig {
	return model.EnvironmentConfig{
		Vars:          coerceToStrings(r.Vars),
		VarFiles:      append([]string{}, r.VarFiles...),
		BackendType:   r.BackendType,
		BackendFile:   r.BackendFile,
		BackendConfig: coerceToStrings(r.BackendConfig),
	}
}

// coerceToStrings converts a free-form YAML map to a string map;
// nullables normalise to absent.
func coerceToStrings(m map[string]any) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if v == nil {
			continue
		}
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}

// readConfigDoc tries configFileNames in dir and unmarshals the first
// one found into T. Returns ("", nil, nil) if none exist.
func readConfigDoc[T any](fs afero.Fs, dir string) (string, *T, error) {
	for _, name := range configFileNames {
		path := joinPath(dir, name)
		exists, err := afero.Exists(fs, path)
		if err != nil {
			return "", nil, fmt.Errorf("checking %s: %w", path, err)
		}
		if !exists {
			continue
		}

		data, err := afero.ReadFile(fs, path)
		if err != nil {
			return "", nil, fmt.Errorf("reading %s: %w", path, err)
		}

		var doc T
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return path, nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		return path, &doc, nil
	}
	return "", nil, nil
}

func joinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	if dir[len(dir)-1] == '/' {
		return dir + name
	}
	return dir + "/" + name
}
