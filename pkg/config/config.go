// SPDX-License-Identifier: AGPL-3.0-or-later

/*
infraglue - infraglue is a Go-based multi-workspace infrastructure orchestration engine that drives Terraform and Pulumi across a monorepo of independently-managed workspaces.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package config reads monorepo and workspace ig.yaml declarations,
// resolves glob expansion and provider detection, and materialises
// the typed graph the rest of the engine operates on.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"infraglue/internal/core/errs"
	"infraglue/internal/core/model"
	"infraglue/pkg/logging"
	"infraglue/pkg/orchestrator"
)

// configFileNames are tried, in order, for both the monorepo root and
// each workspace directory.
var configFileNames = []string{"ig.yaml", "ig.yml"}

// Loader reads monorepo/workspace declarations from an afero
// filesystem and resolves them against a provider registry.
type Loader struct {
	fs       afero.Fs
	registry *orchestrator.Registry
	logger   logging.Logger
	// Strict makes an unresolvable workspace provider a hard error
	// instead of a soft-skip warning.
	Strict bool
}

// NewLoader builds a Loader. Pass afero.NewOsFs() in production and
// afero.NewMemMapFs() in tests.
func NewLoader(fs afero.Fs, registry *orchestrator.Registry, logger logging.Logger) *Loader {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Loader{fs: fs, registry: registry, logger: logger}
}

// TryReadMonorepo returns a Monorepo if dir/ig.(yaml|yml) exists and
// declares a non-empty workspace list. Returns (nil, nil) if no
// monorepo config file exists at dir — that is not an error.
func (l *Loader) TryReadMonorepo(dir string) (*model.Monorepo, error) {
	path, raw, err := readConfigDoc[rawMonorepoDoc](l.fs, dir)
	if err != nil {
		if path == "" {
			path = dir
		}
		return nil, errs.NewConfigError(path, err)
	}
	if raw == nil {
		return nil, nil
	}

	if len(raw.Workspace) == 0 {
		return nil, errs.NewConfigError(path, fmt.Errorf("workspace: must declare at least one glob"))
	}

	wsDirs, err := l.expandWorkspaceGlobs(dir, raw.Workspace)
	if err != nil {
		return nil, errs.NewConfigError(path, err)
	}

	workspaces := make([]*model.Workspace, 0, len(wsDirs))
	for _, wsDir := range wsDirs {
		w, err := l.loadWorkspace(dir, wsDir)
		if err != nil {
			return nil, err
		}
		if w == nil {
			continue // unresolved provider, non-strict: soft-skip
		}
		workspaces = append(workspaces, w)
	}

	exports := make([]model.Export, 0, len(raw.Output))
	for name, ref := range raw.Output {
		wsPath, key, err := splitWsRef(ref)
		if err != nil {
			return nil, errs.NewConfigError(path, fmt.Errorf("output.%s: %w", name, err))
		}
		exports = append(exports, model.Export{
			Name:         name,
			WorkspaceKey: filepath.Clean(filepath.Join(dir, wsPath)),
			OutputKey:    key,
		})
	}

	return model.NewMonorepo(dir, workspaces, exports), nil
}

// TryResolveMonorepo walks parent directories from startPath until it
// finds a monorepo whose workspaces include startPath (or whose root
// equals startPath). Returns (nil, nil) if the filesystem root is
// reached without a match.
func (l *Loader) TryResolveMonorepo(startPath string) (*model.Monorepo, error) {
	dir := filepath.Clean(startPath)
	for {
		mono, err := l.TryReadMonorepo(dir)
		if err != nil {
			return nil, err
		}
		if mono != nil {
			if dir == filepath.Clean(startPath) || mono.FindWorkspace(startPath) != nil {
				return mono, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

func (l *Loader) expandWorkspaceGlobs(root string, globs []string) ([]string, error) {
	seen := make(map[string]bool)
	var dirs []string

	for _, pattern := range globs {
		absPattern := pattern
		if !filepath.IsAbs(pattern) {
			absPattern = filepath.Join(root, pattern)
		}

		matches, err := afero.Glob(l.fs, absPattern)
		if err != nil {
			return nil, fmt.Errorf("expanding workspace glob %q: %w", pattern, err)
		}

		for _, m := range matches {
			info, err := l.fs.Stat(m)
			if err != nil {
				return nil, fmt.Errorf("stat %q: %w", m, err)
			}
			if !info.IsDir() {
				continue
			}
			clean := filepath.Clean(m)
			if seen[clean] {
				continue
			}
			seen[clean] = true
			dirs = append(dirs, clean)
		}
	}
	return dirs, nil
}

// loadWorkspace builds one Workspace from its directory. Returns
// (nil, nil) when the provider cannot be resolved and Strict is
// false — the caller soft-skips it with a logged warning.
func (l *Loader) loadWorkspace(monoRoot, wsDir string) (*model.Workspace, error) {
	path, raw, err := readConfigDoc[rawWorkspaceDoc](l.fs, wsDir)
	if err != nil {
		if path == "" {
			path = wsDir
		}
		return nil, errs.NewConfigError(path, err)
	}
	if raw == nil {
		raw = &rawWorkspaceDoc{}
	}

	provider, err := l.resolveProvider(wsDir, raw.Provider)
	if err != nil {
		if path == "" {
			path = wsDir
		}
		return nil, errs.NewConfigError(path, err)
	}
	if provider == nil {
		if l.Strict {
			return nil, errs.NewUserError(wsDir, "load config", fmt.Errorf("no provider detected for workspace %q under strict mode", wsDir))
		}
		l.logger.Warn("skipping workspace: no provider detected", logging.NewField("workspace", wsDir))
		return nil, nil
	}

	name := raw.Alias
	if name == "" {
		rel, err := filepath.Rel(monoRoot, wsDir)
		if err != nil {
			rel = wsDir
		}
		name = rel
	}

	injections := make(map[string]model.Injection, len(raw.Injection))
	for localKey, ref := range raw.Injection {
		wsPath, outputKey, err := splitWsRef(ref)
		if err != nil {
			return nil, errs.NewConfigError(path, fmt.Errorf("injection.%s: %w", localKey, err))
		}
		injections[localKey] = model.Injection{
			WorkspaceKey: filepath.Clean(filepath.Join(wsDir, wsPath)),
			OutputKey:    outputKey,
		}
	}

	dependsOn := make([]string, 0, len(raw.DependsOn))
	for _, rel := range raw.DependsOn {
		dependsOn = append(dependsOn, filepath.Clean(filepath.Join(wsDir, rel)))
	}

	envs := make(map[string]model.EnvironmentConfig, len(raw.Envs))
	for envName, rawEnv := range raw.Envs {
		envs[envName] = rawEnv.toModel()
	}

	return &model.Workspace{
		Name:         name,
		AbsolutePath: wsDir,
		MonorepoPath: relOrSelf(monoRoot, wsDir),
		Provider:     provider,
		Injections:   injections,
		DependsOn:    dependsOn,
		Envs:         envs,
	}, nil
}

func (l *Loader) resolveProvider(wsDir, explicit string) (orchestrator.Provider, error) {
	if explicit != "" {
		p, err := l.registry.Get(explicit)
		if err != nil {
			return nil, fmt.Errorf("unknown provider %q: %w", explicit, err)
		}
		return p, nil
	}
	return l.registry.Detect(wsDir)
}

// splitWsRef parses the "<wsPathOrName>:<outputKey>" injection/export
// grammar.
func splitWsRef(ref string) (wsPath, outputKey string, err error) {
	idx := strings.LastIndex(ref, ":")
	if idx < 0 || idx == len(ref)-1 {
		return "", "", fmt.Errorf("malformed reference %q, expected \"<workspace>:<outputKey>\"", ref)
	}
	return ref[:idx], ref[idx+1:], nil
}

func relOrSelf(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return rel
}
