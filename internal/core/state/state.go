// SPDX-License-Identifier: AGPL-3.0-or-later

/*
infraglue - infraglue is a Go-based multi-workspace infrastructure orchestration engine that drives Terraform and Pulumi across a monorepo of independently-managed workspaces.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package state persists the engine's durable JSON state file and
// manages the per-workspace scratch directory under a monorepo's
// hidden ".ig" directory. Readers never observe a partial document:
// writes go to a temp file and are renamed into place, and all
// read-modify-write cycles serialise through a process-local mutex.
//
// State is not safe for concurrent modification from multiple
// processes; infraglue assumes a single process owns a monorepo's
// state file at a time.
package state

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"infraglue/internal/core/errs"
)

const (
	dirName        = ".ig"
	stateFileName  = "state.json"
	scratchDirName = ".temp"
	gitignoreBody  = "*"
)

// WorkspaceState is the persisted, per-workspace slice of State:
// the environment it was last selected into, and its most recently
// observed outputs.
type WorkspaceState struct {
	Env     string            `json:"env,omitempty"`
	Outputs map[string]string `json:"outputs,omitempty"`
}

// State is the engine's durable, on-disk state document.
//
// isEnvSelected ≡ CurrentEnvironment set and NextEnvironment absent.
// isEnvSelecting ≡ NextEnvironment set.
type State struct {
	CurrentEnvironment string                    `json:"current_environment,omitempty"`
	NextEnvironment    string                    `json:"next_environment,omitempty"`
	Workspaces         map[string]WorkspaceState `json:"workspaces,omitempty"`
}

// IsEnvSelected reports whether an environment has been fully
// selected (no selection in flight).
func (s State) IsEnvSelected() bool {
	return s.CurrentEnvironment != "" && s.NextEnvironment == ""
}

// IsEnvSelecting reports whether an environment selection is
// currently in flight.
func (s State) IsEnvSelecting() bool {
	return s.NextEnvironment != ""
}

// StartSelectingEnv returns a copy of s with NextEnvironment set to
// env, beginning a two-phase environment selection.
func (s State) StartSelectingEnv(env string) State {
	next := s.clone()
	next.NextEnvironment = env
	return next
}

// FinishEnvSelection completes a two-phase environment selection:
// NextEnvironment is copied into CurrentEnvironment, cleared, and each
// named workspace has its Env set to the new current environment.
// Calling this on a state that is not selecting is a hard error.
func (s State) FinishEnvSelection(names []string) (State, error) {
	if !s.IsEnvSelecting() {
		return State{}, errs.NewInternalError("finishEnvSelection called while not selecting an environment", nil)
	}

	next := s.clone()
	next.CurrentEnvironment = next.NextEnvironment
	next.NextEnvironment = ""
	if next.Workspaces == nil {
		next.Workspaces = make(map[string]WorkspaceState)
	}
	for _, name := range names {
		ws := next.Workspaces[name]
		ws.Env = next.CurrentEnvironment
		next.Workspaces[name] = ws
	}
	return next, nil
}

// WithWorkspaceOutputs returns a copy of s with workspace name's
// outputs replaced by outputs.
func (s State) WithWorkspaceOutputs(name string, outputs map[string]string) State {
	next := s.clone()
	if next.Workspaces == nil {
		next.Workspaces = make(map[string]WorkspaceState)
	}
	ws := next.Workspaces[name]
	ws.Outputs = outputs
	next.Workspaces[name] = ws
	return next
}

// WithoutWorkspaceOutputs clears workspace name's cached outputs,
// used after a destroy.
func (s State) WithoutWorkspaceOutputs(name string) State {
	return s.WithWorkspaceOutputs(name, nil)
}

func (s State) clone() State {
	clone := s
	if s.Workspaces != nil {
		clone.Workspaces = make(map[string]WorkspaceState, len(s.Workspaces))
		for k, v := range s.Workspaces {
			outputs := v.Outputs
			if outputs != nil {
				outputs = make(map[string]string, len(v.Outputs))
				for ok, ov := range v.Outputs {
					outputs[ok] = ov
				}
			}
			clone.Workspaces[k] = WorkspaceState{Env: v.Env, Outputs: outputs}
		}
	}
	return clone
}

// Store persists State under <root>/.ig/state.json and manages the
// scratch directory at <root>/.ig/.temp/.
type Store struct {
	root string
	fs   afero.Fs
	mu   sync.Mutex
}

// NewStore creates a Store rooted at root, using fs for all
// filesystem access. Production callers pass afero.NewOsFs(); tests
// pass afero.NewMemMapFs().
func NewStore(root string, fs afero.Fs) *Store {
	return &Store{root: root, fs: fs}
}

func (st *Store) statePath() string {
	return filepath.Join(st.root, dirName, stateFileName)
}

func (st *Store) scratchRoot() string {
	return filepath.Join(st.root, dirName, scratchDirName)
}

// EnsureInitialised creates <root>/.ig/ and writes .gitignore with
// body "*" if absent. Failure to create the directory is only
// swallowed when it already exists; any other error propagates.
func (st *Store) EnsureInitialised() error {
	dir := filepath.Join(st.root, dirName)
	if err := st.fs.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	gitignorePath := filepath.Join(dir, ".gitignore")
	exists, err := afero.Exists(st.fs, gitignorePath)
	if err != nil {
		return fmt.Errorf("checking %s: %w", gitignorePath, err)
	}
	if exists {
		return nil
	}

	if err := afero.WriteFile(st.fs, gitignorePath, []byte(gitignoreBody), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", gitignorePath, err)
	}
	return nil
}

// Read returns the current State. A missing state file is not an
// error; it returns the zero State.
func (st *Store) Read() (State, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.read()
}

func (st *Store) read() (State, error) {
	path := st.statePath()
	exists, err := afero.Exists(st.fs, path)
	if err != nil {
		return State{}, fmt.Errorf("checking %s: %w", path, err)
	}
	if !exists {
		return State{}, nil
	}

	data, err := afero.ReadFile(st.fs, path)
	if err != nil {
		return State{}, fmt.Errorf("reading %s: %w", path, err)
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	return s, nil
}

// Update acquires the store's process-local mutex, reads the current
// State, applies f, and writes the result back atomically before
// releasing the mutex. Concurrent Update calls on the same Store
// serialise.
func (st *Store) Update(f func(State) State) (State, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	current, err := st.read()
	if err != nil {
		return State{}, err
	}

	next := f(current)
	if err := st.write(next); err != nil {
		return State{}, err
	}
	return next, nil
}

func (st *Store) write(s State) error {
	dir := filepath.Join(st.root, dirName)
	if err := st.fs.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}

	path := st.statePath()
	tmpPath := path + "." + uuid.NewString() + ".tmp"
	if err := afero.WriteFile(st.fs, tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", tmpPath, err)
	}

	if err := st.fs.Rename(tmpPath, path); err != nil {
		_ = st.fs.Remove(tmpPath)
		return fmt.Errorf("renaming %s to %s: %w", tmpPath, path, err)
	}
	return nil
}

// StoreWorkspaceTempFile ensures <root>/.ig/.temp/<wsPath>/ exists,
// writes name/body under it, and returns the path to the new file
// relative to wsPath.
func (st *Store) StoreWorkspaceTempFile(wsPath, name string, body []byte) (string, error) {
	relWS, err := filepath.Rel(st.root, wsPath)
	if err != nil {
		relWS = wsPath
	}

	dir := filepath.Join(st.scratchRoot(), relWS)
	if err := st.fs.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}

	absPath := filepath.Join(dir, name)
	if err := afero.WriteFile(st.fs, absPath, body, 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", absPath, err)
	}

	relToWS, err := filepath.Rel(wsPath, absPath)
	if err != nil {
		return absPath, nil
	}
	return relToWS, nil
}

// OSStore constructs a Store backed by the real filesystem, for
// production callers.
func OSStore(root string) *Store {
	return NewStore(root, afero.NewOsFs())
}
