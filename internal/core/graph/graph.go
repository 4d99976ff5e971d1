// SPDX-License-Identifier: AGPL-3.0-or-later

/*
infraglue - infraglue is a Go-based multi-workspace infrastructure orchestration engine that drives Terraform and Pulumi across a monorepo of independently-managed workspaces.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package graph levels a DAG of nodes into topological levels: for
// every edge u -> v (v depends on u), level(u) < level(v). It detects
// cycles and missing dependencies and reports both by node identity,
// never by internal index.
package graph

import (
	"fmt"
	"strings"

	"infraglue/internal/core/errs"
)

// DependenciesFunc returns the list of nodes a given node depends on.
// It must be deterministic for a fixed input set.
type DependenciesFunc func(node string) []string

// CycleError reports a cycle found during levelling, naming every node
// on the cycle in visit order.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Path, " -> "))
}

// MissingDependencyError reports a dependency pointing at a node that
// is not part of the input set.
type MissingDependencyError struct {
	Node       string
	Dependency string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("%q depends on %q, which is not in the input set", e.Node, e.Dependency)
}

// Level is an ordered group of nodes that can be processed together:
// none of them depends on any other node in the same level.
type Level struct {
	Nodes []string
}

// Levels partitions nodes into topological levels using deps to
// discover each node's dependencies. Within-level order matches the
// input order (stable), and the computation is deterministic.
//
// height(n) = 1 + max(height(d) for d in deps(n)), memoised; level k
// contains every node whose height equals k+1.
func Levels(nodes []string, deps DependenciesFunc) ([]Level, error) {
	index := make(map[string]int, len(nodes))
	for i, n := range nodes {
		index[n] = i
	}

	height := make(map[string]int, len(nodes))
	onPath := make(map[string]bool, len(nodes))
	var path []string

	var visit func(n string) (int, error)
	visit = func(n string) (int, error) {
		if h, ok := height[n]; ok {
			return h, nil
		}
		if onPath[n] {
			cyclePath := append(append([]string{}, path...), n)
			return 0, &CycleError{Path: cyclePath}
		}

		onPath[n] = true
		path = append(path, n)
		defer func() {
			onPath[n] = false
			path = path[:len(path)-1]
		}()

		maxDepHeight := 0
		for _, d := range deps(n) {
			if _, ok := index[d]; !ok {
				return 0, &MissingDependencyError{Node: n, Dependency: d}
			}
			h, err := visit(d)
			if err != nil {
				return 0, err
			}
			if h > maxDepHeight {
				maxDepHeight = h
			}
		}

		h := 1 + maxDepHeight
		height[n] = h
		return h, nil
	}

	maxHeight := 0
	for _, n := range nodes {
		h, err := visit(n)
		if err != nil {
			return nil, err
		}
		if h > maxHeight {
			maxHeight = h
		}
	}

	levels := make([]Level, maxHeight)
	for _, n := range nodes {
		k := height[n] - 1
		levels[k].Nodes = append(levels[k].Nodes, n)
	}

	return levels, nil
}

// LevelIndex returns a lookup from node name to the level index it
// was assigned by Levels, for callers that need to compare relative
// ordering (e.g. asserting level(u) < level(v) for an edge u -> v).
func LevelIndex(levels []Level) map[string]int {
	idx := make(map[string]int)
	for i, l := range levels {
		for _, n := range l.Nodes {
			idx[n] = i
		}
	}
	return idx
}

// AsInternalError wraps an unexpected graph error (one that should
// have been prevented by validation upstream) as an InternalError,
// per the taxonomy's "cycle with empty path, missing entry in graph"
// case.
func AsInternalError(operation string, err error) error {
	if err == nil {
		return nil
	}
	return errs.NewInternalError(operation, err)
}
