// SPDX-FileCopyrightText: 2026 qvm-remote contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package queue implements the filesystem resident command queue that is
// the sole shared mutable state between the VM client and the dom0
// daemon.
//
// All coordination is via atomic rename. A queue entry is either fully
// visible or not visible at all; no lock file, no database. An entry's
// state is determined entirely by the directory holding it:
//
//	pending/<id>.cmd + pending/<id>.auth   submitted, not yet claimed
//	running/<id>.cmd + running/<id>.auth   claimed by the daemon
//	results/<id>                           terminal
//
// The client exclusively creates pending entries and consumes results.
// The daemon exclusively performs the pending to running and running to
// results transitions and may reject pending entries directly.
package queue

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/qubes-community/qvm-remote/internal/protocol"
)

// State describes where an entry currently is in its lifecycle.
type State int

const (
	// StateNotFound means no artifact for the id exists. A consumed
	// result reports this, distinct from [StatePending].
	StateNotFound State = iota
	// StatePending means the entry awaits the daemon.
	StatePending
	// StateRunning means the daemon claimed the entry.
	StateRunning
	// StateDone means a result entry exists.
	StateDone
)

// String implements the [fmt.Stringer] interface.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateDone:
		return "done"
	default:
		return "not found"
	}
}

// Store is one VM's queue rooted at a single directory.
type Store struct {
	root string
}

// New returns a [Store] rooted at the given directory. The directory
// tree is created lazily by [Store.EnsureDirs].
func New(root string) *Store {
	return &Store{root: root}
}

// Root returns the queue root directory.
func (s *Store) Root() string {
	return s.root
}

// EnsureDirs creates the queue directory tree with owner-only
// permissions.
func (s *Store) EnsureDirs() error {
	for _, dir := range []string{
		protocol.DirPending,
		protocol.DirRunning,
		protocol.DirResults,
	} {
		err := os.MkdirAll(filepath.Join(s.root, dir), 0o700)
		if err != nil {
			return fmt.Errorf("create queue directory %s: %w", dir, err)
		}
	}

	return nil
}

// Status reports the current lifecycle state of the given id.
func (s *Store) Status(id string) State {
	if fileExists(s.resultPath(id)) {
		return StateDone
	}

	if fileExists(s.commandPath(protocol.DirRunning, id)) {
		return StateRunning
	}

	if fileExists(s.commandPath(protocol.DirPending, id)) {
		return StatePending
	}

	return StateNotFound
}

// Depths returns the number of entries in each live directory plus
// unconsumed results.
func (s *Store) Depths() (pending, running, results int) {
	pending = len(s.idsIn(protocol.DirPending, protocol.SuffixCommand))
	running = len(s.idsIn(protocol.DirRunning, protocol.SuffixCommand))
	results = len(s.idsIn(protocol.DirResults, ""))

	return pending, running, results
}

func (s *Store) commandPath(dir, id string) string {
	return filepath.Join(s.root, dir, id+protocol.SuffixCommand)
}

func (s *Store) authPath(dir, id string) string {
	return filepath.Join(s.root, dir, id+protocol.SuffixAuth)
}

func (s *Store) resultPath(id string) string {
	return filepath.Join(s.root, protocol.DirResults, id)
}

// idsIn lists entry basenames in the given queue directory, filtered by
// suffix. Hidden temp files are never entries.
func (s *Store) idsIn(dir, suffix string) []string {
	entries, err := os.ReadDir(filepath.Join(s.root, dir))
	if err != nil {
		return nil
	}

	var ids []string

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || name[0] == '.' {
			continue
		}

		if suffix != "" {
			if filepath.Ext(name) != suffix {
				continue
			}

			name = name[:len(name)-len(suffix)]
		}

		ids = append(ids, name)
	}

	return ids
}

func fileExists(path string) bool {
	info, err := os.Stat(path)

	return err == nil && info.Mode().IsRegular()
}
