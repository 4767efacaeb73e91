// SPDX-FileCopyrightText: 2026 qvm-remote contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package queue

import (
	"cmp"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/qubes-community/qvm-remote/internal/protocol"
)

// Entry is one pending command as seen by the daemon's sweep.
type Entry struct {
	ID          string
	SubmittedAt time.Time
}

// Submit writes a new entry into pending/. Both files are written to
// hidden temporary names first and renamed into place, so the daemon
// never observes a partially visible entry. The auth file becomes
// visible before the command file, since sweeps discover entries by
// their command file.
func (s *Store) Submit(id string, body []byte, authToken string) error {
	err := s.EnsureDirs()
	if err != nil {
		return err
	}

	pendingDir := filepath.Join(s.root, protocol.DirPending)

	tmpAuth := filepath.Join(pendingDir, "."+id+protocol.SuffixAuth)
	tmpCmd := filepath.Join(pendingDir, "."+id+protocol.SuffixCommand)

	err = writeFile(tmpAuth, []byte(authToken+"\n"))
	if err != nil {
		return fmt.Errorf("write auth token: %w", err)
	}

	err = writeFile(tmpCmd, body)
	if err != nil {
		_ = os.Remove(tmpAuth)
		return fmt.Errorf("write command: %w", err)
	}

	err = os.Rename(tmpAuth, s.authPath(protocol.DirPending, id))
	if err != nil {
		_ = os.Remove(tmpAuth)
		_ = os.Remove(tmpCmd)

		return fmt.Errorf("publish auth token: %w", err)
	}

	err = os.Rename(tmpCmd, s.commandPath(protocol.DirPending, id))
	if err != nil {
		_ = os.Remove(tmpCmd)
		_ = os.Remove(s.authPath(protocol.DirPending, id))

		return fmt.Errorf("publish command: %w", err)
	}

	return nil
}

// Pending returns all pending entries in processing order: ascending
// submission time, ties broken by id. Entries with malformed basenames
// are ignored.
func (s *Store) Pending() []Entry {
	var entries []Entry

	for _, id := range s.idsIn(protocol.DirPending, protocol.SuffixCommand) {
		if protocol.ValidateCommandID(id) != nil {
			continue
		}

		info, err := os.Stat(s.commandPath(protocol.DirPending, id))
		if err != nil {
			continue
		}

		entries = append(entries, Entry{
			ID:          id,
			SubmittedAt: info.ModTime(),
		})
	}

	slices.SortFunc(entries, func(a, b Entry) int {
		if c := a.SubmittedAt.Compare(b.SubmittedAt); c != 0 {
			return c
		}

		return cmp.Compare(a.ID, b.ID)
	})

	return entries
}

// Running returns the ids of all claimed entries, sorted.
func (s *Store) Running() []string {
	ids := s.idsIn(protocol.DirRunning, protocol.SuffixCommand)

	slices.Sort(ids)

	return ids
}

// ReadEntry reads the command body and auth token of an entry in the
// given queue directory. A missing or half-visible pair returns
// [ErrPartialEntry]; the caller skips it for this sweep.
func (s *Store) ReadEntry(dir, id string) ([]byte, string, error) {
	body, err := os.ReadFile(s.commandPath(dir, id))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s", ErrPartialEntry, id)
	}

	auth, err := os.ReadFile(s.authPath(dir, id))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s", ErrPartialEntry, id)
	}

	return body, strings.TrimSpace(string(auth)), nil
}

// Claim moves an entry from pending/ to running/. The rename is the
// mutual exclusion primitive: exactly one mover succeeds, a concurrent
// loser gets [ErrEntryClaimed] and must skip the entry.
func (s *Store) Claim(id string) error {
	err := os.Rename(
		s.commandPath(protocol.DirPending, id),
		s.commandPath(protocol.DirRunning, id),
	)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrEntryClaimed, id)
		}

		return fmt.Errorf("claim entry %s: %w", id, err)
	}

	err = os.Rename(
		s.authPath(protocol.DirPending, id),
		s.authPath(protocol.DirRunning, id),
	)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("claim auth %s: %w", id, err)
	}

	return nil
}

// RemoveEntry deletes the file pair of an entry from the given queue
// directory. Missing files are not an error; removal is idempotent.
func (s *Store) RemoveEntry(dir, id string) error {
	var firstErr error

	for _, path := range []string{
		s.commandPath(dir, id),
		s.authPath(dir, id),
	} {
		err := os.Remove(path)
		if err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = fmt.Errorf("remove %s: %w", path, err)
		}
	}

	return firstErr
}

// RemoveArtifacts deletes every live artifact of an id: the pending and
// running pairs. Used by the client when it abandons a command so no
// orphaned entry remains.
func (s *Store) RemoveArtifacts(id string) error {
	var firstErr error

	for _, dir := range []string{protocol.DirPending, protocol.DirRunning} {
		err := s.RemoveEntry(dir, id)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// CleanupStale removes pending and running artifacts older than the
// given age, except those belonging to the id in keep. It is idempotent
// and a no-op when nothing is stale.
func (s *Store) CleanupStale(age time.Duration, keep string) (int, error) {
	cutoff := time.Now().Add(-age)
	removed := 0

	var firstErr error

	for _, dir := range []string{protocol.DirPending, protocol.DirRunning} {
		full := filepath.Join(s.root, dir)

		entries, err := os.ReadDir(full)
		if err != nil {
			continue
		}

		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}

			name := entry.Name()
			if keep != "" && strings.HasPrefix(
				strings.TrimPrefix(name, "."), keep,
			) {
				continue
			}

			info, err := entry.Info()
			if err != nil || info.ModTime().After(cutoff) {
				continue
			}

			err = os.Remove(filepath.Join(full, name))
			if err != nil && !os.IsNotExist(err) {
				if firstErr == nil {
					firstErr = fmt.Errorf("remove stale %s: %w", name, err)
				}

				continue
			}

			removed++
		}
	}

	return removed, firstErr
}

// Purge removes every entry and result in the queue. Destructive; only
// reachable through the explicitly destructive clean operations.
func (s *Store) Purge() (int, error) {
	removed := 0

	var firstErr error

	for _, dir := range []string{
		protocol.DirPending,
		protocol.DirRunning,
		protocol.DirResults,
	} {
		full := filepath.Join(s.root, dir)

		entries, err := os.ReadDir(full)
		if err != nil {
			continue
		}

		for _, entry := range entries {
			err := os.Remove(filepath.Join(full, entry.Name()))
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf(
						"purge %s: %w", entry.Name(), err,
					)
				}

				continue
			}

			removed++
		}
	}

	return removed, firstErr
}

func writeFile(path string, data []byte) error {
	file, err := os.OpenFile(
		path,
		os.O_CREATE|os.O_EXCL|os.O_WRONLY,
		0o600,
	)
	if err != nil {
		return err
	}

	_, err = file.Write(data)
	if err != nil {
		_ = file.Close()
		return err
	}

	return file.Close()
}
