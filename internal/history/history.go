// SPDX-FileCopyrightText: 2026 qvm-remote contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package history archives consumed results under date bucketed paths.
//
// A history entry is written exactly once by the client after it
// consumes a result entry and is immutable afterward. Collaborators may
// read the layout but never write it:
//
//	history/<YYYY-MM-DD>/<id>/command
//	history/<YYYY-MM-DD>/<id>/exit
//	history/<YYYY-MM-DD>/<id>/meta
package history

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/qubes-community/qvm-remote/internal/queue"
)

const dateLayout = "2006-01-02"

// Entry is one archived command as read back from the history tree.
type Entry struct {
	ID       string
	Date     string
	Command  string
	ExitCode int
}

// Archive writes the history entry for a consumed result. The entry
// directory is built under a hidden temporary name and renamed into
// place, so readers never see a partial entry.
func Archive(
	root, id string,
	body []byte,
	result queue.Result,
	now time.Time,
) (string, error) {
	bucket := filepath.Join(root, now.Format(dateLayout))

	err := os.MkdirAll(bucket, 0o700)
	if err != nil {
		return "", fmt.Errorf("create history bucket: %w", err)
	}

	tmp := filepath.Join(bucket, "."+id)

	err = os.Mkdir(tmp, 0o700)
	if err != nil {
		return "", fmt.Errorf("create history entry: %w", err)
	}

	defer func() {
		_ = os.RemoveAll(tmp)
	}()

	meta := fmt.Sprintf(
		"duration_ms=%d\narchived_at=%s\n",
		result.Duration.Milliseconds(),
		now.Format(time.RFC3339),
	)

	files := map[string][]byte{
		"command": body,
		"exit":    []byte(strconv.Itoa(result.ExitCode) + "\n"),
		"meta":    []byte(meta),
	}

	for name, data := range files {
		err := os.WriteFile(filepath.Join(tmp, name), data, 0o600)
		if err != nil {
			return "", fmt.Errorf("write history %s: %w", name, err)
		}
	}

	final := filepath.Join(bucket, id)

	err = os.Rename(tmp, final)
	if err != nil {
		return "", fmt.Errorf("publish history entry: %w", err)
	}

	return final, nil
}

// Read loads one archived entry.
func Read(root, date, id string) (Entry, error) {
	dir := filepath.Join(root, date, id)

	command, err := os.ReadFile(filepath.Join(dir, "command"))
	if err != nil {
		return Entry{}, fmt.Errorf("read history command: %w", err)
	}

	exitRaw, err := os.ReadFile(filepath.Join(dir, "exit"))
	if err != nil {
		return Entry{}, fmt.Errorf("read history exit: %w", err)
	}

	exitCode, err := strconv.Atoi(strings.TrimSpace(string(exitRaw)))
	if err != nil {
		return Entry{}, fmt.Errorf("parse history exit: %w", err)
	}

	return Entry{
		ID:       id,
		Date:     date,
		Command:  string(command),
		ExitCode: exitCode,
	}, nil
}

// List returns all archived entries, newest date bucket first. Only the
// id and date are populated; [Read] loads the full entry.
func List(root string) []Entry {
	buckets, err := os.ReadDir(root)
	if err != nil {
		return nil
	}

	var entries []Entry

	for _, bucket := range buckets {
		if !bucket.IsDir() || bucket.Name()[0] == '.' {
			continue
		}

		ids, err := os.ReadDir(filepath.Join(root, bucket.Name()))
		if err != nil {
			continue
		}

		for _, id := range ids {
			if !id.IsDir() || id.Name()[0] == '.' {
				continue
			}

			entries = append(entries, Entry{
				ID:   id.Name(),
				Date: bucket.Name(),
			})
		}
	}

	slices.SortFunc(entries, func(a, b Entry) int {
		if c := strings.Compare(b.Date, a.Date); c != 0 {
			return c
		}

		return strings.Compare(a.ID, b.ID)
	})

	return entries
}
