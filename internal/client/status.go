// SPDX-FileCopyrightText: 2026 qvm-remote contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package client

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/qubes-community/qvm-remote/internal/audit"
	"github.com/qubes-community/qvm-remote/internal/protocol"
	"github.com/qubes-community/qvm-remote/internal/token"
)

// Status writes a human readable overview of the local state: key
// presence, queue depths and recent audit events. Read-only.
func (c *Client) Status(w io.Writer) error {
	fmt.Fprintf(w, "data dir: %s\n", c.cfg.DataDir)

	key, err := token.ReadKeyFile(c.cfg.KeyPath())
	if err != nil {
		fmt.Fprintln(w, "key: not configured (run: qvm-remote key gen)")
	} else {
		fmt.Fprintf(w, "key: %s\n", token.Fingerprint(key))
	}

	pending, running, results := c.store.Depths()
	fmt.Fprintf(w, "queue: %d pending, %d running, %d unread results\n",
		pending, running, results)

	events, err := c.log.Tail(5)
	if err != nil {
		return err
	}

	if len(events) > 0 {
		fmt.Fprintln(w, "recent events:")

		for _, event := range events {
			fmt.Fprintf(w, "  %s\n", event)
		}
	}

	return nil
}

// QueueStatus writes the queue depths. Read-only.
func (c *Client) QueueStatus(w io.Writer) {
	pending, running, results := c.store.Depths()
	fmt.Fprintf(w, "pending=%d running=%d results=%d\n",
		pending, running, results)
}

// QueueClean removes every local queue entry and unread result.
// Explicitly destructive; key files are untouched.
func (c *Client) QueueClean() (int, error) {
	removed, err := c.store.Purge()
	if err != nil {
		return removed, err
	}

	if removed > 0 {
		_ = c.log.Log(audit.Clean, "queue purged removed=%d", removed)
	}

	return removed, nil
}

// QueueDebug writes a per-file listing of the queue directories with
// sizes and timestamps. Read-only.
func (c *Client) QueueDebug(w io.Writer) error {
	for _, dir := range []string{
		protocol.DirPending,
		protocol.DirRunning,
		protocol.DirResults,
	} {
		full := filepath.Join(c.store.Root(), dir)

		entries, err := os.ReadDir(full)
		if err != nil {
			if os.IsNotExist(err) {
				fmt.Fprintf(w, "%s/ (missing)\n", dir)
				continue
			}

			return fmt.Errorf("read %s: %w", dir, err)
		}

		fmt.Fprintf(w, "%s/ (%d entries)\n", dir, len(entries))

		for _, entry := range entries {
			info, err := entry.Info()
			if err != nil {
				continue
			}

			fmt.Fprintf(w, "  %s  %6dB  %s\n",
				entry.Name(),
				info.Size(),
				info.ModTime().Format("2006-01-02 15:04:05"))
		}
	}

	return nil
}
