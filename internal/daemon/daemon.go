// SPDX-FileCopyrightText: 2026 qvm-remote contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package daemon implements the dom0 side of the command execution
// protocol: pull triggered queue sweeps with validation, symmetric key
// authentication and sandboxed execution, plus the administrative
// surface.
//
// The daemon never accepts unsolicited input. It is invoked per pull
// opportunity and performs one bounded, synchronous sweep of one VM's
// queue. Sweeps for different VMs operate on disjoint directories and
// may run in parallel; for the same VM the pending to running rename
// race guarantees an entry is processed at most once.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/qubes-community/qvm-remote/internal/audit"
	"github.com/qubes-community/qvm-remote/internal/exitcode"
	"github.com/qubes-community/qvm-remote/internal/protocol"
	"github.com/qubes-community/qvm-remote/internal/queue"
	"github.com/qubes-community/qvm-remote/internal/token"
)

// Daemon is one invocation's view of the dom0 side state.
type Daemon struct {
	cfg Config
	log *audit.Logger
}

// New builds a [Daemon].
func New(cfg Config) *Daemon {
	return &Daemon{
		cfg: cfg,
		log: audit.New(cfg.AuditPath()),
	}
}

// Config returns the daemon's ambient configuration.
func (d *Daemon) Config() Config {
	return d.cfg
}

// Audit returns the daemon side audit logger.
func (d *Daemon) Audit() *audit.Logger {
	return d.log
}

// StoreFor returns the queue store of the given VM.
func (d *Daemon) StoreFor(vm string) *queue.Store {
	return queue.New(d.cfg.QueueRoot(vm))
}

// VMs returns the names of all authorized VMs, sorted.
func (d *Daemon) VMs() []string {
	entries, err := os.ReadDir(d.cfg.KeyDir)
	if err != nil {
		return nil
	}

	var vms []string

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, keySuffix) {
			continue
		}

		vms = append(vms, strings.TrimSuffix(name, keySuffix))
	}

	slices.Sort(vms)

	return vms
}

// Connected reports whether the given VM participates in polling.
func (d *Daemon) Connected(vm string) bool {
	_, err := os.Stat(d.cfg.DisabledPath(vm))

	return err != nil
}

// PollOnce performs one sweep of the given VM's queue: stale running
// recovery, then validation, authentication and execution of each
// pending entry in ascending submission order. It returns the number of
// entries answered.
func (d *Daemon) PollOnce(ctx context.Context, vm string) (int, error) {
	err := protocol.ValidateVMName(vm)
	if err != nil {
		return 0, err
	}

	key, err := token.ReadKeyFile(d.cfg.KeyPath(vm))
	if err != nil {
		if errors.Is(err, token.ErrNoKey) {
			return 0, fmt.Errorf("%w: %s", ErrUnknownVM, vm)
		}

		return 0, err
	}

	if !d.Connected(vm) {
		return 0, fmt.Errorf("%w: %s", ErrVMDisconnected, vm)
	}

	store := d.StoreFor(vm)

	err = store.EnsureDirs()
	if err != nil {
		return 0, err
	}

	answered := d.RecoverStale(vm)

	for _, entry := range store.Pending() {
		err := ctx.Err()
		if err != nil {
			return answered, fmt.Errorf("sweep cancelled: %w", err)
		}

		processed, err := d.processEntry(ctx, vm, store, key, entry.ID)
		if err != nil {
			// Per-entry failures never crash the sweep.
			slog.Error("Entry processing failed",
				slog.String("vm", vm),
				slog.String("id", entry.ID),
				slog.Any("error", err))

			_ = d.log.Log(audit.Error, "vm=%s id=%s err=%v",
				vm, entry.ID, err)

			continue
		}

		if processed {
			answered++
		}
	}

	return answered, nil
}

// processEntry handles one pending entry. Validation and authentication
// happen before anything touches disk or a process; a failing entry is
// answered with a rejection result directly from pending/, never moved
// to running/, so the client is not left waiting.
func (d *Daemon) processEntry(
	ctx context.Context,
	vm string,
	store *queue.Store,
	key, id string,
) (bool, error) {
	body, auth, err := store.ReadEntry(protocol.DirPending, id)
	if err != nil {
		if errors.Is(err, queue.ErrPartialEntry) {
			// Likely a submission race; the next sweep sees the full
			// pair.
			return false, nil
		}

		return false, err
	}

	err = protocol.ValidateBody(body, d.cfg.MaxCommandSize)
	if err != nil {
		return true, d.reject(vm, store, id, "validation: "+err.Error())
	}

	if !token.Verify(key, id, auth) {
		return true, d.reject(vm, store, id, "authentication failed")
	}

	err = store.Claim(id)
	if err != nil {
		if errors.Is(err, queue.ErrEntryClaimed) {
			// Lost the rename race; another sweep owns the entry.
			return false, nil
		}

		return false, err
	}

	result := d.execute(ctx, body)

	err = d.writeResultRetry(store, id, result)
	if err != nil {
		return false, err
	}

	err = store.RemoveEntry(protocol.DirRunning, id)
	if err != nil {
		return false, err
	}

	_ = d.log.Log(audit.Done, "vm=%s id=%s rc=%d duration_ms=%d",
		vm, id, result.ExitCode, result.Duration.Milliseconds())

	return true, nil
}

// reject answers an entry with exit code 126 and removes it from
// pending/ without ever executing it.
func (d *Daemon) reject(
	vm string,
	store *queue.Store,
	id, reason string,
) error {
	result := queue.Result{
		ExitCode: exitcode.Rejected,
		Stderr:   []byte("rejected: " + reason + "\n"),
	}

	err := d.writeResultRetry(store, id, result)
	if err != nil {
		return err
	}

	err = store.RemoveEntry(protocol.DirPending, id)
	if err != nil {
		return err
	}

	_ = d.log.Log(audit.Reject, "vm=%s id=%s reason=%q", vm, id, reason)

	return nil
}

// RecoverStale converts every entry found in running/ into an explicit
// error result. An entry there at sweep start is evidence of a crash
// mid execution; surfacing it beats a silent hang. Returns the number
// of recovered entries.
func (d *Daemon) RecoverStale(vm string) int {
	store := d.StoreFor(vm)
	recovered := 0

	for _, id := range store.Running() {
		result := queue.Result{
			ExitCode: exitcode.Environment,
			Stderr: []byte(
				"execution was interrupted by a daemon restart;" +
					" resubmit the command\n",
			),
		}

		err := d.writeResultRetry(store, id, result)
		if err != nil {
			slog.Error("Failed to write recovery result",
				slog.String("vm", vm),
				slog.String("id", id),
				slog.Any("error", err))

			continue
		}

		err = store.RemoveEntry(protocol.DirRunning, id)
		if err != nil {
			slog.Error("Failed to remove stale entry",
				slog.String("vm", vm),
				slog.String("id", id),
				slog.Any("error", err))

			continue
		}

		_ = d.log.Log(audit.Recover, "vm=%s id=%s interrupted", vm, id)

		recovered++
	}

	return recovered
}

// writeResultRetry publishes a result, retrying briefly on transient
// I/O failures. A result that still cannot be written is a fatal
// per-entry error handled by the caller; the daemon process survives.
func (d *Daemon) writeResultRetry(
	store *queue.Store,
	id string,
	result queue.Result,
) error {
	const attempts = 3

	var err error

	for attempt := 0; attempt < attempts; attempt++ {
		err = store.WriteResult(id, result)
		if err == nil {
			return nil
		}

		time.Sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
	}

	return fmt.Errorf("write result after %d attempts: %w", attempts, err)
}
