// SPDX-FileCopyrightText: 2026 qvm-remote contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package daemon

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/qubes-community/qvm-remote/internal/audit"
	"github.com/qubes-community/qvm-remote/internal/protocol"
	"github.com/qubes-community/qvm-remote/internal/token"
)

// VMHealth is the aggregate health of one authorized VM.
type VMHealth struct {
	VM        string
	Connected bool
	Pending   int
	Running   int
	Results   int
	KeyPrint  string
}

// StatusReport writes the aggregate health across all authorized VMs.
// Per-VM state is gathered concurrently; queue directories of different
// VMs are disjoint. Part of the root-gated administrative surface like
// every other subcommand, read-only or not.
func (d *Daemon) StatusReport(ctx context.Context, w io.Writer) error {
	err := RequireRoot("status")
	if err != nil {
		return err
	}

	vms := d.VMs()
	if len(vms) == 0 {
		fmt.Fprintln(w, "no authorized VMs")
		return nil
	}

	healths := make([]VMHealth, len(vms))

	group, _ := errgroup.WithContext(ctx)

	for i, vm := range vms {
		i, vm := i, vm
		group.Go(func() error {
			healths[i] = d.healthFor(vm)
			return nil
		})
	}

	err = group.Wait()
	if err != nil {
		return err
	}

	for _, health := range healths {
		state := "connected"
		if !health.Connected {
			state = "disconnected"
		}

		fmt.Fprintf(w,
			"%s: %s key=%s pending=%d running=%d results=%d\n",
			health.VM, state, health.KeyPrint,
			health.Pending, health.Running, health.Results)
	}

	return nil
}

func (d *Daemon) healthFor(vm string) VMHealth {
	health := VMHealth{
		VM:        vm,
		Connected: d.Connected(vm),
		KeyPrint:  "unreadable",
	}

	key, err := token.ReadKeyFile(d.cfg.KeyPath(vm))
	if err == nil {
		health.KeyPrint = token.Fingerprint(key)
	}

	health.Pending, health.Running, health.Results =
		d.StoreFor(vm).Depths()

	return health
}

// QueueStatus writes the queue depths of one VM. Read-only, still
// root-gated.
func (d *Daemon) QueueStatus(vm string, w io.Writer) error {
	err := RequireRoot("queue status")
	if err != nil {
		return err
	}

	err = d.requireAuthorized(vm)
	if err != nil {
		return err
	}

	pending, running, results := d.StoreFor(vm).Depths()
	fmt.Fprintf(w, "%s: pending=%d running=%d results=%d\n",
		vm, pending, running, results)

	return nil
}

// QueueClean removes every entry and result in one VM's queue.
// Destructive; gated on root and the same confirmation discipline as
// revoke, and always audited.
func (d *Daemon) QueueClean(vm string) (int, error) {
	err := RequireRoot("queue clean")
	if err != nil {
		return 0, err
	}

	err = d.requireAuthorized(vm)
	if err != nil {
		return 0, err
	}

	removed, err := d.StoreFor(vm).Purge()
	if err != nil {
		return removed, err
	}

	_ = d.log.Log(audit.Clean, "vm=%s removed=%d", vm, removed)

	return removed, nil
}

// QueueRecover runs stale running recovery for one VM on demand.
func (d *Daemon) QueueRecover(vm string) (int, error) {
	err := RequireRoot("queue recover")
	if err != nil {
		return 0, err
	}

	err = d.requireAuthorized(vm)
	if err != nil {
		return 0, err
	}

	return d.RecoverStale(vm), nil
}

// QueueDebug writes a per-file listing of one VM's queue directories.
// Read-only, still root-gated.
func (d *Daemon) QueueDebug(vm string, w io.Writer) error {
	err := RequireRoot("queue debug")
	if err != nil {
		return err
	}

	err = d.requireAuthorized(vm)
	if err != nil {
		return err
	}

	root := d.cfg.QueueRoot(vm)

	for _, dir := range []string{
		protocol.DirPending,
		protocol.DirRunning,
		protocol.DirResults,
	} {
		full := filepath.Join(root, dir)

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
