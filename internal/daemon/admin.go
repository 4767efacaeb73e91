// SPDX-FileCopyrightText: 2026 qvm-remote contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package daemon

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/qubes-community/qvm-remote/internal/audit"
	"github.com/qubes-community/qvm-remote/internal/protocol"
	"github.com/qubes-community/qvm-remote/internal/token"
)

// RequireRoot refuses non-root invocation of an administrative
// operation before any side effect.
func RequireRoot(op string) error {
	if unix.Geteuid() != 0 {
		return &PrivilegeError{Op: op}
	}

	return nil
}

// Authorize validates and stores the key for a VM, creating or
// replacing the dom0 side copy.
func (d *Daemon) Authorize(vm, key string) error {
	err := RequireRoot("authorize")
	if err != nil {
		return err
	}

	err = protocol.ValidateVMName(vm)
	if err != nil {
		return err
	}

	err = token.WriteKeyFile(d.cfg.KeyPath(vm), key)
	if err != nil {
		return err
	}

	_ = d.log.Log(audit.Authorize, "vm=%s fingerprint=%s",
		vm, token.Fingerprint(key))

	return nil
}

// Revoke deletes a VM's key. The VM can no longer authenticate until
// authorized again; its queue tree is left in place for inspection.
func (d *Daemon) Revoke(vm string) error {
	err := RequireRoot("revoke")
	if err != nil {
		return err
	}

	err = protocol.ValidateVMName(vm)
	if err != nil {
		return err
	}

	err = os.Remove(d.cfg.KeyPath(vm))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrUnknownVM, vm)
		}

		return fmt.Errorf("remove key for %s: %w", vm, err)
	}

	_ = os.Remove(d.cfg.DisabledPath(vm))

	_ = d.log.Log(audit.Revoke, "vm=%s", vm)

	return nil
}

// Connect re-enables polling for a VM without touching its key.
func (d *Daemon) Connect(vm string) error {
	err := RequireRoot("connect")
	if err != nil {
		return err
	}

	err = d.requireAuthorized(vm)
	if err != nil {
		return err
	}

	err = os.Remove(d.cfg.DisabledPath(vm))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("connect %s: %w", vm, err)
	}

	_ = d.log.Log(audit.Connect, "vm=%s", vm)

	return nil
}

// Disconnect toggles a VM out of polling without deleting its key.
func (d *Daemon) Disconnect(vm string) error {
	err := RequireRoot("disconnect")
	if err != nil {
		return err
	}

	err = d.requireAuthorized(vm)
	if err != nil {
		return err
	}

	err = os.WriteFile(d.cfg.DisabledPath(vm), nil, 0o600)
	if err != nil {
		return fmt.Errorf("disconnect %s: %w", vm, err)
	}

	_ = d.log.Log(audit.Disconnect, "vm=%s", vm)

	return nil
}

func (d *Daemon) requireAuthorized(vm string) error {
	err := protocol.ValidateVMName(vm)
	if err != nil {
		return err
	}

	_, err = os.Stat(d.cfg.KeyPath(vm))
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownVM, vm)
	}

	return nil
}
