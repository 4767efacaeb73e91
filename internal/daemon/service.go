// SPDX-FileCopyrightText: 2026 qvm-remote contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package daemon

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const (
	serviceUnit = "qvm-remote-dom0.timer"

	// Every external process call carries an explicit timeout; the
	// daemon never blocks indefinitely on a child.
	serviceCallTimeout = 30 * time.Second
)

// ServiceActions lists the supported service lifecycle actions.
var ServiceActions = []string{
	"enable", "disable", "start", "stop", "restart",
}

// DestructiveServiceAction reports whether an action needs interactive
// confirmation unless explicitly overridden.
func DestructiveServiceAction(action string) bool {
	switch action {
	case "disable", "stop", "restart":
		return true
	default:
		return false
	}
}

// Service runs a lifecycle action on the daemon's systemd unit.
func (d *Daemon) Service(ctx context.Context, action string) error {
	err := RequireRoot("service " + action)
	if err != nil {
		return err
	}

	valid := false

	for _, known := range ServiceActions {
		if action == known {
			valid = true
			break
		}
	}

	if !valid {
		return fmt.Errorf("unknown service action: %s", action)
	}

	callCtx, cancel := context.WithTimeout(ctx, serviceCallTimeout)
	defer cancel()

	cmd := exec.CommandContext(callCtx, "systemctl", action, serviceUnit)

	output, err := cmd.CombinedOutput()
	if err != nil {
		detail := strings.TrimSpace(string(output))
		if detail != "" {
			return fmt.Errorf("systemctl %s: %w: %s", action, err, detail)
		}

		return fmt.Errorf("systemctl %s: %w", action, err)
	}

	return nil
}

// ServiceActive reports the unit's active state for status output.
func (d *Daemon) ServiceActive(ctx context.Context) (bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, serviceCallTimeout)
	defer cancel()

	cmd := exec.CommandContext(
		callCtx, "systemctl", "is-active", "--quiet", serviceUnit,
	)

	err := cmd.Run()
	if err == nil {
		return true, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return false, nil
	}

	return false, fmt.Errorf("systemctl is-active: %w", err)
}
