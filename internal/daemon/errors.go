// SPDX-FileCopyrightText: 2026 qvm-remote contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package daemon

import "errors"

var (
	// ErrUnknownVM is returned for operations on a VM that has no
	// authorized key.
	ErrUnknownVM = errors.New("vm is not authorized")

	// ErrVMDisconnected is returned when polling a VM whose
	// participation has been toggled off.
	ErrVMDisconnected = errors.New("vm is disconnected")

	// ErrConfirmationRequired is returned when a destructive operation
	// is not explicitly confirmed, either interactively or via an
	// override flag.
	ErrConfirmationRequired = errors.New("confirmation required")
)

// PrivilegeError indicates an administrative operation invoked without
// effective root. The refusal happens before any side effect.
type PrivilegeError struct {
	Op string
}

// Error implements the [error] interface.
func (e *PrivilegeError) Error() string {
	return e.Op + " requires root privileges"
}

// Is implements the [errors.Is] interface.
func (*PrivilegeError) Is(other error) bool {
	_, ok := other.(*PrivilegeError)
	return ok
}
