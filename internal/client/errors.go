// SPDX-FileCopyrightText: 2026 qvm-remote contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package client

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidTimeout is returned for a wait timeout that is not a
	// positive whole number of seconds. Raised before any I/O.
	ErrInvalidTimeout = errors.New(
		"timeout must be a positive integer of seconds",
	)

	// ErrPingFailed is returned when the liveness round trip completed
	// but the remote side reported failure.
	ErrPingFailed = errors.New("ping round trip failed")
)

// WaitTimeoutError is returned when no result arrived within the
// caller's timeout. It is distinct from a remote rejection: the command
// may never have been seen by the daemon.
type WaitTimeoutError struct {
	ID      string
	Timeout time.Duration
}

// Error implements the [error] interface.
func (e *WaitTimeoutError) Error() string {
	return fmt.Sprintf(
		"no result for command %s within %s (local timeout, not a rejection)",
		e.ID, e.Timeout,
	)
}

// Is implements the [errors.Is] interface.
func (*WaitTimeoutError) Is(other error) bool {
	_, ok := other.(*WaitTimeoutError)
	return ok
}
