// SPDX-FileCopyrightText: 2026 qvm-remote contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package exitcode defines the distinguished exit codes of the command
// execution protocol and their mapping to errors.
package exitcode

import (
	"errors"
	"fmt"
)

// Distinguished exit codes. They are reported in result entries and
// passed through as the client's own process exit code, so an operator
// can tell a rejection from a timeout without reading logs.
const (
	// Rejected marks a command refused before execution, either by
	// validation or by authentication.
	Rejected = 126

	// Timeout marks a command whose execution exceeded the configured
	// bound and was killed.
	Timeout = 124

	// Environment marks a failure of the execution environment itself,
	// such as a missing shell or an execution interrupted by a daemon
	// restart.
	Environment = 127
)

// Error is an exit code that is considered an error.
type Error int

func (e Error) Error() string {
	return fmt.Sprintf("non-zero exit code: %d", int(e))
}

// Is implements the [errors.Is] interface.
func (Error) Is(other error) bool {
	_, ok := other.(Error)
	return ok
}

// Code returns the exit code as basic int type.
func (e Error) Code() int {
	return int(e)
}

// From returns an exit code based on the given error and whether the
// error was an [Error].
//
// If the error is nil, the exit code is 0. If the error is an [Error]
// the exit code is the return value of [Error.Code]. Otherwise the exit
// code is 1.
func From(err error) (int, bool) {
	if err == nil {
		return 0, false
	}

	var exitErr Error
	if errors.As(err, &exitErr) {
		return exitErr.Code(), true
	}

	return 1, false
}
