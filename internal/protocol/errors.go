// SPDX-FileCopyrightText: 2026 qvm-remote contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package protocol

import "errors"

var (
	// ErrEmptyCommand is returned for a command body that is empty or
	// consists only of whitespace.
	ErrEmptyCommand = errors.New("empty command")

	// ErrBinaryCommand is returned for a command body containing NUL
	// bytes. Command bodies are shell scripts, never binaries.
	ErrBinaryCommand = errors.New("binary content in command")
)

// ValidationError indicates input that violates the protocol rules. It
// is raised before any execution is attempted.
type ValidationError struct {
	msg string
}

// Error implements the [error] interface.
func (e *ValidationError) Error() string {
	return e.msg
}

// Is implements the [errors.Is] interface.
func (*ValidationError) Is(other error) bool {
	_, ok := other.(*ValidationError)
	return ok
}
