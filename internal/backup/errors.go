// SPDX-FileCopyrightText: 2026 qvm-remote contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package backup

// UnsafePathError indicates an archive member that would escape the
// restore directory. The whole restore is rejected.
type UnsafePathError struct {
	Path string
}

// Error implements the [error] interface.
func (e *UnsafePathError) Error() string {
	return "unsafe path in archive: " + e.Path
}

// Is implements the [errors.Is] interface.
func (*UnsafePathError) Is(other error) bool {
	_, ok := other.(*UnsafePathError)
	return ok
}
