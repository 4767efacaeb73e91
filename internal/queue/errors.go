// SPDX-FileCopyrightText: 2026 qvm-remote contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package queue

import "errors"

var (
	// ErrNotFound is returned when no result entry exists for an id.
	// Observed after a result has already been consumed; distinct from
	// an entry that is still pending.
	ErrNotFound = errors.New("result not found")

	// ErrEntryClaimed is returned when a claim loses the rename race,
	// meaning another sweep already owns the entry.
	ErrEntryClaimed = errors.New("entry already claimed")

	// ErrPartialEntry is returned when an entry's file pair is not
	// fully readable. The entry is skipped for the current sweep.
	ErrPartialEntry = errors.New("partial queue entry")

	// ErrMalformedResult is returned for a result entry that does not
	// follow the documented format.
	ErrMalformedResult = errors.New("malformed result entry")
)
