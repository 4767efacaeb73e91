// SPDX-FileCopyrightText: 2026 qvm-remote contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package token

import "errors"

// ErrNoKey is returned when no authentication key file exists.
var ErrNoKey = errors.New("no authentication key")
