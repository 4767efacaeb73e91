// SPDX-FileCopyrightText: 2026 qvm-remote contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"io"
	"log/slog"
)

// setupLogging configures the process-wide logger. Debug mode also
// records source positions, since debug output from a sweep is usually
// read far away from the invocation that produced it.
func setupLogging(writer io.Writer, debug bool) {
	opts := &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}

	if debug {
		opts.Level = slog.LevelDebug
		opts.AddSource = true
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(writer, opts)))
}
