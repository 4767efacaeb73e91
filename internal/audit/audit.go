// SPDX-FileCopyrightText: 2026 qvm-remote contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package audit implements the append-only audit log.
//
// The client and the daemon each keep their own log. The two logs are
// never merged; events are correlated only by command id. Timestamps
// from the two sides are never reconciled since clock skew across the
// trust boundary is expected.
package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Event categories. The log format is substring scannable, so category
// tags must stay stable.
const (
	Submit     = "SUBMIT"
	Done       = "DONE"
	Timeout    = "TIMEOUT"
	Reject     = "REJECT"
	Key        = "KEY"
	Recover    = "RECOVER"
	Clean      = "CLEAN"
	Error      = "ERROR"
	Authorize  = "AUTH"
	Revoke     = "REVOKE"
	Connect    = "CONNECT"
	Disconnect = "DISCONNECT"
)

// Logger appends events to a single audit log file. Lines are written
// with one write call each; the file is opened in append mode so
// concurrent writers cannot interleave within a line.
type Logger struct {
	path string
	now  func() time.Time
}

// New returns a [Logger] writing to the given path. The file and its
// directory are created on first use with restrictive permissions.
func New(path string) *Logger {
	return &Logger{
		path: path,
		now:  time.Now,
	}
}

// Log appends one event line: a bracketed timestamp, the category tag
// and a freeform detail. Audit failures are returned, never fatal to the
// caller's operation.
func (l *Logger) Log(category, format string, args ...any) error {
	err := os.MkdirAll(filepath.Dir(l.path), 0o700)
	if err != nil {
		return fmt.Errorf("create audit directory: %w", err)
	}

	file, err := os.OpenFile(
		l.path,
		os.O_CREATE|os.O_WRONLY|os.O_APPEND,
		0o600,
	)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}

	defer func() {
		_ = file.Close()
	}()

	line := fmt.Sprintf(
		"[%s] %s %s\n",
		l.now().Format(time.RFC3339),
		category,
		fmt.Sprintf(format, args...),
	)

	_, err = file.WriteString(line)
	if err != nil {
		return fmt.Errorf("append audit log: %w", err)
	}

	return nil
}

// Path returns the log file path.
func (l *Logger) Path() string {
	return l.path
}

// Tail returns up to n trailing lines of the log, oldest first. Used by
// status output only; the log itself is never rewritten.
func (l *Logger) Tail(n int) ([]string, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("read audit log: %w", err)
	}

	var lines []string

	start := 0
	for i, c := range data {
		if c == '\n' {
			if i > start {
				lines = append(lines, string(data[start:i]))
			}
			start = i + 1
		}
	}

	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}

	return lines, nil
}
