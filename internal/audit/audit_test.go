// SPDX-FileCopyrightText: 2026 qvm-remote contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package audit_test

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/qubes-community/qvm-remote/internal/audit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var lineFormat = regexp.MustCompile(
	`^\[\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(Z|[+-]\d{2}:\d{2})\] ` +
		`[A-Z]+ .+$`,
)

func TestLogger_Log(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log", "audit.log")
	logger := audit.New(path)

	err := logger.Log(audit.Submit, "id=%s size=%dB", "cmd-001", 7)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	line := string(data)
	assert.Regexp(t, lineFormat, line[:len(line)-1])
	assert.Contains(t, line, " SUBMIT id=cmd-001 size=7B\n")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLogger_Log_appends(t *testing.T) {
	logger := audit.New(filepath.Join(t.TempDir(), "audit.log"))

	require.NoError(t, logger.Log(audit.Submit, "id=cmd-001"))
	require.NoError(t, logger.Log(audit.Done, "id=cmd-001 rc=0"))
	require.NoError(t, logger.Log(audit.Clean, "removed=2"))

	lines, err := logger.Tail(10)
	require.NoError(t, err)
	require.Len(t, lines, 3)

	assert.Contains(t, lines[0], "SUBMIT")
	assert.Contains(t, lines[1], "DONE")
	assert.Contains(t, lines[2], "CLEAN")
}

func TestLogger_Tail(t *testing.T) {
	logger := audit.New(filepath.Join(t.TempDir(), "audit.log"))

	for i := 0; i < 8; i++ {
		require.NoError(t, logger.Log(audit.Submit, "id=cmd-%03d", i))
	}

	lines, err := logger.Tail(3)
	require.NoError(t, err)
	require.Len(t, lines, 3)

	assert.Contains(t, lines[0], "id=cmd-005")
	assert.Contains(t, lines[2], "id=cmd-007")
}

func TestLogger_Tail_missingFile(t *testing.T) {
	logger := audit.New(filepath.Join(t.TempDir(), "audit.log"))

	lines, err := logger.Tail(5)
	require.NoError(t, err)
	assert.Empty(t, lines)
}
