// SPDX-FileCopyrightText: 2026 qvm-remote contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package token_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/qubes-community/qvm-remote/internal/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey  = "abcdef0123456789abcdef0123456789" +
		"abcdef0123456789abcdef0123456789"
	otherKey = "1234567890abcdef1234567890abcdef" +
		"1234567890abcdef1234567890abcdef"
)

// Fixed vector cross-checked against an independent HMAC-SHA256
// implementation (Python hmac/hashlib).
func TestCompute_referenceVector(t *testing.T) {
	key := strings.Repeat("a", 64)

	actual := token.Compute(key, "cmd-001")

	expected := "a914a0d930f47dcfdc0e9829ae81c29a" +
		"1cb67e67a640222665df7b2be1e6889a"
	assert.Equal(t, expected, actual)
}

func TestCompute(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		id       string
		expected string
	}{
		{
			name: "deterministic",
			key:  testKey,
			id:   "cmd-001",
			expected: "1b229391a779978c399469e7ef0715d5" +
				"757bbbe69c387d9ba9dbf3445713f562",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first := token.Compute(tt.key, tt.id)
			second := token.Compute(tt.key, tt.id)

			assert.Equal(t, tt.expected, first)
			assert.Equal(t, first, second)
		})
	}
}

func TestCompute_distinct(t *testing.T) {
	base := token.Compute(testKey, "cmd-001")

	assert.NotEqual(t, base, token.Compute(otherKey, "cmd-001"),
		"different keys must produce different tokens")
	assert.NotEqual(t, base, token.Compute(testKey, "cmd-002"),
		"different ids must produce different tokens")
}

func TestVerify(t *testing.T) {
	valid := token.Compute(testKey, "cmd-001")

	tests := []struct {
		name     string
		key      string
		id       string
		supplied string
		assert   assert.BoolAssertionFunc
	}{
		{
			name:     "valid token",
			key:      testKey,
			id:       "cmd-001",
			supplied: valid,
			assert:   assert.True,
		},
		{
			name:     "wrong key",
			key:      otherKey,
			id:       "cmd-001",
			supplied: valid,
			assert:   assert.False,
		},
		{
			name:     "wrong id",
			key:      testKey,
			id:       "cmd-002",
			supplied: valid,
			assert:   assert.False,
		},
		{
			name:     "empty token",
			key:      testKey,
			id:       "cmd-001",
			supplied: "",
			assert:   assert.False,
		},
		{
			name:     "truncated token",
			key:      testKey,
			id:       "cmd-001",
			supplied: valid[:32],
			assert:   assert.False,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.assert(t, token.Verify(tt.key, tt.id, tt.supplied))
		})
	}
}

func TestGenerateKey(t *testing.T) {
	first, err := token.GenerateKey()
	require.NoError(t, err)

	second, err := token.GenerateKey()
	require.NoError(t, err)

	assert.Len(t, first, 64)
	assert.NotEqual(t, first, second)
}

func TestKeyFile_roundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.key")

	require.NoError(t, token.WriteKeyFile(path, testKey))

	key, err := token.ReadKeyFile(path)
	require.NoError(t, err)
	assert.Equal(t, testKey, key)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestWriteKeyFile_rejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.key")

	err := token.WriteKeyFile(path, "bad")
	require.Error(t, err)

	assert.NoFileExists(t, path,
		"invalid key must be rejected without being written")
}

func TestReadKeyFile_missing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.key")

	_, err := token.ReadKeyFile(path)
	assert.ErrorIs(t, err, token.ErrNoKey)
}

func TestFingerprint(t *testing.T) {
	print := token.Fingerprint(testKey)

	assert.Equal(t, "abcdef01...", print)
	assert.NotContains(t, print, testKey[8:],
		"fingerprint must not expose the key")
}
