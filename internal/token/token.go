// SPDX-FileCopyrightText: 2026 qvm-remote contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package token implements the symmetric authentication scheme guarding
// every queue entry.
//
// A token is HMAC-SHA256(key, id), hex encoded. The key is the literal
// 64 hex character text of the key file, matching what an administrator
// pastes into `authorize`. The daemon recomputes the token independently
// from its own copy of the key; tokens are never derived from anything
// but the key and the command id.
package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/qubes-community/qvm-remote/internal/protocol"
)

// Compute returns the authentication token for the given key and
// command id.
func Compute(key, id string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(id))

	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether the supplied token matches the expected token
// for the given key and command id. The comparison is constant time.
func Verify(key, id, supplied string) bool {
	expected := Compute(key, id)

	return hmac.Equal([]byte(expected), []byte(supplied))
}

// GenerateKey returns a new 256 bit authentication key as 64 lowercase
// hex characters, read from the system CSPRNG.
func GenerateKey() (string, error) {
	raw := make([]byte, protocol.KeyLength/2)

	_, err := rand.Read(raw)
	if err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}

	return hex.EncodeToString(raw), nil
}

// Fingerprint returns a short non-secret identifier for a key, suitable
// for logs and status output. The full key must never be logged.
func Fingerprint(key string) string {
	if len(key) < 8 {
		return "invalid"
	}

	return key[:8] + "..."
}

// WriteKeyFile stores a key at the given path with mode 0600. The key is
// validated first and written via a temporary file in the same directory
// so a partially written key file is never visible.
func WriteKeyFile(path, key string) error {
	err := protocol.ValidateKey(key)
	if err != nil {
		return err
	}

	err = os.MkdirAll(filepath.Dir(path), 0o700)
	if err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".key-*")
	if err != nil {
		return fmt.Errorf("create temp key file: %w", err)
	}

	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	err = tmp.Chmod(0o600)
	if err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod key file: %w", err)
	}

	_, err = tmp.WriteString(key + "\n")
	if err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write key file: %w", err)
	}

	err = tmp.Close()
	if err != nil {
		return fmt.Errorf("close key file: %w", err)
	}

	err = os.Rename(tmp.Name(), path)
	if err != nil {
		return fmt.Errorf("rename key file: %w", err)
	}

	return nil
}

// ReadKeyFile loads and validates the key stored at the given path.
func ReadKeyFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoKey
		}

		return "", fmt.Errorf("read key file: %w", err)
	}

	key := strings.TrimSpace(string(data))

	err = protocol.ValidateKey(key)
	if err != nil {
		return "", fmt.Errorf("key file %s: %w", path, err)
	}

	return key, nil
}
