// SPDX-FileCopyrightText: 2026 qvm-remote contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package config reads the ambient configuration shared by both
// endpoints: process environment first, then an env-format config file.
//
// The result is an immutable snapshot taken once per invocation and
// passed explicitly to every component.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Recognized option names.
const (
	KeyVMUser         = "QVM_REMOTE_VM_USER"
	KeyExecTimeout    = "QVM_REMOTE_EXEC_TIMEOUT"
	KeyMaxCommandSize = "QVM_REMOTE_MAX_COMMAND_SIZE"
	KeyStaleAge       = "QVM_REMOTE_STALE_AGE"
	KeyDataDir        = "QVM_REMOTE_DATA_DIR"
)

// Source resolves option values. The process environment takes
// precedence over the config file; defaults apply last.
type Source struct {
	file map[string]string
}

// Load reads the env-format config file at the given path. A missing
// file is not an error; the environment alone applies then.
func Load(path string) (*Source, error) {
	source := &Source{}

	values, err := godotenv.Read(path)
	if err != nil {
		if os.IsNotExist(err) {
			return source, nil
		}

		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	source.file = values

	return source, nil
}

// String returns the value for key, or fallback if unset.
func (s *Source) String(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	if value, ok := s.file[key]; ok && value != "" {
		return value
	}

	return fallback
}

// Seconds returns the value for key interpreted as a whole number of
// seconds.
func (s *Source) Seconds(key string, fallback time.Duration) (time.Duration, error) {
	raw := s.String(key, "")
	if raw == "" {
		return fallback, nil
	}

	seconds, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || seconds <= 0 {
		return 0, fmt.Errorf(
			"%s must be a positive integer of seconds, got %q", key, raw,
		)
	}

	return time.Duration(seconds) * time.Second, nil
}

// Bytes returns the value for key interpreted as a byte count.
func (s *Source) Bytes(key string, fallback int64) (int64, error) {
	raw := s.String(key, "")
	if raw == "" {
		return fallback, nil
	}

	count, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || count <= 0 {
		return 0, fmt.Errorf(
			"%s must be a positive byte count, got %q", key, raw,
		)
	}

	return count, nil
}
