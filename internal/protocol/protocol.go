// SPDX-FileCopyrightText: 2026 qvm-remote contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package protocol defines the on-disk protocol constants and validation
// rules shared by the VM client and the dom0 daemon.
//
// Both binaries compile this package statically. There is no runtime
// linkage across the trust boundary; each side carries its own copy of
// the validation logic and must never assume the other side applied it.
package protocol

import (
	"bytes"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Queue directory names. A queue entry's state is determined entirely by
// the directory holding it, never by file content.
const (
	DirPending = "pending"
	DirRunning = "running"
	DirResults = "results"
	DirHistory = "history"
)

// Queue entry file suffixes. A command and its authentication token are
// materialized as a pair of files sharing a basename.
const (
	SuffixCommand = ".cmd"
	SuffixAuth    = ".auth"
)

// Defaults for the ambient configuration. All of them can be overridden
// via the environment or the config file.
const (
	DefaultExecTimeout    = 300 * time.Second
	DefaultMaxCommandSize = 1 << 20
	DefaultStaleAge       = time.Hour
	DefaultVMUser         = "user"
)

// PollInterval is the client-side result polling interval.
const PollInterval = 500 * time.Millisecond

// KeyLength is the length of an authentication key in lowercase hex
// characters, encoding a 256 bit secret.
const KeyLength = 64

// NewCommandID returns a new unpredictable command id. The id is derived
// from a CSPRNG (UUIDv4, 122 bits of entropy) and is safe to use as a
// file basename.
func NewCommandID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate command id: %w", err)
	}

	return id.String(), nil
}

// ValidateCommandID checks that an id read back from the queue is a
// well-formed command id. Entries with mangled basenames are never
// processed.
func ValidateCommandID(id string) error {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return &ValidationError{msg: "malformed command id: " + id}
	}

	if parsed.String() != id {
		return &ValidationError{msg: "non-canonical command id: " + id}
	}

	return nil
}

// ValidateBody checks a command body against the protocol rules. It must
// be called before the body touches disk or a process on the executing
// side.
func ValidateBody(body []byte, maxSize int64) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return ErrEmptyCommand
	}

	if int64(len(body)) > maxSize {
		return &ValidationError{
			msg: fmt.Sprintf("command exceeds %d bytes: %d bytes",
				maxSize, len(body)),
		}
	}

	if bytes.IndexByte(body, 0) >= 0 {
		return ErrBinaryCommand
	}

	return nil
}

// ValidateKey checks that the given string is a well-formed
// authentication key: exactly 64 lowercase hex characters.
func ValidateKey(key string) error {
	if len(key) != KeyLength {
		return &ValidationError{
			msg: fmt.Sprintf("key must be %d hex characters, got %d",
				KeyLength, len(key)),
		}
	}

	for _, c := range key {
		isDigit := c >= '0' && c <= '9'
		isHexLetter := c >= 'a' && c <= 'f'

		if !isDigit && !isHexLetter {
			return &ValidationError{
				msg: "key must contain only lowercase hex characters",
			}
		}
	}

	return nil
}

// ValidateVMName checks that a VM name is safe to use as a path element
// on the dom0 side. Qubes VM names are alphanumeric with dashes and
// underscores and start with a letter.
func ValidateVMName(name string) error {
	if name == "" || len(name) > 31 {
		return &ValidationError{msg: "vm name must be 1-31 characters"}
	}

	first := name[0]
	if !(first >= 'a' && first <= 'z') && !(first >= 'A' && first <= 'Z') {
		return &ValidationError{msg: "vm name must start with a letter"}
	}

	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_':
		default:
			return &ValidationError{
				msg: "vm name contains invalid character: " + string(c),
			}
		}
	}

	return nil
}
