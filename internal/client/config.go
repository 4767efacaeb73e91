// SPDX-FileCopyrightText: 2026 qvm-remote contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package client

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/qubes-community/qvm-remote/internal/config"
	"github.com/qubes-community/qvm-remote/internal/protocol"
)

const (
	dataDirName       = ".qvm-remote"
	legacyDataDirName = ".qubes-remote"
	configFileName    = "qvm-remote.conf"
	keyFileName       = "auth.key"
	auditFileName     = "audit.log"
	queueDirName      = "queue"
)

// Config is the client's immutable ambient configuration, constructed
// once per invocation.
type Config struct {
	// DataDir is the client state directory, default ~/.qvm-remote.
	DataDir string
	// LegacyDataDir is renamed to DataDir once if it still exists.
	LegacyDataDir string
	// MaxCommandSize bounds the command body before submission.
	MaxCommandSize int64
	// StaleAge is the minimum age of abandoned queue artifacts removed
	// by the startup cleanup.
	StaleAge time.Duration
}

// LoadConfig builds the client configuration from the environment and
// the optional config file in the data directory.
func LoadConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, fmt.Errorf("locate home directory: %w", err)
	}

	dataDir := filepath.Join(home, dataDirName)
	if override := os.Getenv(config.KeyDataDir); override != "" {
		dataDir = override
	}

	source, err := config.Load(filepath.Join(dataDir, configFileName))
	if err != nil {
		return Config{}, err
	}

	maxSize, err := source.Bytes(
		config.KeyMaxCommandSize, protocol.DefaultMaxCommandSize,
	)
	if err != nil {
		return Config{}, err
	}

	staleAge, err := source.Seconds(
		config.KeyStaleAge, protocol.DefaultStaleAge,
	)
	if err != nil {
		return Config{}, err
	}

	return Config{
		DataDir:        dataDir,
		LegacyDataDir:  filepath.Join(home, legacyDataDirName),
		MaxCommandSize: maxSize,
		StaleAge:       staleAge,
	}, nil
}

// KeyPath returns the path of the VM side authentication key file.
func (c Config) KeyPath() string {
	return filepath.Join(c.DataDir, keyFileName)
}

// AuditPath returns the path of the client side audit log.
func (c Config) AuditPath() string {
	return filepath.Join(c.DataDir, auditFileName)
}

// QueueRoot returns the root of the client's queue directories.
func (c Config) QueueRoot() string {
	return filepath.Join(c.DataDir, queueDirName)
}

// HistoryRoot returns the root of the date bucketed history tree.
func (c Config) HistoryRoot() string {
	return filepath.Join(c.DataDir, protocol.DirHistory)
}
