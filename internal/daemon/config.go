// SPDX-FileCopyrightText: 2026 qvm-remote contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package daemon

import (
	"os"
	"path/filepath"
	"time"

	"github.com/qubes-community/qvm-remote/internal/config"
	"github.com/qubes-community/qvm-remote/internal/protocol"
)

const (
	defaultDataDir   = "/var/lib/qvm-remote"
	defaultConfigDir = "/etc/qvm-remote"
	configFileName   = "qvm-remote.conf"
	keyDirName       = "remote.d"
	auditFileName    = "audit.log"
	queueDirName     = "queue"

	keySuffix      = ".key"
	disabledSuffix = ".disabled"
)

// Config is the daemon's immutable ambient configuration, constructed
// once per invocation.
type Config struct {
	// DataDir holds one queue tree per VM.
	DataDir string
	// KeyDir holds one key file per authorized VM.
	KeyDir string
	// VMUser is the user name exposed to executed commands.
	VMUser string
	// ExecTimeout bounds one command execution.
	ExecTimeout time.Duration
	// MaxCommandSize bounds accepted command bodies.
	MaxCommandSize int64
}

// LoadConfig builds the daemon configuration from the environment and
// the optional config file under /etc/qvm-remote.
func LoadConfig() (Config, error) {
	dataDir := defaultDataDir
	if override := os.Getenv(config.KeyDataDir); override != "" {
		dataDir = override
	}

	source, err := config.Load(filepath.Join(defaultConfigDir, configFileName))
	if err != nil {
		return Config{}, err
	}

	execTimeout, err := source.Seconds(
		config.KeyExecTimeout, protocol.DefaultExecTimeout,
	)
	if err != nil {
		return Config{}, err
	}

	maxSize, err := source.Bytes(
		config.KeyMaxCommandSize, protocol.DefaultMaxCommandSize,
	)
	if err != nil {
		return Config{}, err
	}

	return Config{
		DataDir:        dataDir,
		KeyDir:         filepath.Join(defaultConfigDir, keyDirName),
		VMUser:         source.String(config.KeyVMUser, protocol.DefaultVMUser),
		ExecTimeout:    execTimeout,
		MaxCommandSize: maxSize,
	}, nil
}

// AuditPath returns the path of the daemon side audit log.
func (c Config) AuditPath() string {
	return filepath.Join(c.DataDir, auditFileName)
}

// QueueRoot returns the queue root for the given VM.
func (c Config) QueueRoot(vm string) string {
	return filepath.Join(c.DataDir, vm, queueDirName)
}

// KeyPath returns the key file path for the given VM.
func (c Config) KeyPath(vm string) string {
	return filepath.Join(c.KeyDir, vm+keySuffix)
}

// DisabledPath returns the disconnect marker path for the given VM.
func (c Config) DisabledPath(vm string) string {
	return filepath.Join(c.KeyDir, vm+disabledSuffix)
}
