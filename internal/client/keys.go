// SPDX-FileCopyrightText: 2026 qvm-remote contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package client

import (
	"github.com/qubes-community/qvm-remote/internal/audit"
	"github.com/qubes-community/qvm-remote/internal/token"
)

// GenerateKey creates and stores a new authentication key, returning
// it for display. An existing key is replaced; the matching dom0 side
// copy must be re-authorized afterwards.
func (c *Client) GenerateKey() (string, error) {
	key, err := token.GenerateKey()
	if err != nil {
		return "", err
	}

	err = token.WriteKeyFile(c.cfg.KeyPath(), key)
	if err != nil {
		return "", err
	}

	_ = c.log.Log(audit.Key, "gen fingerprint=%s", token.Fingerprint(key))

	return key, nil
}

// ImportKey validates and stores a key provided by the administrator.
// Anything but 64 lowercase hex characters is rejected without being
// written.
func (c *Client) ImportKey(key string) error {
	err := token.WriteKeyFile(c.cfg.KeyPath(), key)
	if err != nil {
		return err
	}

	_ = c.log.Log(audit.Key, "import fingerprint=%s", token.Fingerprint(key))

	return nil
}

// ShowKey returns the stored key.
func (c *Client) ShowKey() (string, error) {
	return token.ReadKeyFile(c.cfg.KeyPath())
}
