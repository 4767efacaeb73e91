// SPDX-FileCopyrightText: 2026 qvm-remote contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package client implements the VM side of the command execution
// protocol: submitting authenticated commands into the queue, waiting
// boundedly for results, key management and local housekeeping.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/qubes-community/qvm-remote/internal/audit"
	"github.com/qubes-community/qvm-remote/internal/history"
	"github.com/qubes-community/qvm-remote/internal/protocol"
	"github.com/qubes-community/qvm-remote/internal/queue"
	"github.com/qubes-community/qvm-remote/internal/token"
)

// Client is one invocation's view of the VM side state.
type Client struct {
	cfg   Config
	store *queue.Store
	log   *audit.Logger
}

// New builds a [Client], performing the one time legacy directory
// migration before anything else touches the filesystem.
func New(cfg Config) (*Client, error) {
	err := migrateLegacy(cfg.LegacyDataDir, cfg.DataDir)
	if err != nil {
		return nil, err
	}

	return &Client{
		cfg:   cfg,
		store: queue.New(cfg.QueueRoot()),
		log:   audit.New(cfg.AuditPath()),
	}, nil
}

// Config returns the client's ambient configuration.
func (c *Client) Config() Config {
	return c.cfg
}

// Store returns the client's queue store.
func (c *Client) Store() *queue.Store {
	return c.store
}

// Audit returns the client side audit logger.
func (c *Client) Audit() *audit.Logger {
	return c.log
}

// migrateLegacy renames the legacy data directory into place if it
// still exists and the current one does not. No-op otherwise.
func migrateLegacy(legacy, current string) error {
	if _, err := os.Stat(current); err == nil {
		return nil
	}

	if _, err := os.Stat(legacy); err != nil {
		return nil
	}

	err := os.Rename(legacy, current)
	if err != nil {
		return fmt.Errorf("migrate legacy data directory: %w", err)
	}

	slog.Info("Migrated legacy data directory",
		slog.String("from", legacy),
		slog.String("to", current))

	return nil
}

// CleanupStale removes abandoned queue artifacts older than the
// configured stale age. Runs at the start of every invocation and is
// idempotent.
func (c *Client) CleanupStale() error {
	removed, err := c.store.CleanupStale(c.cfg.StaleAge, "")
	if err != nil {
		return err
	}

	if removed > 0 {
		_ = c.log.Log(audit.Clean, "stale artifacts removed=%d", removed)
	}

	return nil
}

// Execute submits a command body and waits boundedly for its result.
// The returned id identifies the command in both audit logs.
//
// On timeout or cancellation every artifact of the command is removed
// from pending/ and running/ before returning, so no exit path leaves
// an orphaned queue entry.
func (c *Client) Execute(
	ctx context.Context,
	body []byte,
	timeout time.Duration,
) (queue.Result, string, error) {
	if timeout <= 0 {
		return queue.Result{}, "", ErrInvalidTimeout
	}

	err := protocol.ValidateBody(body, c.cfg.MaxCommandSize)
	if err != nil {
		return queue.Result{}, "", err
	}

	key, err := token.ReadKeyFile(c.cfg.KeyPath())
	if err != nil {
		return queue.Result{}, "", err
	}

	id, err := protocol.NewCommandID()
	if err != nil {
		return queue.Result{}, "", err
	}

	err = c.store.Submit(id, body, token.Compute(key, id))
	if err != nil {
		return queue.Result{}, id, err
	}

	_ = c.log.Log(audit.Submit, "id=%s size=%dB", id, len(body))

	result, err := c.wait(ctx, id, timeout)
	if err != nil {
		return queue.Result{}, id, err
	}

	_ = c.log.Log(audit.Done, "id=%s rc=%d duration_ms=%d",
		id, result.ExitCode, result.Duration.Milliseconds())

	_, err = history.Archive(
		c.cfg.HistoryRoot(), id, body, result, time.Now(),
	)
	if err != nil {
		slog.Warn("Failed to archive result",
			slog.String("id", id),
			slog.Any("error", err))
	}

	return result, id, nil
}

// wait polls for the result entry at a bounded interval until it
// appears, the timeout elapses or the context is cancelled.
func (c *Client) wait(
	ctx context.Context,
	id string,
	timeout time.Duration,
) (queue.Result, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(protocol.PollInterval)
	defer ticker.Stop()

	for {
		result, err := c.store.TakeResult(id)
		if err == nil {
			return result, nil
		}

		if !errors.Is(err, queue.ErrNotFound) {
			c.abandon(id)
			return queue.Result{}, err
		}

		select {
		case <-ctx.Done():
			c.abandon(id)
			return queue.Result{}, fmt.Errorf("wait for result: %w", ctx.Err())
		case <-deadline.C:
			c.abandon(id)
			_ = c.log.Log(audit.Timeout, "id=%s after=%s", id, timeout)

			return queue.Result{}, &WaitTimeoutError{ID: id, Timeout: timeout}
		case <-ticker.C:
		}
	}
}

// abandon removes every live artifact of an id so nothing orphaned
// remains after a timeout or cancellation.
func (c *Client) abandon(id string) {
	err := c.store.RemoveArtifacts(id)
	if err != nil {
		slog.Warn("Failed to remove abandoned entry",
			slog.String("id", id),
			slog.Any("error", err))
	}
}

// Ping performs a round trip liveness check by executing the shell
// no-op command with a short timeout.
func (c *Client) Ping(ctx context.Context) error {
	result, _, err := c.Execute(ctx, []byte("true"), 15*time.Second)
	if err != nil {
		return err
	}

	if result.ExitCode != 0 {
		return fmt.Errorf("%w: remote exit code %d",
			ErrPingFailed, result.ExitCode)
	}

	return nil
}
