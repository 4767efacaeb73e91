// SPDX-FileCopyrightText: 2026 qvm-remote contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package client_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/qubes-community/qvm-remote/internal/client"
	"github.com/qubes-community/qvm-remote/internal/history"
	"github.com/qubes-community/qvm-remote/internal/protocol"
	"github.com/qubes-community/qvm-remote/internal/queue"
	"github.com/qubes-community/qvm-remote/internal/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const testKey = "abcdef0123456789abcdef0123456789" +
	"abcdef0123456789abcdef0123456789"

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newConfig(t *testing.T) client.Config {
	t.Helper()

	base := t.TempDir()

	return client.Config{
		DataDir:        filepath.Join(base, ".qvm-remote"),
		LegacyDataDir:  filepath.Join(base, ".qubes-remote"),
		MaxCommandSize: 1 << 20,
		StaleAge:       time.Hour,
	}
}

func newClient(t *testing.T) *client.Client {
	t.Helper()

	c, err := client.New(newConfig(t))
	require.NoError(t, err)

	require.NoError(t, token.WriteKeyFile(c.Config().KeyPath(), testKey))

	return c
}

// answer emulates the remote side for one entry: verify the token,
// claim the entry and publish the given result.
func answer(t *testing.T, c *client.Client, fn func(body []byte) queue.Result) {
	t.Helper()

	store := c.Store()
	done := make(chan struct{})

	go func() {
		defer close(done)

		deadline := time.Now().Add(10 * time.Second)

		for time.Now().Before(deadline) {
			for _, entry := range store.Pending() {
				body, auth, err := store.ReadEntry(
					protocol.DirPending, entry.ID,
				)
				if err != nil {
					continue
				}

				if !token.Verify(testKey, entry.ID, auth) {
					continue
				}

				if store.Claim(entry.ID) != nil {
					continue
				}

				_ = store.WriteResult(entry.ID, fn(body))
				_ = store.RemoveEntry(protocol.DirRunning, entry.ID)

				return
			}

			time.Sleep(10 * time.Millisecond)
		}
	}()

	t.Cleanup(func() {
		<-done
	})
}

func TestClient_Execute(t *testing.T) {
	c := newClient(t)

	answer(t, c, func(body []byte) queue.Result {
		assert.Equal(t, "echo hi", string(body))

		return queue.Result{
			ExitCode: 0,
			Duration: 20 * time.Millisecond,
			Stdout:   []byte("hi\n"),
			Stderr:   []byte{},
		}
	})

	result, id, err := c.Execute(
		context.Background(), []byte("echo hi"), 10*time.Second,
	)
	require.NoError(t, err)

	assert.Zero(t, result.ExitCode)
	assert.Equal(t, "hi\n", string(result.Stdout))
	assert.NoError(t, protocol.ValidateCommandID(id))

	// The queue holds no trace of a completed command.
	pending, running, results := c.Store().Depths()
	assert.Zero(t, pending+running+results)

	// The command is archived and audited.
	entries := history.List(c.Config().HistoryRoot())
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].ID)

	lines, err := c.Audit().Tail(10)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "SUBMIT id="+id)
	assert.Contains(t, lines[1], "DONE id="+id+" rc=0")
}

func TestClient_Execute_invalidTimeout(t *testing.T) {
	c := newClient(t)

	_, _, err := c.Execute(context.Background(), []byte("true"), 0)
	assert.ErrorIs(t, err, client.ErrInvalidTimeout)

	_, _, err = c.Execute(context.Background(), []byte("true"), -time.Second)
	assert.ErrorIs(t, err, client.ErrInvalidTimeout)

	pending, _, _ := c.Store().Depths()
	assert.Zero(t, pending, "a rejected submission must not reach the queue")
}

func TestClient_Execute_noKey(t *testing.T) {
	c, err := client.New(newConfig(t))
	require.NoError(t, err)

	_, _, err = c.Execute(context.Background(), []byte("true"), time.Second)
	assert.ErrorIs(t, err, token.ErrNoKey)

	pending, _, _ := c.Store().Depths()
	assert.Zero(t, pending)
}

func TestClient_Execute_emptyCommand(t *testing.T) {
	c := newClient(t)

	_, _, err := c.Execute(context.Background(), []byte("  \n"), time.Second)
	assert.ErrorIs(t, err, protocol.ErrEmptyCommand)
}

func TestClient_Execute_waitTimeout(t *testing.T) {
	c := newClient(t)

	// Nobody answers; the wait must give up and clean up after itself.
	_, id, err := c.Execute(context.Background(), []byte("true"), time.Second)

	var timeoutErr *client.WaitTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, id, timeoutErr.ID)

	pending, running, results := c.Store().Depths()
	assert.Zero(t, pending+running+results,
		"timeout must leave no orphaned artifacts")

	lines, err := c.Audit().Tail(10)
	require.NoError(t, err)
	require.NotEmpty(t, lines)
	assert.Contains(t, lines[len(lines)-1], "TIMEOUT id="+id)
}

func TestClient_Execute_cancelled(t *testing.T) {
	c := newClient(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := c.Execute(ctx, []byte("true"), 10*time.Second)
	assert.ErrorIs(t, err, context.Canceled)

	pending, running, results := c.Store().Depths()
	assert.Zero(t, pending+running+results,
		"cancellation must leave no orphaned artifacts")
}

func TestClient_Ping(t *testing.T) {
	c := newClient(t)

	answer(t, c, func(body []byte) queue.Result {
		assert.Equal(t, "true", string(body))

		return queue.Result{Stdout: []byte{}, Stderr: []byte{}}
	})

	assert.NoError(t, c.Ping(context.Background()))
}

func TestClient_Ping_remoteFailure(t *testing.T) {
	c := newClient(t)

	answer(t, c, func([]byte) queue.Result {
		return queue.Result{
			ExitCode: 1,
			Stdout:   []byte{},
			Stderr:   []byte{},
		}
	})

	assert.ErrorIs(t, c.Ping(context.Background()), client.ErrPingFailed)
}

func TestClient_keyManagement(t *testing.T) {
	c := newClient(t)

	key, err := c.GenerateKey()
	require.NoError(t, err)
	assert.NoError(t, protocol.ValidateKey(key))

	shown, err := c.ShowKey()
	require.NoError(t, err)
	assert.Equal(t, key, shown)

	require.NoError(t, c.ImportKey(testKey))

	shown, err = c.ShowKey()
	require.NoError(t, err)
	assert.Equal(t, testKey, shown)

	assert.Error(t, c.ImportKey("not-a-key"))
}

func TestClient_keyManagement_auditsFingerprintOnly(t *testing.T) {
	c := newClient(t)

	key, err := c.GenerateKey()
	require.NoError(t, err)

	data, err := os.ReadFile(c.Config().AuditPath())
	require.NoError(t, err)

	log := string(data)
	assert.Contains(t, log, "KEY gen fingerprint="+key[:8]+"...")
	assert.False(t, strings.Contains(log, key),
		"the audit log must never contain the full key")
}

func TestNew_migratesLegacyDataDir(t *testing.T) {
	cfg := newConfig(t)

	require.NoError(t, os.MkdirAll(cfg.LegacyDataDir, 0o700))
	legacyKey := filepath.Join(cfg.LegacyDataDir, "auth.key")
	require.NoError(t, os.WriteFile(legacyKey, []byte(testKey+"\n"), 0o600))

	c, err := client.New(cfg)
	require.NoError(t, err)

	assert.NoDirExists(t, cfg.LegacyDataDir)

	key, err := c.ShowKey()
	require.NoError(t, err)
	assert.Equal(t, testKey, key)
}

func TestNew_migrationSkippedWhenCurrentExists(t *testing.T) {
	cfg := newConfig(t)

	require.NoError(t, os.MkdirAll(cfg.DataDir, 0o700))
	require.NoError(t, os.MkdirAll(cfg.LegacyDataDir, 0o700))

	_, err := client.New(cfg)
	require.NoError(t, err)

	assert.DirExists(t, cfg.LegacyDataDir,
		"an existing data directory must never be replaced")
}

func TestClient_CleanupStale(t *testing.T) {
	c := newClient(t)
	store := c.Store()

	id, err := protocol.NewCommandID()
	require.NoError(t, err)
	require.NoError(t, store.Submit(id, []byte("true"), "tok"))

	past := time.Now().Add(-2 * time.Hour)
	for _, suffix := range []string{".cmd", ".auth"} {
		path := filepath.Join(store.Root(), protocol.DirPending, id+suffix)
		require.NoError(t, os.Chtimes(path, past, past))
	}

	require.NoError(t, c.CleanupStale())

	pending, _, _ := store.Depths()
	assert.Zero(t, pending)

	lines, err := c.Audit().Tail(5)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "CLEAN stale artifacts removed=1")

	// Idempotent: nothing left to remove, nothing new audited.
	require.NoError(t, c.CleanupStale())

	lines, err = c.Audit().Tail(5)
	require.NoError(t, err)
	assert.Len(t, lines, 1)
}
