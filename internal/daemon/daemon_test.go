// SPDX-FileCopyrightText: 2026 qvm-remote contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package daemon_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/qubes-community/qvm-remote/internal/daemon"
	"github.com/qubes-community/qvm-remote/internal/history"
	"github.com/qubes-community/qvm-remote/internal/protocol"
	"github.com/qubes-community/qvm-remote/internal/queue"
	"github.com/qubes-community/qvm-remote/internal/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const (
	testVM  = "work"
	testKey = "abcdef0123456789abcdef0123456789" +
		"abcdef0123456789abcdef0123456789"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newDaemon(t *testing.T) *daemon.Daemon {
	t.Helper()

	base := t.TempDir()

	d := daemon.New(daemon.Config{
		DataDir:        filepath.Join(base, "data"),
		KeyDir:         filepath.Join(base, "remote.d"),
		VMUser:         "user",
		ExecTimeout:    30 * time.Second,
		MaxCommandSize: 1 << 20,
	})

	err := token.WriteKeyFile(d.Config().KeyPath(testVM), testKey)
	require.NoError(t, err)

	return d
}

// submit stages an entry the way the VM side client does: command body
// plus computed token, directly into the shared queue tree.
func submit(t *testing.T, d *daemon.Daemon, body []byte) string {
	t.Helper()

	store := d.StoreFor(testVM)
	require.NoError(t, store.EnsureDirs())

	id, err := protocol.NewCommandID()
	require.NoError(t, err)

	auth := token.Compute(testKey, id)
	require.NoError(t, store.Submit(id, body, auth))

	return id
}

func TestDaemon_PollOnce(t *testing.T) {
	d := newDaemon(t)
	store := d.StoreFor(testVM)

	id := submit(t, d, []byte("echo hi"))

	answered, err := d.PollOnce(context.Background(), testVM)
	require.NoError(t, err)
	assert.Equal(t, 1, answered)

	result, err := store.TakeResult(id)
	require.NoError(t, err)

	assert.Zero(t, result.ExitCode)
	assert.Equal(t, "hi\n", string(result.Stdout))
	assert.Empty(t, result.Stderr)
	assert.Positive(t, result.Duration)

	assert.Equal(t, queue.StateNotFound, store.Status(id))
}

func TestDaemon_PollOnce_submissionOrder(t *testing.T) {
	d := newDaemon(t)
	store := d.StoreFor(testVM)

	first := submit(t, d, []byte("echo first"))
	second := submit(t, d, []byte("echo second"))

	// Pin distinct submission times; the sweep must follow them.
	past := time.Now().Add(-time.Minute)
	for _, suffix := range []string{".cmd", ".auth"} {
		path := filepath.Join(store.Root(), "pending", first+suffix)
		require.NoError(t, os.Chtimes(path, past, past))
	}

	answered, err := d.PollOnce(context.Background(), testVM)
	require.NoError(t, err)
	assert.Equal(t, 2, answered)

	for _, id := range []string{first, second} {
		_, err := store.TakeResult(id)
		require.NoError(t, err)
	}
}

func TestDaemon_PollOnce_badToken(t *testing.T) {
	d := newDaemon(t)
	store := d.StoreFor(testVM)
	require.NoError(t, store.EnsureDirs())

	id, err := protocol.NewCommandID()
	require.NoError(t, err)

	wrong := token.Compute(testKey, "some-other-id")
	require.NoError(t, store.Submit(id, []byte("echo pwned"), wrong))

	answered, err := d.PollOnce(context.Background(), testVM)
	require.NoError(t, err)
	assert.Equal(t, 1, answered)

	result, err := store.TakeResult(id)
	require.NoError(t, err)

	assert.Equal(t, 126, result.ExitCode)
	assert.Contains(t, string(result.Stderr), "authentication failed")
	assert.NotContains(t, string(result.Stdout), "pwned",
		"an unauthenticated command must never execute")

	// A rejected entry is answered from pending directly.
	assert.Empty(t, store.Running())
}

func TestDaemon_PollOnce_oversizedBody(t *testing.T) {
	d := newDaemon(t)
	store := d.StoreFor(testVM)

	marker := filepath.Join(t.TempDir(), "executed")
	body := append(
		[]byte("touch "+marker+" #"),
		bytes.Repeat([]byte("x"), int(d.Config().MaxCommandSize))...,
	)

	id := submit(t, d, body)

	answered, err := d.PollOnce(context.Background(), testVM)
	require.NoError(t, err)
	assert.Equal(t, 1, answered)

	result, err := store.TakeResult(id)
	require.NoError(t, err)

	assert.Equal(t, 126, result.ExitCode)
	assert.Contains(t, string(result.Stderr), "validation")
	assert.NoFileExists(t, marker,
		"an oversized command must never execute")
}

func TestDaemon_PollOnce_emptyBody(t *testing.T) {
	d := newDaemon(t)
	store := d.StoreFor(testVM)

	id := submit(t, d, []byte("  \n "))

	answered, err := d.PollOnce(context.Background(), testVM)
	require.NoError(t, err)
	assert.Equal(t, 1, answered)

	result, err := store.TakeResult(id)
	require.NoError(t, err)

	assert.Equal(t, 126, result.ExitCode)
	assert.Contains(t, string(result.Stderr), "empty command")
}

func TestDaemon_PollOnce_partialEntry(t *testing.T) {
	d := newDaemon(t)
	store := d.StoreFor(testVM)
	require.NoError(t, store.EnsureDirs())

	id, err := protocol.NewCommandID()
	require.NoError(t, err)

	// Only the command file is visible; the sweep must leave the
	// entry for a later pass instead of rejecting it.
	path := filepath.Join(store.Root(), "pending", id+".cmd")
	require.NoError(t, os.WriteFile(path, []byte("true"), 0o600))

	answered, err := d.PollOnce(context.Background(), testVM)
	require.NoError(t, err)
	assert.Zero(t, answered)

	assert.Equal(t, queue.StatePending, store.Status(id))
}

func TestDaemon_PollOnce_unknownVM(t *testing.T) {
	d := newDaemon(t)

	_, err := d.PollOnce(context.Background(), "stranger")
	assert.ErrorIs(t, err, daemon.ErrUnknownVM)
}

func TestDaemon_PollOnce_invalidVMName(t *testing.T) {
	d := newDaemon(t)

	_, err := d.PollOnce(context.Background(), "../../etc")
	require.Error(t, err)
	assert.NotErrorIs(t, err, daemon.ErrUnknownVM)
}

func TestDaemon_PollOnce_disconnected(t *testing.T) {
	d := newDaemon(t)

	path := d.Config().DisabledPath(testVM)
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	_, err := d.PollOnce(context.Background(), testVM)
	assert.ErrorIs(t, err, daemon.ErrVMDisconnected)
}

func TestDaemon_PollOnce_execTimeout(t *testing.T) {
	d := daemon.New(daemon.Config{
		DataDir:        filepath.Join(t.TempDir(), "data"),
		KeyDir:         filepath.Join(t.TempDir(), "remote.d"),
		VMUser:         "user",
		ExecTimeout:    time.Second,
		MaxCommandSize: 1 << 20,
	})

	err := token.WriteKeyFile(d.Config().KeyPath(testVM), testKey)
	require.NoError(t, err)

	store := d.StoreFor(testVM)
	id := submit(t, d, []byte("echo partial && sleep 30"))

	answered, err := d.PollOnce(context.Background(), testVM)
	require.NoError(t, err)
	assert.Equal(t, 1, answered)

	result, err := store.TakeResult(id)
	require.NoError(t, err)

	assert.Equal(t, 124, result.ExitCode)
	assert.Equal(t, "partial\n", string(result.Stdout),
		"partial output must be preserved")
	assert.Contains(t, string(result.Stderr), "timed out")
}

func TestDaemon_PollOnce_environment(t *testing.T) {
	d := newDaemon(t)
	store := d.StoreFor(testVM)

	t.Setenv("LEAKED_SECRET", "hunter2")

	id := submit(t, d, []byte(`echo "u=$USER s=$LEAKED_SECRET"`))

	_, err := d.PollOnce(context.Background(), testVM)
	require.NoError(t, err)

	result, err := store.TakeResult(id)
	require.NoError(t, err)

	assert.Zero(t, result.ExitCode)
	assert.Equal(t, "u=user s=\n", string(result.Stdout),
		"only allow-listed variables reach the command")
}

func TestDaemon_PollOnce_nonZeroExit(t *testing.T) {
	d := newDaemon(t)
	store := d.StoreFor(testVM)

	id := submit(t, d, []byte("echo oops >&2; exit 3"))

	_, err := d.PollOnce(context.Background(), testVM)
	require.NoError(t, err)

	result, err := store.TakeResult(id)
	require.NoError(t, err)

	assert.Equal(t, 3, result.ExitCode)
	assert.Equal(t, "oops\n", string(result.Stderr))
}

func TestDaemon_RecoverStale(t *testing.T) {
	d := newDaemon(t)
	store := d.StoreFor(testVM)

	id := submit(t, d, []byte("true"))
	require.NoError(t, store.Claim(id))

	recovered := d.RecoverStale(testVM)
	assert.Equal(t, 1, recovered)

	assert.Empty(t, store.Running())

	result, err := store.TakeResult(id)
	require.NoError(t, err)

	assert.Equal(t, 127, result.ExitCode)
	assert.Contains(t, string(result.Stderr), "interrupted")
	assert.Contains(t, string(result.Stderr), "resubmit")
}

func TestDaemon_VMs(t *testing.T) {
	d := newDaemon(t)

	require.NoError(t, token.WriteKeyFile(
		d.Config().KeyPath("banking"), testKey,
	))

	assert.Equal(t, []string{"banking", testVM}, d.VMs())
}

func TestDaemon_Connected(t *testing.T) {
	d := newDaemon(t)

	assert.True(t, d.Connected(testVM))

	path := d.Config().DisabledPath(testVM)
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	assert.False(t, d.Connected(testVM))
}

func TestDaemon_adminOps(t *testing.T) {
	if os.Geteuid() != 0 {
		t.Skip("administrative operations require root")
	}

	d := newDaemon(t)

	require.NoError(t, d.Authorize("banking", testKey))
	assert.Contains(t, d.VMs(), "banking")

	require.NoError(t, d.Disconnect("banking"))
	assert.False(t, d.Connected("banking"))

	require.NoError(t, d.Connect("banking"))
	assert.True(t, d.Connected("banking"))

	require.NoError(t, d.Revoke("banking"))
	assert.NotContains(t, d.VMs(), "banking")

	assert.ErrorIs(t, d.Revoke("banking"), daemon.ErrUnknownVM)
	assert.ErrorIs(t, d.Connect("banking"), daemon.ErrUnknownVM)
}

func TestDaemon_readOnlyAdminOps(t *testing.T) {
	if os.Geteuid() != 0 {
		t.Skip("administrative operations require root")
	}

	d := newDaemon(t)
	require.NoError(t, d.StoreFor(testVM).EnsureDirs())

	var status bytes.Buffer
	require.NoError(t, d.QueueStatus(testVM, &status))
	assert.Contains(t, status.String(), testVM+": pending=0")

	var debug bytes.Buffer
	require.NoError(t, d.QueueDebug(testVM, &debug))
	assert.Contains(t, debug.String(), "pending/")

	var report bytes.Buffer
	require.NoError(t, d.StatusReport(context.Background(), &report))
	assert.Contains(t, report.String(), testVM+": connected")
}

// Every administrative operation refuses a non-root caller, including
// the read-only ones.
func TestDaemon_adminOps_refuseNonRoot(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("refusal is only observable without root")
	}

	d := newDaemon(t)

	tests := []struct {
		name string
		op   func() error
	}{
		{
			name: "authorize",
			op:   func() error { return d.Authorize("banking", testKey) },
		},
		{
			name: "revoke",
			op:   func() error { return d.Revoke(testVM) },
		},
		{
			name: "connect",
			op:   func() error { return d.Connect(testVM) },
		},
		{
			name: "disconnect",
			op:   func() error { return d.Disconnect(testVM) },
		},
		{
			name: "queue status",
			op:   func() error { return d.QueueStatus(testVM, io.Discard) },
		},
		{
			name: "queue clean",
			op: func() error {
				_, err := d.QueueClean(testVM)
				return err
			},
		},
		{
			name: "queue recover",
			op: func() error {
				_, err := d.QueueRecover(testVM)
				return err
			},
		},
		{
			name: "queue debug",
			op:   func() error { return d.QueueDebug(testVM, io.Discard) },
		},
		{
			name: "status report",
			op: func() error {
				return d.StatusReport(context.Background(), io.Discard)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var privErr *daemon.PrivilegeError
			assert.ErrorAs(t, tt.op(), &privErr)
		})
	}
}

func TestRequireRoot(t *testing.T) {
	err := daemon.RequireRoot("authorize")

	if os.Geteuid() == 0 {
		assert.NoError(t, err)
		return
	}

	var privErr *daemon.PrivilegeError
	require.ErrorAs(t, err, &privErr)
	assert.Equal(t, "authorize", privErr.Op)
	assert.Equal(t, "authorize requires root privileges", err.Error())
}

// The poll answers everything already swept even when the context is
// cancelled between entries.
func TestDaemon_PollOnce_cancelled(t *testing.T) {
	d := newDaemon(t)

	submit(t, d, []byte("true"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	answered, err := d.PollOnce(ctx, testVM)
	require.Error(t, err)
	assert.Zero(t, answered)
}

func TestDaemon_PollOnce_archivesNothing(t *testing.T) {
	d := newDaemon(t)

	id := submit(t, d, []byte("echo hi"))

	_, err := d.PollOnce(context.Background(), testVM)
	require.NoError(t, err)

	// History is a client side concern; the daemon must not write it.
	root := filepath.Join(d.Config().DataDir, testVM, "history")
	assert.Empty(t, history.List(root), "unexpected entry for %s", id)
}
