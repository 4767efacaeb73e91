// SPDX-FileCopyrightText: 2026 qvm-remote contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package daemon

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/qubes-community/qvm-remote/internal/exitcode"
	"github.com/qubes-community/qvm-remote/internal/queue"
)

const shellPath = "/bin/sh"

// execute runs a validated, authenticated command body and captures its
// outcome. The body is piped into the shell's standard input and is
// never materialized as an executable file on disk. The working
// directory is a freshly created mode 0700 directory, the environment
// is a minimal explicit allow-list, and the execution is bounded by the
// configured timeout.
func (d *Daemon) execute(ctx context.Context, body []byte) queue.Result {
	start := time.Now()

	shell, err := exec.LookPath(shellPath)
	if err != nil {
		return queue.Result{
			ExitCode: exitcode.Environment,
			Duration: time.Since(start),
			Stderr:   []byte("execution environment: shell unavailable\n"),
		}
	}

	workDir, err := os.MkdirTemp("", "qvm-remote-work-")
	if err != nil {
		return queue.Result{
			ExitCode: exitcode.Environment,
			Duration: time.Since(start),
			Stderr: []byte(
				"execution environment: " + err.Error() + "\n",
			),
		}
	}

	defer func() {
		err := os.RemoveAll(workDir)
		if err != nil {
			slog.Warn("Failed to remove work directory",
				slog.String("path", workDir),
				slog.Any("error", err))
		}
	}()

	// MkdirTemp creates 0700; enforce it regardless of umask changes.
	err = os.Chmod(workDir, 0o700)
	if err != nil {
		return queue.Result{
			ExitCode: exitcode.Environment,
			Duration: time.Since(start),
			Stderr: []byte(
				"execution environment: " + err.Error() + "\n",
			),
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, d.cfg.ExecTimeout)
	defer cancel()

	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(execCtx, shell)
	cmd.Stdin = bytes.NewReader(body)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Dir = workDir
	cmd.Env = []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=" + workDir,
		"USER=" + d.cfg.VMUser,
		"LOGNAME=" + d.cfg.VMUser,
		"LANG=C.UTF-8",
	}
	cmd.WaitDelay = time.Second

	err = cmd.Run()
	duration := time.Since(start)

	result := queue.Result{
		Duration: duration,
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
	}

	switch {
	case execCtx.Err() != nil && ctx.Err() == nil:
		// Killed by the execution bound; report partial output.
		result.ExitCode = exitcode.Timeout
		result.Stderr = append(result.Stderr, []byte(
			"execution timed out after "+d.cfg.ExecTimeout.String()+"\n",
		)...)
	case err == nil:
		result.ExitCode = 0
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = exitcode.Environment
			result.Stderr = append(result.Stderr, []byte(
				"execution environment: "+err.Error()+"\n",
			)...)
		}
	}

	return result
}
