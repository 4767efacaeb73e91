// SPDX-FileCopyrightText: 2026 qvm-remote contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/qubes-community/qvm-remote/internal/backup"
	"github.com/qubes-community/qvm-remote/internal/client"
	"github.com/qubes-community/qvm-remote/internal/exitcode"
	"github.com/qubes-community/qvm-remote/internal/token"
)

const (
	clientName = "qvm-remote"

	defaultWaitTimeout = 60 * time.Second

	clientUsage = `Usage of 'qvm-remote':
    qvm-remote [flags...] [command...]

Execute commands in dom0 from an unprivileged VM. With no subcommand,
the arguments (or standard input if none are given) are submitted as a
shell command and the client waits for the result.

Subcommands:
    key gen                 generate and store a new authentication key
    key show                print the stored key
    key import <hex>        store a key provided by the administrator
    status                  show key and queue overview
    queue status            show queue depths
    queue clean             remove all local queue entries (destructive)
    queue debug             list queue files in detail
    ping                    round trip liveness check
    backup create <file>    export audit log and history as an archive
    backup restore <f> <d>  extract an archive into a directory
    backup list <dir>       list archives, newest first
`
)

type clientFlags struct {
	flagSet *flag.FlagSet

	timeout time.Duration
	yes     bool
	debug   bool
	version bool
}

func newClientFlags(output io.Writer) *clientFlags {
	flags := &clientFlags{
		timeout: defaultWaitTimeout,
	}

	fs := flag.NewFlagSet(clientName, flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() {
		fmt.Fprint(output, clientUsage)
		fmt.Fprintln(output, "\nFlags:")
		fs.PrintDefaults()
	}

	fs.Var(
		&secondsValue{value: &flags.timeout},
		"t",
		"seconds to wait for a result",
	)

	fs.BoolVar(
		&flags.yes,
		"y",
		flags.yes,
		"skip confirmation prompts",
	)

	fs.BoolVar(
		&flags.debug,
		"debug",
		flags.debug,
		"enable debug output",
	)

	fs.BoolVar(
		&flags.version,
		"version",
		flags.version,
		"show version and exit",
	)

	flags.flagSet = fs

	return flags
}

// RunClient is the main entry point for the VM client CLI.
func RunClient(ctx context.Context, args []string, cfg IO) int {
	flags := newClientFlags(cfg.Stderr)

	err := flags.flagSet.Parse(args)
	if err != nil {
		if errors.Is(err, ErrHelp) {
			return 0
		}

		return 2
	}

	setupLogging(cfg.Stderr, flags.debug)

	if flags.version {
		printVersion(clientName, cfg.Stdout)
		return 0
	}

	err = runClient(ctx, flags, cfg)
	if err != nil {
		return clientExitCode(err, cfg.Stderr)
	}

	return 0
}

func runClient(ctx context.Context, flags *clientFlags, cfg IO) error {
	conf, err := client.LoadConfig()
	if err != nil {
		return err
	}

	cli, err := client.New(conf)
	if err != nil {
		return err
	}

	err = cli.CleanupStale()
	if err != nil {
		slog.Warn("Stale queue cleanup failed", slog.Any("error", err))
	}

	args := flags.flagSet.Args()

	if len(args) == 0 {
		return submitCommand(ctx, cli, flags, cfg, nil)
	}

	switch args[0] {
	case "key":
		return runClientKey(cli, args[1:], cfg)
	case "status":
		return cli.Status(cfg.Stdout)
	case "queue":
		return runClientQueue(cli, flags, args[1:], cfg)
	case "ping":
		return runClientPing(ctx, cli, cfg)
	case "backup":
		return runClientBackup(cli, args[1:], cfg)
	default:
		return submitCommand(ctx, cli, flags, cfg, args)
	}
}

// submitCommand submits the given argv (joined) or standard input as
// the command body and waits for the result. The remote exit code
// becomes this process's exit code.
func submitCommand(
	ctx context.Context,
	cli *client.Client,
	flags *clientFlags,
	cfg IO,
	args []string,
) error {
	var body []byte

	if len(args) > 0 {
		body = []byte(strings.Join(args, " "))
	} else {
		data, err := io.ReadAll(cfg.Stdin)
		if err != nil {
			return fmt.Errorf("read command from stdin: %w", err)
		}

		body = data
	}

	result, id, err := cli.Execute(ctx, body, flags.timeout)
	if err != nil {
		return err
	}

	slog.Debug("Command completed",
		slog.String("id", id),
		slog.Int("rc", result.ExitCode))

	_, _ = cfg.Stdout.Write(result.Stdout)
	_, _ = cfg.Stderr.Write(result.Stderr)

	if result.ExitCode != 0 {
		return exitcode.Error(result.ExitCode)
	}

	return nil
}

func runClientKey(cli *client.Client, args []string, cfg IO) error {
	if len(args) == 0 {
		return &ParseArgsError{
			msg: "usage: qvm-remote key gen | show | import <hex>",
		}
	}

	switch args[0] {
	case "gen":
		key, err := cli.GenerateKey()
		if err != nil {
			return err
		}

		fmt.Fprintln(cfg.Stdout, key)
		fmt.Fprintln(cfg.Stderr,
			"Authorize it in dom0: qvm-remote-dom0 authorize <vm> <key>")

		return nil
	case "show":
		key, err := cli.ShowKey()
		if err != nil {
			return err
		}

		fmt.Fprintln(cfg.Stdout, key)

		return nil
	case "import":
		if len(args) != 2 {
			return &ParseArgsError{
				msg: "usage: qvm-remote key import <hex>",
			}
		}

		err := cli.ImportKey(args[1])
		if err != nil {
			return err
		}

		fmt.Fprintln(cfg.Stdout, "key imported")

		return nil
	default:
		return &ParseArgsError{
			msg: "usage: qvm-remote key gen | show | import <hex>",
		}
	}
}

func runClientQueue(
	cli *client.Client,
	flags *clientFlags,
	args []string,
	cfg IO,
) error {
	if len(args) == 0 {
		return &ParseArgsError{
			msg: "usage: qvm-remote queue status | clean | debug",
		}
	}

	switch args[0] {
	case "status":
		cli.QueueStatus(cfg.Stdout)
		return nil
	case "clean":
		if !flags.yes && !confirm(cfg, "Remove all local queue entries?") {
			return errors.New("queue clean aborted")
		}

		removed, err := cli.QueueClean()
		if err != nil {
			return err
		}

		fmt.Fprintf(cfg.Stdout, "removed %d files\n", removed)

		return nil
	case "debug":
		return cli.QueueDebug(cfg.Stdout)
	default:
		return &ParseArgsError{
			msg: "usage: qvm-remote queue status | clean | debug",
		}
	}
}

func runClientPing(ctx context.Context, cli *client.Client, cfg IO) error {
	err := cli.Ping(ctx)
	if err != nil {
		fmt.Fprintf(cfg.Stderr, "ping failed: %v\n", err)
		fmt.Fprint(cfg.Stderr, `Check that:
  - the dom0 daemon is installed and its timer is active
  - this VM is authorized: qvm-remote-dom0 authorize <vm> <key>
  - this VM is connected: qvm-remote-dom0 connect <vm>
`)

		return err
	}

	fmt.Fprintln(cfg.Stdout, "pong")

	return nil
}

func runClientBackup(cli *client.Client, args []string, cfg IO) error {
	usage := &ParseArgsError{
		msg: "usage: qvm-remote backup create <file> | " +
			"restore <file> <dir> | list <dir>",
	}

	if len(args) == 0 {
		return usage
	}

	conf := cli.Config()

	switch args[0] {
	case "create":
		if len(args) != 2 {
			return usage
		}

		fingerprint := ""
		if key, err := cli.ShowKey(); err == nil {
			fingerprint = token.Fingerprint(key)
		}

		err := backup.Create(conf.DataDir, args[1], fingerprint)
		if err != nil {
			return err
		}

		fmt.Fprintf(cfg.Stdout, "backup written to %s\n", args[1])

		return nil
	case "restore":
		if len(args) != 3 {
			return usage
		}

		err := backup.Restore(args[1], args[2])
		if err != nil {
			return err
		}

		fmt.Fprintf(cfg.Stdout, "backup restored to %s\n", args[2])

		return nil
	case "list":
		if len(args) != 2 {
			return usage
		}

		infos, err := backup.List(args[1])
		if err != nil {
			return err
		}

		for _, info := range infos {
			fmt.Fprintf(cfg.Stdout, "%s  %8dB  %s\n",
				info.Modified.Format("2006-01-02 15:04:05"),
				info.Size,
				info.Name)
		}

		return nil
	default:
		return usage
	}
}

// clientExitCode maps an error to the client's process exit code and
// prints the operator facing message. Timeouts, rejections and local
// validation failures are always distinguishable.
func clientExitCode(err error, stderr io.Writer) int {
	if errors.Is(err, ErrHelp) {
		return 0
	}

	if errors.Is(err, &ParseArgsError{}) {
		fmt.Fprintln(stderr, err.Error())
		return 2
	}

	var waitErr *client.WaitTimeoutError
	if errors.As(err, &waitErr) {
		fmt.Fprintln(stderr, err.Error())
		return exitcode.Timeout
	}

	if code, isExit := exitcode.From(err); isExit {
		// Remote exit code; output was already written.
		return code
	}

	if errors.Is(err, token.ErrNoKey) {
		fmt.Fprintln(stderr,
			"no authentication key; generate one with: qvm-remote key gen")

		return 1
	}

	fmt.Fprintln(stderr, err.Error())

	return 1
}
